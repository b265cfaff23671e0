// Package cache stores scraped pages so repeated screenings of the same
// target do not hit the scraper again.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// PageKey derives a cache key from a page URL. Fragments and host case
// do not change the key.
func PageKey(rawURL string) string {
	normalized := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		u.Fragment = ""
		u.Host = strings.ToLower(u.Host)
		normalized = u.String()
	}
	hash := sha256.Sum256([]byte(normalized))
	return "kycscan-page-v1-" + hex.EncodeToString(hash[:])
}

// GetJSON decodes a cached JSON value into v
func GetJSON(c Cache, key string, v any) bool {
	data, ok := c.Get(key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// SetJSON encodes v and stores it
func SetJSON(c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(key, data, ttl)
}
