// Package search defines the web search provider used to find candidate pages.
package search

import (
	"context"
	"encoding/json"

	"github.com/ppiankov/kycscan/internal/model"
)

// Response is a ranked hit list plus the provider payload it came from
type Response struct {
	Hits []model.SearchHit
	Raw  json.RawMessage
}

// Provider runs a query and returns at most limit ranked hits
type Provider interface {
	Search(ctx context.Context, query string, limit int) (*Response, error)
}

// Top returns the first n hits that carry a URL, dropping repeats
func Top(hits []model.SearchHit, n int) []model.SearchHit {
	out := make([]model.SearchHit, 0, min(len(hits), max(n, 0)))
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		if len(out) >= n {
			break
		}
		if h.URL == "" || seen[h.URL] {
			continue
		}
		seen[h.URL] = true
		out = append(out, h)
	}
	return out
}
