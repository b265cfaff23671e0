package worker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces outbound requests per host
type Limiter struct {
	mu       sync.Mutex
	hosts    map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
	observed map[string]time.Duration // Crawl-delay already applied per host
}

// NewLimiter creates a limiter allowing rps requests per second per host
func NewLimiter(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		hosts:    make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		observed: make(map[string]time.Duration),
	}
}

// Wait blocks until a request to rawURL may proceed. A positive crawlDelay
// (from robots.txt) slows the host down to one request per crawlDelay for
// the lifetime of the limiter.
func (l *Limiter) Wait(ctx context.Context, rawURL string, crawlDelay time.Duration) error {
	host, err := hostKey(rawURL)
	if err != nil {
		return err
	}
	return l.forHost(host, crawlDelay).Wait(ctx)
}

// Allow reports whether a request to rawURL may proceed now, consuming a token if so
func (l *Limiter) Allow(rawURL string) bool {
	host, err := hostKey(rawURL)
	if err != nil {
		return false
	}
	return l.forHost(host, 0).Allow()
}

// SetHostRate overrides the rate for one host
func (l *Limiter) SetHostRate(host string, rps float64, burst int) {
	if burst <= 0 {
		burst = l.burst
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hosts[normalizeHost(host)] = rate.NewLimiter(rate.Limit(rps), burst)
}

func (l *Limiter) forHost(host string, crawlDelay time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.hosts[host]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.hosts[host] = lim
	}
	if crawlDelay > 0 && l.observed[host] != crawlDelay {
		l.observed[host] = crawlDelay
		// Never faster than the configured rate
		if r := rate.Every(crawlDelay); r < lim.Limit() {
			lim.SetLimit(r)
			lim.SetBurst(1)
		}
	}
	return lim
}

// hostKey extracts the lowercase host of rawURL without port or www prefix
func hostKey(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("no host in %q", rawURL)
	}
	return normalizeHost(parsed.Hostname()), nil
}

func normalizeHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
