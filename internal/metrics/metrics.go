package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kycscan_runs_total",
			Help: "Screening runs by terminal status",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kycscan_run_duration_seconds",
			Help:    "Wall time of a screening run",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	RiskLevelsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kycscan_risk_levels_total",
			Help: "Finalized runs by aggregated risk level",
		},
		[]string{"level"},
	)

	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kycscan_fetches_total",
			Help: "Page fetches by domain and outcome",
		},
		[]string{"domain", "status"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kycscan_fetch_duration_seconds",
			Help:    "Duration of page fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kycscan_analyses_total",
			Help: "LLM analyses by input variant and outcome",
		},
		[]string{"variant", "outcome"},
	)
)

// RecordFetch counts one fetch attempt for the URL's domain
func RecordFetch(rawURL, status string, d time.Duration) {
	domain := Domain(rawURL)
	FetchesTotal.WithLabelValues(domain, status).Inc()
	FetchDuration.WithLabelValues(domain).Observe(d.Seconds())
}

// RecordAnalysis counts one analyzer outcome
func RecordAnalysis(variant, outcome string) {
	AnalysesTotal.WithLabelValues(variant, outcome).Inc()
}

// RecordRun counts a finished run
func RecordRun(status, riskLevel string, d time.Duration) {
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.Observe(d.Seconds())
	if riskLevel != "" {
		RiskLevelsTotal.WithLabelValues(riskLevel).Inc()
	}
}

// Domain extracts a label-safe host from a URL
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
