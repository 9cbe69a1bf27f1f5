package metrics

import (
	"errors"
	"net/http"

	"github.com/kyxap1/ipmaster/internal/ipinfo"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lookup result labels
const (
	ResultOK          = "ok"
	ResultStatusError = "status_error"
	ResultMissingIP   = "missing_ip"
	ResultError       = "error"
)

// Metrics holds the Prometheus collectors for the local API.
// Each instance owns its registry so several can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	// HTTP Metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application Metrics
	LookupsTotal     *prometheus.CounterVec
	ResolutionsTotal *prometheus.CounterVec
}

// New creates and registers all metrics
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipmaster_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ipmaster_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		LookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipmaster_lookups_total",
				Help: "Total number of geolocation lookups by result",
			},
			[]string{"result"},
		),

		ResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipmaster_resolutions_total",
				Help: "Total number of hostname resolutions by result",
			},
			[]string{"result"},
		),
	}
}

// ObserveLookup counts a geolocation lookup outcome
func (m *Metrics) ObserveLookup(err error) {
	m.LookupsTotal.WithLabelValues(LookupResult(err)).Inc()
}

// ObserveResolution counts a hostname resolution outcome
func (m *Metrics) ObserveResolution(err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.ResolutionsTotal.WithLabelValues(result).Inc()
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// LookupResult maps a lookup error to its metric label
func LookupResult(err error) string {
	var statusErr *ipinfo.StatusError
	switch {
	case err == nil:
		return ResultOK
	case errors.As(err, &statusErr):
		return ResultStatusError
	case errors.Is(err, ipinfo.ErrMissingIP):
		return ResultMissingIP
	default:
		return ResultError
	}
}
