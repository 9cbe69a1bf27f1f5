package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kyxap1/ipmaster/internal/ipinfo"
	"github.com/kyxap1/ipmaster/internal/metrics"
	"github.com/kyxap1/ipmaster/internal/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Fetcher retrieves geolocation records from the upstream API
type Fetcher interface {
	SelfEndpoint() string
	LookupEndpoint(ip string) string
	Fetch(ctx context.Context, endpoint string) (*types.IPRecord, error)
}

// Resolver turns a hostname into an IP address
type Resolver interface {
	Resolve(ctx context.Context, hostname string) (string, error)
}

// StatsProvider reports cache statistics
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// APIHandler handles HTTP requests
type APIHandler struct {
	fetcher  Fetcher
	resolver Resolver
	stats    StatsProvider
	metrics  *metrics.Metrics
	logger   *logrus.Logger
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
}

// ResolveResponse is the body of /resolve/{host}
type ResolveResponse struct {
	Host string `json:"host"`
	IP   string `json:"ip"`
}

// NewAPIHandler creates a new API handler. stats may be nil when caching is disabled.
func NewAPIHandler(fetcher Fetcher, resolver Resolver, stats StatsProvider, m *metrics.Metrics, logger *logrus.Logger) *APIHandler {
	if m == nil {
		m = metrics.New()
	}
	return &APIHandler{
		fetcher:  fetcher,
		resolver: resolver,
		stats:    stats,
		metrics:  m,
		logger:   logger,
	}
}

// sendJSONError sends a standardized JSON error response
func (h *APIHandler) sendJSONError(w http.ResponseWriter, statusCode int, errorMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   errorMsg,
		Timestamp: time.Now().Format(time.RFC3339),
		Status:    statusCode,
	}

	json.NewEncoder(w).Encode(errorResponse)
}

// sendTextError sends a plain text error response
func (h *APIHandler) sendTextError(w http.ResponseWriter, statusCode int, errorMsg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)

	fmt.Fprintf(w, "Error: %s\nMessage: %s\nStatus: %d\n",
		http.StatusText(statusCode),
		errorMsg,
		statusCode,
	)
}

// validateIP validates if the given string is a valid IP address
func (h *APIHandler) validateIP(ip string) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("invalid IP address: %s", ip)
	}
	return nil
}

// lookupFailure maps an upstream lookup error to a response status and message
func lookupFailure(err error) (int, string) {
	var statusErr *ipinfo.StatusError
	if errors.As(err, &statusErr) {
		return http.StatusBadGateway, fmt.Sprintf("upstream returned status %d", statusErr.Code)
	}
	return http.StatusBadGateway, fmt.Sprintf("lookup failed: %v", err)
}

// getClientIP extracts the client IP from the request
func (h *APIHandler) getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// logStructuredRequest logs the request with structured data
func (h *APIHandler) logStructuredRequest(r *http.Request, status int, duration time.Duration, clientIP string, responseSize int64) {
	h.logger.WithFields(logrus.Fields{
		"method":        r.Method,
		"path":          r.URL.Path,
		"query":         r.URL.RawQuery,
		"status":        status,
		"duration_ms":   duration.Milliseconds(),
		"client_ip":     clientIP,
		"user_agent":    r.UserAgent(),
		"response_size": responseSize,
		"remote_addr":   r.RemoteAddr,
	}).Info("request_processed")
}

// routeName returns the matched route template so metric labels stay bounded
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// middleware wraps handlers with logging, metrics and security headers
func (h *APIHandler) middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(wrapped, r)

		duration := time.Since(startTime)
		route := routeName(r)
		h.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		h.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())
		h.logStructuredRequest(r, wrapped.statusCode, duration, h.getClientIP(r), wrapped.size)
	}
}

// responseWriter wraps http.ResponseWriter to capture status and body size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += int64(size)
	return size, err
}

// endpointFor picks the self endpoint or validates the {ip} path variable.
func (h *APIHandler) endpointFor(r *http.Request) (string, error) {
	ip, exists := mux.Vars(r)["ip"]
	if !exists {
		return h.fetcher.SelfEndpoint(), nil
	}
	if err := h.validateIP(ip); err != nil {
		return "", err
	}
	return h.fetcher.LookupEndpoint(ip), nil
}

func (h *APIHandler) lookup(r *http.Request, endpoint string) (*types.IPRecord, error) {
	record, err := h.fetcher.Fetch(r.Context(), endpoint)
	h.metrics.ObserveLookup(err)
	if err != nil {
		h.logger.WithError(err).WithField("endpoint", endpoint).Warn("Lookup failed")
	}
	return record, err
}

// JSONHandler returns the IP record as JSON
func (h *APIHandler) JSONHandler(w http.ResponseWriter, r *http.Request) {
	endpoint, err := h.endpointFor(r)
	if err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := h.lookup(r, endpoint)
	if err != nil {
		status, msg := lookupFailure(err)
		h.sendJSONError(w, status, msg)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(record); err != nil {
		h.sendJSONError(w, http.StatusInternalServerError, "Failed to encode JSON response")
		return
	}
}

// TextHandler returns the human readable summary of the IP record
func (h *APIHandler) TextHandler(w http.ResponseWriter, r *http.Request) {
	endpoint, err := h.endpointFor(r)
	if err != nil {
		h.sendTextError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := h.lookup(r, endpoint)
	if err != nil {
		status, msg := lookupFailure(err)
		h.sendTextError(w, status, msg)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(record.Summary()))
}

// ResolveHandler resolves a hostname to an IP address
func (h *APIHandler) ResolveHandler(w http.ResponseWriter, r *http.Request) {
	host := mux.Vars(r)["host"]

	ip, err := h.resolver.Resolve(r.Context(), host)
	h.metrics.ObserveResolution(err)
	if err != nil {
		h.sendJSONError(w, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ResolveResponse{Host: host, IP: ip})
}

// HealthHandler handles health check requests
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// StatsHandler handles cache statistics requests
func (h *APIHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{"cache_enabled": false}
	if h.stats != nil {
		stats = h.stats.GetStats()
		stats["cache_enabled"] = true
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(stats)
}

// SetupRoutes configures all HTTP routes
func (h *APIHandler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// JSON endpoints (both with and without trailing slash)
	router.HandleFunc("/json", h.middleware(h.JSONHandler)).Methods("GET")
	router.HandleFunc("/json/", h.middleware(h.JSONHandler)).Methods("GET")
	router.HandleFunc("/json/{ip}", h.middleware(h.JSONHandler)).Methods("GET")

	// Text endpoints
	router.HandleFunc("/text", h.middleware(h.TextHandler)).Methods("GET")
	router.HandleFunc("/text/", h.middleware(h.TextHandler)).Methods("GET")
	router.HandleFunc("/text/{ip}", h.middleware(h.TextHandler)).Methods("GET")

	router.HandleFunc("/resolve/{host}", h.middleware(h.ResolveHandler)).Methods("GET")

	// Health check, stats and metrics
	router.HandleFunc("/health", h.middleware(h.HealthHandler)).Methods("GET")
	router.HandleFunc("/stats", h.middleware(h.StatsHandler)).Methods("GET")
	router.Handle("/metrics", h.metrics.Handler()).Methods("GET")

	// OPTIONS method for CORS
	router.HandleFunc("/{path:.*}", h.middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).Methods("OPTIONS")

	return router
}
