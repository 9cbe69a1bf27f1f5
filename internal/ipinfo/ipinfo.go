// Package ipinfo fetches and presents geolocation records from an
// ipinfo.io-compatible JSON API.
package ipinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kyxap1/ipmaster/internal/cache"
	"github.com/kyxap1/ipmaster/internal/types"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the public geolocation API queried when none is configured
const DefaultBaseURL = "https://ipinfo.io"

// ErrMissingIP is returned when a successful response carries no ip field
var ErrMissingIP = errors.New("response has no ip field")

// StatusError reports a non-200 answer from the geolocation API.
// The response body is never parsed in that case.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Status: %d", e.Code)
}

// Options configures a Client
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Cache is optional; nil disables caching
	Cache *cache.RecordCache
}

// Client talks to the geolocation API
type Client struct {
	http    *resty.Client
	baseURL string
	token   string
	cache   *cache.RecordCache
	logger  *logrus.Logger
}

// NewClient creates a geolocation client. TLS certificates are always verified.
func NewClient(opts Options, logger *logrus.Logger) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := resty.New().
		SetLogger(logger).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "ipmaster")
	if opts.Timeout > 0 {
		httpClient.SetTimeout(opts.Timeout)
	}

	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		token:   opts.Token,
		cache:   opts.Cache,
		logger:  logger,
	}
}

// SelfEndpoint returns the endpoint describing the caller's own public IP
func (c *Client) SelfEndpoint() string {
	return c.baseURL + "/json"
}

// LookupEndpoint returns the endpoint describing ip.
// The value is not validated; a bad IP surfaces as an API status error. It is
// escaped as a single path segment so it cannot change the path or query.
func (c *Client) LookupEndpoint(ip string) string {
	return fmt.Sprintf("%s/%s/json", c.baseURL, pathSegment(strings.TrimSpace(ip)))
}

// pathSegment escapes s for use as one URL path segment, including dot segments
func pathSegment(s string) string {
	if s == "." || s == ".." {
		return strings.ReplaceAll(s, ".", "%2E")
	}
	return url.PathEscape(s)
}

// Fetch performs a single GET against endpoint and returns the decoded record
func (c *Client) Fetch(ctx context.Context, endpoint string) (*types.IPRecord, error) {
	if c.cache != nil {
		if record, found := c.cache.Get(endpoint); found {
			c.logger.WithField("endpoint", endpoint).Debug("Serving lookup from cache")
			return record, nil
		}
	}

	req := c.http.R().SetContext(ctx)
	if c.token != "" {
		req.SetQueryParam("token", c.token)
	}

	start := time.Now()
	resp, err := req.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}

	c.logger.WithFields(logrus.Fields{
		"endpoint":    endpoint,
		"status":      resp.StatusCode(),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Geolocation lookup finished")

	if resp.StatusCode() != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode()}
	}

	record, err := decodeRecord(resp.Body())
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Set(endpoint, record)
	}

	return record, nil
}

// FetchAndDisplay fetches endpoint and writes the human-readable summary to w.
// On a non-200 answer it writes the status line instead and returns the *StatusError.
func (c *Client) FetchAndDisplay(ctx context.Context, endpoint string, w io.Writer) error {
	record, err := c.Fetch(ctx, endpoint)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			fmt.Fprintln(w, statusErr.Error())
		}
		return err
	}

	_, err = io.WriteString(w, record.Summary())
	return err
}

// wireRecord mirrors the API payload; pointers distinguish absent keys from empty values
type wireRecord struct {
	IP       *string `json:"ip"`
	Hostname *string `json:"hostname"`
	Org      *string `json:"org"`
	City     *string `json:"city"`
	Loc      *string `json:"loc"`
	Country  *string `json:"country"`
	Region   *string `json:"region"`
	Postal   *string `json:"postal"`
	Timezone *string `json:"timezone"`
}

// decodeRecord parses a 200 response body. Only ip is required; every other
// displayed field falls back to its placeholder.
func decodeRecord(body []byte) (*types.IPRecord, error) {
	var wire wireRecord
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if wire.IP == nil || *wire.IP == "" {
		return nil, fmt.Errorf("decode response: %w", ErrMissingIP)
	}

	return &types.IPRecord{
		IP:       *wire.IP,
		Hostname: valueOr(wire.Hostname, types.PlaceholderHostname),
		Org:      valueOr(wire.Org, types.PlaceholderOrg),
		City:     valueOr(wire.City, types.PlaceholderCity),
		Location: valueOr(wire.Loc, types.PlaceholderLocation),
		Country:  valueOr(wire.Country, types.PlaceholderCountry),
		Region:   valueOr(wire.Region, types.PlaceholderRegion),
		Postal:   valueOr(wire.Postal, ""),
		Timezone: valueOr(wire.Timezone, ""),
	}, nil
}

func valueOr(value *string, fallback string) string {
	if value == nil {
		return fallback
	}
	return *value
}
