// Package bgp looks up the announced BGP routes for an IP prefix, asking the
// local routing daemon first and a BGPView-compatible API second.
package bgp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the public BGP API queried when the local daemon has no answer
const DefaultBaseURL = "https://api.bgpview.io"

const separator = "----------------------------------------------------------------"

// ErrInvalidPrefix is returned for input that is not ip/mask notation
var ErrInvalidPrefix = errors.New("invalid IP prefix")

// CommandFunc builds the child process. exec.CommandContext is the default.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Options configures a Looker
type Options struct {
	BaseURL string
	Timeout time.Duration
}

// Looker finds BGP routes for a prefix
type Looker struct {
	http    *resty.Client
	baseURL string
	goos    string
	command CommandFunc
	logger  *logrus.Logger
}

type apiResponse struct {
	Data struct {
		Prefixes []struct {
			Prefix string `json:"prefix"`
			ASNs   []struct {
				ASN         int    `json:"asn"`
				Description string `json:"description"`
				CountryCode string `json:"country_code"`
			} `json:"asns"`
		} `json:"prefixes"`
	} `json:"data"`
}

// New creates a looker for the running platform
func New(opts Options, logger *logrus.Logger) *Looker {
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

	return &Looker{
		http:    httpClient,
		baseURL: baseURL,
		goos:    runtime.GOOS,
		command: exec.CommandContext,
		logger:  logger,
	}
}

// ValidatePrefix checks that prefix is an address followed by a mask length,
// e.g. 8.8.8.0/24
func ValidatePrefix(prefix string) (*net.IPNet, error) {
	_, network, err := net.ParseCIDR(strings.TrimSpace(prefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	return network, nil
}

// Lookup writes the routes announced for prefix to w. Nothing is written on error.
func (l *Looker) Lookup(ctx context.Context, prefix string, w io.Writer) error {
	prefix = strings.TrimSpace(prefix)
	network, err := ValidatePrefix(prefix)
	if err != nil {
		return err
	}

	var body string
	var found bool
	if l.goos == "windows" {
		body, found = l.fromRoutePrint(ctx, network)
	} else {
		body, found = l.fromBirdc(ctx, prefix)
	}

	if !found {
		l.logger.WithField("prefix", prefix).Debug("No local BGP route, querying API")
		body, err = l.fromAPI(ctx, prefix)
		if err != nil {
			return err
		}
	}

	_, err = fmt.Fprintf(w, "\nBGP Routes for %s:\n%s\n%s", prefix, separator, body)
	return err
}

func (l *Looker) fromBirdc(ctx context.Context, prefix string) (string, bool) {
	out, err := l.command(ctx, "birdc", "show", "route", "for", prefix).Output()
	if err != nil {
		l.logger.WithError(err).Debug("birdc unavailable")
		return "", false
	}

	var b strings.Builder
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String(), b.Len() > 0
}

// fromRoutePrint scans the "Active Routes" section of route print for the prefix
func (l *Looker) fromRoutePrint(ctx context.Context, network *net.IPNet) (string, bool) {
	out, err := l.command(ctx, "route", "print").Output()
	if err != nil {
		l.logger.WithError(err).Debug("route print failed")
		return "", false
	}

	dest := network.IP.String()
	mask := net.IP(network.Mask).String()

	var b strings.Builder
	active := false
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Active Routes:"):
			active = true
			continue
		case strings.HasPrefix(line, "Persistent Routes:"):
			active = false
		}
		if !active {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) >= 5 && fields[0] == dest && fields[1] == mask {
			fmt.Fprintf(&b, "Network: %s, Netmask: %s, Gateway: %s, Interface: %s, Metric: %s\n",
				fields[0], fields[1], fields[2], fields[3], fields[4])
		}
	}
	return b.String(), b.Len() > 0
}

func (l *Looker) fromAPI(ctx context.Context, prefix string) (string, error) {
	addr, bits, _ := strings.Cut(prefix, "/")
	endpoint := fmt.Sprintf("%s/prefix/%s/%s", l.baseURL, url.PathEscape(addr), url.PathEscape(bits))

	start := time.Now()
	resp, err := l.http.R().SetContext(ctx).Get(endpoint)
	if err != nil {
		return "", fmt.Errorf("request %s: %w", endpoint, err)
	}

	l.logger.WithFields(logrus.Fields{
		"endpoint":    endpoint,
		"status":      resp.StatusCode(),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("BGP lookup finished")

	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("API returned non-200 status: %d", resp.StatusCode())
	}

	var parsed apiResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(parsed.Data.Prefixes) == 0 {
		return "No BGP routes found for this prefix.\n", nil
	}

	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Prefix\tASN\tDescription\tCountry")
	for _, p := range parsed.Data.Prefixes {
		for _, asn := range p.ASNs {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", p.Prefix, asn.ASN, asn.Description, asn.CountryCode)
		}
	}
	if err := tw.Flush(); err != nil {
		return "", err
	}
	return b.String(), nil
}
