package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrEmptyHost is returned when Resolve is called without a hostname
var ErrEmptyHost = errors.New("hostname is empty")

// HostLookup is the subset of *net.Resolver used for name resolution
type HostLookup interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Resolver turns hostnames into IP addresses using the system resolver
type Resolver struct {
	lookup HostLookup
	logger *logrus.Logger
}

// New creates a resolver backed by net.DefaultResolver
func New(logger *logrus.Logger) *Resolver {
	return NewWithLookup(net.DefaultResolver, logger)
}

// NewWithLookup creates a resolver backed by a custom lookup implementation
func NewWithLookup(lookup HostLookup, logger *logrus.Logger) *Resolver {
	return &Resolver{
		lookup: lookup,
		logger: logger,
	}
}

// Resolve returns one address for hostname, preferring IPv4.
// A name that does not resolve is an error, never a placeholder.
func (r *Resolver) Resolve(ctx context.Context, hostname string) (string, error) {
	host := normalizeHost(hostname)
	if host == "" {
		return "", ErrEmptyHost
	}

	// Literal addresses resolve to themselves
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	addrs, err := r.lookup.LookupHost(ctx, host)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", host, err)
	}

	r.logger.WithFields(logrus.Fields{
		"host":  host,
		"addrs": addrs,
	}).Debug("Resolved hostname")

	return pickAddress(host, addrs)
}

// pickAddress returns the first IPv4 address in addrs, falling back to the first valid address
func pickAddress(host string, addrs []string) (string, error) {
	var fallback string
	for _, addr := range addrs {
		ip := net.ParseIP(addr)
		if ip == nil {
			continue
		}
		if v4 := ip.To4(); v4 != nil {
			return v4.String(), nil
		}
		if fallback == "" {
			fallback = ip.String()
		}
	}

	if fallback == "" {
		return "", fmt.Errorf("resolve %s: no addresses returned", host)
	}
	return fallback, nil
}

// normalizeHost accepts website-style input such as "https://example.com/path"
func normalizeHost(input string) string {
	host := strings.TrimSpace(input)
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	return strings.TrimSuffix(host, ".")
}
