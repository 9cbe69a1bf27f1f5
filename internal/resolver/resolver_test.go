package resolver

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	addrs map[string][]string
	calls []string
}

func (f *fakeLookup) LookupHost(_ context.Context, host string) ([]string, error) {
	f.calls = append(f.calls, host)
	addrs, ok := f.addrs[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestResolver_Resolve(t *testing.T) {
	lookup := &fakeLookup{addrs: map[string][]string{
		"example.com":   {"2606:2800:220:1:248:1893:25c8:1946", "93.184.216.34"},
		"v6only.test":   {"2001:db8::1"},
		"garbage.test":  {"not-an-ip"},
		"multiple.test": {"10.0.0.1", "10.0.0.2"},
	}}
	r := NewWithLookup(lookup, newTestLogger())

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Prefers IPv4", "example.com", "93.184.216.34"},
		{"IPv6 fallback", "v6only.test", "2001:db8::1"},
		{"First IPv4 wins", "multiple.test", "10.0.0.1"},
		{"URL input", "https://example.com/index.html", "93.184.216.34"},
		{"Trailing dot and spaces", "  example.com. ", "93.184.216.34"},
		{"Literal IPv4", "8.8.8.8", "8.8.8.8"},
		{"Literal IPv6", "2001:4860:4860::8888", "2001:4860:4860::8888"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolver_ResolveFailure(t *testing.T) {
	r := NewWithLookup(&fakeLookup{addrs: map[string][]string{}}, newTestLogger())

	got, err := r.Resolve(context.Background(), "does-not-exist.invalid")
	require.Error(t, err)
	assert.Empty(t, got)

	var dnsErr *net.DNSError
	assert.True(t, errors.As(err, &dnsErr), "expected wrapped *net.DNSError, got %T", err)
}

func TestResolver_NoUsableAddresses(t *testing.T) {
	r := NewWithLookup(&fakeLookup{addrs: map[string][]string{"garbage.test": {"not-an-ip"}}}, newTestLogger())

	_, err := r.Resolve(context.Background(), "garbage.test")
	assert.Error(t, err)
}

func TestResolver_EmptyHost(t *testing.T) {
	lookup := &fakeLookup{}
	r := NewWithLookup(lookup, newTestLogger())

	_, err := r.Resolve(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyHost)
	assert.Empty(t, lookup.calls)
}

func TestResolver_SystemResolverLocalhost(t *testing.T) {
	r := New(newTestLogger())

	got, err := r.Resolve(context.Background(), "localhost")
	if err != nil {
		t.Skipf("localhost does not resolve in this environment: %v", err)
	}
	assert.NotNil(t, net.ParseIP(got))
}

func TestResolver_SystemResolverNetwork(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping network test in short mode")
	}

	r := New(newTestLogger())
	got, err := r.Resolve(context.Background(), "example.com")
	if err != nil {
		t.Skipf("DNS unavailable: %v", err)
	}

	ip := net.ParseIP(got)
	require.NotNil(t, ip)
	assert.NotNil(t, ip.To4(), "expected an IPv4 dotted quad, got %s", got)
}

func TestResolver_SystemResolverUnresolvable(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping network test in short mode")
	}

	r := New(newTestLogger())
	got, err := r.Resolve(context.Background(), "name.that.does.not.exist.invalid")
	assert.Error(t, err)
	assert.Empty(t, got)
}
