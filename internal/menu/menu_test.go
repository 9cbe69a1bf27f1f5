package menu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/kyxap1/ipmaster/internal/ipinfo"
	"github.com/kyxap1/ipmaster/internal/netif"
	"github.com/kyxap1/ipmaster/internal/ping"
	"github.com/kyxap1/ipmaster/internal/ports"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	endpoints []string
	err       error
}

func (f *fakeFetcher) SelfEndpoint() string { return "https://geo.test/json" }

func (f *fakeFetcher) LookupEndpoint(ip string) string { return "https://geo.test/" + ip + "/json" }

func (f *fakeFetcher) FetchAndDisplay(_ context.Context, endpoint string, w io.Writer) error {
	f.endpoints = append(f.endpoints, endpoint)
	if f.err != nil {
		var statusErr *ipinfo.StatusError
		if errors.As(f.err, &statusErr) {
			fmt.Fprintln(w, statusErr.Error())
		}
		return f.err
	}
	fmt.Fprintf(w, "Current IP is from %s\n", endpoint)
	return nil
}

type fakeResolver struct {
	answers map[string]string
}

func (f *fakeResolver) Resolve(_ context.Context, host string) (string, error) {
	if ip, ok := f.answers[host]; ok {
		return ip, nil
	}
	return "", fmt.Errorf("resolve %s: no such host", host)
}

type fakeTracer struct {
	destinations []string
}

func (f *fakeTracer) Trace(_ context.Context, dest string) error {
	f.destinations = append(f.destinations, dest)
	return nil
}

type fakeScanner struct {
	targets []string
}

func (f *fakeScanner) Scan(_ context.Context, target string) (*ports.Result, error) {
	f.targets = append(f.targets, target)
	return &ports.Result{Target: target, StartPort: 1, EndPort: 1024, Open: []int{22, 443}}, nil
}

type fakePinger struct {
	batches [][]string
}

func (f *fakePinger) PingAll(_ context.Context, hosts []string) []ping.HostResult {
	f.batches = append(f.batches, hosts)
	results := make([]ping.HostResult, 0, len(hosts))
	for _, host := range hosts {
		if strings.HasSuffix(host, ".invalid") {
			results = append(results, ping.HostResult{Host: host, Err: fmt.Errorf("ping %s: no such host", host)})
			continue
		}
		results = append(results, ping.HostResult{
			Host:   host,
			Result: &ping.Result{Host: host, Addr: host, PacketsSent: 3, PacketsRecv: 3},
		})
	}
	return results
}

type fakeInterfaces struct{}

func (fakeInterfaces) List() ([]netif.Interface, error) {
	return []netif.Interface{{Name: "eth0", MTU: 1500, Flags: "up", Addrs: []string{"10.0.0.2/24"}}}, nil
}

type fakeRoutes struct {
	err error
}

func (f fakeRoutes) Show(_ context.Context, w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	fmt.Fprintln(w, "default via 10.0.0.1 dev eth0")
	return nil
}

type fakeBGP struct {
	prefixes []string
}

func (f *fakeBGP) Lookup(_ context.Context, prefix string, w io.Writer) error {
	f.prefixes = append(f.prefixes, prefix)
	fmt.Fprintf(w, "BGP Routes for %s:\n", prefix)
	return nil
}

type harness struct {
	fetcher     *fakeFetcher
	resolver    *fakeResolver
	tracer      *fakeTracer
	scanner     *fakeScanner
	pinger      *fakePinger
	bgp         *fakeBGP
	scannerNews int
	deps        Deps
}

func newHarness() *harness {
	h := &harness{
		fetcher:  &fakeFetcher{},
		resolver: &fakeResolver{answers: map[string]string{"example.com": "93.184.216.34"}},
		tracer:   &fakeTracer{},
		scanner:  &fakeScanner{},
		pinger:   &fakePinger{},
		bgp:      &fakeBGP{},
	}
	h.deps = Deps{
		Fetcher:  h.fetcher,
		Resolver: h.resolver,
		Tracer:   h.tracer,
		Scanner: NewLazyScanner(func() (PortScanner, error) {
			h.scannerNews++
			return h.scanner, nil
		}),
		Pinger:     h.pinger,
		Interfaces: fakeInterfaces{},
		Routes:     fakeRoutes{},
		BGP:        h.bgp,
	}
	return h
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func runMenu(t *testing.T, h *harness, input string, once bool) string {
	t.Helper()
	var out bytes.Buffer
	m := New(strings.NewReader(input), &out, h.deps, once, newTestLogger())
	require.NoError(t, m.Run(context.Background()))
	return out.String()
}

func TestMenu_DeviceIP(t *testing.T) {
	h := newHarness()
	out := runMenu(t, h, "1\n0\n", false)

	assert.Equal(t, []string{"https://geo.test/json"}, h.fetcher.endpoints)
	assert.Contains(t, out, "--------IP_Master--------")
	assert.Contains(t, out, "Current IP is from https://geo.test/json")
}

func TestMenu_IPLookup(t *testing.T) {
	h := newHarness()
	out := runMenu(t, h, "2\n8.8.8.8\n", true)

	assert.Contains(t, out, "Input IP for lookup: ")
	assert.Equal(t, []string{"https://geo.test/8.8.8.8/json"}, h.fetcher.endpoints)
}

func TestMenu_WebsiteIP(t *testing.T) {
	h := newHarness()
	out := runMenu(t, h, "3\nexample.com\n", true)

	assert.Contains(t, out, "Enter website name: ")
	assert.Contains(t, out, "IP obtained 93.184.216.34\n")
	assert.Equal(t, []string{"https://geo.test/93.184.216.34/json"}, h.fetcher.endpoints)
}

func TestMenu_WebsiteIPResolveFailure(t *testing.T) {
	h := newHarness()
	out := runMenu(t, h, "3\nnope.invalid\n", true)

	assert.Contains(t, out, "Error: resolve nope.invalid")
	assert.Empty(t, h.fetcher.endpoints)
}

func TestMenu_Traceroute(t *testing.T) {
	h := newHarness()
	runMenu(t, h, "4\n8.8.8.8; rm -rf /\n", true)

	assert.Equal(t, []string{"8.8.8.8; rm -rf /"}, h.tracer.destinations)
}

func TestMenu_PortScanIsLazy(t *testing.T) {
	h := newHarness()

	runMenu(t, h, "1\n0\n", false)
	assert.Equal(t, 0, h.scannerNews, "scanner must not be built before it is used")

	out := runMenu(t, h, "5\n10.0.0.1\n5\n10.0.0.2\n0\n", false)
	assert.Equal(t, 1, h.scannerNews, "scanner must be built exactly once")
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, h.scanner.targets)
	assert.Contains(t, out, "Open ports on 10.0.0.1: 22, 443")
}

func TestMenu_PortScanConstructorFails(t *testing.T) {
	h := newHarness()
	h.deps.Scanner = NewLazyScanner(func() (PortScanner, error) {
		return nil, errors.New("invalid port range")
	})

	out := runMenu(t, h, "5\n10.0.0.1\n", true)
	assert.Contains(t, out, "Error: port scanner unavailable: invalid port range")
}

func TestMenu_PingAndInterfaces(t *testing.T) {
	h := newHarness()
	out := runMenu(t, h, "6\n1.1.1.1\n7\nq\n", false)

	assert.Contains(t, out, "Enter hosts (comma-separated): ")
	assert.Contains(t, out, "--- 1.1.1.1 ping statistics ---")
	assert.Contains(t, out, "eth0")
}

func TestMenu_PingMultipleHosts(t *testing.T) {
	h := newHarness()
	out := runMenu(t, h, "6\n1.1.1.1, 8.8.8.8 ,, bad.invalid\n", true)

	assert.Equal(t, [][]string{{"1.1.1.1", "8.8.8.8", "bad.invalid"}}, h.pinger.batches)
	assert.Contains(t, out, "--- 1.1.1.1 ping statistics ---")
	assert.Contains(t, out, "--- 8.8.8.8 ping statistics ---")
	assert.Contains(t, out, "Error: ping bad.invalid: no such host")
	assert.Regexp(t, `bad\.invalid\s+error`, out)
}

func TestMenu_PingBlankInput(t *testing.T) {
	h := newHarness()
	out := runMenu(t, h, "6\n , \n", true)

	assert.Empty(t, h.pinger.batches)
	assert.Contains(t, out, "Error: host is empty")
}

func TestMenu_Routes(t *testing.T) {
	h := newHarness()
	out := runMenu(t, h, "8\n", true)
	assert.Contains(t, out, "[8]Routes")
	assert.Contains(t, out, "default via 10.0.0.1 dev eth0")

	h.deps.Routes = fakeRoutes{err: errors.New("routing table unavailable")}
	out = runMenu(t, h, "8\n0\n", false)
	assert.Contains(t, out, "Error: routing table unavailable")
}

func TestMenu_BGP(t *testing.T) {
	h := newHarness()
	out := runMenu(t, h, "9\n8.8.8.0/24\n", true)

	assert.Contains(t, out, "Enter IP prefix (e.g., 8.8.8.0/24): ")
	assert.Equal(t, []string{"8.8.8.0/24"}, h.bgp.prefixes)
	assert.Contains(t, out, "BGP Routes for 8.8.8.0/24:")
}

func TestMenu_StatusErrorPrintedOnce(t *testing.T) {
	h := newHarness()
	h.fetcher.err = &ipinfo.StatusError{Code: 429}

	out := runMenu(t, h, "1\n", true)
	assert.Equal(t, 1, strings.Count(out, "Status: 429"))
	assert.NotContains(t, out, "Error:")
}

func TestMenu_ErrorDoesNotStopLoop(t *testing.T) {
	h := newHarness()
	h.fetcher.err = ipinfo.ErrMissingIP

	out := runMenu(t, h, "1\n2\n8.8.8.8\n0\n", false)
	assert.Equal(t, 2, strings.Count(out, "Error: response has no ip field"))
	assert.Len(t, h.fetcher.endpoints, 2)
}

func TestMenu_InvalidChoice(t *testing.T) {
	h := newHarness()
	out := runMenu(t, h, "42\n", true)

	assert.Contains(t, out, "Invalid choice")
}

func TestMenu_EOFExits(t *testing.T) {
	h := newHarness()
	runMenu(t, h, "", false)
	runMenu(t, h, "2\n", false)

	assert.Empty(t, h.fetcher.endpoints)
}

func TestMenu_FinalLineWithoutNewline(t *testing.T) {
	h := newHarness()
	runMenu(t, h, "2\n1.1.1.1", false)

	assert.Equal(t, []string{"https://geo.test/1.1.1.1/json"}, h.fetcher.endpoints)
}

func TestMenu_CancelledContext(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := New(strings.NewReader("1\n"), io.Discard, h.deps, false, newTestLogger())
	assert.ErrorIs(t, m.Run(ctx), context.Canceled)
}
