// Package menu implements the interactive numbered menu that dispatches to
// the lookup, resolve, traceroute, scan, ping and routing collaborators.
package menu

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kyxap1/ipmaster/internal/ipinfo"
	"github.com/kyxap1/ipmaster/internal/netif"
	"github.com/kyxap1/ipmaster/internal/ping"
	"github.com/kyxap1/ipmaster/internal/ports"

	"github.com/sirupsen/logrus"
)

const banner = "\n\t\t--------IP_Master--------\n" +
	"[1]Device IP  \t\t[2]IP lookup \t\t[3]Website IP \n" +
	"[4]Traceroute \t\t[5]Port scan \n" +
	"[6]Ping       \t\t[7]Interfaces \t\t[8]Routes \n" +
	"[9]BGP        \t\t[0]Exit \n" +
	": "

// Fetcher looks up and prints geolocation records
type Fetcher interface {
	SelfEndpoint() string
	LookupEndpoint(ip string) string
	FetchAndDisplay(ctx context.Context, endpoint string, w io.Writer) error
}

// Resolver turns a hostname into an IP address
type Resolver interface {
	Resolve(ctx context.Context, hostname string) (string, error)
}

// Tracer runs traceroute against a destination
type Tracer interface {
	Trace(ctx context.Context, destination string) error
}

// PortScanner scans a target for open TCP ports
type PortScanner interface {
	Scan(ctx context.Context, target string) (*ports.Result, error)
}

// Pinger sends ICMP echo requests to each host in turn
type Pinger interface {
	PingAll(ctx context.Context, hosts []string) []ping.HostResult
}

// InterfaceLister lists local network interfaces
type InterfaceLister interface {
	List() ([]netif.Interface, error)
}

// RouteTable prints the host routing table
type RouteTable interface {
	Show(ctx context.Context, w io.Writer) error
}

// BGPLooker prints the BGP routes announced for a prefix
type BGPLooker interface {
	Lookup(ctx context.Context, prefix string, w io.Writer) error
}

// LazyScanner builds the port scanner on first use and reuses it afterwards
type LazyScanner struct {
	once    sync.Once
	build   func() (PortScanner, error)
	scanner PortScanner
	err     error
}

// NewLazyScanner wraps a scanner constructor
func NewLazyScanner(build func() (PortScanner, error)) *LazyScanner {
	return &LazyScanner{build: build}
}

// Get returns the scanner, constructing it on the first call
func (l *LazyScanner) Get() (PortScanner, error) {
	l.once.Do(func() {
		l.scanner, l.err = l.build()
	})
	return l.scanner, l.err
}

// Deps are the collaborators the menu dispatches to
type Deps struct {
	Fetcher    Fetcher
	Resolver   Resolver
	Tracer     Tracer
	Scanner    *LazyScanner
	Pinger     Pinger
	Interfaces InterfaceLister
	Routes     RouteTable
	BGP        BGPLooker
}

// Menu reads numbered choices from in and writes results to out
type Menu struct {
	in     *bufio.Reader
	out    io.Writer
	deps   Deps
	once   bool
	logger *logrus.Logger
}

// New creates a menu. With once set, Run handles a single choice and returns.
func New(in io.Reader, out io.Writer, deps Deps, once bool, logger *logrus.Logger) *Menu {
	return &Menu{
		in:     bufio.NewReader(in),
		out:    out,
		deps:   deps,
		once:   once,
		logger: logger,
	}
}

// Run shows the menu until the user exits, input ends or ctx is cancelled.
// Action failures are printed and do not stop the loop.
func (m *Menu) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fmt.Fprint(m.out, banner)
		choice, err := m.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		exit, err := m.dispatch(ctx, choice)
		if errors.Is(err, io.EOF) {
			// Input ended in the middle of a prompt
			return nil
		}
		if err != nil {
			m.report(err)
		}
		if exit || m.once {
			return nil
		}
	}
}

func (m *Menu) dispatch(ctx context.Context, choice string) (bool, error) {
	m.logger.WithField("choice", choice).Debug("Menu choice")

	switch strings.ToLower(choice) {
	case "1":
		return false, m.deps.Fetcher.FetchAndDisplay(ctx, m.deps.Fetcher.SelfEndpoint(), m.out)
	case "2":
		return false, m.lookupIP(ctx)
	case "3":
		return false, m.lookupWebsite(ctx)
	case "4":
		return false, m.trace(ctx)
	case "5":
		return false, m.scan(ctx)
	case "6":
		return false, m.ping(ctx)
	case "7":
		return false, m.listInterfaces()
	case "8":
		return false, m.deps.Routes.Show(ctx, m.out)
	case "9":
		return false, m.bgp(ctx)
	case "0", "q", "quit", "exit":
		return true, nil
	default:
		fmt.Fprintln(m.out, "Invalid choice")
		return false, nil
	}
}

func (m *Menu) lookupIP(ctx context.Context) error {
	target, err := m.prompt("Input IP for lookup: ")
	if err != nil {
		return err
	}
	return m.deps.Fetcher.FetchAndDisplay(ctx, m.deps.Fetcher.LookupEndpoint(target), m.out)
}

func (m *Menu) lookupWebsite(ctx context.Context) error {
	host, err := m.prompt("Enter website name: ")
	if err != nil {
		return err
	}

	ip, err := m.deps.Resolver.Resolve(ctx, host)
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "IP obtained %s\n\n", ip)

	return m.deps.Fetcher.FetchAndDisplay(ctx, m.deps.Fetcher.LookupEndpoint(ip), m.out)
}

func (m *Menu) trace(ctx context.Context) error {
	dest, err := m.prompt("Enter destination: ")
	if err != nil {
		return err
	}
	return m.deps.Tracer.Trace(ctx, dest)
}

func (m *Menu) scan(ctx context.Context) error {
	target, err := m.prompt("Enter target IP: ")
	if err != nil {
		return err
	}

	scanner, err := m.deps.Scanner.Get()
	if err != nil {
		return fmt.Errorf("port scanner unavailable: %w", err)
	}

	fmt.Fprintf(m.out, "Scanning ports on %s...\n", target)
	result, err := scanner.Scan(ctx, target)
	if err != nil {
		return err
	}
	fmt.Fprintln(m.out, result.String())
	return nil
}

func (m *Menu) ping(ctx context.Context) error {
	input, err := m.prompt("Enter hosts (comma-separated): ")
	if err != nil {
		return err
	}

	hosts := ping.SplitHosts(input)
	if len(hosts) == 0 {
		return fmt.Errorf("host is empty")
	}
	return ping.WriteResults(m.out, m.deps.Pinger.PingAll(ctx, hosts))
}

func (m *Menu) bgp(ctx context.Context) error {
	prefix, err := m.prompt("Enter IP prefix (e.g., 8.8.8.0/24): ")
	if err != nil {
		return err
	}
	return m.deps.BGP.Lookup(ctx, prefix, m.out)
}

func (m *Menu) listInterfaces() error {
	ifaces, err := m.deps.Interfaces.List()
	if err != nil {
		return err
	}
	return netif.Write(m.out, ifaces)
}

// report prints an action failure. Status errors were already printed by the fetcher.
func (m *Menu) report(err error) {
	var statusErr *ipinfo.StatusError
	if errors.As(err, &statusErr) {
		return
	}
	m.logger.WithError(err).Debug("Menu action failed")
	fmt.Fprintf(m.out, "Error: %v\n", err)
}

func (m *Menu) prompt(label string) (string, error) {
	fmt.Fprint(m.out, label)
	return m.readLine()
}

// readLine returns the next trimmed line. A final line without newline is
// returned before io.EOF.
func (m *Menu) readLine() (string, error) {
	line, err := m.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
