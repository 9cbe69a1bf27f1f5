package ping

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/sirupsen/logrus"
)

// Options configures a Pinger
type Options struct {
	Count      int
	Privileged bool
	Timeout    time.Duration
}

// Result summarises one ping run
type Result struct {
	Host        string        `json:"host"`
	Addr        string        `json:"addr"`
	PacketsSent int           `json:"packets_sent"`
	PacketsRecv int           `json:"packets_recv"`
	PacketLoss  float64       `json:"packet_loss"`
	MinRtt      time.Duration `json:"min_rtt"`
	AvgRtt      time.Duration `json:"avg_rtt"`
	MaxRtt      time.Duration `json:"max_rtt"`
	StdDevRtt   time.Duration `json:"stddev_rtt"`
}

// runFunc sends the echo requests and returns raw statistics
type runFunc func(ctx context.Context, host string, opts Options) (*probing.Statistics, error)

// Pinger sends ICMP echo requests
type Pinger struct {
	opts   Options
	run    runFunc
	logger *logrus.Logger
}

// New creates a pinger. Unprivileged mode uses UDP ICMP sockets, which on Linux
// requires net.ipv4.ping_group_range to include the current group.
func New(opts Options, logger *logrus.Logger) *Pinger {
	if opts.Count <= 0 {
		opts.Count = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Pinger{
		opts:   opts,
		run:    runProbing,
		logger: logger,
	}
}

// Ping sends echo requests to host and blocks until all packets are answered, the timeout
// elapses or ctx is cancelled
func (p *Pinger) Ping(ctx context.Context, host string) (*Result, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("host is empty")
	}

	stats, err := p.run(ctx, host, p.opts)
	if err != nil {
		return nil, fmt.Errorf("ping %s: %w", host, err)
	}

	result := &Result{
		Host:        host,
		Addr:        stats.Addr,
		PacketsSent: stats.PacketsSent,
		PacketsRecv: stats.PacketsRecv,
		PacketLoss:  stats.PacketLoss,
		MinRtt:      stats.MinRtt,
		AvgRtt:      stats.AvgRtt,
		MaxRtt:      stats.MaxRtt,
		StdDevRtt:   stats.StdDevRtt,
	}

	p.logger.WithFields(logrus.Fields{
		"host": host,
		"sent": result.PacketsSent,
		"recv": result.PacketsRecv,
		"avg":  result.AvgRtt,
	}).Debug("Ping finished")

	return result, nil
}

// HostResult is the outcome of pinging one host out of a list
type HostResult struct {
	Host   string
	Result *Result
	Err    error
}

// Status summarises the outcome for the status table
func (h HostResult) Status() string {
	switch {
	case h.Err != nil:
		return "error"
	case h.Result.PacketsRecv == 0:
		return "unreachable"
	default:
		return fmt.Sprintf("reachable (%d/%d)", h.Result.PacketsRecv, h.Result.PacketsSent)
	}
}

// SplitHosts splits a comma-separated host list, dropping blank entries
func SplitHosts(input string) []string {
	var hosts []string
	for _, host := range strings.Split(input, ",") {
		if host = strings.TrimSpace(host); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// PingAll pings each host in order. A failing host does not stop the others;
// hosts not reached before ctx is cancelled carry the context error.
func (p *Pinger) PingAll(ctx context.Context, hosts []string) []HostResult {
	results := make([]HostResult, 0, len(hosts))
	for _, host := range hosts {
		if err := ctx.Err(); err != nil {
			results = append(results, HostResult{Host: host, Err: err})
			continue
		}
		result, err := p.Ping(ctx, host)
		results = append(results, HostResult{Host: host, Result: result, Err: err})
	}
	return results
}

// WriteResults prints one statistics block per host followed by a status table
func WriteResults(w io.Writer, results []HostResult) error {
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "\nError: %v\n", r.Err)
			continue
		}
		fmt.Fprint(w, r.Result.String())
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Host\tStatus")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\n", r.Host, r.Status())
	}
	return tw.Flush()
}

func runProbing(ctx context.Context, host string, opts Options) (*probing.Statistics, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return nil, err
	}

	pinger.Count = opts.Count
	pinger.Timeout = opts.Timeout
	pinger.SetPrivileged(opts.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return nil, err
	}
	return pinger.Statistics(), nil
}

// String renders the classic ping statistics block
func (r *Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n--- %s ping statistics ---\n", r.Addr)
	fmt.Fprintf(&b, "%d packets transmitted, %d packets received, %v%% packet loss\n",
		r.PacketsSent, r.PacketsRecv, r.PacketLoss)
	fmt.Fprintf(&b, "round-trip min/avg/max/stddev = %v/%v/%v/%v\n",
		r.MinRtt, r.AvgRtt, r.MaxRtt, r.StdDevRtt)
	return b.String()
}
