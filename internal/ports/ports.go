package ports

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Defaults used when Options leaves a field zero
const (
	DefaultStartPort = 1
	DefaultEndPort   = 1024
	DefaultTimeout   = 2 * time.Second
	DefaultWorkers   = 100
)

// DialFunc opens a connection; (*net.Dialer).DialContext is the default
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options configures a Scanner
type Options struct {
	StartPort int
	EndPort   int
	Timeout   time.Duration
	Workers   int
}

// Scanner performs TCP connect scans
type Scanner struct {
	startPort int
	endPort   int
	timeout   time.Duration
	workers   int
	dial      DialFunc
	logger    *logrus.Logger
}

// Result is the outcome of scanning one target
type Result struct {
	Target    string        `json:"target"`
	StartPort int           `json:"start_port"`
	EndPort   int           `json:"end_port"`
	Open      []int         `json:"open"`
	Duration  time.Duration `json:"duration"`
}

// NewScanner validates opts and creates a scanner
func NewScanner(opts Options, logger *logrus.Logger) (*Scanner, error) {
	if opts.StartPort == 0 {
		opts.StartPort = DefaultStartPort
	}
	if opts.EndPort == 0 {
		opts.EndPort = DefaultEndPort
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}

	if opts.StartPort < 1 || opts.EndPort > 65535 || opts.StartPort > opts.EndPort {
		return nil, fmt.Errorf("invalid port range %d-%d", opts.StartPort, opts.EndPort)
	}

	return &Scanner{
		startPort: opts.StartPort,
		endPort:   opts.EndPort,
		timeout:   opts.Timeout,
		workers:   opts.Workers,
		dial:      (&net.Dialer{}).DialContext,
		logger:    logger,
	}, nil
}

// Scan dials every port in the configured range on target and returns the open ones in ascending order
func (s *Scanner) Scan(ctx context.Context, target string) (*Result, error) {
	target = strings.TrimSpace(target)
	if net.ParseIP(target) == nil {
		return nil, fmt.Errorf("invalid target IP: %q", target)
	}

	start := time.Now()
	portCh := make(chan int)
	var (
		mu   sync.Mutex
		open []int
		wg   sync.WaitGroup
	)

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for port := range portCh {
				if s.isOpen(ctx, target, port) {
					mu.Lock()
					open = append(open, port)
					mu.Unlock()
				}
			}
		}()
	}

feed:
	for port := s.startPort; port <= s.endPort; port++ {
		select {
		case portCh <- port:
		case <-ctx.Done():
			break feed
		}
	}
	close(portCh)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", target, err)
	}

	sort.Ints(open)
	result := &Result{
		Target:    target,
		StartPort: s.startPort,
		EndPort:   s.endPort,
		Open:      open,
		Duration:  time.Since(start),
	}

	s.logger.WithFields(logrus.Fields{
		"target":      target,
		"open":        open,
		"duration_ms": result.Duration.Milliseconds(),
	}).Debug("Port scan completed")

	return result, nil
}

func (s *Scanner) isOpen(ctx context.Context, target string, port int) bool {
	dialCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.dial(dialCtx, "tcp", net.JoinHostPort(target, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// String renders the result the way the CLI prints it
func (r *Result) String() string {
	if len(r.Open) == 0 {
		return fmt.Sprintf("No open ports found on %s (%d-%d)", r.Target, r.StartPort, r.EndPort)
	}

	ports := make([]string, len(r.Open))
	for i, port := range r.Open {
		ports[i] = strconv.Itoa(port)
	}
	return fmt.Sprintf("Open ports on %s: %s", r.Target, strings.Join(ports, ", "))
}
