// Package watch periodically fetches the public IP record and reports changes.
package watch

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kyxap1/ipmaster/internal/types"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSchedule checks every five minutes
const DefaultSchedule = "*/5 * * * *"

// Fetcher retrieves the caller's own geolocation record
type Fetcher interface {
	SelfEndpoint() string
	Fetch(ctx context.Context, endpoint string) (*types.IPRecord, error)
}

// Watcher tracks the last observed public IP
type Watcher struct {
	fetcher  Fetcher
	schedule string
	out      io.Writer
	logger   *logrus.Logger

	mu     sync.Mutex
	lastIP string

	cron *cron.Cron
}

// New creates a watcher. Changes are written to out as they are observed.
func New(fetcher Fetcher, schedule string, out io.Writer, logger *logrus.Logger) *Watcher {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Watcher{
		fetcher:  fetcher,
		schedule: schedule,
		out:      out,
		logger:   logger,
	}
}

// LastIP returns the most recently observed IP, or "" before the first check
func (w *Watcher) LastIP() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastIP
}

// Check fetches the current record and reports whether the IP differs from
// the previous observation. The first observation is never a change.
func (w *Watcher) Check(ctx context.Context) (bool, error) {
	record, err := w.fetcher.Fetch(ctx, w.fetcher.SelfEndpoint())
	if err != nil {
		return false, fmt.Errorf("check public IP: %w", err)
	}

	w.mu.Lock()
	previous := w.lastIP
	w.lastIP = record.IP
	w.mu.Unlock()

	if previous == "" {
		w.logger.WithField("ip", record.IP).Info("Initial public IP observed")
		fmt.Fprintf(w.out, "%s Public IP is %s\n", time.Now().Format(time.RFC3339), record.IP)
		return false, nil
	}
	if previous == record.IP {
		w.logger.WithField("ip", record.IP).Debug("Public IP unchanged")
		return false, nil
	}

	w.logger.WithFields(logrus.Fields{
		"previous": previous,
		"current":  record.IP,
		"org":      record.Org,
	}).Warn("Public IP changed")
	fmt.Fprintf(w.out, "%s Public IP changed from %s to %s\n", time.Now().Format(time.RFC3339), previous, record.IP)
	return true, nil
}

// Start runs an immediate check and then schedules further checks.
// It returns an error if the cron expression is invalid.
func (w *Watcher) Start(ctx context.Context) error {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(w.schedule, func() {
		if _, err := w.Check(ctx); err != nil {
			w.logger.Errorf("Scheduled IP check failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid watch schedule %q: %w", w.schedule, err)
	}

	if _, err := w.Check(ctx); err != nil {
		w.logger.Errorf("Initial IP check failed: %v", err)
	}

	w.cron = scheduler
	scheduler.Start()
	w.logger.Infof("Scheduled IP checks: %s", w.schedule)
	return nil
}

// Stop halts the scheduler and waits for a running check to finish
func (w *Watcher) Stop() {
	if w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
}
