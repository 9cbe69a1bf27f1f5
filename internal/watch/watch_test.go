package watch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kyxap1/ipmaster/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequenceFetcher returns the configured IPs in order, repeating the last one
type sequenceFetcher struct {
	mu    sync.Mutex
	ips   []string
	err   error
	calls int
}

func (f *sequenceFetcher) SelfEndpoint() string { return "self" }

func (f *sequenceFetcher) Fetch(ctx context.Context, endpoint string) (*types.IPRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.ips) {
		idx = len(f.ips) - 1
	}
	return &types.IPRecord{IP: f.ips[idx], Org: "AS64500 Example"}, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestWatcher_Check(t *testing.T) {
	fetcher := &sequenceFetcher{ips: []string{"198.51.100.1", "198.51.100.1", "198.51.100.2"}}
	var out bytes.Buffer
	w := New(fetcher, "", &out, testLogger())
	ctx := context.Background()

	changed, err := w.Check(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "first observation is not a change")
	assert.Equal(t, "198.51.100.1", w.LastIP())

	changed, err = w.Check(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = w.Check(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "198.51.100.2", w.LastIP())

	assert.Contains(t, out.String(), "Public IP is 198.51.100.1")
	assert.Contains(t, out.String(), "Public IP changed from 198.51.100.1 to 198.51.100.2")
	assert.Equal(t, 2, strings.Count(out.String(), "\n"))
}

func TestWatcher_CheckError(t *testing.T) {
	fetchErr := errors.New("network down")
	fetcher := &sequenceFetcher{err: fetchErr}
	w := New(fetcher, "", &bytes.Buffer{}, testLogger())

	changed, err := w.Check(context.Background())
	assert.False(t, changed)
	assert.ErrorIs(t, err, fetchErr)
	assert.Empty(t, w.LastIP(), "failed checks must not record an IP")
}

func TestWatcher_DefaultSchedule(t *testing.T) {
	w := New(&sequenceFetcher{ips: []string{"192.0.2.1"}}, "", &bytes.Buffer{}, testLogger())
	assert.Equal(t, DefaultSchedule, w.schedule)
}

func TestWatcher_StartInvalidSchedule(t *testing.T) {
	fetcher := &sequenceFetcher{ips: []string{"192.0.2.1"}}
	w := New(fetcher, "not a schedule", &bytes.Buffer{}, testLogger())

	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid watch schedule")
	assert.Equal(t, 0, fetcher.calls, "no check runs for an invalid schedule")

	// Stop on a watcher that never started is a no-op
	w.Stop()
}

func TestWatcher_StartRunsInitialCheck(t *testing.T) {
	fetcher := &sequenceFetcher{ips: []string{"192.0.2.1"}}
	w := New(fetcher, "@every 1h", &bytes.Buffer{}, testLogger())

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	assert.Equal(t, "192.0.2.1", w.LastIP())
}
