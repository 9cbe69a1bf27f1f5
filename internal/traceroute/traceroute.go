package traceroute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// dateLayout matches "Date: 18 October 2026"
const dateLayout = "02 January 2006"

var (
	// ErrEmptyDestination is returned when no destination is given
	ErrEmptyDestination = errors.New("destination is empty")
	// ErrInvalidDestination is returned for destinations the traceroute binary would read as an option
	ErrInvalidDestination = errors.New("destination must not start with '-'")
)

// CommandFunc builds the child process. exec.CommandContext is the default.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Options configures a Tracer
type Options struct {
	// Binary overrides the platform default executable
	Binary string
	Stdout io.Writer
	Stderr io.Writer
}

// Tracer runs the operating system's traceroute utility
type Tracer struct {
	binary  string
	stdout  io.Writer
	stderr  io.Writer
	now     func() time.Time
	command CommandFunc
	logger  *logrus.Logger
}

// DefaultBinary returns the traceroute executable name for goos
func DefaultBinary(goos string) string {
	if goos == "windows" {
		return "tracert"
	}
	return "traceroute"
}

// New creates a tracer writing to the given streams (os.Stdout/os.Stderr when nil)
func New(opts Options, logger *logrus.Logger) *Tracer {
	binary := opts.Binary
	if binary == "" {
		binary = DefaultBinary(runtime.GOOS)
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	return &Tracer{
		binary:  binary,
		stdout:  stdout,
		stderr:  stderr,
		now:     time.Now,
		command: exec.CommandContext,
		logger:  logger,
	}
}

// Binary returns the executable the tracer spawns
func (t *Tracer) Binary() string {
	return t.binary
}

// Trace prints the current date, then runs the traceroute binary with destination
// as its only argument and streams the child's output. No shell is involved, so
// the destination is never interpreted or altered. The call blocks until the child exits or
// ctx is cancelled.
func (t *Tracer) Trace(ctx context.Context, destination string) error {
	if strings.TrimSpace(destination) == "" {
		return ErrEmptyDestination
	}
	if strings.HasPrefix(strings.TrimLeft(destination, " \t"), "-") {
		return ErrInvalidDestination
	}

	fmt.Fprintf(t.stdout, "\nDate: %s\n", t.now().Format(dateLayout))

	cmd := t.command(ctx, t.binary, destination)
	cmd.Stdout = t.stdout
	cmd.Stderr = t.stderr

	t.logger.WithFields(logrus.Fields{
		"binary":      t.binary,
		"destination": destination,
	}).Debug("Starting traceroute")

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", t.binary, destination, err)
	}
	return nil
}
