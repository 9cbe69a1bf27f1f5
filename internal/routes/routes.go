// Package routes prints the host's IP routing table.
package routes

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultProcPath is the Linux kernel routing table
const DefaultProcPath = "/proc/net/route"

const separator = "----------------------------------------------------------------"

// CommandFunc builds the child process. exec.CommandContext is the default.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Options configures a Table
type Options struct {
	// ProcPath overrides DefaultProcPath
	ProcPath string
}

// Table reads the routing table from the platform route utility, falling back
// to the kernel table on Linux when the utility is missing or fails
type Table struct {
	goos     string
	procPath string
	command  CommandFunc
	logger   *logrus.Logger
}

// New creates a routing table reader for the running platform
func New(opts Options, logger *logrus.Logger) *Table {
	procPath := opts.ProcPath
	if procPath == "" {
		procPath = DefaultProcPath
	}
	return &Table{
		goos:     runtime.GOOS,
		procPath: procPath,
		command:  exec.CommandContext,
		logger:   logger,
	}
}

// Show writes the routing table to w. Nothing is written when every source fails.
func (t *Table) Show(ctx context.Context, w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\nIP Routing Table:\n%s\n", separator)

	out, err := t.run(ctx)
	if err == nil {
		b.WriteString(out)
	} else {
		if t.goos == "windows" {
			return fmt.Errorf("route print: %w", err)
		}
		t.logger.WithError(err).WithField("path", t.procPath).Debug("ip route failed, reading kernel table")
		if procErr := t.readProc(&b); procErr != nil {
			return fmt.Errorf("routing table unavailable: ip route: %v; %w", err, procErr)
		}
	}

	_, err = io.WriteString(w, b.String())
	return err
}

// run executes the platform utility and returns its filtered output
func (t *Table) run(ctx context.Context) (string, error) {
	name, args := "ip", []string{"route"}
	if t.goos == "windows" {
		name, args = "route", []string{"print"}
	}

	raw, err := t.command(ctx, name, args...).Output()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.Contains(line, "Active Routes") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (t *Table) readProc(b *strings.Builder) error {
	f, err := os.Open(t.procPath)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%s is empty", t.procPath)
	}

	fmt.Fprintf(b, "%-10s %-16s %-16s %-16s\n", "Interface", "Destination", "Gateway", "Genmask")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 8 {
			continue
		}
		fmt.Fprintf(b, "%-10s %-16s %-16s %-16s\n",
			fields[0], HexToIP(fields[1]), HexToIP(fields[2]), HexToIP(fields[7]))
	}
	return scanner.Err()
}

var errBadHexAddr = errors.New("bad hex address")

// HexToIP decodes a little-endian hex IPv4 address as found in /proc/net/route.
// Malformed input yields 0.0.0.0.
func HexToIP(s string) string {
	ip, err := parseHexIP(s)
	if err != nil {
		return net.IPv4zero.String()
	}
	return ip.String()
}

func parseHexIP(s string) (net.IP, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != net.IPv4len {
		return nil, errBadHexAddr
	}
	v := binary.LittleEndian.Uint32(raw)
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v)), nil
}
