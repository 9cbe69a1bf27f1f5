package netif

import (
	"fmt"
	"io"
	"net"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
)

// Interface describes one local network interface
type Interface struct {
	Name  string   `json:"name"`
	MTU   int      `json:"mtu"`
	Flags string   `json:"flags"`
	Addrs []string `json:"addrs"`
}

// source abstracts net.Interfaces for tests
type source interface {
	Interfaces() ([]net.Interface, error)
	Addrs(iface net.Interface) ([]net.Addr, error)
}

type systemSource struct{}

func (systemSource) Interfaces() ([]net.Interface, error) { return net.Interfaces() }

func (systemSource) Addrs(iface net.Interface) ([]net.Addr, error) { return iface.Addrs() }

// Lister enumerates local interfaces
type Lister struct {
	src    source
	logger *logrus.Logger
}

// NewLister creates a lister backed by the operating system
func NewLister(logger *logrus.Logger) *Lister {
	return &Lister{src: systemSource{}, logger: logger}
}

// List returns every interface with its addresses. An interface whose
// addresses cannot be read is logged and skipped.
func (l *Lister) List() ([]Interface, error) {
	ifaces, err := l.src.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	result := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := l.src.Addrs(iface)
		if err != nil {
			l.logger.Warnf("Failed to read addresses for %s: %v", iface.Name, err)
			continue
		}

		entry := Interface{
			Name:  iface.Name,
			MTU:   iface.MTU,
			Flags: iface.Flags.String(),
			Addrs: make([]string, 0, len(addrs)),
		}
		for _, addr := range addrs {
			if addr != nil {
				entry.Addrs = append(entry.Addrs, addr.String())
			}
		}
		result = append(result, entry)
	}

	return result, nil
}

// Write prints interfaces as an aligned table
func Write(w io.Writer, ifaces []Interface) error {
	if len(ifaces) == 0 {
		_, err := fmt.Fprintln(w, "No network interfaces found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Interface Name\tMTU\tFlags\tIP Addresses")
	for _, iface := range ifaces {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", iface.Name, iface.MTU, iface.Flags, strings.Join(iface.Addrs, ", "))
	}
	return tw.Flush()
}
