package netif

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	ifaces  []net.Interface
	addrs   map[string][]net.Addr
	failFor string
	listErr error
}

func (f *fakeSource) Interfaces() ([]net.Interface, error) {
	return f.ifaces, f.listErr
}

func (f *fakeSource) Addrs(iface net.Interface) ([]net.Addr, error) {
	if iface.Name == f.failFor {
		return nil, errors.New("permission denied")
	}
	return f.addrs[iface.Name], nil
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestLister_List(t *testing.T) {
	_, loNet, _ := net.ParseCIDR("127.0.0.1/8")
	loNet.IP = net.ParseIP("127.0.0.1")

	src := &fakeSource{
		ifaces: []net.Interface{
			{Name: "lo", MTU: 65536, Flags: net.FlagUp | net.FlagLoopback},
			{Name: "broken", MTU: 1500},
			{Name: "eth0", MTU: 1500, Flags: net.FlagUp},
		},
		addrs: map[string][]net.Addr{
			"lo": {loNet},
		},
		failFor: "broken",
	}
	lister := &Lister{src: src, logger: newTestLogger()}

	ifaces, err := lister.List()
	require.NoError(t, err)
	require.Len(t, ifaces, 2)

	assert.Equal(t, "lo", ifaces[0].Name)
	assert.Equal(t, 65536, ifaces[0].MTU)
	assert.Equal(t, []string{"127.0.0.1/8"}, ifaces[0].Addrs)
	assert.Contains(t, ifaces[0].Flags, "loopback")

	assert.Equal(t, "eth0", ifaces[1].Name)
	assert.Empty(t, ifaces[1].Addrs)
}

func TestLister_ListError(t *testing.T) {
	lister := &Lister{src: &fakeSource{listErr: errors.New("boom")}, logger: newTestLogger()}

	_, err := lister.List()
	assert.Error(t, err)
}

func TestLister_System(t *testing.T) {
	ifaces, err := NewLister(newTestLogger()).List()
	require.NoError(t, err)
	for _, iface := range ifaces {
		assert.NotEmpty(t, iface.Name)
	}
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, []Interface{{Name: "eth0", MTU: 1500, Flags: "up", Addrs: []string{"10.0.0.2/24", "fe80::1/64"}}})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Interface Name")
	assert.Contains(t, out, "eth0")
	assert.Contains(t, out, "10.0.0.2/24, fe80::1/64")
}

func TestWrite_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil))
	assert.Equal(t, "No network interfaces found.\n", buf.String())
}
