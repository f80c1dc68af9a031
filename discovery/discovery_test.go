package discovery

import (
	"context"
	"net"
	"testing"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryToDevice(t *testing.T) {
	entry := zeroconf.NewServiceEntry("DS100 Main", ServiceOCP1, Domain)
	entry.HostName = "ds100-main.local."
	entry.Port = 50014
	entry.Text = []string{"txtvers=1", "protovers=3", "flag"}
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	d := entryToDevice(ServiceOCP1, entry)
	assert.Equal(t, "DS100 Main", d.Instance)
	assert.Equal(t, []string{"192.168.1.20", "fe80::1"}, d.Addresses)
	assert.Equal(t, map[string]string{"txtvers": "1", "protovers": "3", "flag": ""}, d.Text)
	assert.Equal(t, "192.168.1.20:50014", d.Address())
	assert.False(t, d.WebSocket())
	assert.False(t, d.Secure())
}

func TestDeviceAddress(t *testing.T) {
	d := Device{Host: "amp.local.", Port: 50014}
	assert.Equal(t, "amp.local:50014", d.Address())

	d.Addresses = []string{"fe80::2"}
	assert.Equal(t, "[fe80::2]:50014", d.Address())

	d.Service = ServiceWebSocket
	assert.True(t, d.WebSocket())
}

func TestMergeAddresses(t *testing.T) {
	got := mergeAddresses([]string{"10.0.0.1"}, []string{"10.0.0.1", "10.0.0.2"})
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, got)
}

func TestNewBrowserDefaults(t *testing.T) {
	b := NewBrowser(Config{})
	assert.Equal(t, Services, b.config.Services)
	assert.Empty(t, b.clientOptions())
}

func TestAggregateMergesAnnouncements(t *testing.T) {
	found := make(chan Device, 4)
	found <- Device{Instance: "DS100 Main", Service: ServiceOCP1, Port: 50014, Addresses: []string{"192.168.1.20"}}
	found <- Device{Instance: "DS100 Backup", Service: ServiceOCP1, Port: 50014, Addresses: []string{"192.168.1.21"}}
	found <- Device{Instance: "DS100 Main", Service: ServiceOCP1, Port: 50014, Addresses: []string{"fe80::1"}}
	found <- Device{Instance: "DS100 Main", Service: ServiceOCP1, Port: 50014, Addresses: []string{"192.168.1.20"}}
	close(found)

	out := make(chan Device, 4)
	aggregate(context.Background(), found, out)

	var got []Device
	for d := range out {
		got = append(got, d)
	}
	// the repeated announcement adds nothing and is not emitted
	require.Len(t, got, 3)
	assert.Equal(t, []string{"192.168.1.20"}, got[0].Addresses)
	assert.Equal(t, "DS100 Backup", got[1].Instance)
	assert.Equal(t, "DS100 Main", got[2].Instance)
	assert.Equal(t, []string{"192.168.1.20", "fe80::1"}, got[2].Addresses)

	ch := make(chan Device, len(got))
	for _, d := range got {
		ch <- d
	}
	close(ch)
	devices := collect(ch)
	require.Len(t, devices, 2)
	assert.Equal(t, "DS100 Backup", devices[0].Instance)
	assert.Equal(t, "DS100 Main", devices[1].Instance)
	assert.Equal(t, []string{"192.168.1.20", "fe80::1"}, devices[1].Addresses)
}

func TestAggregateKeepsServicesApart(t *testing.T) {
	found := make(chan Device, 2)
	found <- Device{Instance: "amp", Service: ServiceOCP1, Addresses: []string{"10.0.0.1"}}
	found <- Device{Instance: "amp", Service: ServiceWebSocket, Addresses: []string{"10.0.0.2"}}
	close(found)

	out := make(chan Device, 2)
	aggregate(context.Background(), found, out)

	devices := collect(out)
	require.Len(t, devices, 2)
	assert.Equal(t, ServiceOCP1, devices[0].Service)
	assert.Equal(t, ServiceWebSocket, devices[1].Service)
}
