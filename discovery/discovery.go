// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package discovery finds AES70 devices via DNS-SD and advertises the
// simulator.
package discovery

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// AES70 DNS-SD service types
const (
	ServiceOCP1       = "_oca._tcp"
	ServiceOCP1Secure = "_ocasec._tcp"
	ServiceWebSocket  = "_ocaws._tcp"
	Domain            = "local."
)

// Services are the service types browsed by default
var Services = []string{ServiceOCP1, ServiceOCP1Secure, ServiceWebSocket}

// Device is one advertised AES70 endpoint
type Device struct {
	Instance  string
	Service   string
	Host      string
	Port      int
	Addresses []string
	Text      map[string]string
}

// Address returns host:port for dialling, preferring an IPv4 address
func (d Device) Address() string {
	host := d.Host
	for _, a := range d.Addresses {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			host = a
			break
		}
	}
	if host == d.Host && len(d.Addresses) > 0 {
		host = d.Addresses[0]
	}
	host = strings.TrimSuffix(host, ".")
	return net.JoinHostPort(host, strconv.Itoa(d.Port))
}

// WebSocket reports whether the device speaks OCP.1 over WebSocket
func (d Device) WebSocket() bool {
	return d.Service == ServiceWebSocket
}

// Secure reports whether the endpoint requires TLS
func (d Device) Secure() bool {
	return d.Service == ServiceOCP1Secure
}

func (d Device) key() string {
	return d.Service + "/" + d.Instance
}

// Config selects what to browse
type Config struct {
	// Services to browse; empty means Services
	Services []string
	// Interface limits browsing to one network interface
	Interface string
}

// Browser browses for AES70 devices
type Browser struct {
	config Config
}

// NewBrowser creates a browser
func NewBrowser(config Config) *Browser {
	if len(config.Services) == 0 {
		config.Services = Services
	}
	return &Browser{config: config}
}

func (b *Browser) clientOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		if iface, err := net.InterfaceByName(b.config.Interface); err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// Browse emits a device when it is first found and again whenever a later
// announcement, for example on another interface, adds addresses. Each
// value is a snapshot with all addresses known so far. The channel closes
// when ctx is done.
func (b *Browser) Browse(ctx context.Context) (<-chan Device, error) {
	out := make(chan Device)
	found := make(chan Device)

	var wg sync.WaitGroup
	for _, service := range b.config.Services {
		entries := make(chan *zeroconf.ServiceEntry)
		removed := make(chan *zeroconf.ServiceEntry)

		wg.Add(1)
		go func(service string) {
			defer wg.Done()
			for {
				select {
				case entry, ok := <-entries:
					if !ok {
						return
					}
					select {
					case found <- entryToDevice(service, entry):
					case <-ctx.Done():
						return
					}
				case <-removed:
				case <-ctx.Done():
					return
				}
			}
		}(service)

		go func(service string) {
			_ = zeroconf.Browse(ctx, service, Domain, entries, removed, b.clientOptions()...)
		}(service)
	}

	go func() {
		wg.Wait()
		close(found)
	}()

	go aggregate(ctx, found, out)

	return out, nil
}

// aggregate merges announcements per instance and closes out when found is
// drained or ctx is done
func aggregate(ctx context.Context, found <-chan Device, out chan<- Device) {
	defer close(out)
	seen := make(map[string]*Device)
	for d := range found {
		dev, ok := seen[d.key()]
		if !ok {
			dev = &d
			dev.Addresses = slices.Clone(d.Addresses)
			seen[d.key()] = dev
		} else {
			merged := mergeAddresses(slices.Clone(dev.Addresses), d.Addresses)
			if len(merged) == len(dev.Addresses) {
				continue
			}
			dev.Addresses = merged
		}
		snapshot := *dev
		snapshot.Addresses = slices.Clone(dev.Addresses)
		select {
		case out <- snapshot:
		case <-ctx.Done():
			return
		}
	}
}

// Scan browses for timeout and returns the devices found, sorted by
// instance name
func (b *Browser) Scan(ctx context.Context, timeout time.Duration) ([]Device, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	return collect(ch), nil
}

// collect keeps the latest snapshot of each device, sorted by instance name
func collect(ch <-chan Device) []Device {
	var devices []Device
	index := make(map[string]int)
	for d := range ch {
		if i, ok := index[d.key()]; ok {
			devices[i] = d
			continue
		}
		index[d.key()] = len(devices)
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Instance != devices[j].Instance {
			return devices[i].Instance < devices[j].Instance
		}
		return devices[i].Service < devices[j].Service
	})
	return devices
}

func entryToDevice(service string, entry *zeroconf.ServiceEntry) Device {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return Device{
		Instance:  entry.Instance,
		Service:   service,
		Host:      entry.HostName,
		Port:      entry.Port,
		Addresses: addrs,
		Text:      parseText(entry.Text),
	}
}

func parseText(records []string) map[string]string {
	if len(records) == 0 {
		return nil
	}
	txt := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}

func mergeAddresses(existing, more []string) []string {
	for _, a := range more {
		if !slices.Contains(existing, a) {
			existing = append(existing, a)
		}
	}
	return existing
}

// Advertisement is a registered service
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise registers instance under service on port. txt holds
// key=value records.
func Advertise(instance, service string, port int, txt map[string]string) (*Advertisement, error) {
	records := make([]string, 0, len(txt))
	for k, v := range txt {
		records = append(records, k+"="+v)
	}
	sort.Strings(records)

	server, err := zeroconf.Register(instance, service, Domain, port, records, nil)
	if err != nil {
		return nil, fmt.Errorf("register %s %s: %w", service, instance, err)
	}
	return &Advertisement{server: server}, nil
}

// Shutdown withdraws the service
func (a *Advertisement) Shutdown() {
	if a.server != nil {
		a.server.Shutdown()
	}
}
