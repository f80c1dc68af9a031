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

package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/ocp1/discovery"
)

var (
	discoverTimeout   time.Duration
	discoverInterface string
	discoverServices  []string
)

var discoverCmd = &cobra.Command{
	Use:     "discover",
	Aliases: []string{"scan"},
	Short:   "Discover AES70 devices on the network",
	Long: `Discover browses mDNS / DNS-SD for AES70 devices.

Devices advertise plain OCP.1 as _oca._tcp, TLS as _ocasec._tcp and
WebSocket as _ocaws._tcp.

Examples:
  # Discover all devices
  edgeo-ocp1 discover

  # Only plain OCP.1, on one interface, for 10 seconds
  edgeo-ocp1 discover --service _oca._tcp --interface eth0 --scan-timeout 10s`,

	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "scan-timeout", 3*time.Second, "Browse duration")
	discoverCmd.Flags().StringVar(&discoverInterface, "interface", "", "Network interface to browse on (default: all)")
	discoverCmd.Flags().StringSliceVar(&discoverServices, "service", nil, "Service types to browse (default: all AES70 types)")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	browser := discovery.NewBrowser(discovery.Config{
		Services:  discoverServices,
		Interface: discoverInterface,
	})

	fmt.Fprintln(os.Stderr, "Scanning for AES70 devices...")

	devices, err := browser.Scan(context.Background(), discoverTimeout)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	f := NewFormatter(outputFmt)
	if len(devices) == 0 {
		if f.format == FormatTable {
			fmt.Println("No devices found")
		}
		return nil
	}

	if f.format == FormatJSON {
		return f.printJSON(devices)
	}

	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []string{d.Instance, d.Service, d.Address(), strconv.Itoa(d.Port), formatText(d.Text)})
	}
	if err := f.PrintTable([]string{"INSTANCE", "SERVICE", "ADDRESS", "PORT", "TXT"}, rows); err != nil {
		return err
	}
	if f.format == FormatTable {
		fmt.Printf("\nFound %d device(s)\n", len(devices))
	}
	return nil
}

func formatText(txt map[string]string) string {
	parts := make([]string, 0, len(txt))
	for k, v := range txt {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
