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
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/ocp1/capture"
	"github.com/edgeo/drivers/ocp1/catalog"
	"github.com/edgeo/drivers/ocp1/ocp1"
)

var (
	dumpSession   string
	dumpDirection string
	dumpTypes     []string
	dumpHex       bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump <capture-file>",
	Short: "Print the frames of a capture file",
	Long: `Dump decodes a capture file written with --capture and prints one line
per frame. Object numbers found in the catalog are shown by name.

Examples:
  # Print everything
  edgeo-ocp1 dump session.cbor

  # Only notifications received from the device
  edgeo-ocp1 dump session.cbor --direction in --type notification

  # Include the raw bytes, as JSON lines
  edgeo-ocp1 dump session.cbor --hex -o json`,

	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringVar(&dumpSession, "session", "", "Only frames of this session id")
	dumpCmd.Flags().StringVar(&dumpDirection, "direction", "", "Only frames in this direction (in, out)")
	dumpCmd.Flags().StringSliceVar(&dumpTypes, "type", nil, "Only these message types (command, command-response-required, notification, response, keepalive)")
	dumpCmd.Flags().BoolVar(&dumpHex, "hex", false, "Print the raw frame bytes")
}

// DumpEntry is one decoded frame
type DumpEntry struct {
	Time      time.Time `json:"time"`
	Session   string    `json:"session"`
	Direction string    `json:"direction"`
	Remote    string    `json:"remote,omitempty"`
	Type      string    `json:"type"`
	Object    string    `json:"object,omitempty"`
	Summary   string    `json:"summary"`
	Frame     string    `json:"frame,omitempty"`
}

func parseMessageType(s string) (ocp1.MessageType, error) {
	for t := ocp1.MessageCommand; t <= ocp1.MessageKeepAlive; t++ {
		if strings.EqualFold(t.String(), s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown message type %q", s)
}

func dumpFilter() (capture.Filter, error) {
	filter := capture.Filter{Session: dumpSession}
	switch strings.ToLower(dumpDirection) {
	case "":
	case "in":
		d := ocp1.DirectionIn
		filter.Direction = &d
	case "out":
		d := ocp1.DirectionOut
		filter.Direction = &d
	default:
		return filter, fmt.Errorf("invalid direction %q (in, out)", dumpDirection)
	}
	for _, s := range dumpTypes {
		t, err := parseMessageType(s)
		if err != nil {
			return filter, err
		}
		filter.Types = append(filter.Types, t)
	}
	return filter, nil
}

// objectOf names the object a message refers to
func objectOf(cat *catalog.Catalog, m ocp1.Message) string {
	var ono uint32
	switch v := m.(type) {
	case *ocp1.Command:
		ono = v.TargetONo
	case *ocp1.Notification:
		def := ocp1.NewDefinition(v.EmitterONo, ocp1.DataTypeNone, v.PropDefLevel, v.PropIndex)
		if name := cat.NameOf(def); name != "" {
			return name
		}
		ono = v.EmitterONo
	default:
		return ""
	}
	if entries := cat.FindByONo(ono); len(entries) > 0 {
		return entries[0].Name
	}
	return fmt.Sprintf("0x%08x", ono)
}

func runDump(cmd *cobra.Command, args []string) error {
	filter, err := dumpFilter()
	if err != nil {
		return err
	}
	cat, err := loadCatalog()
	if err != nil {
		return err
	}

	r, err := capture.Open(args[0], filter)
	if err != nil {
		return err
	}
	defer r.Close()

	f := NewFormatter(outputFmt)
	var rows [][]string
	count := 0
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		count++

		entry := DumpEntry{
			Time:      e.Timestamp,
			Session:   e.Session,
			Direction: e.Direction.String(),
			Remote:    e.Remote,
		}
		if m, err := e.Message(); err != nil {
			entry.Type = "invalid"
			entry.Summary = err.Error()
		} else {
			entry.Type = m.Type().String()
			entry.Object = objectOf(cat, m)
			entry.Summary = ocp1.Describe(m)
		}
		if dumpHex {
			entry.Frame = hex.EncodeToString(e.Frame)
		}

		if f.format == FormatJSON {
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			continue
		}
		rows = append(rows, dumpRow(entry))
	}

	if f.format == FormatTable {
		if err := f.PrintTable(dumpHeaders(), rows); err != nil {
			return err
		}
		fmt.Printf("\n%d frame(s)\n", count)
		return nil
	}
	if f.format == FormatJSON {
		return nil
	}
	return f.PrintTable(dumpHeaders(), rows)
}

func dumpHeaders() []string {
	h := []string{"TIME", "DIR", "TYPE", "OBJECT", "SUMMARY"}
	if dumpHex {
		h = append(h, "FRAME")
	}
	return h
}

func dumpRow(e DumpEntry) []string {
	row := []string{e.Time.Format("15:04:05.000"), e.Direction, e.Type, e.Object, e.Summary}
	if dumpHex {
		row = append(row, e.Frame)
	}
	return row
}
