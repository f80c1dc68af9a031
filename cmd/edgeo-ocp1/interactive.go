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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/ocp1/catalog"
	"github.com/edgeo/drivers/ocp1/ocp1"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start an interactive OCP.1 session",
	Long: `Interactive mode provides a shell on one device.

Commands:
  get <object>              - Read a value
  set <object> <value>      - Write a value
  sub <object>              - Subscribe to changes
  unsub <object>            - Remove a subscription
  find <text>               - Search the catalog
  state                     - Show connection state
  metrics                   - Show client metrics
  help                      - Show help
  exit                      - Exit interactive mode

Object names complete with Tab.

Examples:
  ocp1> get matrix-input-gain-1
  ocp1> set matrix-input-gain-1 -3
  ocp1> sub source-position-1`,

	RunE: runInteractive,
}

type shell struct {
	s   *session
	cat *catalog.Catalog
	rl  *readline.Instance
	out io.Writer
}

func runInteractive(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}

	names := func(prefix string) []string {
		entries := cat.Entries()
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Name)
		}
		return out
	}
	completer := readline.NewPrefixCompleter(
		readline.PcItem("get", readline.PcItemDynamic(names)),
		readline.PcItem("set", readline.PcItemDynamic(names)),
		readline.PcItem("sub", readline.PcItemDynamic(names)),
		readline.PcItem("unsub", readline.PcItemDynamic(names)),
		readline.PcItem("find"),
		readline.PcItem("state"),
		readline.PcItem("metrics"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ocp1> ",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	// log lines must not tear the prompt
	logger = slog.New(slog.NewTextHandler(rl.Stderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))

	s, err := newSession(cat)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer s.close()

	sh := &shell{s: s, cat: cat, rl: rl, out: rl.Stdout()}
	s.onUpdate(sh.printUpdate)

	fmt.Fprintln(sh.out, "OCP.1 Interactive Shell")
	fmt.Fprintln(sh.out, "Type 'help' for available commands, 'exit' to quit")
	if s.client.Start() {
		fmt.Fprintf(sh.out, "Connected to %s\n\n", s.client.Endpoint())
	} else {
		fmt.Fprintf(sh.out, "Connecting to %s in the background...\n\n", s.client.Endpoint())
	}

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(sh.out, "Goodbye!")
			return nil
		}

		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) == 0 {
			continue
		}

		switch command := strings.ToLower(parts[0]); command {
		case "exit", "quit", "q":
			fmt.Fprintln(sh.out, "Goodbye!")
			return nil
		case "help", "?":
			sh.printHelp()
		case "get":
			sh.withObject(parts, 2, "get <object>", func(name string, def ocp1.CommandDefinition) {
				v, err := s.get(def)
				if err != nil {
					fmt.Fprintf(sh.out, "Error: %v\n", err)
					return
				}
				fmt.Fprintf(sh.out, "%s = %s\n", name, formatValue(newValueEvent(name, def, v).Value))
			})
		case "set":
			sh.withObject(parts, 3, "set <object> <value>", func(name string, def ocp1.CommandDefinition) {
				sh.set(name, def, strings.Join(parts[2:], " "))
			})
		case "sub":
			sh.withObject(parts, 2, "sub <object>", func(name string, def ocp1.CommandDefinition) {
				if _, err := s.client.Subscribe(def); err != nil {
					fmt.Fprintf(sh.out, "Error: %v\n", err)
					return
				}
				fmt.Fprintf(sh.out, "Subscribed to %s\n", name)
			})
		case "unsub":
			sh.withObject(parts, 2, "unsub <object>", func(name string, def ocp1.CommandDefinition) {
				if _, err := s.client.Unsubscribe(def); err != nil {
					fmt.Fprintf(sh.out, "Error: %v\n", err)
					return
				}
				fmt.Fprintf(sh.out, "Unsubscribed from %s\n", name)
			})
		case "find":
			filter := ""
			if len(parts) > 1 {
				filter = parts[1]
			}
			for _, e := range cat.Filter(filter) {
				fmt.Fprintf(sh.out, "  %-40s %s\n", e.Name, e.Definition)
			}
		case "state":
			sh.printState()
		case "metrics":
			sh.printMetrics()
		default:
			fmt.Fprintf(sh.out, "Unknown command: %s (type 'help' for available commands)\n", command)
		}
	}
}

func (sh *shell) withObject(parts []string, minArgs int, usage string, fn func(name string, def ocp1.CommandDefinition)) {
	if len(parts) < minArgs {
		fmt.Fprintf(sh.out, "Usage: %s\n", usage)
		return
	}
	name, def, err := resolveObject(sh.cat, parts[1], "", 4, 1)
	if err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
		return
	}
	fn(name, def)
}

func (sh *shell) set(name string, def ocp1.CommandDefinition, text string) {
	v, err := ocp1.ParseVariant(text, def.DataType)
	if err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
		return
	}
	handle, err := sh.s.write(def, v)
	if err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := sh.s.await(ctx, handle); err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(sh.out, "OK: %s = %s (handle %d)\n", name, v, handle)
}

func (sh *shell) printUpdate(def ocp1.CommandDefinition, v ocp1.Variant) {
	name := sh.cat.NameOf(def)
	if name == "" {
		name = def.String()
	}
	fmt.Fprintf(sh.out, "[%s] %s = %s\n", time.Now().Format("15:04:05.000"), name, formatValue(newValueEvent(name, def, v).Value))
}

func (sh *shell) printHelp() {
	fmt.Fprintln(sh.out, `
Available commands:
  get <object>              Read a value
  set <object> <value>      Write a value (positions as x,y,z)
  sub <object>              Subscribe to changes
  unsub <object>            Remove a subscription
  find <text>               Search the catalog
  state                     Show connection state and bindings
  metrics                   Show client metrics
  help                      Show this help message
  exit                      Exit interactive mode

Objects are catalog names or object numbers such as 0x10010502.`)
}

func (sh *shell) printState() {
	c := sh.s.client
	fmt.Fprintf(sh.out, "\n  Endpoint:   %s\n", c.Endpoint())
	fmt.Fprintf(sh.out, "  State:      %s\n", c.State())
	fmt.Fprintf(sh.out, "  Session:    %s\n", c.SessionID())
	fmt.Fprintf(sh.out, "  Pending:    %v\n", c.PendingHandles())
	for _, b := range c.Bindings() {
		name := sh.cat.NameOf(b)
		if name == "" {
			name = b.String()
		}
		fmt.Fprintf(sh.out, "  Binding:    %s\n", name)
	}
	fmt.Fprintln(sh.out)
}

func (sh *shell) printMetrics() {
	m := sh.s.client.Metrics().Snapshot()

	fmt.Fprintln(sh.out, "\nClient Metrics:")
	fmt.Fprintf(sh.out, "  Uptime:              %s\n", m.Uptime.Round(time.Second))
	fmt.Fprintf(sh.out, "  Connect Attempts:    %d\n", m.ConnectAttempts)
	fmt.Fprintf(sh.out, "  Disconnects:         %d\n", m.Disconnects)
	fmt.Fprintf(sh.out, "  Requests Sent:       %d\n", m.RequestsSent)
	fmt.Fprintf(sh.out, "  Requests Succeeded:  %d\n", m.RequestsSucceeded)
	fmt.Fprintf(sh.out, "  Requests Failed:     %d\n", m.RequestsFailed)
	fmt.Fprintf(sh.out, "  Notifications:       %d\n", m.NotificationsReceived)
	fmt.Fprintf(sh.out, "  Bytes Sent:          %d\n", m.BytesSent)
	fmt.Fprintf(sh.out, "  Bytes Received:      %d\n", m.BytesReceived)

	if m.LatencyStats.Count > 0 {
		fmt.Fprintf(sh.out, "  Avg Latency:         %s\n", m.LatencyStats.Avg.Round(time.Microsecond))
		fmt.Fprintf(sh.out, "  Min Latency:         %s\n", m.LatencyStats.Min.Round(time.Microsecond))
		fmt.Fprintf(sh.out, "  Max Latency:         %s\n", m.LatencyStats.Max.Round(time.Microsecond))
	}
	fmt.Fprintln(sh.out)
}
