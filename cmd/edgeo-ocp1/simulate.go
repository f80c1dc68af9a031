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
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/ocp1/discovery"
	"github.com/edgeo/drivers/ocp1/internal/simulator"
	"github.com/edgeo/drivers/ocp1/ocp1"
)

var (
	simListen    string
	simWSListen  string
	simKeepAlive time.Duration
	simAdvertise string
	simValues    []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated OCP.1 device",
	Long: `Simulate serves every catalog object from an in-memory property store.
Controllers can get, set and subscribe; a set is notified to every
subscribed controller.

Examples:
  # Simulate a DS100 on the default port
  edgeo-ocp1 simulate

  # Also accept WebSocket controllers and advertise over mDNS
  edgeo-ocp1 simulate --ws-listen :8081 --advertise "DS100 sim"

  # Start with initial values
  edgeo-ocp1 simulate --value device-name=Stage --value matrix-input-gain-1=-6`,

	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simListen, "listen", fmt.Sprintf(":%d", ocp1.DefaultPort), "OCP.1 TCP listen address")
	simulateCmd.Flags().StringVar(&simWSListen, "ws-listen", "", "WebSocket listen address (disabled when empty)")
	simulateCmd.Flags().DurationVar(&simKeepAlive, "sim-keepalive", 0, "KeepAlive interval sent to controllers (0 answers theirs)")
	simulateCmd.Flags().StringVar(&simAdvertise, "advertise", "", "Advertise the device over mDNS under this instance name")
	simulateCmd.Flags().StringArrayVar(&simValues, "value", nil, "Initial value as name=value, repeatable")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}

	var opts []simulator.Option
	opts = append(opts, simulator.WithLogger(logger))
	if simKeepAlive > 0 {
		opts = append(opts, simulator.WithKeepAlive(simKeepAlive))
	}
	sim := simulator.New(cat.Definitions(), opts...)

	for _, kv := range simValues {
		name, text, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --value %q (want name=value)", kv)
		}
		def, found := cat.Lookup(name)
		if !found {
			return fmt.Errorf("unknown object %q", name)
		}
		v, err := ocp1.ParseVariant(text, def.DataType)
		if err != nil {
			return fmt.Errorf("value for %s: %w", name, err)
		}
		if err := sim.Set(def, v); err != nil {
			return fmt.Errorf("value for %s: %w", name, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", simListen)
	if err != nil {
		return err
	}
	logger.Info("simulator listening",
		slog.String("address", ln.Addr().String()),
		slog.Int("objects", cat.Len()),
	)

	if simAdvertise != "" {
		adv, err := discovery.Advertise(simAdvertise, discovery.ServiceOCP1, ln.Addr().(*net.TCPAddr).Port,
			map[string]string{"txtvers": "1", "protovers": "1"})
		if err != nil {
			ln.Close()
			return err
		}
		defer adv.Shutdown()
	}

	if simWSListen != "" {
		srv := &http.Server{Addr: simWSListen, Handler: sim, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("simulator websocket listening", slog.String("address", simWSListen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("websocket listener", slog.String("error", err.Error()))
			}
		}()
		defer srv.Close()
	}

	err = sim.Serve(ctx, ln)
	sim.DropSessions()
	return err
}
