package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/ocp1/internal/bridge"
	"github.com/edgeo/drivers/ocp1/ocp1"
)

var (
	serveListen    string
	serveSubscribe []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a device over HTTP",
	Long: `Serve keeps a connection to one device and exposes its objects over a
REST API, with client metrics for Prometheus.

  GET    /api/state
  GET    /api/objects?q=<filter>
  GET    /api/objects/{name}              (?cached=true skips the device)
  PUT    /api/objects/{name}              {"value": ...}
  POST   /api/objects/{name}/subscription
  DELETE /api/objects/{name}/subscription
  GET    /metrics
  GET    /healthz

Examples:
  # Bridge a DS100 on port 8080
  edgeo-ocp1 serve -H 10.0.0.20 --listen :8080

  # Keep the cache fresh for the matrix input gains 1 and 2
  edgeo-ocp1 serve -H 10.0.0.20 --subscribe matrix-input-gain-1,matrix-input-gain-2`,

	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", ":8080", "HTTP listen address")
	serveCmd.Flags().StringSliceVar(&serveSubscribe, "subscribe", nil, "Objects to subscribe to on every connection")
}

func runServe(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}

	subs := make([]ocp1.CommandDefinition, 0, len(serveSubscribe))
	for _, name := range serveSubscribe {
		def, ok := cat.Lookup(name)
		if !ok {
			return fmt.Errorf("unknown object %q", name)
		}
		subs = append(subs, def)
	}

	var s *session
	s, err = newSession(cat, ocp1.WithOnConnectionEstablished(func() {
		logger.Info("device connected", slog.String("address", s.client.Endpoint()))
		go func() {
			for _, def := range subs {
				if _, err := s.client.Subscribe(def); err != nil {
					logger.Warn("subscribe", slog.String("object", def.String()), slog.String("error", err.Error()))
				}
			}
		}()
	}))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer s.close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		bridge.NewCollector(s.client.Metrics(), s.client.State, prometheus.Labels{"device": s.client.Endpoint()}),
	)

	srv := &http.Server{
		Addr:              serveListen,
		Handler:           s.values.Router(registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// the client reconnects on its own; the API answers 503 until then
	s.client.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http bridge listening", slog.String("address", serveListen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
