package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/ocp1/catalog"
	"github.com/edgeo/drivers/ocp1/ocp1"
)

var (
	watchObjects []string
	watchPoll    time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch objects for changes",
	Long: `Watch follows one or more objects until interrupted.

Two modes are available:
  - Subscription (default): AddSubscription, then print every notification.
    The subscription is removed on exit.
  - Polling (--poll): periodic GetValue, printing changed values.

The client reconnects on its own when the device goes away; subscriptions
are renewed after every reconnect.

Examples:
  # Follow the position of sound object 1
  edgeo-ocp1 watch -H 10.0.0.20 -O source-position-1

  # Follow several objects
  edgeo-ocp1 watch -H 10.0.0.20 -O matrix-input-gain-1 -O matrix-input-mute-1

  # Poll a level meter every 200ms as JSON lines
  edgeo-ocp1 watch -H 10.0.0.20 -O matrix-input-level-1 --poll 200ms -o json`,

	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringArrayVarP(&watchObjects, "object", "O", nil, "Catalog name or object number, repeatable")
	watchCmd.Flags().StringVar(&objectType, "type", "", "Data type for raw object numbers")
	watchCmd.Flags().Uint16Var(&objectLevel, "level", 4, "Property definition level for raw object numbers")
	watchCmd.Flags().Uint16Var(&objectIndex, "index", 1, "Property index for raw object numbers")
	watchCmd.Flags().DurationVar(&watchPoll, "poll", 0, "Poll with GetValue at this interval instead of subscribing")
	watchCmd.MarkFlagRequired("object")
}

type watched struct {
	name string
	def  ocp1.CommandDefinition
}

func resolveWatched(cat *catalog.Catalog) ([]watched, error) {
	out := make([]watched, 0, len(watchObjects))
	for _, o := range watchObjects {
		name, def, err := resolveObject(cat, o, objectType, objectLevel, objectIndex)
		if err != nil {
			return nil, err
		}
		out = append(out, watched{name, def})
	}
	return out, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	objects, err := resolveWatched(cat)
	if err != nil {
		return err
	}

	f := NewFormatter(outputFmt)
	var (
		mu   sync.Mutex
		last = make(map[string]ocp1.Variant)
	)
	show := func(name string, def ocp1.CommandDefinition, v ocp1.Variant, always bool) {
		mu.Lock()
		defer mu.Unlock()
		prev, seen := last[name]
		changed := !seen || !prev.Equal(v)
		if !changed && !always {
			return
		}
		last[name] = v
		e := newValueEvent(name, def, v)
		e.Change = changed
		f.PrintEvent(e)
	}

	// subscriptions live on the device side and die with the connection
	subscribe := func(c *ocp1.Client) {
		for _, o := range objects {
			if _, err := c.Subscribe(o.def); err != nil {
				logger.Warn("subscribe", slog.String("object", o.name), slog.String("error", err.Error()))
				continue
			}
			c.GetValue(o.def)
		}
	}

	var s *session
	var extra []ocp1.Option
	if watchPoll == 0 {
		extra = append(extra, ocp1.WithOnConnectionEstablished(func() {
			s.once.Do(func() { close(s.connected) })
			go subscribe(s.client)
		}))
	}
	s, err = newSession(cat, extra...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer s.close()

	s.onUpdate(func(def ocp1.CommandDefinition, v ocp1.Variant) {
		for _, o := range objects {
			if o.def.MatchesObject(def) {
				show(o.name, def, v, watchPoll == 0 || verbose)
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nStopping watch...")
			cancel()
		case <-ctx.Done():
		}
	}()

	connectCtx, connectCancel := context.WithTimeout(ctx, timeout)
	err = s.connect(connectCtx)
	connectCancel()
	if err != nil {
		return err
	}

	if f.format == FormatTable {
		fmt.Fprintf(os.Stderr, "Watching %d object(s) on %s, press Ctrl+C to stop\n", len(objects), s.client.Endpoint())
	}

	if watchPoll > 0 {
		return pollWatch(ctx, s, objects)
	}

	<-ctx.Done()
	for _, o := range objects {
		if _, err := s.client.Unsubscribe(o.def); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to unsubscribe %s: %v\n", o.name, err)
		}
	}
	waitCtx, waitCancel := context.WithTimeout(context.Background(), timeout)
	defer waitCancel()
	for s.client.PendingCount() > 0 && waitCtx.Err() == nil {
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func pollWatch(ctx context.Context, s *session, objects []watched) error {
	ticker := time.NewTicker(watchPoll)
	defer ticker.Stop()

	for {
		for _, o := range objects {
			if _, err := s.client.GetValue(o.def); err != nil && !ocp1.IsNotConnected(err) {
				fmt.Fprintf(os.Stderr, "[%s] Error: %v\n", time.Now().Format("15:04:05.000"), err)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
