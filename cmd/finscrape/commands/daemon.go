package commands

import (
	"context"
	"errors"
	"finscrape/internal/chrono"
	otelsetup "finscrape/lib/telemetry"
	"finscrape/lib/util/serviceutil"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/spf13/cobra"
)

var daemonRunNow *bool

func init() {
	daemonRunNow = daemonCmd.Flags().Bool("now", false, "Run a collection immediately instead of waiting for the first tick.")
	rootCmd.AddCommand(daemonCmd)
}

// collectGuard lets a single collection run at a time, scheduled or not.
type collectGuard struct {
	running sync.Mutex
}

// run calls fn unless another collection is still running, it reports
// whether fn was called.
func (g *collectGuard) run(fn func()) bool {
	if !g.running.TryLock() {
		return false
	}
	defer g.running.Unlock()
	fn()
	return true
}

// drain waits for the running collection and prevents new ones.
func (g *collectGuard) drain() {
	g.running.Lock()
}

// superviseDaemon runs schedule until ctx is done or the metrics server
// stops, then cancels ctx and waits for schedule and the collection in
// flight before returning. serverDone may be nil.
func superviseDaemon(
	ctx context.Context,
	cancel context.CancelFunc,
	serverDone <-chan error,
	guard *collectGuard,
	schedule func(ctx context.Context),
) error {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		schedule(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
	case serverErr, ok := <-serverDone:
		if ctx.Err() == nil {
			err = errors.New("metrics server stopped")
			if ok && serverErr != nil {
				err = fmt.Errorf("metrics server stopped: %w", serverErr)
			}
		}
	}

	cancel()
	<-stopped
	guard.drain()
	return err
}

var daemonCmd = &cobra.Command{
	Use:   "daemon [--now]",
	Short: "Collects every topic on the configured schedule until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if a.cfg.Telemetry.PerfStats {
			otelsetup.InstrumentPerfStats(ctx)
		}

		var serverDone <-chan error
		if a.cfg.Metrics.Addr != "" {
			mux := http.NewServeMux()
			mux.Handle("GET /metrics", a.metrics.Handler())
			_, serverDone, err = serviceutil.StartHttpServer(ctx, a.cfg.Metrics.Addr, mux)
			if err != nil {
				return fmt.Errorf("start metrics server: %w", err)
			}
		}

		guard := &collectGuard{}
		collect := func() {
			ran := guard.run(func() {
				_, err := a.run(ctx, a.cfg.Topics)
				if err != nil {
					slog.Error("collection failed", "err", err)
				}
			})
			if !ran {
				slog.Warn("previous collection still running, skipping")
			}
		}

		cron := chrono.NewStandardCron(a.tel, a.clock)
		err = cron.Cron(a.cfg.Schedule, collect)
		if err != nil {
			return fmt.Errorf("schedule %q: %w", a.cfg.Schedule, err)
		}
		slog.Info("collecting on schedule", "schedule", a.cfg.Schedule, "timezone", a.clock.Location().String())

		if *daemonRunNow {
			go collect()
		}

		err = superviseDaemon(ctx, cancel, serverDone, guard, cron.Run)
		if err != nil {
			return err
		}
		slog.Info("daemon stopped")
		return nil
	},
}
