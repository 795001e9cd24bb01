package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type perfGauges struct {
	cpu        metric.Float64Gauge
	memory     metric.Int64Gauge
	goroutines metric.Int64Gauge
}

func newPerfGauges() (perfGauges, error) {
	meter := otel.Meter("finscrape.perf_stats")
	var g perfGauges
	var err error
	g.cpu, err = meter.Float64Gauge("cpu_usage", metric.WithUnit("%"))
	if err != nil {
		return g, err
	}
	g.memory, err = meter.Int64Gauge("allocated_mb", metric.WithUnit("MB"))
	if err != nil {
		return g, err
	}
	g.goroutines, err = meter.Int64Gauge("goroutine_count")
	return g, err
}

// SamplePerfStats records a single round of process statistics. The cpu
// sample blocks for interval.
func SamplePerfStats(ctx context.Context, interval time.Duration) error {
	gauges, err := newPerfGauges()
	if err != nil {
		return err
	}
	return gauges.sample(ctx, interval)
}

func (g perfGauges) sample(ctx context.Context, interval time.Duration) error {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	g.memory.Record(ctx, int64(memStats.Alloc/1_000_000))
	g.goroutines.Record(ctx, int64(runtime.NumGoroutine()))

	cpuUsage, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return err
	}
	if len(cpuUsage) > 0 {
		g.cpu.Record(ctx, cpuUsage[0])
	}
	return nil
}

// InstrumentPerfStats samples process statistics every 30 seconds until
// ctx is done.
func InstrumentPerfStats(ctx context.Context) {
	gauges, err := newPerfGauges()
	if err != nil {
		slog.Warn("failed to create perf stat gauges", "err", err)
		return
	}

	go func() {
		ticker := time.NewTicker(time.Second * 30)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				err := gauges.sample(ctx, time.Second*5)
				if err != nil && ctx.Err() == nil {
					slog.Warn("failed to read cpu usage", "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
