package commands

import (
	"context"
	"errors"
	"finscrape/internal/chrono"
	"finscrape/internal/collector"
	"finscrape/internal/config"
	"finscrape/internal/metrics"
	"finscrape/internal/partition"
	"finscrape/internal/poststore"
	"finscrape/internal/runlog"
	"finscrape/internal/sources"
	"finscrape/internal/sources/meta"
	"finscrape/internal/sources/reddit"
	"finscrape/internal/sources/x"
	"finscrape/internal/telemetry"
	"finscrape/lib/restyutil"
	otelsetup "finscrape/lib/telemetry"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app holds everything a command needs to run collections.
type app struct {
	cfg       config.Config
	clock     chrono.StandardTime
	store     poststore.Store
	collector collector.Collector
	metrics   *metrics.Metrics
	ledger    *runlog.Ledger
	tel       telemetry.API

	otel      otelsetup.Telemetry
	logCloser io.Closer
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildSources creates every source enabled in cfg, in the order they are
// run for each topic.
func buildSources(cfg config.Config, clock chrono.TimeAPI, tel telemetry.API) ([]sources.Source, error) {
	retry := cfg.RetryOptions()
	keywords := cfg.Vocabulary()

	var out []sources.Source
	if cfg.Reddit.Enabled {
		src, err := reddit.NewSource(cfg.Reddit, keywords, retry, clock, tel)
		if err != nil {
			return nil, fmt.Errorf("reddit: %w", err)
		}
		out = append(out, src)
	}
	if cfg.X.Enabled {
		src, err := x.NewSource(cfg.X, keywords, retry, clock, tel)
		if err != nil {
			return nil, fmt.Errorf("x: %w", err)
		}
		out = append(out, src)
	}
	if cfg.Meta.Instagram {
		src, err := meta.NewInstagram(cfg.Meta, retry, clock, tel)
		if err != nil {
			return nil, fmt.Errorf("instagram: %w", err)
		}
		out = append(out, src)
	}
	if cfg.Meta.Facebook {
		src, err := meta.NewFacebook(cfg.Meta, retry, clock, tel)
		if err != nil {
			return nil, fmt.Errorf("facebook: %w", err)
		}
		out = append(out, src)
	}
	return out, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		tel:       telemetry.SlogAPI{},
		logCloser: telemetry.InitSlog(cfg.Log),
	}

	a.otel, err = otelsetup.Setup(ctx, "finscrape", cfg.Telemetry)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	a.clock, err = chrono.NewStandardTime(cfg.Timezone)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.HttpDumpDir != "" {
		out, err := restyutil.NewFilesystemOutput(cfg.HttpDumpDir)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create http dump dir: %w", err)
		}
		restyutil.SetDefaultOutput(out)
	}

	srcs, err := buildSources(cfg, a.clock, a.tel)
	if err != nil {
		a.Close()
		return nil, err
	}
	if len(srcs) == 0 {
		slog.Warn("no sources are enabled, runs will not collect anything")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics, err = metrics.New(registry)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.ledger, err = runlog.Open(cfg.Runlog, a.tel)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.store = poststore.NewStore(partition.NewResolver(cfg.DataDir), a.tel)
	a.collector = collector.New(
		a.store,
		srcs,
		a.clock,
		a.metrics,
		collector.Options{MaxResults: cfg.MaxResults},
		a.tel,
	)
	return a, nil
}

// run collects topics once and records the outcome in the ledger.
func (a *app) run(ctx context.Context, topics []string) (collector.Report, error) {
	report, err := a.collector.Collect(ctx, topics)

	// the ledger still gets the partial report when ctx is cancelled
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	recordErr := a.ledger.Record(recordCtx, report, err)

	slog.Info(
		"collection finished",
		"run_id", report.RunID.String(),
		"written", report.Written(),
		"skipped", report.Skipped(),
		"failures", report.Failures(),
		"duration", report.Finished.Sub(report.Started).Round(time.Millisecond).String(),
	)
	return report, errors.Join(err, recordErr)
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.ledger != nil {
		err := a.ledger.Close()
		if err != nil {
			slog.Warn("close run ledger", "err", err)
		}
	}
	err := a.otel.Shutdown(ctx)
	if err != nil {
		slog.Warn("shutdown telemetry", "err", err)
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}
