package collector

import (
	"context"
	"finscrape/internal/chrono"
	"finscrape/internal/post"
	"finscrape/internal/poststore"
	"finscrape/internal/sources"
	"finscrape/internal/telemetry"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("finscrape.internal.collector")

const (
	report_collector_run   = "collector.run"
	report_collector_fetch = "collector.fetch"
	report_collector_units = "collector.units"
	report_collector_save  = "collector.save"
)

// Observer is notified of every outcome of a run, ex. to export metrics.
type Observer interface {
	ObserveSave(topic, source string, result poststore.SaveResult)
	ObserveSaveFailure(topic, source string)
	ObserveUnitFailure(source string)
	ObserveRun(report Report)
}

type nopObserver struct{}

func (nopObserver) ObserveSave(string, string, poststore.SaveResult) {}
func (nopObserver) ObserveSaveFailure(string, string)                {}
func (nopObserver) ObserveUnitFailure(string)                        {}
func (nopObserver) ObserveRun(Report)                                {}

type Options struct {
	// passed to every source fetch, defaults to 1000
	MaxResults int
}

type Collector struct {
	store    poststore.Store
	sources  []sources.Source
	time     chrono.TimeAPI
	observer Observer
	opts     Options
	tel      telemetry.API
}

// New creates a collector, observer may be nil.
func New(store poststore.Store, srcs []sources.Source, clock chrono.TimeAPI, observer Observer, opts Options, tel telemetry.API) Collector {
	if observer == nil {
		observer = nopObserver{}
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 1000
	}
	return Collector{
		store:    store,
		sources:  srcs,
		time:     clock,
		observer: observer,
		opts:     opts,
		tel:      telemetry.NewScopedAPI("collector", tel),
	}
}

type dayGroup struct {
	day   time.Time
	posts []post.Post
}

// groupByDay splits posts by the day they are partitioned under, keeping
// the order in which days and posts were first seen. A post without a
// creation time belongs to collectedAt.
func groupByDay(posts []post.Post, collectedAt time.Time, loc *time.Location) []dayGroup {
	var groups []dayGroup
	index := map[string]int{}
	for _, p := range posts {
		at := collectedAt
		if !p.CreatedAt.IsZero() {
			at = p.CreatedAt
		}
		day := chrono.StartOfDay(at.In(loc))
		key := day.Format(time.DateOnly)

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, dayGroup{day: day})
		}
		groups[i].posts = append(groups[i].posts, p)
	}
	return groups
}

// Collect runs every source for every topic, one at a time, and saves what
// they found. Failures of a source, a unit or a partition are recorded in
// the report and never stop the run. Cancelling ctx stops the run before
// the next source and returns the partial report with ctx's error.
func (c Collector) Collect(ctx context.Context, topics []string) (Report, error) {
	ctx, span := tracer.Start(ctx, "Collect")
	defer span.End()

	report := Report{
		RunID:   uuid.New(),
		Started: c.time.Now(),
	}
	span.SetAttributes(attribute.String("run_id", report.RunID.String()))
	c.tel.ReportInfo("run started", report.RunID.String(), len(topics), len(c.sources))

	var err error
	for _, topic := range topics {
		if err = ctx.Err(); err != nil {
			break
		}
		var result TopicResult
		result, err = c.collectTopic(ctx, topic)
		report.Topics = append(report.Topics, result)
		if err != nil {
			break
		}
	}

	report.Finished = c.time.Now()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run interrupted")
		c.tel.ReportWarning(report_collector_run, fmt.Errorf("run %s interrupted: %w", report.RunID, err))
	}
	c.observer.ObserveRun(report)
	c.tel.ReportInfo("run finished", report.RunID.String(), report.Written(), report.Failures())
	return report, err
}

func (c Collector) collectTopic(ctx context.Context, topic string) (TopicResult, error) {
	ctx, span := tracer.Start(ctx, "collectTopic")
	defer span.End()
	span.SetAttributes(attribute.String("topic", topic))

	result := TopicResult{Topic: topic}
	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Sources = append(result.Sources, c.collectSource(ctx, topic, src))
	}
	c.tel.ReportInfo("topic finished", topic, result.Written())
	return result, nil
}

func (c Collector) collectSource(ctx context.Context, topic string, src sources.Source) SourceResult {
	result := SourceResult{Source: src.Name()}

	batch, err := src.Fetch(ctx, topic, c.opts.MaxResults)
	result.Units = batch.Units
	result.Fetched = len(batch.Posts)
	for range batch.Failed() {
		c.observer.ObserveUnitFailure(src.Name())
	}
	if unitErr := batch.Err(); unitErr != nil {
		c.tel.ReportWarning(report_collector_units, fmt.Errorf("%s %q: %w", src.Name(), topic, unitErr))
	}
	if err != nil {
		result.Err = err
		c.observer.ObserveUnitFailure(src.Name())
		c.tel.ReportWarning(report_collector_fetch, fmt.Errorf("%s %q: %w", src.Name(), topic, err))
	}

	collectedAt := c.time.Now()
	for _, group := range groupByDay(batch.Posts, collectedAt, c.time.Location()) {
		saved, err := c.store.Save(ctx, topic, group.day, group.posts)
		outcome := SaveOutcome{
			Day:        group.day,
			Partition:  saved.Partition.Path,
			Candidates: saved.Candidates,
			Skipped:    saved.Skipped,
			Written:    saved.Written,
			Err:        err,
		}
		result.Saves = append(result.Saves, outcome)
		if err != nil {
			c.observer.ObserveSaveFailure(topic, src.Name())
			c.tel.ReportBroken(report_collector_save, fmt.Errorf("%s %q %s: %w", src.Name(), topic, group.day.Format(time.DateOnly), err))
			continue
		}
		c.observer.ObserveSave(topic, src.Name(), saved)
	}
	return result
}
