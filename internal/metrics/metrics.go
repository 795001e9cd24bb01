package metrics

import (
	"finscrape/internal/collector"
	"finscrape/internal/poststore"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finscrape"

// Metrics exports run outcomes as prometheus series. It implements
// collector.Observer.
type Metrics struct {
	registry *prometheus.Registry

	postsWritten  *prometheus.CounterVec
	postsSkipped  *prometheus.CounterVec
	saveFailures  *prometheus.CounterVec
	unitFailures  *prometheus.CounterVec
	runs          prometheus.Counter
	lastRun       prometheus.Gauge
	lastRunLength prometheus.Gauge
}

// New registers every series on registry, a nil registry creates a fresh
// one.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		postsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_written_total",
			Help:      "Posts appended to partition logs.",
		}, []string{"topic", "source"}),
		postsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_skipped_total",
			Help:      "Candidate posts dropped as already stored, repeated or blank.",
		}, []string{"topic", "source"}),
		saveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_failures_total",
			Help:      "Partition saves that failed.",
		}, []string{"topic"}),
		unitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_failures_total",
			Help:      "Source units (subreddits, date ranges, pages) that failed.",
		}, []string{"source"}),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Collection runs finished.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		lastRunLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Duration of the last run.",
		}),
	}

	collectors := []prometheus.Collector{
		m.postsWritten, m.postsSkipped, m.saveFailures, m.unitFailures,
		m.runs, m.lastRun, m.lastRunLength,
	}
	for _, c := range collectors {
		err := registry.Register(c)
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveSave(topic, source string, result poststore.SaveResult) {
	m.postsWritten.WithLabelValues(topic, source).Add(float64(result.Written))
	m.postsSkipped.WithLabelValues(topic, source).Add(float64(result.Skipped))
}

func (m *Metrics) ObserveSaveFailure(topic, _ string) {
	m.saveFailures.WithLabelValues(topic).Inc()
}

func (m *Metrics) ObserveUnitFailure(source string) {
	m.unitFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveRun(report collector.Report) {
	m.runs.Inc()
	m.lastRun.Set(float64(report.Finished.Unix()))
	m.lastRunLength.Set(report.Finished.Sub(report.Started).Seconds())
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var _ collector.Observer = (*Metrics)(nil)
