package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "air_quality_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the pipeline.
type Metrics struct {
	Runs             *prometheus.CounterVec // labels: result={success,no_data,failed}
	RecordsFetched   prometheus.Counter
	RecordsExcluded  prometheus.Counter
	ReadingsAppended prometheus.Counter
	LoadOutcomes     *prometheus.CounterVec // labels: outcome={appended,no_new_data,connectivity_error,operational_error}
	AlertsActive     prometheus.Gauge
	AlertPublishErrs prometheus.Counter

	FetchDuration prometheus.Histogram
	RunDuration   prometheus.Histogram
	LastSuccess   prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by result.",
		}, []string{"result"}),
		RecordsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "Raw station records returned by the source.",
		}),
		RecordsExcluded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_excluded_total",
			Help:      "Raw records dropped because the station is excluded.",
		}),
		ReadingsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_appended_total",
			Help:      "Normalized readings appended to the store.",
		}),
		LoadOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_outcomes_total",
			Help:      "Incremental load results by outcome.",
		}, []string{"outcome"}),
		AlertsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alerts_active",
			Help:      "Stations in alert in the latest batch.",
		}),
		AlertPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_publish_errors_total",
			Help:      "Failed attempts to publish alerts to Kafka.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of the source API request.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete pipeline run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that completed with data.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Runs,
		m.RecordsFetched,
		m.RecordsExcluded,
		m.ReadingsAppended,
		m.LoadOutcomes,
		m.AlertsActive,
		m.AlertPublishErrs,
		m.FetchDuration,
		m.RunDuration,
		m.LastSuccess,
	}
}
