package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipeline.
type Metrics struct {
	RecordsFetched  *prometheus.CounterVec // labels: feed, strategy={api,scrape}
	FetchFailures   *prometheus.CounterVec // labels: feed
	RecordsCleaned  *prometheus.CounterVec // labels: feed
	RecordsRejected *prometheus.CounterVec // labels: feed, reason

	AggregateRows  prometheus.Counter
	NoDataRows     prometheus.Counter
	RowsLoaded     prometheus.Counter
	LoadFailures   prometheus.Counter
	StageDuration  *prometheus.HistogramVec // labels: stage={fetch,process,load}
	PipelineActive prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RecordsFetched,
		m.FetchFailures,
		m.RecordsCleaned,
		m.RecordsRejected,
		m.AggregateRows,
		m.NoDataRows,
		m.RowsLoaded,
		m.LoadFailures,
		m.StageDuration,
		m.PipelineActive,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RecordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paris_etl",
			Name:      "records_fetched_total",
			Help:      "Raw records fetched per feed and strategy.",
		}, []string{"feed", "strategy"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paris_etl",
			Name:      "fetch_failures_total",
			Help:      "Feeds whose API and scrape fallback both failed.",
		}, []string{"feed"}),
		RecordsCleaned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paris_etl",
			Name:      "records_cleaned_total",
			Help:      "Records that passed cleaning per feed.",
		}, []string{"feed"}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paris_etl",
			Name:      "records_rejected_total",
			Help:      "Records rejected during cleaning per feed and reason.",
		}, []string{"feed", "reason"}),
		AggregateRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paris_etl",
			Name:      "aggregate_rows_total",
			Help:      "District aggregate rows computed.",
		}),
		NoDataRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paris_etl",
			Name:      "aggregate_no_data_rows_total",
			Help:      "Aggregate rows carrying the no-data marker.",
		}),
		RowsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paris_etl",
			Name:      "rows_loaded_total",
			Help:      "Aggregate rows written to the store.",
		}),
		LoadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paris_etl",
			Name:      "load_failures_total",
			Help:      "Failed load attempts.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paris_etl",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),
		PipelineActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paris_etl",
			Name:      "pipeline_active",
			Help:      "1 while a pipeline run is executing, 0 otherwise.",
		}),
	}
}
