// Package metrics provides Prometheus collectors for catalog ingestion and
// cone queries.
//
// # Overview
//
// The metrics package provides:
//   - Pre-defined collectors registered on the default registry via promauto
//   - A Timer for stage durations
//   - A ThroughputTracker for rows per second between progress reports
//
// # Basic Usage
//
//	metrics.FilesTotal.WithLabelValues("gaia", "completed").Inc()
//
//	timer := metrics.NewTimer()
//	n, err := st.InsertGaiaRecords(ctx, batch)
//	timer.ObserveStage("gaia", metrics.StageInsert)
//	metrics.RowsTotal.WithLabelValues("gaia", metrics.StageInserted).Add(float64(n))
//
// # Metric Types
//
// Counter: files and rows by outcome, downloaded bytes, retries
// Gauge: in-flight transfers, current throughput
// Histogram: batch stage and cone query durations
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Row stages.
const (
	StageParsed   = "parsed"
	StageFiltered = "filtered"
	StageInserted = "inserted"
)

// Batch stages.
const (
	StageDownload = "download"
	StageParse    = "parse"
	StageInsert   = "insert"
	StageMark     = "mark"
)

var (
	// FilesTotal counts processed files.
	// Labels: dataset (gaia/crossmatch/photometry), status (completed/failed/skipped)
	FilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaiadb_files_total",
			Help: "Total number of archive files by outcome",
		},
		[]string{"dataset", "status"},
	)

	// RowsTotal counts rows per stage.
	// Labels: dataset, stage (parsed/filtered/inserted)
	//
	// Example:
	//	metrics.RowsTotal.WithLabelValues("gaia", metrics.StageParsed).Add(float64(len(batch)))
	RowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaiadb_rows_total",
			Help: "Total number of rows by pipeline stage",
		},
		[]string{"dataset", "stage"},
	)

	// DownloadBytes counts bytes received from the archive, resumed ranges included.
	DownloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gaiadb_download_bytes_total",
			Help: "Total bytes downloaded",
		},
	)

	// DownloadRetries counts failed attempts that were retried.
	DownloadRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gaiadb_download_retries_total",
			Help: "Total number of retried download attempts",
		},
	)

	// DownloadsInflight tracks transfers currently in progress.
	DownloadsInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaiadb_downloads_inflight",
			Help: "Number of transfers in progress",
		},
	)

	// BatchDuration tracks how long each batch stage takes.
	// Labels: dataset, stage (download/parse/insert/mark)
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "gaiadb_batch_duration_seconds",
			Help: "Duration of batch stages in seconds",
			Buckets: []float64{
				0.01, // small inserts
				0.1,
				1,
				10,  // typical file download
				60,  // large file over a slow link
				300, // retries with backoff
				1800,
			},
		},
		[]string{"dataset", "stage"},
	)

	// ConeSearchDuration tracks cone query latency.
	ConeSearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gaiadb_cone_search_duration_seconds",
			Help:    "Cone search latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 9),
		},
	)

	// Throughput tracks rows inserted per second over the last progress window.
	// Labels: dataset
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gaiadb_throughput_rows_per_second",
			Help: "Rows inserted per second",
		},
		[]string{"dataset"},
	)
)

// Timer measures elapsed time from creation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. The timer can be
// stopped multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ObserveStage records the elapsed time in BatchDuration and returns it.
func (t *Timer) ObserveStage(dataset, stage string) time.Duration {
	d := t.Stop()
	BatchDuration.WithLabelValues(dataset, stage).Observe(d.Seconds())
	return d
}

// ThroughputTracker tracks rows per second over time windows.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	dataset   string
}

// NewThroughputTracker creates a tracker for a dataset.
//
// Example:
//
//	tracker := metrics.NewThroughputTracker("gaia")
//	tracker.Increment(inserted)
//	logger.Info("progress", zap.Float64("rows_per_sec", tracker.GetAndReset()))
func NewThroughputTracker(dataset string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		dataset:   dataset,
	}
}

// Increment adds n to the row count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the current throughput, updates the Prometheus
// gauge and starts a new window.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.dataset).Set(throughput)

	return throughput
}
