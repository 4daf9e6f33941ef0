package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/gaiadb/pkg/downloader"
	"github.com/ajitpratap0/gaiadb/pkg/models"
	"github.com/ajitpratap0/gaiadb/pkg/store"
)

// Store is the part of *store.Store used during ingestion.
type Store interface {
	Initialize(ctx context.Context) error
	Columns() []string

	InitializeTracking(ctx context.Context, dataset store.Dataset, urls []string) error
	CompletedURLs(ctx context.Context, dataset store.Dataset) (map[string]struct{}, error)
	MarkFilesCompleted(ctx context.Context, dataset store.Dataset, urls []string) error
	MarkFileFailed(ctx context.Context, dataset store.Dataset, url, reason string) error
	GetTrackingProgress(ctx context.Context, dataset store.Dataset) (models.TrackingProgress, error)

	InsertGaiaRecords(ctx context.Context, batch models.Batch) (int64, error)
	InsertSecondary(ctx context.Context, xmatch []models.CrossmatchRecord, phot []models.PhotometryRecord) (int64, int64, error)
	ExistingSourceIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	SourceIDsForDesignations(ctx context.Context, designations []string) (map[string]string, error)
	NearestSource(ctx context.Context, ra, dec, radius float64) (*models.Record, error)

	CreateIndices(ctx context.Context)
	Optimize(ctx context.Context)
}

// Fetcher is the part of *downloader.Downloader used during ingestion.
type Fetcher interface {
	ListRemoteFilesWithPrefix(ctx context.Context, listingURL, prefix, suffix string) ([]string, error)
	DownloadBatch(ctx context.Context, urls []string) []downloader.DownloadResult
	StreamBatch(ctx context.Context, urls []string) []downloader.StreamResult
	Parallelism() int
	ClearProgress()
}

var (
	_ Store   = (*store.Store)(nil)
	_ Fetcher = (*downloader.Downloader)(nil)
)

// RunStatistics summarizes one ingestion run.
type RunStatistics struct {
	RunID   string
	Dataset store.Dataset

	FilesTotal     int
	FilesSkipped   int
	FilesAttempted int
	FilesCompleted int
	FilesFailed    int

	RowsParsed   int64
	RowsFiltered int64
	RowsInserted int64

	BytesDownloaded int64

	Started time.Time
	Elapsed time.Duration
}

// RowsPerSecond is the insert throughput of the run.
func (s *RunStatistics) RowsPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.RowsInserted) / s.Elapsed.Seconds()
}

// Counters flattens the statistics for events.
func (s *RunStatistics) Counters() map[string]int64 {
	return map[string]int64{
		"files_total":      int64(s.FilesTotal),
		"files_skipped":    int64(s.FilesSkipped),
		"files_attempted":  int64(s.FilesAttempted),
		"files_completed":  int64(s.FilesCompleted),
		"files_failed":     int64(s.FilesFailed),
		"rows_parsed":      s.RowsParsed,
		"rows_filtered":    s.RowsFiltered,
		"rows_inserted":    s.RowsInserted,
		"bytes_downloaded": s.BytesDownloaded,
	}
}

// MarshalLogObject renders the statistics as structured log fields.
func (s *RunStatistics) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("run_id", s.RunID)
	enc.AddString("dataset", string(s.Dataset))
	enc.AddInt("files_total", s.FilesTotal)
	enc.AddInt("files_skipped", s.FilesSkipped)
	enc.AddInt("files_attempted", s.FilesAttempted)
	enc.AddInt("files_completed", s.FilesCompleted)
	enc.AddInt("files_failed", s.FilesFailed)
	enc.AddInt64("rows_parsed", s.RowsParsed)
	enc.AddInt64("rows_filtered", s.RowsFiltered)
	enc.AddInt64("rows_inserted", s.RowsInserted)
	enc.AddInt64("bytes_downloaded", s.BytesDownloaded)
	enc.AddDuration("elapsed", s.Elapsed)
	enc.AddFloat64("rows_per_sec", s.RowsPerSecond())
	return nil
}

// batchRows accumulates the transformed rows of one or more files.
type batchRows struct {
	gaia       models.Batch
	crossmatch []models.CrossmatchRecord
	photometry []models.PhotometryRecord
}

func (b *batchRows) merge(o *batchRows) {
	b.gaia = append(b.gaia, o.gaia...)
	b.crossmatch = append(b.crossmatch, o.crossmatch...)
	b.photometry = append(b.photometry, o.photometry...)
}

func (b *batchRows) len() int {
	return len(b.gaia) + len(b.crossmatch) + len(b.photometry)
}
