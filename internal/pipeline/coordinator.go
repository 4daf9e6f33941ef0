package pipeline

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shirou/gopsutil/v3/mem"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/gaiadb/pkg/config"
	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/events"
	"github.com/ajitpratap0/gaiadb/pkg/logger"
	"github.com/ajitpratap0/gaiadb/pkg/metrics"
	"github.com/ajitpratap0/gaiadb/pkg/observability"
	"github.com/ajitpratap0/gaiadb/pkg/parser"
	"github.com/ajitpratap0/gaiadb/pkg/store"
)

// Coordinator runs ingestion for one dataset at a time. Files are processed
// in batches of the download parallelism; batches run one after another and
// each batch is written with a single insert.
type Coordinator struct {
	cfg       *config.Config
	store     Store
	fetcher   Fetcher
	publisher events.Publisher
	logger    *zap.Logger

	// availableMemory reports free system memory in bytes
	availableMemory func() (uint64, error)
}

// New creates a coordinator. A nil publisher drops events.
func New(cfg *config.Config, st Store, fetcher Fetcher, publisher events.Publisher, logger *zap.Logger) *Coordinator {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Coordinator{
		cfg:             cfg,
		store:           st,
		fetcher:         fetcher,
		publisher:       publisher,
		logger:          logger.With(zap.String("component", "pipeline")),
		availableMemory: virtualMemoryAvailable,
	}
}

// run is the state of one Run call.
type run struct {
	dataset      store.Dataset
	loader       loader
	stats        *RunStatistics
	log          *zap.Logger
	tracker      *metrics.ThroughputTracker
	lastProgress time.Time
}

// Run ingests every pending file of dataset. Per-file failures are recorded
// in the tracking table and the statistics; only configuration and store
// setup errors abort the run. A cancelled context stops after the current
// batch and leaves the remaining files for the next run.
func (c *Coordinator) Run(ctx context.Context, dataset store.Dataset) (*RunStatistics, error) {
	stats := &RunStatistics{RunID: ulid.Make().String(), Dataset: dataset, Started: time.Now()}
	ctx = logger.ContextWithRun(ctx, stats.RunID, string(dataset))
	r := &run{
		dataset: dataset,
		stats:   stats,
		log:     logger.FromContext(ctx, c.logger),
		tracker: metrics.NewThroughputTracker(string(dataset)),
	}

	ctx, span := observability.StartSpan(ctx, "pipeline.run",
		attribute.String("dataset", string(dataset)), attribute.String("run_id", stats.RunID))
	defer span.End()

	src, err := c.cfg.Sources.Source(string(dataset))
	if err != nil {
		return stats, err
	}
	r.loader, err = newLoader(dataset, c.cfg, c.store, r.log)
	if err != nil {
		return stats, err
	}

	if err := c.store.Initialize(ctx); err != nil {
		observability.RecordError(span, err)
		return stats, err
	}

	pending, err := c.enumerate(ctx, r, src)
	if err != nil {
		observability.RecordError(span, err)
		return stats, err
	}

	parallelism := c.parallelism(r.log)
	r.log.Info("ingestion started",
		zap.Int("files", stats.FilesTotal),
		zap.Int("skipped", stats.FilesSkipped),
		zap.Int("pending", len(pending)),
		zap.Int("parallelism", parallelism),
		zap.Bool("streaming", c.cfg.Pipeline.Streaming),
		zap.String("parser", r.loader.Parser().Name()))

	for start := 0; start < len(pending); start += parallelism {
		if ctx.Err() != nil {
			break
		}
		end := min(start+parallelism, len(pending))
		c.runBatch(ctx, r, pending[start:end])
		c.logProgress(ctx, r, end == len(pending))
	}

	if ctx.Err() == nil && !c.cfg.Pipeline.SkipMaintenance {
		c.store.CreateIndices(ctx)
		c.store.Optimize(ctx)
	}

	stats.Elapsed = time.Since(stats.Started)
	r.log.Info("ingestion finished", zap.Object("stats", stats))
	c.publish(context.WithoutCancel(ctx), r, events.Event{
		Type:  events.TypeRunFinished,
		Rows:  stats.RowsInserted,
		Stats: stats.Counters(),
	})
	c.fetcher.ClearProgress()

	if err := ctx.Err(); err != nil {
		return stats, errors.Wrap(err, errors.ErrorTypeInternal, "ingestion interrupted")
	}
	return stats, nil
}

// enumerate lists the dataset, seeds the tracking table and returns the
// files not yet completed.
func (c *Coordinator) enumerate(ctx context.Context, r *run, src config.SourceConfig) ([]string, error) {
	urls, err := c.fetcher.ListRemoteFilesWithPrefix(ctx, src.ListingURL, src.Prefix, src.Suffix)
	if err != nil {
		return nil, err
	}
	if limit := c.cfg.Pipeline.MaxFiles; limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}
	r.stats.FilesTotal = len(urls)

	if err := c.store.InitializeTracking(ctx, r.dataset, urls); err != nil {
		return nil, err
	}
	completed, err := c.store.CompletedURLs(ctx, r.dataset)
	if err != nil {
		return nil, err
	}

	pending := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := completed[u]; ok {
			r.stats.FilesSkipped++
			continue
		}
		pending = append(pending, u)
	}
	metrics.FilesTotal.WithLabelValues(string(r.dataset), "skipped").Add(float64(r.stats.FilesSkipped))
	return pending, nil
}

// parallelism is the batch size. In streaming mode it is lowered to what
// available memory can hold when auto parallelism is on.
func (c *Coordinator) parallelism(log *zap.Logger) int {
	n := c.fetcher.Parallelism()
	if n < 1 {
		n = 1
	}
	dl := c.cfg.Download
	if !c.cfg.Pipeline.Streaming || !dl.AutoParallelism || dl.MemoryPerStreamMB <= 0 {
		return n
	}
	available, err := c.availableMemory()
	if err != nil {
		log.Warn("cannot read available memory, keeping parallelism", zap.Int("parallelism", n), zap.Error(err))
		return n
	}
	if limit := memoryLimit(available, dl.MemoryPerStreamMB); limit < n {
		log.Info("parallelism reduced to fit available memory",
			zap.Int("configured", n),
			zap.Int("effective", limit),
			zap.Uint64("available_mb", available>>20))
		return limit
	}
	return n
}

// memoryLimit is how many streams fit in half of the available memory.
func memoryLimit(available uint64, perStreamMB int) int {
	limit := int(0.5 * float64(available) / float64(uint64(perStreamMB)<<20))
	if limit < 1 {
		return 1
	}
	return limit
}

func virtualMemoryAvailable() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// fileOutcome is the result of fetching and parsing one file.
type fileOutcome struct {
	url     string
	path    string
	rows    batchRows
	parsed  int64
	dropped int64
	err     error
}

// runBatch processes one batch of files through fetch, parse, insert and
// status marking.
func (c *Coordinator) runBatch(ctx context.Context, r *run, urls []string) {
	ds := string(r.dataset)
	ctx, span := observability.StartSpan(ctx, "pipeline.batch",
		attribute.String("dataset", ds), attribute.Int("files", len(urls)))
	defer span.End()

	r.stats.FilesAttempted += len(urls)

	var outcomes []*fileOutcome
	if c.cfg.Pipeline.Streaming {
		outcomes = c.streamFiles(ctx, r, urls)
	} else {
		outcomes = c.downloadFiles(ctx, r, urls)
	}

	rows := &batchRows{}
	parsed := make([]*fileOutcome, 0, len(outcomes))
	var rowsParsed, rowsDropped int64
	for _, o := range outcomes {
		if o.err != nil {
			c.fail(ctx, r, o.url, o.err)
			continue
		}
		parsed = append(parsed, o)
		rows.merge(&o.rows)
		rowsParsed += o.parsed
		rowsDropped += o.dropped
	}
	r.stats.RowsParsed += rowsParsed
	r.stats.RowsFiltered += rowsDropped
	metrics.RowsTotal.WithLabelValues(ds, metrics.StageParsed).Add(float64(rowsParsed))
	metrics.RowsTotal.WithLabelValues(ds, metrics.StageFiltered).Add(float64(rowsDropped))
	if len(parsed) == 0 {
		return
	}

	inserted, err := c.insert(ctx, r, rows)
	if err != nil {
		observability.RecordError(span, err)
		r.log.Error("batch insert failed", zap.Int("files", len(parsed)), zap.Int("rows", rows.len()), zap.Error(err))
		for _, o := range parsed {
			c.fail(ctx, r, o.url, err)
		}
		return
	}
	r.stats.RowsInserted += inserted
	r.tracker.Increment(inserted)
	metrics.RowsTotal.WithLabelValues(ds, metrics.StageInserted).Add(float64(inserted))

	done := make([]string, len(parsed))
	for i, o := range parsed {
		done[i] = o.url
	}
	timer := metrics.NewTimer()
	if err := c.store.MarkFilesCompleted(ctx, r.dataset, done); err != nil {
		r.log.Error("failed to mark files completed", zap.Strings("urls", done), zap.Error(err))
		r.stats.FilesFailed += len(parsed)
		metrics.FilesTotal.WithLabelValues(ds, "failed").Add(float64(len(parsed)))
		return
	}
	timer.ObserveStage(ds, metrics.StageMark)
	r.stats.FilesCompleted += len(parsed)
	metrics.FilesTotal.WithLabelValues(ds, "completed").Add(float64(len(parsed)))

	for _, o := range parsed {
		if o.path != "" && !c.cfg.Download.KeepFiles {
			removeFile(o.path, r.log)
		}
		c.publish(ctx, r, events.Event{Type: events.TypeFileCompleted, URL: o.url, Rows: int64(o.rows.len())})
	}
}

func (c *Coordinator) insert(ctx context.Context, r *run, rows *batchRows) (int64, error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.insert", attribute.Int("rows", rows.len()))
	defer span.End()

	timer := metrics.NewTimer()
	inserted, err := r.loader.Insert(ctx, rows)
	timer.ObserveStage(string(r.dataset), metrics.StageInsert)
	observability.RecordError(span, err)
	return inserted, err
}

// downloadFiles fetches the batch to disk and parses the files one by one.
// Corrupt files are deleted so the next run downloads them again.
func (c *Coordinator) downloadFiles(ctx context.Context, r *run, urls []string) []*fileOutcome {
	dctx, span := observability.StartSpan(ctx, "pipeline.download", attribute.Int("files", len(urls)))
	timer := metrics.NewTimer()
	results := c.fetcher.DownloadBatch(dctx, urls)
	timer.ObserveStage(string(r.dataset), metrics.StageDownload)
	span.End()

	outcomes := make([]*fileOutcome, len(results))
	for i, res := range results {
		if res.Err != nil {
			outcomes[i] = &fileOutcome{url: res.URL, err: res.Err}
			continue
		}
		if fi, err := os.Stat(res.Path); err == nil {
			r.stats.BytesDownloaded += fi.Size()
		}
		o := c.parseFile(ctx, r, res.URL, parser.FileSource(res.Path))
		o.path = res.Path
		if o.err != nil && parser.IsCorrupt(o.err) {
			r.log.Warn("deleting corrupt file", zap.String("url", res.URL), zap.String("path", res.Path))
			removeFile(res.Path, r.log)
		}
		outcomes[i] = o
	}
	return outcomes
}

// streamFiles opens the batch as live streams and parses them concurrently.
// Each goroutine fills only its own outcome slot.
func (c *Coordinator) streamFiles(ctx context.Context, r *run, urls []string) []*fileOutcome {
	dctx, span := observability.StartSpan(ctx, "pipeline.download", attribute.Int("files", len(urls)))
	timer := metrics.NewTimer()
	results := c.fetcher.StreamBatch(dctx, urls)
	timer.ObserveStage(string(r.dataset), metrics.StageDownload)
	span.End()

	outcomes := make([]*fileOutcome, len(results))
	var received int64
	var g errgroup.Group
	// a batch never exceeds the effective parallelism
	g.SetLimit(len(results))
	for i, res := range results {
		i, res := i, res
		if res.Err != nil {
			outcomes[i] = &fileOutcome{url: res.URL, err: res.Err}
			continue
		}
		body := &countingBody{ReadCloser: res.Body, n: &received}
		g.Go(func() error {
			outcomes[i] = c.parseFile(ctx, r, res.URL, parser.StreamSource(res.URL, body))
			return nil
		})
	}
	_ = g.Wait()
	r.stats.BytesDownloaded += atomic.LoadInt64(&received)
	return outcomes
}

// parseFile runs every parsed batch of src through the loader. Rows of a
// file that fails midway are discarded.
func (c *Coordinator) parseFile(ctx context.Context, r *run, url string, src parser.Source) *fileOutcome {
	o := &fileOutcome{url: url}
	ctx = logger.ContextWithURL(ctx, url)
	ctx, span := observability.StartSpan(ctx, "pipeline.parse", attribute.String("url", url))
	defer span.End()

	timer := metrics.NewTimer()
	defer timer.ObserveStage(string(r.dataset), metrics.StageParse)

	it, err := r.loader.Parser().Parse(ctx, src, r.loader.Options())
	if err != nil {
		o.err = err
		observability.RecordError(span, err)
		return o
	}
	defer it.Close()

	for {
		batch, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			o.err = err
			break
		}
		o.parsed += int64(len(batch))
		dropped, err := r.loader.Transform(ctx, batch, &o.rows)
		if err != nil {
			o.err = err
			break
		}
		o.dropped += int64(dropped)
	}

	if o.err != nil {
		observability.RecordError(span, o.err)
		o.rows = batchRows{}
		return o
	}
	logger.FromContext(ctx, r.log).Debug("file parsed",
		zap.Int64("rows", o.parsed),
		zap.Int64("dropped", o.dropped),
		zap.Int("kept", o.rows.len()))
	return o
}

// fail records a per-file failure. Tracking errors are logged only.
func (c *Coordinator) fail(ctx context.Context, r *run, url string, cause error) {
	r.stats.FilesFailed++
	metrics.FilesTotal.WithLabelValues(string(r.dataset), "failed").Inc()
	r.log.Warn("file failed", zap.String("url", url), zap.Error(cause))

	if err := c.store.MarkFileFailed(ctx, r.dataset, url, cause.Error()); err != nil {
		r.log.Error("failed to mark file failed", zap.String("url", url), zap.Error(err))
	}
	c.publish(ctx, r, events.Event{Type: events.TypeFileFailed, URL: url, Error: cause.Error()})
}

func (c *Coordinator) publish(ctx context.Context, r *run, ev events.Event) {
	ev.RunID = r.stats.RunID
	ev.Dataset = string(r.dataset)
	if err := c.publisher.Publish(ctx, ev); err != nil {
		r.log.Warn("failed to publish event", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// logProgress logs the tracking table state at most once per progress
// interval, and always after the last batch.
func (c *Coordinator) logProgress(ctx context.Context, r *run, final bool) {
	interval := c.cfg.Pipeline.ProgressInterval
	if !final && interval > 0 && time.Since(r.lastProgress) < interval {
		return
	}
	r.lastProgress = time.Now()

	p, err := c.store.GetTrackingProgress(ctx, r.dataset)
	if err != nil {
		r.log.Warn("failed to read progress", zap.Error(err))
		return
	}
	r.log.Info("progress",
		zap.Int64("completed", p.Completed),
		zap.Int64("failed", p.Failed),
		zap.Int64("remaining", p.Remaining()),
		zap.Float64("percent", p.Percent()),
		zap.Float64("rows_per_sec", r.tracker.GetAndReset()))
}

func removeFile(path string, log *zap.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to delete file", zap.String("path", path), zap.Error(err))
	}
}

// countingBody counts bytes read from a stream.
type countingBody struct {
	io.ReadCloser
	n *int64
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	atomic.AddInt64(b.n, int64(n))
	return n, err
}
