// Package downloader fetches archive files over HTTP with resume, bounded
// retries and bounded concurrency.
//
// Files are written to <TempDir>/<basename>.part and renamed when complete,
// so a final file on disk is always whole. An interrupted transfer resumes
// from the partial file with a Range request. Streams resume themselves
// mid-body the same way.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/gaiadb/pkg/config"
	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/metrics"
)

// PartSuffix marks incomplete downloads.
const PartSuffix = ".part"

// Config configures a Downloader.
type Config struct {
	TempDir        string
	Parallelism    int
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RequestTimeout time.Duration
	UserAgent      string
	HTTP2          bool
	// Jitter randomizes backoff delays by this fraction (0 = deterministic)
	Jitter float64
}

// FromConfig maps the download section of the application config.
func FromConfig(c config.DownloadConfig) Config {
	return Config{
		TempDir:        c.TempDir,
		Parallelism:    c.Parallelism,
		MaxAttempts:    c.MaxAttempts,
		BaseDelay:      c.RetryDelay,
		MaxDelay:       c.MaxRetryDelay,
		RequestTimeout: c.RequestTimeout,
		UserAgent:      c.UserAgent,
		HTTP2:          c.HTTP2,
	}
}

// DownloadResult is the outcome of one file transfer in a batch.
type DownloadResult struct {
	URL  string
	Path string
	Err  error
}

// StreamResult is the outcome of opening one stream in a batch. Body is
// owned by the caller when Err is nil.
type StreamResult struct {
	URL  string
	Body io.ReadCloser
	Err  error
}

// Downloader transfers archive files.
type Downloader struct {
	cfg       Config
	logger    *zap.Logger
	transport *http.Transport
	client    *http.Client
	retry     *RetryPolicy
	progress  *progressMap
}

// New creates a Downloader and its temp directory.
func New(cfg Config, logger *zap.Logger) (*Downloader, error) {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.TempDir == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "download temp dir is required")
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to create temp dir %s", cfg.TempDir)
	}

	logger = logger.With(zap.String("component", "downloader"))
	transport := newTransport(cfg, logger)
	retry := NewRetryPolicy(cfg.MaxAttempts, cfg.BaseDelay, cfg.MaxDelay)
	retry.RandomizeFactor = cfg.Jitter

	return &Downloader{
		cfg:       cfg,
		logger:    logger,
		transport: transport,
		client:    newHTTPClient(transport),
		retry:     retry,
		progress:  newProgressMap(),
	}, nil
}

// Parallelism returns the concurrency bound.
func (d *Downloader) Parallelism() int { return d.cfg.Parallelism }

// TempDir returns the download directory.
func (d *Downloader) TempDir() string { return d.cfg.TempDir }

// Progress returns a copy of the transfer state of url.
func (d *Downloader) Progress(url string) (Progress, bool) { return d.progress.get(url) }

// AllProgress returns copies of every tracked transfer.
func (d *Downloader) AllProgress() map[string]Progress { return d.progress.all() }

// ClearProgress forgets every tracked transfer.
func (d *Downloader) ClearProgress() { d.progress.clear() }

// Close releases idle connections.
func (d *Downloader) Close() error {
	d.transport.CloseIdleConnections()
	return nil
}

// LocalPath returns where DownloadFile stores rawURL.
func (d *Downloader) LocalPath(rawURL string) (string, error) {
	name, err := fileName(rawURL)
	if err != nil {
		return "", err
	}
	return filepath.Join(d.cfg.TempDir, name), nil
}

func fileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrorTypeValidation, "invalid url %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.Newf(errors.ErrorTypeValidation, "unsupported url scheme in %q", rawURL)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", errors.Newf(errors.ErrorTypeValidation, "url %q does not name a file", rawURL)
	}
	return name, nil
}

// DownloadFile transfers rawURL into the temp directory and returns the
// local path. An existing complete file is returned without a request.
func (d *Downloader) DownloadFile(ctx context.Context, rawURL string) (string, error) {
	final, err := d.LocalPath(rawURL)
	if err != nil {
		d.progress.finish(rawURL, err)
		return "", err
	}
	if st, err := os.Stat(final); err == nil && st.Mode().IsRegular() {
		d.progress.setBytes(rawURL, st.Size(), st.Size())
		d.progress.finish(rawURL, nil)
		d.logger.Debug("file already downloaded", zap.String("path", final))
		return final, nil
	}

	metrics.DownloadsInflight.Inc()
	defer metrics.DownloadsInflight.Dec()

	part := final + PartSuffix
	err = d.retry.Execute(ctx, d.logger.With(zap.String("url", rawURL)), "download", func(attempt int) error {
		d.progress.attempt(rawURL, attempt)
		return d.transfer(ctx, rawURL, part)
	})
	if err == nil {
		if rerr := os.Rename(part, final); rerr != nil {
			err = errors.Wrapf(rerr, errors.ErrorTypeFile, "failed to finalize %s", final)
		}
	}
	d.progress.finish(rawURL, err)
	if err != nil {
		return "", err
	}
	return final, nil
}

// transfer performs one attempt. A rejected range discards the partial
// file and restarts from zero within the same attempt.
func (d *Downloader) transfer(ctx context.Context, rawURL, part string) error {
	for {
		offset := fileSize(part)
		resp, err := d.get(ctx, rawURL, offset)
		if err != nil {
			return err
		}

		flags := os.O_CREATE | os.O_WRONLY
		switch {
		case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
			drain(resp)
			d.logger.Info("range not satisfiable, restarting",
				zap.String("url", rawURL), zap.Int64("offset", offset))
			if err := removeFile(part); err != nil {
				return err
			}
			continue
		case resp.StatusCode == http.StatusPartialContent && offset > 0:
			start, _, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
			if !ok || start != offset {
				drain(resp)
				d.logger.Info("content range mismatch, restarting",
					zap.String("url", rawURL),
					zap.Int64("offset", offset),
					zap.String("content_range", resp.Header.Get("Content-Range")))
				if err := removeFile(part); err != nil {
					return err
				}
				continue
			}
			flags |= os.O_APPEND
			d.progress.setBytes(rawURL, offset, total)
		case resp.StatusCode == http.StatusOK:
			flags |= os.O_TRUNC
			if offset > 0 {
				d.logger.Info("server ignored range, rewriting from zero", zap.String("url", rawURL))
			}
			offset = 0
			d.progress.setBytes(rawURL, 0, resp.ContentLength)
		default:
			drain(resp)
			return statusError(resp, rawURL)
		}

		return d.writeBody(ctx, resp, rawURL, part, flags)
	}
}

func (d *Downloader) writeBody(ctx context.Context, resp *http.Response, rawURL, part string, flags int) error {
	defer resp.Body.Close()

	f, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to open %s", part)
	}

	body := &countingReader{r: resp.Body, onRead: func(n int) {
		d.progress.add(rawURL, int64(n))
		metrics.DownloadBytes.Add(float64(n))
	}}
	_, copyErr := io.Copy(f, body)
	closeErr := f.Close()

	if body.err != nil {
		return classifyTransport(ctx, body.err, rawURL)
	}
	if copyErr != nil {
		return errors.Wrapf(copyErr, errors.ErrorTypeFile, "failed to write %s", part)
	}
	if closeErr != nil {
		return errors.Wrapf(closeErr, errors.ErrorTypeFile, "failed to close %s", part)
	}
	return nil
}

// get issues a GET, with a Range header when offset is positive.
func (d *Downloader) get(ctx context.Context, rawURL string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeValidation, "invalid url %q", rawURL)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err, rawURL)
	}
	return resp, nil
}

// DownloadBatch downloads urls with at most Parallelism transfers in
// flight. It returns one result per url, in input order, and never aborts
// on a per-url failure.
func (d *Downloader) DownloadBatch(ctx context.Context, urls []string) []DownloadResult {
	results := make([]DownloadResult, len(urls))
	var g errgroup.Group
	g.SetLimit(d.cfg.Parallelism)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			p, err := d.DownloadFile(ctx, u)
			results[i] = DownloadResult{URL: u, Path: p, Err: err}
			if err != nil {
				d.logger.Error("download failed", zap.String("url", u), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// StreamBatch opens a resumable stream per url with at most Parallelism
// requests in flight. It returns one result per url, in input order.
func (d *Downloader) StreamBatch(ctx context.Context, urls []string) []StreamResult {
	results := make([]StreamResult, len(urls))
	var g errgroup.Group
	g.SetLimit(d.cfg.Parallelism)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			body, err := d.StreamDownload(ctx, u)
			results[i] = StreamResult{URL: u, Body: body, Err: err}
			if err != nil {
				d.logger.Error("stream open failed", zap.String("url", u), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

var contentRangePattern = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+|\*)$`)

// parseContentRange parses "bytes S-E/T". total is -1 when unknown.
func parseContentRange(v string) (start, end, total int64, ok bool) {
	m := contentRangePattern.FindStringSubmatch(v)
	if m == nil {
		return 0, 0, 0, false
	}
	start, err1 := strconv.ParseInt(m[1], 10, 64)
	end, err2 := strconv.ParseInt(m[2], 10, 64)
	if err1 != nil || err2 != nil || end < start {
		return 0, 0, 0, false
	}
	total = -1
	if m[3] != "*" {
		t, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil || t <= end {
			return 0, 0, 0, false
		}
		total = t
	}
	return start, end, total, true
}

func statusError(resp *http.Response, rawURL string) error {
	return errors.Newf(errors.ErrorTypeHTTP, "unexpected status %s fetching %s", resp.Status, rawURL).
		WithDetail("status", resp.StatusCode).
		WithDetail("url", rawURL)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}

func fileSize(p string) int64 {
	st, err := os.Stat(p)
	if err != nil {
		return 0
	}
	return st.Size()
}

func removeFile(p string) error {
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to remove %s", p)
	}
	return nil
}

// countingReader reports bytes read and remembers the read error so it
// can be told apart from a write error in io.Copy.
type countingReader struct {
	r      io.Reader
	onRead func(int)
	err    error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.onRead(n)
	}
	if err != nil && err != io.EOF {
		c.err = err
	}
	return n, err
}
