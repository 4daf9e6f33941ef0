package downloader

import (
	"context"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/metrics"
)

// StreamDownload opens rawURL and returns a body that resumes itself with
// a Range request when a transient error interrupts it mid-transfer. The
// body is bound to ctx and must be closed by the caller.
func (d *Downloader) StreamDownload(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if _, err := fileName(rawURL); err != nil {
		d.progress.finish(rawURL, err)
		return nil, err
	}

	var resp *http.Response
	err := d.retry.Execute(ctx, d.logger.With(zap.String("url", rawURL)), "stream", func(attempt int) error {
		d.progress.attempt(rawURL, attempt)
		r, err := d.get(ctx, rawURL, 0)
		if err != nil {
			return err
		}
		if r.StatusCode != http.StatusOK {
			drain(r)
			return statusError(r, rawURL)
		}
		resp = r
		return nil
	})
	if err != nil {
		d.progress.finish(rawURL, err)
		return nil, err
	}

	d.progress.setBytes(rawURL, 0, resp.ContentLength)
	metrics.DownloadsInflight.Inc()
	return &resumableBody{
		d:      d,
		ctx:    ctx,
		url:    rawURL,
		body:   resp.Body,
		total:  resp.ContentLength,
		logger: d.logger.With(zap.String("url", rawURL)),
	}, nil
}

// resumableBody reads a response body, reopening it at the consumed offset
// after transient failures. Consecutive failures without progress are
// bounded by the retry policy's attempts.
type resumableBody struct {
	d      *Downloader
	ctx    context.Context
	url    string
	logger *zap.Logger

	body     io.ReadCloser
	offset   int64
	total    int64
	failures int
	err      error

	closeOnce sync.Once
}

func (b *resumableBody) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}

	for {
		if b.body == nil {
			if err := b.reopen(); err != nil {
				if stop := b.fail(err); stop != nil {
					return 0, stop
				}
				continue
			}
		}

		n, err := b.body.Read(p)
		if n > 0 {
			b.offset += int64(n)
			b.failures = 0
			b.d.progress.add(b.url, int64(n))
			metrics.DownloadBytes.Add(float64(n))
		}
		if err == nil {
			return n, nil
		}
		if err == io.EOF && b.total > 0 && b.offset < b.total {
			err = io.ErrUnexpectedEOF
		}
		if err == io.EOF {
			b.err = io.EOF
			b.d.progress.finish(b.url, nil)
			return n, io.EOF
		}

		_ = b.body.Close()
		b.body = nil
		classified := classifyTransport(b.ctx, err, b.url)
		if n > 0 {
			if !errors.IsRetryable(classified) {
				b.setErr(classified)
			}
			return n, nil
		}
		if stop := b.fail(classified); stop != nil {
			return 0, stop
		}
	}
}

// fail records a failed read or reopen. It returns a non-nil error when the
// stream must stop, otherwise it waits out the backoff.
func (b *resumableBody) fail(err error) error {
	if !errors.IsRetryable(err) {
		b.setErr(err)
		return b.err
	}
	b.failures++
	if b.failures >= b.d.retry.MaxAttempts {
		b.setErr(errors.Wrapf(err, errors.GetType(err), "stream: all %d attempts failed", b.d.retry.MaxAttempts))
		return b.err
	}
	b.logger.Warn("stream interrupted, resuming",
		zap.Int64("offset", b.offset),
		zap.Int("attempt", b.failures),
		zap.Error(err))
	metrics.DownloadRetries.Inc()
	if werr := b.d.retry.Wait(b.ctx, b.failures-1); werr != nil {
		b.setErr(werr)
		return b.err
	}
	return nil
}

func (b *resumableBody) setErr(err error) {
	b.err = err
	b.d.progress.finish(b.url, err)
}

// reopen requests the remainder of the file. A server that ignores the
// range gets its already consumed prefix discarded, and one that rejects or
// misplaces the range is asked for the whole file again.
func (b *resumableBody) reopen() error {
	resp, err := b.d.get(b.ctx, b.url, b.offset)
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, _, _, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || start != b.offset {
			b.logger.Warn("resume answered with a different range, restarting from zero",
				zap.Int64("offset", b.offset),
				zap.String("content_range", resp.Header.Get("Content-Range")))
			drain(resp)
			return b.restart()
		}
		b.body = resp.Body
	case http.StatusOK:
		if err := b.skipPrefix(resp); err != nil {
			return err
		}
	case http.StatusRequestedRangeNotSatisfiable:
		b.logger.Warn("resume not satisfiable, restarting from zero", zap.Int64("offset", b.offset))
		drain(resp)
		return b.restart()
	default:
		drain(resp)
		return statusError(resp, b.url)
	}
	b.logger.Info("stream resumed", zap.Int64("offset", b.offset))
	return nil
}

// restart requests the whole file without a range and skips the bytes the
// caller has already read.
func (b *resumableBody) restart() error {
	resp, err := b.d.get(b.ctx, b.url, 0)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		drain(resp)
		return statusError(resp, b.url)
	}
	if err := b.skipPrefix(resp); err != nil {
		return err
	}
	b.logger.Info("stream restarted", zap.Int64("offset", b.offset))
	return nil
}

func (b *resumableBody) skipPrefix(resp *http.Response) error {
	if _, err := io.CopyN(io.Discard, resp.Body, b.offset); err != nil {
		_ = resp.Body.Close()
		return classifyTransport(b.ctx, err, b.url)
	}
	b.body = resp.Body
	return nil
}

// Close releases the current response body. It is idempotent.
func (b *resumableBody) Close() error {
	var err error
	b.closeOnce.Do(func() {
		metrics.DownloadsInflight.Dec()
		if b.body != nil {
			err = b.body.Close()
			b.body = nil
		}
		if b.err == nil {
			b.setErr(errors.New(errors.ErrorTypeConnection, "stream closed before end of body"))
		}
	})
	return err
}
