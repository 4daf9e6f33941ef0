package downloader

import (
	"context"
	"io"
	"math"
	"math/rand"
	"net"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/metrics"
)

// RetryPolicy defines retry behavior
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// NewRetryPolicy creates a policy with exponential backoff and no jitter.
func NewRetryPolicy(maxAttempts int, initialDelay, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Multiplier:   2.0,
	}
}

// Execute runs fn until it succeeds, fails with an error that is not
// retryable, or runs out of attempts. fn receives the 1-based attempt.
func (rp *RetryPolicy) Execute(ctx context.Context, logger *zap.Logger, op string, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		err := fn(attempt + 1)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return cancelled(ctx.Err(), op)
		}
		if !errors.IsRetryable(err) {
			return err
		}

		logger.Warn("attempt failed",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", rp.MaxAttempts),
			zap.Error(err))

		if attempt == rp.MaxAttempts-1 {
			break
		}
		metrics.DownloadRetries.Inc()

		if err := rp.Wait(ctx, attempt); err != nil {
			return cancelled(err, op)
		}
	}

	return errors.Wrapf(lastErr, errors.GetType(lastErr), "%s: all %d attempts failed", op, rp.MaxAttempts)
}

// cancelled types a context error: a passed deadline is a timeout, an
// explicit cancel is internal.
func cancelled(ctxErr error, op string) error {
	errType := errors.ErrorTypeInternal
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		errType = errors.ErrorTypeTimeout
	}
	return errors.Wrapf(ctxErr, errType, "%s cancelled", op)
}

// Wait sleeps for the delay before attempt+2, returning early with the
// context error if ctx ends.
func (rp *RetryPolicy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(rp.calculateDelay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// calculateDelay calculates the delay after the given 0-based attempt
func (rp *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))

	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		minDelay := delay - delta
		maxDelay := delay + delta
		delay = minDelay + (rand.Float64() * (maxDelay - minDelay))
	}

	return time.Duration(delay)
}

// GetDelay returns the delay for a specific attempt (for testing/preview)
func (rp *RetryPolicy) GetDelay(attempt int) time.Duration {
	return rp.calculateDelay(attempt)
}

// classifyTransport maps a failed request or body read to a typed error.
// Network failures become timeout or connection errors and are retried;
// everything else, including cancellation, is returned as not retryable.
func classifyTransport(ctx context.Context, err error, rawURL string) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var typed *errors.Error
	if errors.As(err, &typed) {
		return err
	}

	inner := err
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		inner = urlErr.Err
	}

	var netErr net.Error
	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case errors.As(inner, &netErr) && netErr.Timeout():
		return errors.Wrapf(err, errors.ErrorTypeTimeout, "timeout fetching %s", rawURL)
	case errors.As(inner, &dnsErr), errors.As(inner, &opErr),
		errors.Is(inner, syscall.ECONNRESET), errors.Is(inner, syscall.ECONNREFUSED),
		errors.Is(inner, syscall.EPIPE),
		errors.Is(inner, io.ErrUnexpectedEOF), errors.Is(inner, io.EOF),
		errors.As(inner, &netErr):
		return errors.Wrapf(err, errors.ErrorTypeConnection, "connection failure fetching %s", rawURL)
	case isPrematureClose(inner):
		return errors.Wrapf(err, errors.ErrorTypeConnection, "connection closed fetching %s", rawURL)
	default:
		return errors.Wrapf(err, errors.ErrorTypeValidation, "request for %s failed", rawURL)
	}
}

func isPrematureClose(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "server closed idle connection") ||
		strings.Contains(msg, "http2: stream closed") ||
		strings.Contains(msg, "http2: server sent GOAWAY")
}
