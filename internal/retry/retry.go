// Package retry wraps a Fetcher with bounded retries for transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/mkravets/orderwatch/internal/model"
)

// Fetcher is a decorator that retries transient FetchBatch failures with
// exponential backoff and jitter before giving up. SubmitResponse is passed
// through without retries: a submission must never be repeated, the source
// could accept both.
type Fetcher struct {
	inner      model.Fetcher
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// New wraps a Fetcher with retry logic. maxRetries is the number of
// additional attempts after the first failure; baseDelay is the delay before
// the first retry, doubled on each subsequent one.
func New(inner model.Fetcher, maxRetries int, baseDelay time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		inner:      inner,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger,
	}
}

// FetchBatch attempts a fetch, retrying on transient errors.
func (f *Fetcher) FetchBatch(ctx context.Context) (model.Batch, error) {
	batch, err := f.inner.FetchBatch(ctx)
	if err == nil {
		return batch, nil
	}

	if !isRetryable(err) {
		return model.Batch{}, err
	}

	lastErr := err
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		delay := f.backoffDelay(attempt)

		f.logger.Warn("retrying after transient error",
			"attempt", attempt,
			"max_retries", f.maxRetries,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return model.Batch{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}

		batch, err = f.inner.FetchBatch(ctx)
		if err == nil {
			return batch, nil
		}

		if !isRetryable(err) {
			return model.Batch{}, err
		}
		lastErr = err
	}

	return model.Batch{}, lastErr
}

// SubmitResponse delegates without retries.
func (f *Fetcher) SubmitResponse(ctx context.Context, rec model.Listing, rendered string) (model.SubmitResult, error) {
	return f.inner.SubmitResponse(ctx, rec, rendered)
}

// backoffDelay computes the delay for a given attempt with ±30% jitter.
func (f *Fetcher) backoffDelay(attempt int) time.Duration {
	// Exponential: baseDelay * 2^(attempt-1)
	delay := f.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	jitter := float64(delay) * 0.3
	return time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
}

// isRetryable reports whether the error is a transient failure worth
// retrying. A challenge is never retried: the governor must see it and pause.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, model.ErrCaptcha) {
		return false
	}

	var transient *model.TransientError
	if errors.As(err, &transient) {
		return true
	}

	// Unknown errors (network, DNS, driver internals) default to retryable.
	return true
}
