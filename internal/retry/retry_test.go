package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mkravets/orderwatch/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockFetcher calls a function on each invocation, tracking call count.
type mockFetcher struct {
	calls int
	fn    func(attempt int) (model.Batch, error)
}

func (m *mockFetcher) FetchBatch(_ context.Context) (model.Batch, error) {
	m.calls++
	return m.fn(m.calls)
}

func (m *mockFetcher) SubmitResponse(_ context.Context, _ model.Listing, _ string) (model.SubmitResult, error) {
	return model.SubmitOK, nil
}

func TestFetchBatch_SucceedsOnFirstAttempt(t *testing.T) {
	batch := model.Batch{Records: []model.Listing{{ExternalID: "1", Title: "Логотип"}}}
	mock := &mockFetcher{fn: func(_ int) (model.Batch, error) {
		return batch, nil
	}}

	rf := New(mock, 2, 10*time.Millisecond, discardLogger())
	got, err := rf.FetchBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Records) != 1 || got.Records[0].ExternalID != "1" {
		t.Fatalf("unexpected batch: %+v", got)
	}
	if mock.calls != 1 {
		t.Fatalf("expected 1 call, got %d", mock.calls)
	}
}

func TestFetchBatch_RetriesTransient_SucceedsOnSecondAttempt(t *testing.T) {
	batch := model.Batch{Records: []model.Listing{{ExternalID: "1"}}}
	mock := &mockFetcher{fn: func(attempt int) (model.Batch, error) {
		if attempt == 1 {
			return model.Batch{}, &model.TransientError{Op: "fetch", Err: errors.New("connection reset")}
		}
		return batch, nil
	}}

	rf := New(mock, 2, 10*time.Millisecond, discardLogger())
	got, err := rf.FetchBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got.Records))
	}
	if mock.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", mock.calls)
	}
}

func TestFetchBatch_NeverRetriesCaptcha(t *testing.T) {
	mock := &mockFetcher{fn: func(_ int) (model.Batch, error) {
		return model.Batch{}, model.ErrCaptcha
	}}

	rf := New(mock, 2, 10*time.Millisecond, discardLogger())
	_, err := rf.FetchBatch(context.Background())
	if !errors.Is(err, model.ErrCaptcha) {
		t.Fatalf("expected ErrCaptcha, got %v", err)
	}
	if mock.calls != 1 {
		t.Fatalf("expected 1 call (no retry on challenge), got %d", mock.calls)
	}
}

func TestFetchBatch_GivesUpAfterMaxRetries(t *testing.T) {
	mock := &mockFetcher{fn: func(_ int) (model.Batch, error) {
		return model.Batch{}, &model.TransientError{Op: "fetch", Err: errors.New("timeout")}
	}}

	rf := New(mock, 2, 10*time.Millisecond, discardLogger())
	_, err := rf.FetchBatch(context.Background())
	if err == nil {
		t.Fatal("expected error after max retries, got nil")
	}
	// 1 initial + 2 retries = 3
	if mock.calls != 3 {
		t.Fatalf("expected 3 calls (1 + 2 retries), got %d", mock.calls)
	}
}

func TestFetchBatch_RespectsContextCancellation(t *testing.T) {
	mock := &mockFetcher{fn: func(_ int) (model.Batch, error) {
		return model.Batch{}, &model.TransientError{Op: "fetch", Err: errors.New("timeout")}
	}}

	ctx, cancel := context.WithCancel(context.Background())
	// Cancel immediately so the backoff sleep is interrupted.
	cancel()

	rf := New(mock, 2, time.Second, discardLogger())
	_, err := rf.FetchBatch(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if mock.calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", mock.calls)
	}
}
