// Package mailwatch buffers listings arriving from the mail notification
// channel between scan cycles.
package mailwatch

import (
	"log/slog"
	"sync"

	"github.com/mkravets/orderwatch/internal/model"
)

// Ensure Buffer implements model.MailWatcher.
var _ model.MailWatcher = (*Buffer)(nil)

// Buffer is a bounded accumulator. The mail-ingesting goroutine pushes
// records as emails arrive; the orchestrator drains them at the start of each
// cycle. When full, the oldest record is dropped: the scan loop will pick a
// lost listing up from the page anyway.
type Buffer struct {
	mu      sync.Mutex
	records []model.Listing
	cap     int
	dropped int
	logger  *slog.Logger
}

// NewBuffer creates a buffer holding at most capacity records.
func NewBuffer(capacity int, logger *slog.Logger) *Buffer {
	if capacity <= 0 {
		capacity = 64
	}
	return &Buffer{cap: capacity, logger: logger}
}

// Push adds one record, evicting the oldest when at capacity.
func (b *Buffer) Push(rec model.Listing) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) >= b.cap {
		b.records = b.records[1:]
		b.dropped++
		b.logger.Warn("mail buffer full, dropping oldest", "dropped_total", b.dropped)
	}
	b.records = append(b.records, rec)
}

// Drain returns everything accumulated since the last drain and resets the
// buffer. Non-blocking.
func (b *Buffer) Drain() []model.Listing {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.records
	b.records = nil
	return out
}

// Len reports the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
