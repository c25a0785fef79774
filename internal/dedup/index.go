// Package dedup decides whether a listing has been seen before and tracks
// which subscribers were already notified for which content hash.
package dedup

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/mkravets/orderwatch/internal/model"
)

// Status is the outcome of presenting a listing to the index.
type Status int

const (
	// StatusNew: external_id was absent. All subscribers eligible.
	StatusNew Status = iota
	// StatusUpdated: external_id present, content hash differs. Previously
	// notified subscribers become eligible again, exactly once.
	StatusUpdated
	// StatusDuplicate: present with identical hash. Nobody eligible; the
	// caller must not run filters for this record.
	StatusDuplicate
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusUpdated:
		return "updated"
	case StatusDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Index is the in-memory dedup state, loaded from and committed to the Store.
// All mutation goes through a Txn so that writes for one external_id are
// serialized and nothing is persisted until the caller commits.
type Index struct {
	mu      sync.Mutex
	entries map[string]model.DedupEntry
	locks   [64]sync.Mutex
	store   model.Store
	logger  *slog.Logger
}

// Load reads all dedup entries from the store into memory.
func Load(ctx context.Context, store model.Store, logger *slog.Logger) (*Index, error) {
	entries, err := store.LoadDedup(ctx)
	if err != nil {
		return nil, &model.PersistenceError{Op: "load dedup", Err: err}
	}

	idx := &Index{
		entries: make(map[string]model.DedupEntry, len(entries)),
		store:   store,
		logger:  logger,
	}
	for _, e := range entries {
		idx.entries[e.ExternalID] = e
	}

	logger.Info("dedup index loaded", "entries", len(idx.entries))
	return idx, nil
}

// Txn stages the dedup outcome for one listing. It holds the per-external_id
// lock from Begin until Commit or Abort, so concurrent presentations of the
// same listing cannot both declare it new.
type Txn struct {
	Status Status

	idx     *Index
	staged  model.DedupEntry
	release func()
	done    bool
}

// Begin checks the listing against the index and stages the resulting entry.
// The caller must finish with exactly one Commit or Abort.
func (i *Index) Begin(rec model.Listing, now time.Time) *Txn {
	lock := i.lockFor(rec.ExternalID)
	lock.Lock()

	hash := rec.ContentHash()

	i.mu.Lock()
	prev, exists := i.entries[rec.ExternalID]
	i.mu.Unlock()

	txn := &Txn{idx: i, release: lock.Unlock}

	switch {
	case !exists:
		txn.Status = StatusNew
		txn.staged = model.DedupEntry{
			ExternalID:  rec.ExternalID,
			Title:       rec.Title,
			URL:         rec.URL,
			FirstSeenAt: now,
			ContentHash: hash,
			Notified:    make(map[int64]string),
		}
	case prev.ContentHash != hash:
		txn.Status = StatusUpdated
		txn.staged = prev.Clone()
		txn.staged.Title = rec.Title
		txn.staged.URL = rec.URL
		txn.staged.ContentHash = hash
	default:
		txn.Status = StatusDuplicate
		txn.staged = prev.Clone()
	}

	return txn
}

// Eligible reports whether the subscriber may still be notified for the
// staged content hash.
func (t *Txn) Eligible(subscriberID int64) bool {
	return t.staged.Notified[subscriberID] != t.staged.ContentHash
}

// MarkNotified records that the subscriber was notified for the staged hash.
// Nothing is persisted until Commit.
func (t *Txn) MarkNotified(subscriberID int64) {
	t.staged.Notified[subscriberID] = t.staged.ContentHash
}

// Entry returns a copy of the staged entry.
func (t *Txn) Entry() model.DedupEntry {
	return t.staged.Clone()
}

// Commit persists the staged entry, then applies it to the in-memory index.
// On a store failure neither happens, so the next cycle re-evaluates the
// record (at-least-once).
func (t *Txn) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("dedup txn for %s already finished", t.staged.ExternalID)
	}
	t.done = true
	defer t.release()

	if err := t.idx.store.SaveDedup(ctx, t.staged); err != nil {
		return &model.PersistenceError{Op: "save dedup", Err: err}
	}

	t.idx.mu.Lock()
	t.idx.entries[t.staged.ExternalID] = t.staged
	t.idx.mu.Unlock()
	return nil
}

// Abort discards the staged entry and releases the lock.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.release()
}

// Snapshot returns a copy of all entries, newest first seen last. Used by the
// review UI; never exposes internal maps.
func (i *Index) Snapshot() []model.DedupEntry {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]model.DedupEntry, 0, len(i.entries))
	for _, e := range i.entries {
		out = append(out, e.Clone())
	}
	return out
}

// Len returns the number of tracked external_ids.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.entries)
}

// Sweep drops entries older than the retention window from the store and
// from memory. Returns how many were removed from the store.
func (i *Index) Sweep(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	removed, err := i.store.CleanupDedup(ctx, olderThan)
	if err != nil {
		return 0, &model.PersistenceError{Op: "cleanup dedup", Err: err}
	}

	cutoff := now.Add(-olderThan)
	i.mu.Lock()
	for id, e := range i.entries {
		if e.FirstSeenAt.Before(cutoff) {
			delete(i.entries, id)
		}
	}
	i.mu.Unlock()

	i.logger.Info("dedup retention sweep", "removed", removed)
	return removed, nil
}

// lockFor returns the mutex serializing writes for one external_id. Locks
// are striped over a fixed table, so the set stays bounded no matter how many
// ids pass through a long-running daemon.
func (i *Index) lockFor(externalID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(externalID))
	return &i.locks[h.Sum32()%uint32(len(i.locks))]
}
