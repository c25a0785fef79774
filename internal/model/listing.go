package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Listing is the unit flowing through the pipeline: one marketplace order as
// it appeared at a single scan. Treated as immutable once constructed.
type Listing struct {
	ExternalID   string     // stable identifier assigned by the source
	Title        string     // listing title
	Description  string     // full listing text
	Category     string     // source category name
	BudgetMin    *int64     // nullable lower budget bound
	BudgetMax    *int64     // nullable upper budget bound
	LanguageCode string     // e.g. "ru", "en"
	URL          string     // direct listing link
	PostedAt     *time.Time // source-reported, nullable (not always shown)
	DiscoveredAt time.Time  // our clock (set when first scanned)
	WordCount    int        // derived from Description, see CountWords
}

// CountWords returns the whitespace-separated word count of s.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// Finalize derives WordCount and stamps DiscoveredAt if unset. Call once
// after decoding a raw record, before the listing enters the pipeline.
func (l Listing) Finalize(now time.Time) Listing {
	l.WordCount = CountWords(l.Description)
	if l.DiscoveredAt.IsZero() {
		l.DiscoveredAt = now
	}
	return l
}

// ContentHash hashes the subscriber-visible fields (title, description,
// budget range, category) so cosmetic source changes do not look like
// content updates. Field boundaries are delimited to avoid ambiguity.
func (l Listing) ContentHash() string {
	h := sha256.New()
	for _, part := range []string{
		l.Title,
		l.Description,
		budgetKey(l.BudgetMin),
		budgetKey(l.BudgetMax),
		l.Category,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func budgetKey(b *int64) string {
	if b == nil {
		return "-"
	}
	return strconv.FormatInt(*b, 10)
}

// Validate reports whether the listing carries the fields the pipeline
// requires. Malformed records are dropped at the orchestrator, not here.
func (l Listing) Validate() error {
	if l.ExternalID == "" {
		return &MalformedRecordError{Field: "external_id"}
	}
	if l.Title == "" {
		return &MalformedRecordError{Field: "title"}
	}
	return nil
}

// DedupEntry is the persisted dedup state for one external_id.
type DedupEntry struct {
	ExternalID  string
	Title       string // kept for operator-facing review, not hashed
	URL         string
	FirstSeenAt time.Time
	ContentHash string
	// Notified maps subscriber ID to the content hash that subscriber was
	// last notified for. A differing stored hash makes the subscriber
	// eligible again, exactly once per content change.
	Notified map[int64]string
}

// Clone returns a deep copy so callers can stage changes without mutating
// the index's committed state.
func (e DedupEntry) Clone() DedupEntry {
	notified := make(map[int64]string, len(e.Notified))
	for id, h := range e.Notified {
		notified[id] = h
	}
	e.Notified = notified
	return e
}
