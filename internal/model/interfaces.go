package model

import (
	"context"
	"time"
)

// Signal classifies the outcome of a fetch attempt beyond plain errors.
type Signal int

const (
	SignalNone Signal = iota
	SignalCaptcha
	SignalRateLimit
	SignalError
)

func (s Signal) String() string {
	switch s {
	case SignalNone:
		return "none"
	case SignalCaptcha:
		return "captcha"
	case SignalRateLimit:
		return "rate_limit"
	case SignalError:
		return "error"
	default:
		return "unknown"
	}
}

// Batch is one scan's worth of raw listing records plus the source signal.
type Batch struct {
	Records []Listing
	Signal  Signal
}

// SubmitResult is the outcome of an auto-response submission.
type SubmitResult int

const (
	SubmitOK SubmitResult = iota
	SubmitRejected
	SubmitChallenge
)

// Fetcher is the page-fetching/DOM-automation collaborator. One FetchBatch
// call per cycle when the governor allows; SubmitResponse only for
// auto-respond. Implementations own all page-structure knowledge.
type Fetcher interface {
	FetchBatch(ctx context.Context) (Batch, error)
	SubmitResponse(ctx context.Context, rec Listing, rendered string) (SubmitResult, error)
}

// MailWatcher is the secondary event source. Drain is non-blocking and
// returns zero or more records accumulated since the last drain.
type MailWatcher interface {
	Drain() []Listing
}

// PayloadKind distinguishes what a notification is about.
type PayloadKind int

const (
	PayloadNewMatch PayloadKind = iota
	PayloadUpdate
	PayloadRespondSent
	PayloadRespondFailed
)

// Payload is what the notifier delivers for one (subscriber, listing) pair.
type Payload struct {
	Kind       PayloadKind
	Listing    Listing
	FilterName string // which rule matched
	Note       string // extra operator-facing context (e.g. failure reason)
}

// Notifier delivers payloads to subscribers over the chat platform.
type Notifier interface {
	Send(ctx context.Context, sub Subscriber, p Payload) error
}

// Handle is an opaque reference to an encrypted secret. The pipeline passes
// handles through to collaborators; only the vault can open them.
type Handle struct {
	blob []byte
}

// NewHandle wraps an already-encrypted blob.
func NewHandle(blob []byte) Handle {
	b := make([]byte, len(blob))
	copy(b, blob)
	return Handle{blob: b}
}

// Sealed returns the ciphertext for storage or pass-through. Never plaintext.
func (h Handle) Sealed() []byte {
	return h.blob
}

// IsZero reports whether the handle holds no secret.
func (h Handle) IsZero() bool {
	return len(h.blob) == 0
}

// Vault provides credential and session handles without exposing plaintext
// to the pipeline, and seals refreshed session state handed back by the
// fetcher.
type Vault interface {
	Credentials(ctx context.Context) (Handle, error)
	Session(ctx context.Context) (Handle, error)
	SaveSession(ctx context.Context, plaintext []byte) error
}

// Store is the durable record store. Writes are atomic per key.
type Store interface {
	LoadDedup(ctx context.Context) ([]DedupEntry, error)
	SaveDedup(ctx context.Context, e DedupEntry) error
	CleanupDedup(ctx context.Context, olderThan time.Duration) (int64, error)

	LoadSubscribers(ctx context.Context) ([]Subscriber, error)
	SaveFilter(ctx context.Context, subscriberID int64, f FilterRule) error
	DeleteFilter(ctx context.Context, subscriberID int64, name string) error
	SaveTemplate(ctx context.Context, subscriberID int64, text string) error

	LoadSession(ctx context.Context, id string) ([]byte, error)
	SaveSession(ctx context.Context, id string, blob []byte) error
}
