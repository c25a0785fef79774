// Package orchestrator drives the discovery-filter-dispatch pipeline: one
// governor-paced cycle pulls a batch, dedups it, runs every subscriber's
// filters, and routes each match to its downstream action.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mkravets/orderwatch/internal/dedup"
	"github.com/mkravets/orderwatch/internal/dispatch"
	"github.com/mkravets/orderwatch/internal/filter"
	"github.com/mkravets/orderwatch/internal/governor"
	"github.com/mkravets/orderwatch/internal/model"
)

// Orchestrator owns the scan loop. The governor's state is mutated only from
// this goroutine.
type Orchestrator struct {
	fetcher model.Fetcher
	mail    model.MailWatcher
	index   *dedup.Index
	router  *dispatch.Router
	gov     *governor.Governor
	store   model.Store
	logger  *slog.Logger

	now          func() time.Time
	fetchTimeout time.Duration
	seeding      bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithFetchTimeout bounds the collaborator calls of one cycle.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.fetchTimeout = d }
}

// WithSeeding overrides first-run detection. Dry-run mode uses a store that
// is always empty and must not be treated as a fresh install.
func WithSeeding(seeding bool) Option {
	return func(o *Orchestrator) { o.seeding = seeding }
}

// New wires an orchestrator. An empty dedup index means a fresh install: the
// first cycle seeds the index without notifying anyone, so a new deployment
// does not blast the whole current front page at subscribers.
func New(
	fetcher model.Fetcher,
	mail model.MailWatcher,
	index *dedup.Index,
	router *dispatch.Router,
	gov *governor.Governor,
	store model.Store,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		fetcher:      fetcher,
		mail:         mail,
		index:        index,
		router:       router,
		gov:          gov,
		store:        store,
		logger:       logger,
		now:          time.Now,
		fetchTimeout: 2 * time.Minute,
		seeding:      index.Len() == 0,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run starts the scan loop and blocks until ctx is cancelled. No cycle error
// crashes the loop; everything resolves to a governor feedback value.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("scan loop started", "seeding", o.seeding, "known_listings", o.index.Len())

	for {
		if ctx.Err() != nil {
			o.logger.Info("scan loop stopped")
			return nil
		}

		if o.gov.ShouldScan() {
			fb := o.Cycle(ctx)
			o.gov.Observe(fb)
		}

		select {
		case <-ctx.Done():
			o.logger.Info("scan loop stopped")
			return nil
		case <-time.After(o.gov.NextDelay()):
		}
	}
}

// Cycle runs one scan: fetch + drain, merge, dedup, filter, route, dispatch.
// It always returns a feedback value; errors never propagate past it.
func (o *Orchestrator) Cycle(ctx context.Context) governor.Feedback {
	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	defer cancel()

	batch, err := o.fetcher.FetchBatch(fetchCtx)
	if err != nil {
		if errors.Is(err, model.ErrCaptcha) {
			o.logger.Warn("captcha during fetch")
			return governor.Feedback{Signal: model.SignalCaptcha}
		}
		o.logger.Error("fetch failed", "error", err)
		return governor.Feedback{Signal: model.SignalError, Errored: true}
	}
	if batch.Signal == model.SignalCaptcha || batch.Signal == model.SignalRateLimit {
		o.logger.Warn("source signalled", "signal", batch.Signal.String())
		return governor.Feedback{Signal: batch.Signal}
	}

	records := merge(batch.Records, o.mail.Drain())

	subs, err := o.store.LoadSubscribers(ctx)
	if err != nil {
		o.logger.Error("loading subscribers failed", "error", err)
		return governor.Feedback{Signal: model.SignalError, Errored: true}
	}

	now := o.now()
	var newCount, updated, dups, dropped int
	captcha := false

	for _, raw := range records {
		if ctx.Err() != nil {
			return governor.Feedback{Signal: model.SignalError, Errored: true}
		}

		if err := raw.Validate(); err != nil {
			o.logger.Warn("dropping malformed record", "error", err)
			dropped++
			continue
		}
		rec := raw.Finalize(now)

		txn := o.index.Begin(rec, now)
		if txn.Status == dedup.StatusDuplicate {
			txn.Abort()
			dups++
			continue
		}

		if !o.seeding {
			if o.dispatchRecord(ctx, rec, txn, subs) {
				captcha = true
			}
		}

		if err := txn.Commit(ctx); err != nil {
			// Partial dedup state must not be committed: abort the cycle and
			// re-evaluate everything next time.
			o.logger.Error("dedup commit failed, aborting cycle", "error", err)
			return governor.Feedback{Signal: model.SignalError, Errored: true}
		}

		switch txn.Status {
		case dedup.StatusNew:
			newCount++
		case dedup.StatusUpdated:
			updated++
		}
	}

	if o.seeding {
		o.logger.Info("first run: index seeded without notifying", "records", newCount)
		o.seeding = false
	}

	o.logger.Info("cycle complete",
		"fetched", len(records),
		"new", newCount,
		"updated", updated,
		"duplicate", dups,
		"dropped", dropped,
	)

	fb := governor.Feedback{Signal: batch.Signal, NewCount: newCount + updated, Duplicates: dups}
	if captcha {
		fb.Signal = model.SignalCaptcha
	}
	return fb
}

// dispatchRecord runs filters and routing for one non-duplicate record across
// all subscribers. Returns true if any submission hit a challenge.
func (o *Orchestrator) dispatchRecord(ctx context.Context, rec model.Listing, txn *dedup.Txn, subs []model.Subscriber) bool {
	governorNormal := o.gov.State() == governor.Normal
	isUpdate := txn.Status == dedup.StatusUpdated
	challenge := false

	for _, sub := range subs {
		matchedRule, matched := firstMatch(rec, sub.Filters)

		action := o.router.Route(sub, matched, txn.Eligible(sub.ID), governorNormal)
		if action == dispatch.ActionSkip {
			continue
		}

		out := o.router.Dispatch(ctx, action, rec, sub, matchedRule, isUpdate)
		if out.Delivered {
			txn.MarkNotified(sub.ID)
		}
		if out.Challenge {
			challenge = true
			// The source is challenging us; stop submitting this cycle.
			governorNormal = false
		}
	}
	return challenge
}

// firstMatch returns the name of the first rule matching the record.
func firstMatch(rec model.Listing, rules []model.FilterRule) (string, bool) {
	for _, rule := range rules {
		if filter.Matches(rec, rule) {
			return rule.Name, true
		}
	}
	return "", false
}

// merge combines the primary (fetcher) and secondary (mail) batches by
// external_id. The fetcher record wins on conflict: it is structurally
// richer, the mail record is best-effort supplementary.
func merge(primary, secondary []model.Listing) []model.Listing {
	if len(secondary) == 0 {
		return primary
	}

	seen := make(map[string]bool, len(primary))
	for _, rec := range primary {
		seen[rec.ExternalID] = true
	}

	out := make([]model.Listing, 0, len(primary)+len(secondary))
	out = append(out, primary...)
	for _, rec := range secondary {
		if !seen[rec.ExternalID] {
			out = append(out, rec)
		}
	}
	return out
}
