// Package dispatch decides and executes the downstream action for each
// (subscriber, matched listing) pair: notify, auto-respond, or drop.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mkravets/orderwatch/internal/model"
	"github.com/mkravets/orderwatch/internal/ratelimit"
)

// Action is the resolved downstream action for one pair.
type Action int

const (
	ActionSkip Action = iota
	ActionNotify
	ActionAutoRespond
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionNotify:
		return "notify"
	case ActionAutoRespond:
		return "auto_respond"
	default:
		return "unknown"
	}
}

// Outcome records how one pair resolved. Ephemeral: used for dedup
// bookkeeping within the cycle, never persisted itself.
type Outcome struct {
	Action    Action
	Delivered bool // the subscriber ended up informed (notify or failure notice)
	Responded bool // auto-response was accepted by the source
	Challenge bool // the source answered the submission with a challenge
	Err       error
}

const globalKey = "global"

// Router enforces the two independent action budgets and executes actions
// through the notifier and fetcher collaborators.
type Router struct {
	notifier model.Notifier
	fetcher  model.Fetcher
	global   *ratelimit.Budget
	perSub   *ratelimit.Budget
	logger   *slog.Logger
}

// NewRouter wires a router with its collaborators and budgets.
func NewRouter(notifier model.Notifier, fetcher model.Fetcher, global, perSub *ratelimit.Budget, logger *slog.Logger) *Router {
	return &Router{
		notifier: notifier,
		fetcher:  fetcher,
		global:   global,
		perSub:   perSub,
		logger:   logger,
	}
}

// Route resolves the action for one pair. Budget exhaustion degrades
// AUTO_RESPOND to NOTIFY, never to SKIP: the subscriber must not be left
// uninformed about a genuinely new match. Auto-response is also disabled
// whenever the governor is not in its normal state.
func (r *Router) Route(sub model.Subscriber, matched, eligible, governorNormal bool) Action {
	if !matched || !eligible {
		return ActionSkip
	}
	if !sub.HasTemplate() || !governorNormal {
		return ActionNotify
	}

	// Atomic check-and-increment on both budgets, or neither.
	okGlobal, window := r.global.TryAcquire(globalKey)
	if !okGlobal {
		return ActionNotify
	}
	if ok, _ := r.perSub.TryAcquire(subscriberKey(sub.ID)); !ok {
		r.global.Refund(globalKey, window)
		return ActionNotify
	}
	return ActionAutoRespond
}

// Dispatch executes the already-routed action. Auto-respond failures are
// converted into a human-visible failure notice and are not retried within
// the cycle.
func (r *Router) Dispatch(ctx context.Context, action Action, rec model.Listing, sub model.Subscriber, filterName string, updated bool) Outcome {
	switch action {
	case ActionSkip:
		return Outcome{Action: ActionSkip}
	case ActionNotify:
		return r.notify(ctx, rec, sub, filterName, updated)
	case ActionAutoRespond:
		return r.autoRespond(ctx, rec, sub, filterName)
	default:
		return Outcome{Action: action, Err: fmt.Errorf("unknown action %d", action)}
	}
}

func (r *Router) notify(ctx context.Context, rec model.Listing, sub model.Subscriber, filterName string, updated bool) Outcome {
	kind := model.PayloadNewMatch
	if updated {
		kind = model.PayloadUpdate
	}
	err := r.notifier.Send(ctx, sub, model.Payload{
		Kind:       kind,
		Listing:    rec,
		FilterName: filterName,
	})
	if err != nil {
		r.logger.Error("notification failed",
			"subscriber", sub.ID,
			"listing", rec.ExternalID,
			"error", err,
		)
		return Outcome{Action: ActionNotify, Err: err}
	}
	return Outcome{Action: ActionNotify, Delivered: true}
}

func (r *Router) autoRespond(ctx context.Context, rec model.Listing, sub model.Subscriber, filterName string) Outcome {
	rendered, err := Render(sub.Template, rec)
	if err != nil {
		return r.respondFailed(ctx, rec, sub, filterName,
			&model.DispatchError{SubscriberID: sub.ID, ExternalID: rec.ExternalID, Err: err})
	}

	result, err := r.fetcher.SubmitResponse(ctx, rec, rendered)
	if err != nil {
		return r.respondFailed(ctx, rec, sub, filterName,
			&model.DispatchError{SubscriberID: sub.ID, ExternalID: rec.ExternalID, Err: err})
	}

	switch result {
	case model.SubmitOK:
		r.logger.Info("auto-response submitted",
			"subscriber", sub.ID,
			"listing", rec.ExternalID,
			"filter", filterName,
		)
		err := r.notifier.Send(ctx, sub, model.Payload{
			Kind:       model.PayloadRespondSent,
			Listing:    rec,
			FilterName: filterName,
		})
		if err != nil {
			// The response went out; a lost confirmation is not a failure.
			r.logger.Warn("respond confirmation failed", "subscriber", sub.ID, "error", err)
		}
		return Outcome{Action: ActionAutoRespond, Delivered: true, Responded: true}

	case model.SubmitChallenge:
		out := r.respondFailed(ctx, rec, sub, filterName,
			&model.DispatchError{SubscriberID: sub.ID, ExternalID: rec.ExternalID, Err: model.ErrCaptcha})
		out.Challenge = true
		return out

	default: // SubmitRejected
		return r.respondFailed(ctx, rec, sub, filterName,
			&model.DispatchError{SubscriberID: sub.ID, ExternalID: rec.ExternalID, Err: fmt.Errorf("submission rejected")})
	}
}

// respondFailed downgrades a failed auto-response to a notify-with-failure
// notice so the failure is never silently swallowed.
func (r *Router) respondFailed(ctx context.Context, rec model.Listing, sub model.Subscriber, filterName string, dispatchErr error) Outcome {
	r.logger.Error("auto-respond failed", "subscriber", sub.ID, "listing", rec.ExternalID, "error", dispatchErr)

	err := r.notifier.Send(ctx, sub, model.Payload{
		Kind:       model.PayloadRespondFailed,
		Listing:    rec,
		FilterName: filterName,
		Note:       dispatchErr.Error(),
	})
	if err != nil {
		r.logger.Error("failure notice delivery failed", "subscriber", sub.ID, "error", err)
		return Outcome{Action: ActionAutoRespond, Err: dispatchErr}
	}
	return Outcome{Action: ActionAutoRespond, Delivered: true, Err: dispatchErr}
}

func subscriberKey(id int64) string {
	return "sub:" + strconv.FormatInt(id, 10)
}
