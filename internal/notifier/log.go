// Package notifier delivers dispatch payloads to subscribers.
package notifier

import (
	"context"
	"log/slog"

	"github.com/mkravets/orderwatch/internal/model"
)

// Ensure LogNotifier implements model.Notifier.
var _ model.Notifier = (*LogNotifier)(nil)

// LogNotifier writes payloads to the given logger as structured messages.
// Used in dry-run mode and as a fallback when no chat platform is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier that logs each payload via slog.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs the payload. Returns nil (stdout logging does not fail).
func (n *LogNotifier) Send(_ context.Context, sub model.Subscriber, p model.Payload) error {
	args := []any{
		"kind", kindLabel(p.Kind),
		"subscriber", sub.ID,
		"listing", p.Listing.ExternalID,
		"title", p.Listing.Title,
		"category", p.Listing.Category,
		"url", p.Listing.URL,
	}
	if p.FilterName != "" {
		args = append(args, "filter", p.FilterName)
	}
	if p.Note != "" {
		args = append(args, "note", p.Note)
	}
	n.logger.Info("dispatch", args...)
	return nil
}

func kindLabel(k model.PayloadKind) string {
	switch k {
	case model.PayloadNewMatch:
		return "new_match"
	case model.PayloadUpdate:
		return "update"
	case model.PayloadRespondSent:
		return "respond_sent"
	case model.PayloadRespondFailed:
		return "respond_failed"
	default:
		return "unknown"
	}
}
