// Package fetch provides Fetcher implementations. SpoolFetcher consumes
// batch files dropped into a spool directory by an external scraping agent
// and writes auto-responses to an outbox, keeping all page-structure
// knowledge out of this process.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mkravets/orderwatch/internal/model"
)

// Ensure SpoolFetcher implements model.Fetcher.
var _ model.Fetcher = (*SpoolFetcher)(nil)

// envelope is the wire form of one spool file.
type envelope struct {
	Signal  string      `json:"signal,omitempty"`  // "", "captcha", "rate_limit"
	Session string      `json:"session,omitempty"` // refreshed session state from the agent
	Records []rawRecord `json:"records"`
}

type rawRecord struct {
	ExternalID  string `json:"external_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	BudgetMin   *int64 `json:"budget_min"`
	BudgetMax   *int64 `json:"budget_max"`
	Language    string `json:"language"`
	URL         string `json:"url"`
	PostedAt    string `json:"posted_at,omitempty"` // RFC 3339
}

// response is the wire form of one outbox file.
type response struct {
	ExternalID  string    `json:"external_id"`
	URL         string    `json:"url"`
	Message     string    `json:"message"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// authFileName is the control file the external agent reads to authenticate.
// It carries sealed handles only, never plaintext.
const authFileName = "auth.json"

type authFile struct {
	Credentials []byte    `json:"credentials"`
	Session     []byte    `json:"session,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SpoolFetcher reads *.json batch files from dir in lexical order and
// deletes each file once consumed. Responses are written to outbox.
type SpoolFetcher struct {
	dir    string
	outbox string
	vault  model.Vault
	logger *slog.Logger
}

// Option configures a SpoolFetcher.
type Option func(*SpoolFetcher)

// WithVault wires the credential vault: sealed credential and session handles
// are published to the outbox for the external agent, and refreshed session
// state the agent drops in a batch envelope is persisted back through it.
func WithVault(v model.Vault) Option {
	return func(f *SpoolFetcher) { f.vault = v }
}

// NewSpoolFetcher ensures both directories exist.
func NewSpoolFetcher(dir, outbox string, logger *slog.Logger, opts ...Option) (*SpoolFetcher, error) {
	for _, d := range []string{dir, outbox} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", d, err)
		}
	}
	f := &SpoolFetcher{dir: dir, outbox: outbox, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// FetchBatch consumes every pending spool file. A file that fails to decode
// is renamed aside and skipped so one bad drop cannot wedge the loop. The
// strongest signal across the consumed files wins.
func (f *SpoolFetcher) FetchBatch(ctx context.Context) (model.Batch, error) {
	if f.vault != nil {
		if err := f.publishAuth(ctx); err != nil {
			f.logger.Warn("publishing auth handles failed", "error", err)
		}
	}

	names, err := f.pendingFiles()
	if err != nil {
		return model.Batch{}, &model.TransientError{Op: "listing spool", Err: err}
	}

	var batch model.Batch
	for _, name := range names {
		if ctx.Err() != nil {
			return model.Batch{}, ctx.Err()
		}

		path := filepath.Join(f.dir, name)
		env, err := readEnvelope(path)
		if err != nil {
			f.logger.Warn("skipping unreadable spool file", "file", name, "error", err)
			if renameErr := os.Rename(path, path+".bad"); renameErr != nil {
				f.logger.Error("quarantining spool file failed", "file", name, "error", renameErr)
			}
			continue
		}

		if env.Session != "" && f.vault != nil {
			if err := f.vault.SaveSession(ctx, []byte(env.Session)); err != nil {
				f.logger.Error("persisting refreshed session failed", "file", name, "error", err)
			}
		}

		for _, raw := range env.Records {
			batch.Records = append(batch.Records, raw.listing())
		}
		if sig := parseSignal(env.Signal); severity(sig) > severity(batch.Signal) {
			batch.Signal = sig
		}

		if err := os.Remove(path); err != nil {
			return model.Batch{}, &model.TransientError{Op: "consuming spool file", Err: err}
		}
	}

	if batch.Signal == model.SignalCaptcha {
		return model.Batch{Signal: model.SignalCaptcha}, nil
	}
	return batch, nil
}

// SubmitResponse writes the rendered message to the outbox for the external
// agent to deliver. Acceptance here means "queued", not "posted".
func (f *SpoolFetcher) SubmitResponse(_ context.Context, rec model.Listing, rendered string) (model.SubmitResult, error) {
	out := response{
		ExternalID:  rec.ExternalID,
		URL:         rec.URL,
		Message:     rendered,
		SubmittedAt: time.Now(),
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return model.SubmitRejected, fmt.Errorf("encoding response: %w", err)
	}

	name := fmt.Sprintf("%s-%d.json", rec.ExternalID, time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(f.outbox, name), raw, 0o644); err != nil {
		return model.SubmitRejected, &model.TransientError{Op: "writing outbox", Err: err}
	}
	return model.SubmitOK, nil
}

// publishAuth writes the sealed credential and session handles where the
// external agent can pick them up. Refreshed sessions flow back through the
// envelope's session field.
func (f *SpoolFetcher) publishAuth(ctx context.Context) error {
	creds, err := f.vault.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("sealing credentials: %w", err)
	}
	sess, err := f.vault.Session(ctx)
	if err != nil {
		return fmt.Errorf("loading session handle: %w", err)
	}

	out := authFile{Credentials: creds.Sealed(), UpdatedAt: time.Now()}
	if !sess.IsZero() {
		out.Session = sess.Sealed()
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding auth file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(f.outbox, authFileName), raw, 0o600); err != nil {
		return fmt.Errorf("writing auth file: %w", err)
	}
	return nil
}

func (f *SpoolFetcher) pendingFiles() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func readEnvelope(path string) (envelope, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return env, nil
}

func (r rawRecord) listing() model.Listing {
	l := model.Listing{
		ExternalID:   r.ExternalID,
		Title:        r.Title,
		Description:  r.Description,
		Category:     r.Category,
		BudgetMin:    r.BudgetMin,
		BudgetMax:    r.BudgetMax,
		LanguageCode: r.Language,
		URL:          r.URL,
	}
	if r.PostedAt != "" {
		if t, err := time.Parse(time.RFC3339, r.PostedAt); err == nil {
			l.PostedAt = &t
		}
	}
	return l
}

func parseSignal(s string) model.Signal {
	switch s {
	case "captcha":
		return model.SignalCaptcha
	case "rate_limit":
		return model.SignalRateLimit
	default:
		return model.SignalNone
	}
}

// severity ranks signals for merging across files; a challenge outranks a
// rate limit.
func severity(s model.Signal) int {
	switch s {
	case model.SignalCaptcha:
		return 2
	case model.SignalRateLimit:
		return 1
	default:
		return 0
	}
}
