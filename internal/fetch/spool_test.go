package fetch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mkravets/orderwatch/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFetcher(t *testing.T) (*SpoolFetcher, string, string) {
	t.Helper()
	dir := t.TempDir()
	spool := filepath.Join(dir, "spool")
	outbox := filepath.Join(dir, "outbox")
	f, err := NewSpoolFetcher(spool, outbox, discardLogger())
	if err != nil {
		t.Fatalf("NewSpoolFetcher: %v", err)
	}
	return f, spool, outbox
}

func writeSpool(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing spool file: %v", err)
	}
}

// memVault is a model.Vault whose "sealing" is a visible prefix, so tests can
// assert what ends up in the auth file.
type memVault struct {
	sealedSession []byte
	saved         [][]byte
}

func (v *memVault) Credentials(context.Context) (model.Handle, error) {
	return model.NewHandle([]byte("sealed-creds")), nil
}

func (v *memVault) Session(context.Context) (model.Handle, error) {
	if v.sealedSession == nil {
		return model.Handle{}, nil
	}
	return model.NewHandle(v.sealedSession), nil
}

func (v *memVault) SaveSession(_ context.Context, plaintext []byte) error {
	v.saved = append(v.saved, append([]byte(nil), plaintext...))
	v.sealedSession = append([]byte("sealed:"), plaintext...)
	return nil
}

func readAuthFile(t *testing.T, outbox string) authFile {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(outbox, authFileName))
	if err != nil {
		t.Fatalf("reading auth file: %v", err)
	}
	var out authFile
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decoding auth file: %v", err)
	}
	return out
}

func TestFetchBatch_PublishesAuthHandles(t *testing.T) {
	dir := t.TempDir()
	spool, outbox := filepath.Join(dir, "spool"), filepath.Join(dir, "outbox")
	v := &memVault{}
	f, err := NewSpoolFetcher(spool, outbox, discardLogger(), WithVault(v))
	if err != nil {
		t.Fatalf("NewSpoolFetcher: %v", err)
	}

	if _, err := f.FetchBatch(context.Background()); err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}

	auth := readAuthFile(t, outbox)
	if string(auth.Credentials) != "sealed-creds" {
		t.Errorf("credentials = %q, want the sealed handle", auth.Credentials)
	}
	if auth.Session != nil {
		t.Errorf("session = %q, want absent before any session is saved", auth.Session)
	}
}

func TestFetchBatch_PersistsRefreshedSession(t *testing.T) {
	dir := t.TempDir()
	spool, outbox := filepath.Join(dir, "spool"), filepath.Join(dir, "outbox")
	v := &memVault{}
	f, err := NewSpoolFetcher(spool, outbox, discardLogger(), WithVault(v))
	if err != nil {
		t.Fatalf("NewSpoolFetcher: %v", err)
	}

	writeSpool(t, spool, "001.json", `{"session":"cookie-jar-v2","records":[{"external_id":"1","title":"x"}]}`)

	batch, err := f.FetchBatch(context.Background())
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if len(batch.Records) != 1 {
		t.Errorf("records = %d, want 1: session field must not eat the batch", len(batch.Records))
	}
	if len(v.saved) != 1 || string(v.saved[0]) != "cookie-jar-v2" {
		t.Fatalf("saved sessions = %q, want the envelope's session state", v.saved)
	}

	// The next publish carries the refreshed session handle.
	if _, err := f.FetchBatch(context.Background()); err != nil {
		t.Fatalf("second FetchBatch: %v", err)
	}
	auth := readAuthFile(t, outbox)
	if string(auth.Session) != "sealed:cookie-jar-v2" {
		t.Errorf("session handle = %q, want the sealed refreshed session", auth.Session)
	}
}

func TestFetchBatch_EmptySpool(t *testing.T) {
	f, _, _ := newTestFetcher(t)

	batch, err := f.FetchBatch(context.Background())
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if len(batch.Records) != 0 || batch.Signal != model.SignalNone {
		t.Errorf("batch = %+v, want empty", batch)
	}
}

func TestFetchBatch_ConsumesFilesInOrder(t *testing.T) {
	f, spool, _ := newTestFetcher(t)

	writeSpool(t, spool, "002.json", `{"records":[{"external_id":"2","title":"Логотип для пекарни"}]}`)
	writeSpool(t, spool, "001.json", `{"records":[{"external_id":"1","title":"Логотип для кофейни","budget_min":2000,"budget_max":5000,"language":"ru","posted_at":"2026-08-20T10:00:00Z"}]}`)

	batch, err := f.FetchBatch(context.Background())
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if len(batch.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(batch.Records))
	}
	if batch.Records[0].ExternalID != "1" || batch.Records[1].ExternalID != "2" {
		t.Errorf("order = %s, %s, want lexical file order", batch.Records[0].ExternalID, batch.Records[1].ExternalID)
	}

	first := batch.Records[0]
	if first.BudgetMin == nil || *first.BudgetMin != 2000 || first.LanguageCode != "ru" {
		t.Errorf("record fields not decoded: %+v", first)
	}
	if first.PostedAt == nil || !first.PostedAt.Equal(time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("posted_at not decoded: %v", first.PostedAt)
	}

	// Files are consumed; a second fetch is empty.
	batch, err = f.FetchBatch(context.Background())
	if err != nil {
		t.Fatalf("second FetchBatch: %v", err)
	}
	if len(batch.Records) != 0 {
		t.Errorf("second fetch = %d records, want 0", len(batch.Records))
	}
}

func TestFetchBatch_CaptchaSignalSuppressesRecords(t *testing.T) {
	f, spool, _ := newTestFetcher(t)

	writeSpool(t, spool, "001.json", `{"signal":"captcha","records":[{"external_id":"1","title":"x"}]}`)

	batch, err := f.FetchBatch(context.Background())
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if batch.Signal != model.SignalCaptcha {
		t.Errorf("signal = %v, want captcha", batch.Signal)
	}
	if len(batch.Records) != 0 {
		t.Errorf("records = %d, want 0 on a challenged batch", len(batch.Records))
	}
}

func TestFetchBatch_CaptchaOutranksRateLimit(t *testing.T) {
	f, spool, _ := newTestFetcher(t)

	writeSpool(t, spool, "001.json", `{"signal":"rate_limit","records":[]}`)
	writeSpool(t, spool, "002.json", `{"signal":"captcha","records":[]}`)

	batch, err := f.FetchBatch(context.Background())
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if batch.Signal != model.SignalCaptcha {
		t.Errorf("signal = %v, want captcha", batch.Signal)
	}
}

func TestFetchBatch_QuarantinesBadFile(t *testing.T) {
	f, spool, _ := newTestFetcher(t)

	writeSpool(t, spool, "001.json", `{not json`)
	writeSpool(t, spool, "002.json", `{"records":[{"external_id":"2","title":"ok"}]}`)

	batch, err := f.FetchBatch(context.Background())
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if len(batch.Records) != 1 || batch.Records[0].ExternalID != "2" {
		t.Errorf("records = %+v, want only the good one", batch.Records)
	}

	if _, err := os.Stat(filepath.Join(spool, "001.json.bad")); err != nil {
		t.Errorf("bad file not quarantined: %v", err)
	}
}

func TestSubmitResponse_WritesOutboxFile(t *testing.T) {
	f, _, outbox := newTestFetcher(t)

	rec := model.Listing{ExternalID: "123", URL: "https://example.com/orders/123"}
	res, err := f.SubmitResponse(context.Background(), rec, "Здравствуйте! Готов взяться.")
	if err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}
	if res != model.SubmitOK {
		t.Errorf("result = %v, want SubmitOK", res)
	}

	entries, err := os.ReadDir(outbox)
	if err != nil {
		t.Fatalf("reading outbox: %v", err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "123-") {
		t.Fatalf("outbox = %v, want one file for listing 123", entries)
	}

	raw, err := os.ReadFile(filepath.Join(outbox, entries[0].Name()))
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	var out struct {
		ExternalID string `json:"external_id"`
		Message    string `json:"message"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out.ExternalID != "123" || !strings.Contains(out.Message, "Готов взяться") {
		t.Errorf("response = %+v", out)
	}
}
