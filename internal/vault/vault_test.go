package vault

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mkravets/orderwatch/internal/model"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

// memSessions is a Store stub holding only session blobs.
type memSessions struct {
	blobs map[string][]byte
}

func newMemSessions() *memSessions {
	return &memSessions{blobs: make(map[string][]byte)}
}

func (m *memSessions) LoadSession(_ context.Context, id string) ([]byte, error) {
	return m.blobs[id], nil
}

func (m *memSessions) SaveSession(_ context.Context, id string, blob []byte) error {
	m.blobs[id] = append([]byte(nil), blob...)
	return nil
}

func (m *memSessions) LoadDedup(_ context.Context) ([]model.DedupEntry, error) { return nil, nil }
func (m *memSessions) SaveDedup(_ context.Context, _ model.DedupEntry) error   { return nil }
func (m *memSessions) CleanupDedup(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}
func (m *memSessions) LoadSubscribers(_ context.Context) ([]model.Subscriber, error) {
	return nil, nil
}
func (m *memSessions) SaveFilter(_ context.Context, _ int64, _ model.FilterRule) error { return nil }
func (m *memSessions) DeleteFilter(_ context.Context, _ int64, _ string) error         { return nil }
func (m *memSessions) SaveTemplate(_ context.Context, _ int64, _ string) error         { return nil }

func newTestVault(t *testing.T) (*Vault, *memSessions) {
	t.Helper()
	store := newMemSessions()
	v, err := New(testKey, Credentials{Login: "maria", Password: "s3cret"}, store, "primary")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v, store
}

func TestNew_RejectsBadKeys(t *testing.T) {
	store := newMemSessions()

	if _, err := New("not-hex", Credentials{}, store, "s"); err == nil {
		t.Error("expected error for non-hex key")
	}
	if _, err := New("abcd", Credentials{}, store, "s"); err == nil {
		t.Error("expected error for short key")
	}
}

func TestCredentials_RoundTrip(t *testing.T) {
	v, _ := newTestVault(t)

	h, err := v.Credentials(context.Background())
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if h.IsZero() {
		t.Fatal("handle is zero")
	}
	// The sealed blob must not leak the plaintext.
	if strings.Contains(string(h.Sealed()), "s3cret") {
		t.Error("plaintext visible in sealed blob")
	}

	creds, err := v.OpenCredentials(h)
	if err != nil {
		t.Fatalf("OpenCredentials: %v", err)
	}
	if creds.Login != "maria" || creds.Password != "s3cret" {
		t.Errorf("creds = %+v", creds)
	}
}

func TestOpen_DetectsTampering(t *testing.T) {
	v, _ := newTestVault(t)

	h, err := v.Credentials(context.Background())
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}

	sealed := h.Sealed()
	sealed[len(sealed)-1] ^= 0xff
	if _, err := v.Open(model.NewHandle(sealed)); err == nil {
		t.Error("expected authentication failure for tampered blob")
	}
}

func TestOpen_RejectsForeignKey(t *testing.T) {
	v, _ := newTestVault(t)
	other, err := New(strings.Repeat("ab", 32), Credentials{}, newMemSessions(), "primary")
	if err != nil {
		t.Fatalf("New (other): %v", err)
	}

	h, err := v.Credentials(context.Background())
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if _, err := other.Open(h); err == nil {
		t.Error("expected failure opening with a different key")
	}
}

func TestSession_SaveThenLoad(t *testing.T) {
	v, store := newTestVault(t)
	ctx := context.Background()

	h, err := v.Session(ctx)
	if err != nil {
		t.Fatalf("Session (absent): %v", err)
	}
	if !h.IsZero() {
		t.Error("expected zero handle before any save")
	}

	state := []byte(`{"cookies":["sid=abc"]}`)
	if err := v.SaveSession(ctx, state); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if strings.Contains(string(store.blobs["primary"]), "sid=abc") {
		t.Error("session stored in plaintext")
	}

	h, err = v.Session(ctx)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	plain, err := v.Open(h)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(plain) != string(state) {
		t.Errorf("session = %q, want %q", plain, state)
	}
}
