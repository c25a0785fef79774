// Package vault seals credentials and session state so the pipeline only
// ever handles opaque ciphertext. Collaborators that genuinely need the
// plaintext (the fetcher logging in) open handles through the vault.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mkravets/orderwatch/internal/model"
)

// Ensure Vault implements model.Vault.
var _ model.Vault = (*Vault)(nil)

// Credentials is the account secret the fetcher needs to authenticate.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Vault encrypts with AES-256-GCM under a single deployment key. Session
// blobs are persisted through the store, already sealed.
type Vault struct {
	aead      cipher.AEAD
	creds     Credentials
	store     model.Store
	sessionID string
}

// New builds a vault from a 64-character hex key (32 bytes).
func New(keyHex string, creds Credentials, store model.Store, sessionID string) (*Vault, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding vault key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing gcm: %w", err)
	}

	return &Vault{aead: aead, creds: creds, store: store, sessionID: sessionID}, nil
}

// Credentials seals the account credentials into a handle.
func (v *Vault) Credentials(_ context.Context) (model.Handle, error) {
	plain, err := json.Marshal(v.creds)
	if err != nil {
		return model.Handle{}, fmt.Errorf("encoding credentials: %w", err)
	}
	sealed, err := v.seal(plain)
	if err != nil {
		return model.Handle{}, err
	}
	return model.NewHandle(sealed), nil
}

// Session returns the stored session handle, or a zero handle when no
// session has been saved yet.
func (v *Vault) Session(ctx context.Context) (model.Handle, error) {
	blob, err := v.store.LoadSession(ctx, v.sessionID)
	if err != nil {
		return model.Handle{}, fmt.Errorf("loading session: %w", err)
	}
	if blob == nil {
		return model.Handle{}, nil
	}
	return model.NewHandle(blob), nil
}

// SaveSession seals the plaintext session state and persists it.
func (v *Vault) SaveSession(ctx context.Context, plaintext []byte) error {
	sealed, err := v.seal(plaintext)
	if err != nil {
		return err
	}
	if err := v.store.SaveSession(ctx, v.sessionID, sealed); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Open decrypts a handle. Tampered or foreign ciphertext fails
// authentication.
func (v *Vault) Open(h model.Handle) ([]byte, error) {
	sealed := h.Sealed()
	if len(sealed) < v.aead.NonceSize() {
		return nil, fmt.Errorf("sealed blob too short")
	}
	nonce, ciphertext := sealed[:v.aead.NonceSize()], sealed[v.aead.NonceSize():]
	plain, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("opening sealed blob: %w", err)
	}
	return plain, nil
}

// OpenCredentials decrypts a credentials handle back into structured form.
func (v *Vault) OpenCredentials(h model.Handle) (Credentials, error) {
	plain, err := v.Open(h)
	if err != nil {
		return Credentials{}, err
	}
	var c Credentials
	if err := json.Unmarshal(plain, &c); err != nil {
		return Credentials{}, fmt.Errorf("decoding credentials: %w", err)
	}
	return c, nil
}

// seal encrypts plaintext with a fresh random nonce, prepended to the
// ciphertext.
func (v *Vault) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}
