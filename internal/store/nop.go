package store

import (
	"context"
	"time"

	"github.com/mkravets/orderwatch/internal/model"
)

// NopStore is a no-op store used in dry-run mode. Nothing is persisted, so
// every listing appears new on each cycle.
type NopStore struct{}

func NewNopStore() *NopStore { return &NopStore{} }

func (s *NopStore) LoadDedup(_ context.Context) ([]model.DedupEntry, error) { return nil, nil }
func (s *NopStore) SaveDedup(_ context.Context, _ model.DedupEntry) error   { return nil }
func (s *NopStore) CleanupDedup(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func (s *NopStore) LoadSubscribers(_ context.Context) ([]model.Subscriber, error) { return nil, nil }
func (s *NopStore) SaveFilter(_ context.Context, _ int64, _ model.FilterRule) error {
	return nil
}
func (s *NopStore) DeleteFilter(_ context.Context, _ int64, _ string) error { return nil }
func (s *NopStore) SaveTemplate(_ context.Context, _ int64, _ string) error { return nil }

func (s *NopStore) LoadSession(_ context.Context, _ string) ([]byte, error) { return nil, nil }
func (s *NopStore) SaveSession(_ context.Context, _ string, _ []byte) error { return nil }
