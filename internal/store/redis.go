package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkravets/orderwatch/internal/filter"
	"github.com/mkravets/orderwatch/internal/model"
)

// Key layout. Dedup entries and subscribers are JSON values in hashes so a
// save replaces the whole record atomically, matching the SQLite upserts.
const (
	keyDedup       = "orderwatch:dedup"       // hash: external_id -> dedup entry JSON
	keySubscribers = "orderwatch:subscribers" // hash: id -> subscriber JSON (without filters)
	keySessions    = "orderwatch:sessions"    // hash: id -> sealed blob
	filtersPrefix  = "orderwatch:filters:"    // hash per subscriber: name -> rule JSON
	templatePrefix = "orderwatch:template:"   // string per subscriber
)

// RedisStore is the alternative backend for deployments that already run
// Redis. Semantics match SQLiteStore.
type RedisStore struct {
	client *redis.Client
}

// dedupRecord is the wire form of a dedup entry in Redis.
type dedupRecord struct {
	ExternalID  string           `json:"external_id"`
	Title       string           `json:"title"`
	URL         string           `json:"url"`
	FirstSeenAt time.Time        `json:"first_seen_at"`
	ContentHash string           `json:"content_hash"`
	Notified    map[int64]string `json:"notified"`
}

// subscriberRecord is the wire form of a subscriber in Redis, filters held in
// a separate hash.
type subscriberRecord struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	ChatID int64  `json:"chat_id"`
}

// NewRedisStore parses redisURL, verifies connectivity and returns a store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) LoadDedup(ctx context.Context) ([]model.DedupEntry, error) {
	raw, err := s.client.HGetAll(ctx, keyDedup).Result()
	if err != nil {
		return nil, fmt.Errorf("loading dedup entries: %w", err)
	}

	out := make([]model.DedupEntry, 0, len(raw))
	for id, v := range raw {
		var rec dedupRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("decoding dedup entry %s: %w", id, err)
		}
		out = append(out, model.DedupEntry{
			ExternalID:  rec.ExternalID,
			Title:       rec.Title,
			URL:         rec.URL,
			FirstSeenAt: rec.FirstSeenAt,
			ContentHash: rec.ContentHash,
			Notified:    rec.Notified,
		})
	}
	return out, nil
}

func (s *RedisStore) SaveDedup(ctx context.Context, e model.DedupEntry) error {
	raw, err := json.Marshal(dedupRecord{
		ExternalID:  e.ExternalID,
		Title:       e.Title,
		URL:         e.URL,
		FirstSeenAt: e.FirstSeenAt,
		ContentHash: e.ContentHash,
		Notified:    e.Notified,
	})
	if err != nil {
		return fmt.Errorf("encoding dedup entry %s: %w", e.ExternalID, err)
	}

	if err := s.client.HSet(ctx, keyDedup, e.ExternalID, raw).Err(); err != nil {
		return fmt.Errorf("saving dedup entry %s: %w", e.ExternalID, err)
	}
	return nil
}

// CleanupDedup scans the dedup hash and removes entries outside the retention
// window. Redis has no per-field TTL on hashes, so this is a full scan; the
// retention sweep runs daily, not per cycle.
func (s *RedisStore) CleanupDedup(ctx context.Context, olderThan time.Duration) (int64, error) {
	entries, err := s.LoadDedup(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	var stale []string
	for _, e := range entries {
		if e.FirstSeenAt.Before(cutoff) {
			stale = append(stale, e.ExternalID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	removed, err := s.client.HDel(ctx, keyDedup, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("cleaning up dedup entries: %w", err)
	}
	return removed, nil
}

func (s *RedisStore) LoadSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	raw, err := s.client.HGetAll(ctx, keySubscribers).Result()
	if err != nil {
		return nil, fmt.Errorf("loading subscribers: %w", err)
	}

	subs := make([]model.Subscriber, 0, len(raw))
	for id, v := range raw {
		var rec subscriberRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("decoding subscriber %s: %w", id, err)
		}

		sub := model.Subscriber{ID: rec.ID, Name: rec.Name, ChatID: rec.ChatID}

		tmpl, err := s.client.Get(ctx, templateKey(rec.ID)).Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("loading template for subscriber %d: %w", rec.ID, err)
		}
		sub.Template = tmpl

		rules, err := s.client.HGetAll(ctx, filtersKey(rec.ID)).Result()
		if err != nil {
			return nil, fmt.Errorf("loading filters for subscriber %d: %w", rec.ID, err)
		}
		for name, rv := range rules {
			var rule model.FilterRule
			if err := json.Unmarshal([]byte(rv), &rule); err != nil {
				return nil, fmt.Errorf("decoding filter %q for subscriber %d: %w", name, rec.ID, err)
			}
			sub.Filters = append(sub.Filters, rule)
		}

		subs = append(subs, sub)
	}
	return subs, nil
}

// SaveSubscriber upserts a subscriber record. Filters and template are
// managed separately, matching the SQLite backend.
func (s *RedisStore) SaveSubscriber(ctx context.Context, sub model.Subscriber) error {
	raw, err := json.Marshal(subscriberRecord{ID: sub.ID, Name: sub.Name, ChatID: sub.ChatID})
	if err != nil {
		return fmt.Errorf("encoding subscriber %d: %w", sub.ID, err)
	}
	if err := s.client.HSet(ctx, keySubscribers, fmt.Sprint(sub.ID), raw).Err(); err != nil {
		return fmt.Errorf("saving subscriber %d: %w", sub.ID, err)
	}
	if sub.Template != "" {
		return s.SaveTemplate(ctx, sub.ID, sub.Template)
	}
	return nil
}

// SaveFilter upserts one named filter rule. Malformed rules are rejected here
// so the match path never sees one.
func (s *RedisStore) SaveFilter(ctx context.Context, subscriberID int64, f model.FilterRule) error {
	if err := filter.Validate(f); err != nil {
		return err
	}

	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding filter %q: %w", f.Name, err)
	}
	if err := s.client.HSet(ctx, filtersKey(subscriberID), f.Name, raw).Err(); err != nil {
		return fmt.Errorf("saving filter %q for subscriber %d: %w", f.Name, subscriberID, err)
	}
	return nil
}

func (s *RedisStore) DeleteFilter(ctx context.Context, subscriberID int64, name string) error {
	if err := s.client.HDel(ctx, filtersKey(subscriberID), name).Err(); err != nil {
		return fmt.Errorf("deleting filter %q for subscriber %d: %w", name, subscriberID, err)
	}
	return nil
}

func (s *RedisStore) SaveTemplate(ctx context.Context, subscriberID int64, text string) error {
	if err := s.client.Set(ctx, templateKey(subscriberID), text, 0).Err(); err != nil {
		return fmt.Errorf("saving template for subscriber %d: %w", subscriberID, err)
	}
	return nil
}

func (s *RedisStore) LoadSession(ctx context.Context, id string) ([]byte, error) {
	blob, err := s.client.HGet(ctx, keySessions, id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return blob, nil
}

func (s *RedisStore) SaveSession(ctx context.Context, id string, blob []byte) error {
	if err := s.client.HSet(ctx, keySessions, id, blob).Err(); err != nil {
		return fmt.Errorf("saving session %s: %w", id, err)
	}
	return nil
}

// Close releases the client's connections.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func filtersKey(subscriberID int64) string {
	return fmt.Sprintf("%s%d", filtersPrefix, subscriberID)
}

func templateKey(subscriberID int64) string {
	return fmt.Sprintf("%s%d", templatePrefix, subscriberID)
}
