package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/civisearch/civisearch/pkg/log"
)

// Entry is one cached result page. Payload is the uncompressed serialized
// page; stores may compress at rest.
type Entry struct {
	Key        string
	Payload    []byte
	ComputedAt time.Time
	ExpiresAt  time.Time
}

// Store persists cache entries. Get must treat entries with
// ExpiresAt <= now as absent regardless of physical presence, and Put must
// be all-or-nothing: a concurrent Get never observes a partial entry.
type Store interface {
	Get(ctx context.Context, key string, now time.Time) (*Entry, error)
	Put(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Count(ctx context.Context) (int, error)
}

// SQLStore keeps entries in the search_cache table with zstd-compressed
// payloads. A Put is a single UPSERT statement, so readers either see the
// previous complete row or the new one.
type SQLStore struct {
	db      *sql.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  *log.Logger
}

func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &SQLStore{
		db:      db,
		encoder: encoder,
		decoder: decoder,
		logger:  log.ForService("cache"),
	}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string, now time.Time) (*Entry, error) {
	var compressed []byte
	var computedAt, expiresAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, computed_at, expires_at
		FROM search_cache
		WHERE cache_key = ? AND expires_at > ?
	`, key, now.UTC().Format(time.RFC3339)).Scan(&compressed, &computedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}

	payload, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		// A corrupt row is a miss, not a failure; drop it so the next
		// write replaces it.
		s.logger.Warnf("dropping corrupt cache entry %s: %v", key, err)
		_ = s.Delete(ctx, key)
		return nil, nil
	}

	entry := &Entry{Key: key, Payload: payload}
	if ts, err := time.Parse(time.RFC3339, computedAt); err == nil {
		entry.ComputedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, expiresAt); err == nil {
		entry.ExpiresAt = ts
	}
	return entry, nil
}

func (s *SQLStore) Put(ctx context.Context, entry Entry) error {
	compressed := s.encoder.EncodeAll(entry.Payload, nil)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO search_cache (cache_key, payload, computed_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, entry.Key, compressed,
		entry.ComputedAt.UTC().Format(time.RFC3339),
		entry.ExpiresAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM search_cache WHERE cache_key = ?", key)
	if err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM search_cache WHERE expires_at <= ?",
		now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting expired cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM search_cache").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cache entries: %w", err)
	}
	return n, nil
}

// MemStore is an in-memory Store used by tests that need controllable
// timing around the at-most-one-concurrent-compute guarantee.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]Entry

	// Hooks let tests inject latency or failures.
	OnGet func(key string) error
	OnPut func(entry Entry) error
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]Entry)}
}

func (s *MemStore) Get(ctx context.Context, key string, now time.Time) (*Entry, error) {
	if s.OnGet != nil {
		if err := s.OnGet(key); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || !entry.ExpiresAt.After(now) {
		return nil, nil
	}
	out := entry
	out.Payload = append([]byte(nil), entry.Payload...)
	return &out, nil
}

func (s *MemStore) Put(ctx context.Context, entry Entry) error {
	if s.OnPut != nil {
		if err := s.OnPut(entry); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Payload = append([]byte(nil), entry.Payload...)
	s.entries[entry.Key] = entry
	return nil
}

func (s *MemStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, entry := range s.entries {
		if !entry.ExpiresAt.After(now) {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

func (s *MemStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}
