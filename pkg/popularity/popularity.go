// Package popularity persists cumulative request counts per normalized
// query. Counts drive the cache TTL tiers and survive process restarts.
package popularity

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tracker records and reads query popularity. Implementations must make
// RecordAndCount atomic under concurrent callers: two simultaneous requests
// for the same key never observe the same post-increment value.
type Tracker interface {
	// RecordAndCount increments the persisted counter for key and returns
	// the post-increment value.
	RecordAndCount(ctx context.Context, key, queryText string) (int, error)

	// Count returns the current counter for key without incrementing.
	Count(ctx context.Context, key string) (int, error)
}

// TopQuery is one row of the popularity leaderboard.
type TopQuery struct {
	QueryText string
	Count     int
	LastSeen  time.Time
}

// SQLTracker stores counters in the search_stats table. The increment is a
// single UPSERT..RETURNING statement, so atomicity comes from SQLite itself.
type SQLTracker struct {
	db *sql.DB
}

func NewSQLTracker(db *sql.DB) *SQLTracker {
	return &SQLTracker{db: db}
}

func (t *SQLTracker) RecordAndCount(ctx context.Context, key, queryText string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var count int
	err := t.db.QueryRowContext(ctx, `
		INSERT INTO search_stats (query_key, query_text, search_count, first_seen, last_seen)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(query_key) DO UPDATE SET
			search_count = search_count + 1,
			last_seen = excluded.last_seen
		RETURNING search_count
	`, key, queryText, now, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("recording search stat: %w", err)
	}

	return count, nil
}

func (t *SQLTracker) Count(ctx context.Context, key string) (int, error) {
	var count int
	err := t.db.QueryRowContext(ctx, "SELECT search_count FROM search_stats WHERE query_key = ?", key).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading search stat: %w", err)
	}
	return count, nil
}

// TopQueries returns the most requested queries, most popular first.
func (t *SQLTracker) TopQueries(ctx context.Context, limit int) ([]TopQuery, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := t.db.QueryContext(ctx, `
		SELECT query_text, search_count, last_seen
		FROM search_stats
		ORDER BY search_count DESC, last_seen DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top searches: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []TopQuery
	for rows.Next() {
		var q TopQuery
		var lastSeen string
		if err := rows.Scan(&q.QueryText, &q.Count, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning stat row: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, lastSeen); err == nil {
			q.LastSeen = ts
		}
		out = append(out, q)
	}

	return out, rows.Err()
}
