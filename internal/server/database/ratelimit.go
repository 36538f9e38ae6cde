package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// RateLimitStore keeps fixed admission windows in Postgres so every server
// instance shares them.
type RateLimitStore struct {
	db *DB
}

func NewRateLimitStore(db *DB) *RateLimitStore {
	return &RateLimitStore{db: db}
}

// Hit records one request for clientID and reports whether it is admitted.
// The read, the decision and the write happen in a single statement: a new
// or lapsed window restarts at 1, an active window under limit increments,
// and a full window matches no row, which means deny without counting.
func (s *RateLimitStore) Hit(ctx context.Context, clientID string, now time.Time, window time.Duration, limit int) (int, bool, error) {
	var count int
	err := s.db.Pool.QueryRow(ctx, `
		INSERT INTO rate_limits AS rl (client_id, request_count, window_start)
		VALUES ($1, 1, $2)
		ON CONFLICT (client_id) DO UPDATE SET
			request_count = CASE WHEN rl.window_start <= $3 THEN 1 ELSE rl.request_count + 1 END,
			window_start  = CASE WHEN rl.window_start <= $3 THEN EXCLUDED.window_start ELSE rl.window_start END
		WHERE rl.window_start <= $3 OR rl.request_count < $4
		RETURNING request_count
	`, clientID, now, now.Add(-window), limit).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return limit, false, nil
		}
		return 0, false, fmt.Errorf("failed to record rate limit hit: %w", err)
	}
	return count, true, nil
}

// Prune drops windows that started before cutoff.
func (s *RateLimitStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, "DELETE FROM rate_limits WHERE window_start < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune rate limits: %w", err)
	}
	return tag.RowsAffected(), nil
}
