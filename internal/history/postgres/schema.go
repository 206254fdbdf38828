// Package postgres provides a PostgreSQL-backed [history.Store].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	svc := history.NewService(store)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSearchHistory = `
CREATE TABLE IF NOT EXISTS search_history (
    id            TEXT         PRIMARY KEY,
    actor_id      TEXT         NOT NULL,
    query         TEXT         NOT NULL,
    sources       TEXT[]       NOT NULL DEFAULT '{}',
    result_count  INTEGER      NOT NULL DEFAULT 0,
    searched_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_search_history_actor_time
    ON search_history (actor_id, searched_at DESC);
`

// Migrate creates the search_history table and its index. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSearchHistory); err != nil {
		return fmt.Errorf("migrate: search_history: %w", err)
	}
	return nil
}
