package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/shopvox/internal/history"
	"github.com/MrWong99/shopvox/pkg/types"
)

var _ history.Store = (*Store)(nil)

// Store is the PostgreSQL history store. It holds a single [pgxpool.Pool].
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Save implements history.Store. The actor's rows are locked for the
// duration of the transaction so concurrent saves for one actor serialise.
func (s *Store) Save(ctx context.Context, e history.Entry, p history.Policy) (history.Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return history.Entry{}, fmt.Errorf("postgres store: save: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const qLock = `
		SELECT id, actor_id, query, sources, result_count, searched_at
		FROM   search_history
		WHERE  actor_id = $1
		FOR UPDATE`
	rows, err := tx.Query(ctx, qLock, e.ActorID)
	if err != nil {
		return history.Entry{}, fmt.Errorf("postgres store: save: select: %w", err)
	}
	existing, err := collectEntries(rows)
	if err != nil {
		return history.Entry{}, fmt.Errorf("postgres store: save: %w", err)
	}

	saved, evict := history.Merge(existing, e, p)

	const qUpsert = `
		INSERT INTO search_history (id, actor_id, query, sources, result_count, searched_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		    SET result_count = EXCLUDED.result_count,
		        searched_at  = EXCLUDED.searched_at`
	if _, err := tx.Exec(ctx, qUpsert,
		saved.ID,
		saved.ActorID,
		saved.Query,
		sourceStrings(saved.Sources),
		saved.ResultCount,
		saved.Timestamp,
	); err != nil {
		return history.Entry{}, fmt.Errorf("postgres store: save: upsert: %w", err)
	}

	if len(evict) > 0 {
		const qEvict = `DELETE FROM search_history WHERE actor_id = $1 AND id = ANY($2)`
		if _, err := tx.Exec(ctx, qEvict, e.ActorID, evict); err != nil {
			return history.Entry{}, fmt.Errorf("postgres store: save: evict: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return history.Entry{}, fmt.Errorf("postgres store: save: commit: %w", err)
	}
	return saved, nil
}

// List implements history.Store.
func (s *Store) List(ctx context.Context, actorID string, limit int) ([]history.Entry, error) {
	q := `
		SELECT id, actor_id, query, sources, result_count, searched_at
		FROM   search_history
		WHERE  actor_id = $1
		ORDER  BY searched_at DESC, id`
	args := []any{actorID}
	if limit > 0 {
		q += "\nLIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	return entries, nil
}

// Delete implements history.Store.
func (s *Store) Delete(ctx context.Context, actorID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM search_history WHERE actor_id = $1 AND id = $2`, actorID, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return history.ErrNotFound
	}
	return nil
}

// Clear implements history.Store.
func (s *Store) Clear(ctx context.Context, actorID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM search_history WHERE actor_id = $1`, actorID)
	if err != nil {
		return 0, fmt.Errorf("postgres store: clear: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping implements history.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements history.Store. It releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// collectEntries scans pgx rows into history entries.
func collectEntries(rows pgx.Rows) ([]history.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Entry, error) {
		var (
			e       history.Entry
			sources []string
			ts      time.Time
		)
		if err := row.Scan(&e.ID, &e.ActorID, &e.Query, &sources, &e.ResultCount, &ts); err != nil {
			return history.Entry{}, err
		}
		e.Sources = make([]types.Source, len(sources))
		for i, src := range sources {
			e.Sources[i] = types.Source(src)
		}
		e.Timestamp = ts.UTC()
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect entries: %w", err)
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return entries, nil
}

func sourceStrings(sources []types.Source) []string {
	out := make([]string, len(sources))
	for i, src := range sources {
		out[i] = string(src)
	}
	return out
}
