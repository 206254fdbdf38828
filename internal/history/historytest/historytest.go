// Package historytest holds the behaviour every [history.Store] backend must
// share. Backend test files call [Run] with a constructor for a fresh, empty
// store.
package historytest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/shopvox/internal/history"
	"github.com/MrWong99/shopvox/pkg/types"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func entry(id, actor, query string, at time.Duration, sources ...types.Source) history.Entry {
	return history.Entry{
		ID:          id,
		ActorID:     actor,
		Query:       query,
		Sources:     sources,
		ResultCount: 3,
		Timestamp:   base.Add(at),
	}
}

// Run exercises newStore against the shared store contract.
func Run(t *testing.T, newStore func(t *testing.T) history.Store) {
	t.Helper()
	ctx := context.Background()
	policy := history.DefaultPolicy()

	t.Run("SaveAndListNewestFirst", func(t *testing.T) {
		s := newStore(t)
		for i, q := range []string{"phone", "laptop", "desk"} {
			if _, err := s.Save(ctx, entry(fmt.Sprintf("e%d", i), "actor", q, time.Duration(i)*2*time.Hour, types.SourceAmazon), policy); err != nil {
				t.Fatalf("Save %q: %v", q, err)
			}
		}
		got, err := s.List(ctx, "actor", 0)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 3 || got[0].Query != "desk" || got[2].Query != "phone" {
			t.Fatalf("List = %+v, want newest first", got)
		}
		limited, err := s.List(ctx, "actor", 2)
		if err != nil {
			t.Fatalf("List limit: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("limited = %d, want 2", len(limited))
		}
	})

	t.Run("DedupeWithinWindow", func(t *testing.T) {
		s := newStore(t)
		first, err := s.Save(ctx, entry("a", "actor", "phone", 0, types.SourceAmazon, types.SourceEbay), policy)
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		dup := entry("b", "actor", "phone", 30*time.Minute, types.SourceEbay, types.SourceAmazon)
		dup.ResultCount = 9
		saved, err := s.Save(ctx, dup, policy)
		if err != nil {
			t.Fatalf("Save dup: %v", err)
		}
		if saved.ID != first.ID || saved.ResultCount != 9 || !saved.Timestamp.Equal(dup.Timestamp) {
			t.Errorf("saved = %+v, want refreshed %s", saved, first.ID)
		}
		got, _ := s.List(ctx, "actor", 0)
		if len(got) != 1 {
			t.Fatalf("entries = %d, want 1", len(got))
		}
	})

	t.Run("NoDedupeOutsideWindowOrOtherSources", func(t *testing.T) {
		s := newStore(t)
		_, _ = s.Save(ctx, entry("a", "actor", "phone", 0, types.SourceAmazon), policy)
		_, _ = s.Save(ctx, entry("b", "actor", "phone", 2*time.Hour, types.SourceAmazon), policy)
		_, _ = s.Save(ctx, entry("c", "actor", "phone", 2*time.Hour+time.Minute, types.SourceWalmart), policy)
		got, _ := s.List(ctx, "actor", 0)
		if len(got) != 3 {
			t.Fatalf("entries = %d, want 3", len(got))
		}
	})

	t.Run("Retention", func(t *testing.T) {
		s := newStore(t)
		p := history.Policy{DedupeWindow: time.Hour, MaxPerActor: 3}
		for i := range 5 {
			if _, err := s.Save(ctx, entry(fmt.Sprintf("r%d", i), "actor", fmt.Sprintf("q%d", i), time.Duration(i)*time.Minute), p); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}
		got, _ := s.List(ctx, "actor", 0)
		if len(got) != 3 {
			t.Fatalf("entries = %d, want 3", len(got))
		}
		if got[0].ID != "r4" || got[2].ID != "r2" {
			t.Errorf("kept %s..%s, want r4..r2", got[0].ID, got[2].ID)
		}
	})

	t.Run("ActorsAreIsolated", func(t *testing.T) {
		s := newStore(t)
		_, _ = s.Save(ctx, entry("a", "alice", "phone", 0), policy)
		_, _ = s.Save(ctx, entry("b", "bob", "phone", 0), policy)
		got, _ := s.List(ctx, "alice", 0)
		if len(got) != 1 || got[0].ActorID != "alice" {
			t.Errorf("alice entries = %+v", got)
		}
		if err := s.Delete(ctx, "alice", "b"); !errors.Is(err, history.ErrNotFound) {
			t.Errorf("cross-actor Delete err = %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteAndClear", func(t *testing.T) {
		s := newStore(t)
		_, _ = s.Save(ctx, entry("a", "actor", "phone", 0), policy)
		_, _ = s.Save(ctx, entry("b", "actor", "laptop", time.Minute), policy)
		_, _ = s.Save(ctx, entry("c", "actor", "desk", 2*time.Minute), policy)

		if err := s.Delete(ctx, "actor", "b"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Delete(ctx, "actor", "b"); !errors.Is(err, history.ErrNotFound) {
			t.Errorf("second Delete err = %v, want ErrNotFound", err)
		}
		n, err := s.Clear(ctx, "actor")
		if err != nil {
			t.Fatalf("Clear: %v", err)
		}
		if n != 2 {
			t.Errorf("cleared = %d, want 2", n)
		}
		got, _ := s.List(ctx, "actor", 0)
		if len(got) != 0 {
			t.Errorf("entries after Clear = %d", len(got))
		}
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}
