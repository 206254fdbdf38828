// Package history stores the searches each actor has run.
//
// A [Store] persists [Entry] values. Every backend applies the same
// [Policy] on save: a search repeating the same query over the same source
// set within the dedupe window refreshes the existing entry instead of adding
// one, and only the newest MaxPerActor entries are kept. [Merge] implements
// both rules so that backends stay consistent.
//
// [Service] adds ID generation, actor normalisation and analytics on top of a
// Store; [Recorder] feeds it from the search orchestrator without blocking.
package history

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/shopvox/pkg/types"
)

var (
	// ErrPersist wraps any store failure surfaced by [Recorder].
	ErrPersist = errors.New("history: persist failed")

	// ErrNotFound is returned by Delete for an unknown entry.
	ErrNotFound = errors.New("history: entry not found")

	// ErrInvalidActor is returned for an empty actor ID.
	ErrInvalidActor = errors.New("history: actor id is required")
)

// Entry is one recorded search.
type Entry struct {
	ID          string         `json:"id"`
	ActorID     string         `json:"actor_id"`
	Query       string         `json:"query"`
	Sources     []types.Source `json:"sources"`
	ResultCount int            `json:"result_count"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Policy controls deduplication and retention.
type Policy struct {
	// DedupeWindow is how long a search stays eligible for refreshing
	// instead of being recorded again. Zero disables deduplication.
	DedupeWindow time.Duration

	// MaxPerActor caps retained entries per actor. Zero means unbounded.
	MaxPerActor int
}

// DefaultPolicy dedupes within an hour and keeps the newest 50 entries.
func DefaultPolicy() Policy {
	return Policy{DedupeWindow: time.Hour, MaxPerActor: 50}
}

// Store is the persistence contract implemented by every backend.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Save records e under e.ActorID, applying p. It returns the entry as
	// persisted, which is an existing entry when e was deduplicated.
	Save(ctx context.Context, e Entry, p Policy) (Entry, error)

	// List returns up to limit entries for actorID, newest first. A
	// non-positive limit returns every entry.
	List(ctx context.Context, actorID string, limit int) ([]Entry, error)

	// Delete removes one entry. Returns [ErrNotFound] if it does not exist
	// for actorID.
	Delete(ctx context.Context, actorID, id string) error

	// Clear removes every entry for actorID and returns how many were
	// removed.
	Clear(ctx context.Context, actorID string) (int, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// Merge applies p to saving e next to existing, the actor's current
// entries in any order. It returns the entry to persist and the IDs of the
// entries to evict.
func Merge(existing []Entry, e Entry, p Policy) (saved Entry, evict []string) {
	saved = e
	others := make([]Entry, 0, len(existing))
	deduped := false
	for _, x := range existing {
		if !deduped && isDuplicate(x, e, p.DedupeWindow) {
			saved = x
			saved.Timestamp = e.Timestamp
			saved.ResultCount = e.ResultCount
			deduped = true
			continue
		}
		others = append(others, x)
	}

	if p.MaxPerActor <= 0 || len(others)+1 <= p.MaxPerActor {
		return saved, nil
	}
	SortNewestFirst(others)
	for _, x := range others[p.MaxPerActor-1:] {
		evict = append(evict, x.ID)
	}
	return saved, evict
}

func isDuplicate(x, e Entry, window time.Duration) bool {
	if window <= 0 || x.Query != e.Query || !SameSources(x.Sources, e.Sources) {
		return false
	}
	return e.Timestamp.Sub(x.Timestamp) <= window
}

// SameSources reports whether a and b hold the same sources, ignoring
// order.
func SameSources(a, b []types.Source) bool {
	return slices.Equal(types.SortSources(a), types.SortSources(b))
}

// SortNewestFirst orders entries by timestamp, newest first. Ties keep ID
// order so results are stable.
func SortNewestFirst(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// actorNamespace seeds the name-based IDs of actors that are not UUIDs.
var actorNamespace = uuid.NameSpaceDNS

// NormalizeActorID returns id unchanged if it is a UUID and otherwise a
// stable name-based (version 5) UUID derived from it.
func NormalizeActorID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if u, err := uuid.Parse(id); err == nil && len(id) == 36 {
		return u.String()
	}
	return uuid.NewSHA1(actorNamespace, []byte("user_"+id)).String()
}
