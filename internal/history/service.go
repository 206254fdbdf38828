package history

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/shopvox/pkg/types"
)

// DefaultListLimit is used by [Service.List] for a non-positive limit.
const DefaultListLimit = 20

// Analytics summarises an actor's history.
type Analytics struct {
	TotalSearches  int           `json:"total_searches"`
	UniqueQueries  int           `json:"unique_queries"`
	PopularQueries []QueryCount  `json:"popular_queries"`
	PopularSources []SourceCount `json:"popular_sources"`
	RecentActivity []Entry       `json:"recent_activity"`
	LastSearch     *time.Time    `json:"last_search,omitempty"`
}

// QueryCount is a query and how many entries carry it.
type QueryCount struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// SourceCount is a source and how many entries searched it.
type SourceCount struct {
	Source types.Source `json:"source"`
	Count  int          `json:"count"`
}

const (
	topQueries   = 5
	topSources   = 3
	recentWindow = 5
)

// ServiceOption configures a [Service].
type ServiceOption func(*Service)

// WithPolicy sets the dedupe and retention policy.
func WithPolicy(p Policy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// Service is the actor-facing history API.
type Service struct {
	store  Store
	policy Policy
	now    func() time.Time
}

// NewService creates a Service over store using [DefaultPolicy].
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, policy: DefaultPolicy(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// Policy returns the active policy.
func (s *Service) Policy() Policy { return s.policy }

// Save records a search for actorID.
func (s *Service) Save(ctx context.Context, actorID, query string, sources []types.Source, resultCount int) (Entry, error) {
	actor := NormalizeActorID(actorID)
	if actor == "" {
		return Entry{}, ErrInvalidActor
	}
	e := Entry{
		ID:          uuid.NewString(),
		ActorID:     actor,
		Query:       strings.TrimSpace(query),
		Sources:     types.SortSources(sources),
		ResultCount: resultCount,
		Timestamp:   s.now().UTC(),
	}
	saved, err := s.store.Save(ctx, e, s.policy)
	if err != nil {
		return Entry{}, fmt.Errorf("history: save: %w", err)
	}
	return saved, nil
}

// List returns the actor's newest entries. A non-positive limit means
// [DefaultListLimit].
func (s *Service) List(ctx context.Context, actorID string, limit int) ([]Entry, error) {
	actor := NormalizeActorID(actorID)
	if actor == "" {
		return nil, ErrInvalidActor
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	entries, err := s.store.List(ctx, actor, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return entries, nil
}

// Delete removes one entry.
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	actor := NormalizeActorID(actorID)
	if actor == "" {
		return ErrInvalidActor
	}
	if err := s.store.Delete(ctx, actor, id); err != nil {
		return fmt.Errorf("history: delete: %w", err)
	}
	return nil
}

// Clear removes the actor's whole history.
func (s *Service) Clear(ctx context.Context, actorID string) (int, error) {
	actor := NormalizeActorID(actorID)
	if actor == "" {
		return 0, ErrInvalidActor
	}
	n, err := s.store.Clear(ctx, actor)
	if err != nil {
		return 0, fmt.Errorf("history: clear: %w", err)
	}
	return n, nil
}

// Analytics summarises every retained entry of actorID.
func (s *Service) Analytics(ctx context.Context, actorID string) (Analytics, error) {
	actor := NormalizeActorID(actorID)
	if actor == "" {
		return Analytics{}, ErrInvalidActor
	}
	entries, err := s.store.List(ctx, actor, 0)
	if err != nil {
		return Analytics{}, fmt.Errorf("history: analytics: %w", err)
	}
	return Summarize(entries), nil
}

// Suggestions returns up to limit distinct recent queries longer than two
// characters.
func (s *Service) Suggestions(ctx context.Context, actorID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = topQueries
	}
	entries, err := s.List(ctx, actorID, limit*2)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, limit)
	for _, e := range entries {
		if len(e.Query) > 2 && !slices.Contains(out, e.Query) {
			out = append(out, e.Query)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Summarize computes analytics over entries.
func Summarize(entries []Entry) Analytics {
	sorted := slices.Clone(entries)
	SortNewestFirst(sorted)

	queries := map[string]int{}
	sources := map[types.Source]int{}
	for _, e := range sorted {
		queries[e.Query]++
		for _, src := range e.Sources {
			sources[src]++
		}
	}

	a := Analytics{
		TotalSearches:  len(sorted),
		UniqueQueries:  len(queries),
		PopularQueries: []QueryCount{},
		PopularSources: []SourceCount{},
		RecentActivity: sorted[:min(recentWindow, len(sorted))],
	}
	for q, n := range queries {
		a.PopularQueries = append(a.PopularQueries, QueryCount{Query: q, Count: n})
	}
	slices.SortFunc(a.PopularQueries, func(x, y QueryCount) int {
		return cmp.Or(cmp.Compare(y.Count, x.Count), strings.Compare(x.Query, y.Query))
	})
	a.PopularQueries = a.PopularQueries[:min(topQueries, len(a.PopularQueries))]

	for src, n := range sources {
		a.PopularSources = append(a.PopularSources, SourceCount{Source: src, Count: n})
	}
	slices.SortFunc(a.PopularSources, func(x, y SourceCount) int {
		return cmp.Or(cmp.Compare(y.Count, x.Count), strings.Compare(string(x.Source), string(y.Source)))
	})
	a.PopularSources = a.PopularSources[:min(topSources, len(a.PopularSources))]

	if len(sorted) > 0 {
		ts := sorted[0].Timestamp
		a.LastSearch = &ts
	}
	return a
}
