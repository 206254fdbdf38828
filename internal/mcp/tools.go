package mcp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/shopvox/internal/history"
	"github.com/MrWong99/shopvox/internal/observe"
	"github.com/MrWong99/shopvox/internal/search"
	"github.com/MrWong99/shopvox/internal/search/synth"
	"github.com/MrWong99/shopvox/pkg/criteria"
	"github.com/MrWong99/shopvox/pkg/types"
)

func defaultSynth() search.Synthesizer { return synth.New() }

// SearchArgs is the input of the search_products tool. Omitted fields keep
// the current criteria.
type SearchArgs struct {
	// Query is the free-text product query.
	Query string `json:"query" jsonschema:"what to search for, e.g. wireless earbuds"`

	// Sources replaces the enabled marketplaces when non-empty.
	Sources []string `json:"sources,omitempty" jsonschema:"marketplaces to search: amazon, ebay, walmart"`

	MinPrice *float64 `json:"min_price,omitempty" jsonschema:"lowest acceptable price in USD"`
	MaxPrice *float64 `json:"max_price,omitempty" jsonschema:"highest acceptable price in USD"`
	Category string   `json:"category,omitempty" jsonschema:"product category, e.g. electronics"`
	Brand    string   `json:"brand,omitempty" jsonschema:"brand name filter"`

	// Limit is the maximum number of results per request.
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of results (1-100)"`
}

// SearchResult is the output of search_products and get_search_state.
type SearchResult struct {
	Token        uint64            `json:"token"`
	Status       search.Status     `json:"status"`
	Criteria     criteria.Snapshot `json:"criteria"`
	Products     []types.Product   `json:"products"`
	TotalResults int               `json:"total_results"`

	// Synthesized is true when Products are demo placeholders, not real
	// listings.
	Synthesized bool           `json:"synthesized"`
	Warning     search.Warning `json:"warning,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// StateArgs is the (empty) input of get_search_state.
type StateArgs struct{}

// SynthesizeArgs is the input of synthesize_demo_results.
type SynthesizeArgs struct {
	Query   string   `json:"query" jsonschema:"the query to generate placeholders for"`
	Sources []string `json:"sources,omitempty" jsonschema:"marketplaces to cover; all of them when omitted"`
}

// SynthesizeResult holds the generated placeholders.
type SynthesizeResult struct {
	Products []types.Product `json:"products"`
}

// HistoryArgs is the input of search_history.
type HistoryArgs struct {
	ActorID string `json:"actor_id,omitempty" jsonschema:"whose history to read; the signed-in actor when omitted"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of entries"`
}

// HistoryResult lists history entries, newest first.
type HistoryResult struct {
	Entries []HistoryEntry `json:"entries"`
}

// HistoryEntry is one recorded search. Timestamp is RFC 3339.
type HistoryEntry struct {
	ID          string         `json:"id"`
	Query       string         `json:"query"`
	Sources     []types.Source `json:"sources"`
	ResultCount int            `json:"result_count"`
	Timestamp   string         `json:"timestamp"`
}

// AnalyticsResult summarises an actor's history.
type AnalyticsResult struct {
	TotalSearches  int                   `json:"total_searches"`
	UniqueQueries  int                   `json:"unique_queries"`
	PopularQueries []history.QueryCount  `json:"popular_queries"`
	PopularSources []history.SourceCount `json:"popular_sources"`
	RecentActivity []HistoryEntry        `json:"recent_activity"`
	LastSearch     string                `json:"last_search,omitempty"`
}

// AnalyticsArgs is the input of search_analytics.
type AnalyticsArgs struct {
	ActorID string `json:"actor_id,omitempty" jsonschema:"whose history to summarise; the signed-in actor when omitted"`
}

func (s *Server) searchProducts(ctx context.Context, _ *mcpsdk.CallToolRequest, args SearchArgs) (*mcpsdk.CallToolResult, SearchResult, error) {
	ctx, span := observe.StartSpan(ctx, "mcp.search_products", trace.WithAttributes(observe.KeyTool.String("search_products")))
	defer span.End()

	actions, err := s.actionsFor(args)
	if err != nil {
		return nil, SearchResult{}, err
	}
	c := s.store.Dispatch(actions...)

	req, err := s.orch.Submit(ctx, c)
	if err != nil {
		return nil, SearchResult{}, err
	}
	select {
	case <-req.Done():
	case <-ctx.Done():
		return nil, SearchResult{}, ctx.Err()
	}

	observe.Logger(ctx).Debug("mcp: search settled", "token", req.Token, "status", req.Status())
	return nil, s.resultFor(req), nil
}

// actionsFor maps args onto the current criteria. Sources are set exactly by
// toggling the difference.
func (s *Server) actionsFor(args SearchArgs) ([]criteria.Action, error) {
	cur := s.store.Current()
	actions := []criteria.Action{criteria.SetQuery{Query: args.Query}}

	if len(args.Sources) > 0 {
		want, err := parseSources(args.Sources)
		if err != nil {
			return nil, err
		}
		for _, src := range types.Catalog {
			if cur.HasSource(src) != slices.Contains(want, src) {
				actions = append(actions, criteria.ToggleSource{Source: src})
			}
		}
	}
	if args.MinPrice != nil {
		actions = append(actions, criteria.SetMinPrice{Price: criteria.Price(*args.MinPrice)})
	}
	if args.MaxPrice != nil {
		actions = append(actions, criteria.SetMaxPrice{Price: criteria.Price(*args.MaxPrice)})
	}
	if args.Category != "" {
		actions = append(actions, criteria.SetCategory{Category: args.Category})
	}
	if args.Brand != "" {
		actions = append(actions, criteria.SetBrand{Brand: args.Brand})
	}
	if args.Limit > 0 {
		actions = append(actions, criteria.SetLimit{Limit: args.Limit})
	}
	return actions, nil
}

// resultFor prefers the published state, which carries the warning and
// totals, while it still belongs to req.
func (s *Server) resultFor(req *search.Request) SearchResult {
	if st := s.orch.State(); st.Token == req.Token {
		return stateResult(st)
	}
	res := SearchResult{
		Token:    req.Token,
		Status:   req.Status(),
		Criteria: req.Criteria.Snapshot(),
		Products: req.Products(),
	}
	res.TotalResults = len(res.Products)
	if err := req.Err(); err != nil {
		res.Error = err.Error()
		res.Synthesized = errors.Is(err, search.ErrService) || errors.Is(err, search.ErrEmptyResult)
	}
	if res.Products == nil {
		res.Products = []types.Product{}
	}
	return res
}

func stateResult(st search.State) SearchResult {
	products := st.Products
	if products == nil {
		products = []types.Product{}
	}
	return SearchResult{
		Token:        st.Token,
		Status:       st.Status,
		Criteria:     st.Criteria,
		Products:     products,
		TotalResults: st.TotalResults,
		Synthesized:  st.Synthesized,
		Warning:      st.Warning,
		Error:        st.Error,
	}
}

func (s *Server) getSearchState(context.Context, *mcpsdk.CallToolRequest, StateArgs) (*mcpsdk.CallToolResult, SearchResult, error) {
	res := stateResult(s.orch.State())
	res.Criteria = s.store.Current().Snapshot()
	return nil, res, nil
}

func (s *Server) synthesizeDemo(_ context.Context, _ *mcpsdk.CallToolRequest, args SynthesizeArgs) (*mcpsdk.CallToolResult, SynthesizeResult, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, SynthesizeResult{}, errors.New("query is required")
	}
	sources := types.Catalog
	if len(args.Sources) > 0 {
		var err error
		if sources, err = parseSources(args.Sources); err != nil {
			return nil, SynthesizeResult{}, err
		}
	}
	products := s.synth.Synthesize(strings.TrimSpace(args.Query), sources)
	if products == nil {
		products = []types.Product{}
	}
	return nil, SynthesizeResult{Products: products}, nil
}

func (s *Server) searchHistory(ctx context.Context, _ *mcpsdk.CallToolRequest, args HistoryArgs) (*mcpsdk.CallToolResult, HistoryResult, error) {
	entries, err := s.history.List(ctx, s.actor(args.ActorID), args.Limit)
	if err != nil {
		return nil, HistoryResult{}, fmt.Errorf("list history: %w", err)
	}
	return nil, HistoryResult{Entries: entryViews(entries)}, nil
}

func (s *Server) searchAnalytics(ctx context.Context, _ *mcpsdk.CallToolRequest, args AnalyticsArgs) (*mcpsdk.CallToolResult, AnalyticsResult, error) {
	a, err := s.history.Analytics(ctx, s.actor(args.ActorID))
	if err != nil {
		return nil, AnalyticsResult{}, fmt.Errorf("history analytics: %w", err)
	}
	res := AnalyticsResult{
		TotalSearches:  a.TotalSearches,
		UniqueQueries:  a.UniqueQueries,
		PopularQueries: a.PopularQueries,
		PopularSources: a.PopularSources,
		RecentActivity: entryViews(a.RecentActivity),
	}
	if res.PopularQueries == nil {
		res.PopularQueries = []history.QueryCount{}
	}
	if res.PopularSources == nil {
		res.PopularSources = []history.SourceCount{}
	}
	if a.LastSearch != nil {
		res.LastSearch = a.LastSearch.UTC().Format(time.RFC3339)
	}
	return nil, res, nil
}

func entryViews(entries []history.Entry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntry{
			ID:          e.ID,
			Query:       e.Query,
			Sources:     e.Sources,
			ResultCount: e.ResultCount,
			Timestamp:   e.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return out
}

// actor resolves the explicit id, then the signed-in actor, then the default.
func (s *Server) actor(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	if id = s.orch.Actor(); id != "" {
		return id
	}
	return s.defaultActor
}

func parseSources(names []string) ([]types.Source, error) {
	out := make([]types.Source, 0, len(names))
	for _, name := range names {
		src, ok := types.ParseSource(name)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		if !slices.Contains(out, src) {
			out = append(out, src)
		}
	}
	return out, nil
}
