// Package mcp exposes the product search engine as Model Context Protocol
// tools, so an agent can search, inspect history and generate demo results.
//
// Tools:
//   - "search_products": applies criteria and runs one search, waiting for the result.
//   - "get_search_state": returns the last published search state.
//   - "synthesize_demo_results": deterministic placeholder products for a query.
//   - "search_history": the actor's recent searches.
//   - "search_analytics": summary statistics over the actor's history.
//
// The server is served over streamable HTTP ([Server.Handler]) or stdio
// ([Server.RunStdio]).
package mcp

import (
	"context"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/shopvox/internal/history"
	"github.com/MrWong99/shopvox/internal/search"
	"github.com/MrWong99/shopvox/pkg/criteria"
)

// Version is reported to clients in the initialize handshake.
const Version = "1.0.0"

// Option configures a [Server].
type Option func(*Server)

// WithHistory enables the history tools.
func WithHistory(svc *history.Service) Option {
	return func(s *Server) { s.history = svc }
}

// WithSynthesizer overrides the demo result generator. Defaults to the one
// the orchestrator uses for fallbacks.
func WithSynthesizer(syn search.Synthesizer) Option {
	return func(s *Server) { s.synth = syn }
}

// WithDefaultActor sets the actor used by the history tools when a call
// names none.
func WithDefaultActor(id string) Option {
	return func(s *Server) { s.defaultActor = id }
}

// Server registers the engine's tools on an MCP server.
type Server struct {
	store        *criteria.Store
	orch         *search.Orchestrator
	history      *history.Service
	synth        search.Synthesizer
	defaultActor string

	server *mcpsdk.Server
}

// New creates a Server whose tools drive store and orch.
func New(store *criteria.Store, orch *search.Orchestrator, opts ...Option) *Server {
	s := &Server{store: store, orch: orch}
	for _, opt := range opts {
		opt(s)
	}
	if s.synth == nil {
		s.synth = defaultSynth()
	}

	s.server = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "shopvox", Version: Version}, nil)
	s.register()
	return s
}

// SDK returns the underlying MCP server.
func (s *Server) SDK() *mcpsdk.Server { return s.server }

// Handler returns a streamable HTTP handler serving the tools.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.server }, nil)
}

// RunStdio serves the tools over stdin/stdout until ctx is done or the
// client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.server.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) register() {
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name: "search_products",
		Description: "Search the enabled marketplaces (amazon, ebay, walmart) for products. " +
			"Falls back to clearly labelled demo results when the search service fails or finds nothing.",
	}, s.searchProducts)

	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "get_search_state",
		Description: "Return the current search criteria and the last published search result.",
	}, s.getSearchState)

	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "synthesize_demo_results",
		Description: "Generate one deterministic placeholder product per source for a query.",
	}, s.synthesizeDemo)

	if s.history != nil {
		mcpsdk.AddTool(s.server, &mcpsdk.Tool{
			Name:        "search_history",
			Description: "List an actor's recent searches, newest first.",
		}, s.searchHistory)

		mcpsdk.AddTool(s.server, &mcpsdk.Tool{
			Name:        "search_analytics",
			Description: "Summarise an actor's search history: totals, popular queries and sources, recent activity.",
		}, s.searchAnalytics)
	}
}
