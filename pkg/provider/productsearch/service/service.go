// Package service provides a product search provider backed by the
// product-finder HTTP service.
//
// Requests are POSTed as JSON to {baseURL}/search; the response is decoded
// into [productsearch.Response]. Products missing a currency are defaulted to
// USD and products from marketplaces outside the request's source set are
// dropped, so callers can rely on every returned product naming a requested
// source.
//
// Usage:
//
//	p, err := service.New("http://localhost:8003", service.WithTimeout(8*time.Second))
//	resp, err := p.Search(ctx, productsearch.Request{Query: "headphones", Limit: 10, Sources: srcs, Fallback: true})
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/shopvox/pkg/provider/productsearch"
	"github.com/MrWong99/shopvox/pkg/types"
)

const (
	defaultTimeout = 10 * time.Second

	// maxErrorBody bounds how much of an error response body is quoted in
	// the returned error.
	maxErrorBody = 512
)

// Compile-time assertion that Provider implements productsearch.Provider.
var _ productsearch.Provider = (*Provider)(nil)

// ErrStatus is wrapped by errors caused by a non-2xx HTTP response.
var ErrStatus = errors.New("unexpected status")

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client entirely. The client's own timeout
// is used as-is.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithPath overrides the search endpoint path. Defaults to "/search".
func WithPath(path string) Option {
	return func(p *Provider) {
		if path != "" {
			p.path = "/" + strings.TrimPrefix(path, "/")
		}
	}
}

// Provider implements productsearch.Provider over HTTP.
type Provider struct {
	baseURL    string
	path       string
	httpClient *http.Client
}

// New creates a Provider for the service at baseURL (e.g.,
// "http://localhost:8003"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("productsearch service: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       "/search",
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Search implements productsearch.Provider.
func (p *Provider) Search(ctx context.Context, req productsearch.Request) (productsearch.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return productsearch.Response{}, fmt.Errorf("productsearch service: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.path, bytes.NewReader(body))
	if err != nil {
		return productsearch.Response{}, fmt.Errorf("productsearch service: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return productsearch.Response{}, fmt.Errorf("productsearch service: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return productsearch.Response{}, fmt.Errorf("productsearch service: %w %d: %s",
			ErrStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out productsearch.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return productsearch.Response{}, fmt.Errorf("productsearch service: decode response: %w", err)
	}

	out.Products = normalise(out.Products, req.Sources)
	if out.TotalResults < len(out.Products) {
		out.TotalResults = len(out.Products)
	}
	return out, nil
}

// normalise fills in default currencies and drops products whose source was
// not requested. The service may widen the search when fallback is on, but
// the UI must never show a marketplace the user disabled.
func normalise(products []types.Product, sources []types.Source) []types.Product {
	out := products[:0]
	for _, prod := range products {
		if len(sources) > 0 && !slices.Contains(sources, prod.Source) {
			continue
		}
		if prod.Currency == "" {
			prod.Currency = types.DefaultCurrency
		}
		out = append(out, prod)
	}
	return out
}
