// Package providers defines the narrow external-collaborator contracts the
// orchestrator depends on (§6): search, rerank, LLM generation, and
// scraping. Concrete adapters live under pkg/<provider> and satisfy these
// interfaces against the real third-party HTTP APIs.
package providers

import "context"

// SearchItem is a single result from a search provider. Either a bare URL
// or an enriched record; downstream code accepts both by treating zero
// fields as absent.
type SearchItem struct {
	URL         string
	Title       string
	Description string
	Markdown    string
}

// SearchProvider fans a query out to one external source of candidate
// URLs.
type SearchProvider interface {
	// Name identifies the provider for logging, rate limiting, and circuit
	// breaker keying ("firecrawl", "cse", "database").
	Name() string
	Search(ctx context.Context, query string, country string, dateFrom, dateTo string, limit int) ([]SearchItem, error)
}

// RerankedDoc is a single scored document returned by a reranker.
type RerankedDoc struct {
	Index          int
	RelevanceScore float64
}

// Reranker reorders a list of documents by relevance to an instruction.
type Reranker interface {
	Rerank(ctx context.Context, instruction string, documents []string, model string, topK int) ([]RerankedDoc, error)
}

// LLM generates text from a system instruction and a user prompt,
// optionally constrained by a JSON schema description embedded in the
// prompt.
type LLM interface {
	Generate(ctx context.Context, systemInstruction, userPrompt string) (string, error)
}

// ScrapedPage is the normalized result of fetching a single URL.
type ScrapedPage struct {
	URL         string
	Markdown    string
	Title       string
	Description string
	StatusCode  int
}

// Scraper fetches a single URL's content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*ScrapedPage, error)
}
