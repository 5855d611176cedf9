// Package adapters wraps the pkg/* HTTP clients (Firecrawl, Google CSE,
// Voyage, Anthropic) as the narrow providers.SearchProvider, Scraper,
// Reranker, and LLM contracts the orchestrator's stages depend on.
package adapters

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/eventscout/internal/providers"
	"github.com/sells-group/eventscout/pkg/anthropic"
	"github.com/sells-group/eventscout/pkg/firecrawl"
	"github.com/sells-group/eventscout/pkg/googlesearch"
	"github.com/sells-group/eventscout/pkg/voyage"
)

// FirecrawlSearch adapts a firecrawl.Client as the "firecrawl" search
// provider.
type FirecrawlSearch struct {
	client firecrawl.Client
}

// NewFirecrawlSearch wraps client as a providers.SearchProvider.
func NewFirecrawlSearch(client firecrawl.Client) *FirecrawlSearch {
	return &FirecrawlSearch{client: client}
}

// Name implements providers.SearchProvider.
func (f *FirecrawlSearch) Name() string { return "firecrawl" }

// Search implements providers.SearchProvider. Country, dateFrom, and
// dateTo are not sent: Firecrawl's search endpoint takes free text only,
// and the query is passed through unchanged.
func (f *FirecrawlSearch) Search(ctx context.Context, query, _ string, _, _ string, limit int) ([]providers.SearchItem, error) {
	resp, err := f.client.Search(ctx, firecrawl.SearchRequest{Query: query, Limit: limit})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, eris.New("firecrawl: search not successful")
	}
	items := make([]providers.SearchItem, 0, len(resp.Data))
	for _, r := range resp.Data {
		items = append(items, providers.SearchItem{URL: r.URL, Title: r.Title, Description: r.Description})
	}
	return items, nil
}

// FirecrawlScraper adapts a firecrawl.Client as a providers.Scraper for
// single-page crawl fetches.
type FirecrawlScraper struct {
	client firecrawl.Client
}

// NewFirecrawlScraper wraps client as a providers.Scraper.
func NewFirecrawlScraper(client firecrawl.Client) *FirecrawlScraper {
	return &FirecrawlScraper{client: client}
}

// Scrape implements providers.Scraper.
func (f *FirecrawlScraper) Scrape(ctx context.Context, url string) (*providers.ScrapedPage, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{URL: url, Formats: []string{"markdown"}})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, eris.New("firecrawl: scrape not successful")
	}
	return &providers.ScrapedPage{
		URL:        resp.Data.URL,
		Markdown:   resp.Data.Markdown,
		Title:      resp.Data.Title,
		StatusCode: resp.Data.StatusCode,
	}, nil
}

// CSESearch adapts a googlesearch.Client as the "cse" search provider.
type CSESearch struct {
	client googlesearch.Client
}

// NewCSESearch wraps client as a providers.SearchProvider.
func NewCSESearch(client googlesearch.Client) *CSESearch {
	return &CSESearch{client: client}
}

// Name implements providers.SearchProvider.
func (c *CSESearch) Name() string { return "cse" }

// Search implements providers.SearchProvider.
func (c *CSESearch) Search(ctx context.Context, query, _ string, _, _ string, limit int) ([]providers.SearchItem, error) {
	resp, err := c.client.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	items := make([]providers.SearchItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, providers.SearchItem{URL: it.Link, Title: it.Title, Description: it.Snippet})
	}
	return items, nil
}

// VoyageReranker adapts a voyage.Client as a providers.Reranker.
type VoyageReranker struct {
	client voyage.Client
}

// NewVoyageReranker wraps client as a providers.Reranker.
func NewVoyageReranker(client voyage.Client) *VoyageReranker {
	return &VoyageReranker{client: client}
}

// Rerank implements providers.Reranker.
func (v *VoyageReranker) Rerank(ctx context.Context, instruction string, documents []string, model string, topK int) ([]providers.RerankedDoc, error) {
	resp, err := v.client.Rerank(ctx, voyage.RerankRequest{Query: instruction, Documents: documents, Model: model, TopK: topK})
	if err != nil {
		return nil, err
	}
	out := make([]providers.RerankedDoc, 0, len(resp.Data))
	for _, r := range resp.Data {
		out = append(out, providers.RerankedDoc{Index: r.Index, RelevanceScore: r.RelevanceScore})
	}
	return out, nil
}

// AnthropicLLM adapts an anthropic.Client as a providers.LLM, used by the
// prioritiser (C7) and the deep-crawl extractor's metadata pass (C9).
type AnthropicLLM struct {
	client anthropic.Client
	model  string
}

// NewAnthropicLLM wraps client as a providers.LLM with the given model
// name.
func NewAnthropicLLM(client anthropic.Client, model string) *AnthropicLLM {
	return &AnthropicLLM{client: client, model: model}
}

// Generate implements providers.LLM.
func (a *AnthropicLLM) Generate(ctx context.Context, systemInstruction, userPrompt string) (string, error) {
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: 2048,
		System:    []anthropic.SystemBlock{{Text: systemInstruction}},
		Messages:  []anthropic.Message{{Role: "user", Content: userPrompt}},
	})
	if err != nil {
		return "", err
	}
	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}
