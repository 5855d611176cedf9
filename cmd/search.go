package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/eventscout/internal/adapters"
	"github.com/sells-group/eventscout/internal/cache"
	"github.com/sells-group/eventscout/internal/cacheopt"
	"github.com/sells-group/eventscout/internal/crawl"
	"github.com/sells-group/eventscout/internal/model"
	"github.com/sells-group/eventscout/internal/orchestrator"
	"github.com/sells-group/eventscout/internal/prioritize"
	"github.com/sells-group/eventscout/internal/providers"
	"github.com/sells-group/eventscout/internal/ratelimit"
	"github.com/sells-group/eventscout/internal/rerank"
	"github.com/sells-group/eventscout/internal/resilience"
	"github.com/sells-group/eventscout/internal/search"
	"github.com/sells-group/eventscout/internal/templates"
	"github.com/sells-group/eventscout/internal/workerpool"
	"github.com/sells-group/eventscout/pkg/anthropic"
	"github.com/sells-group/eventscout/pkg/firecrawl"
	"github.com/sells-group/eventscout/pkg/googlesearch"
	"github.com/sells-group/eventscout/pkg/voyage"
)

var (
	searchText     string
	searchCountry  string
	searchFrom     string
	searchTo       string
	searchIndustry string
	searchLimit    int
	searchUseCache bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Discover and rank upcoming events for a query",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("search"); err != nil {
			return err
		}

		orch := buildOrchestrator()

		params := model.SearchParams{
			UserText: searchText,
			Country:  searchCountry,
			DateFrom: searchFrom,
			DateTo:   searchTo,
			Limit:    searchLimit,
			UseCache: searchUseCache,
		}
		if err := params.Validate(); err != nil {
			return eris.Wrap(err, "invalid search params")
		}

		result, err := orch.Run(ctx, params, uuid.NewString())
		if err != nil {
			return eris.Wrap(err, "orchestrator run")
		}

		zap.L().Info("search complete",
			zap.Int("events", len(result.Events)),
			zap.Bool("low_confidence", result.Metadata.LowConfidence),
			zap.Duration("total_duration", result.Metadata.TotalDuration),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// buildOrchestrator wires the provider clients and every pipeline stage
// into a ready-to-run Orchestrator from the loaded Config.
func buildOrchestrator() *orchestrator.Orchestrator {
	fcClient := firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))

	firecrawlProvider := adapters.NewFirecrawlSearch(fcClient)
	var cseProvider providers.SearchProvider
	if cfg.CSE.Key != "" {
		cseClient := googlesearch.NewClient(cfg.CSE.Key, cfg.CSE.EngineID)
		cseProvider = adapters.NewCSESearch(cseClient)
	}
	databaseProvider := search.DatabaseSearch{}

	searchCache := cache.New[search.Response](500)
	breakers := resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	limiter := ratelimit.New(cfg.RateLimit.FirecrawlPerMinute)

	engine := search.NewEngine(firecrawlProvider, cseProvider, databaseProvider, searchCache, breakers, limiter)

	analytics := cacheopt.NewAnalytics(searchCache.Len, func() int64 { return 0 })

	var anthropicLLM providers.LLM
	if cfg.Anthropic.Key != "" {
		anthropicClient := anthropic.NewClient(cfg.Anthropic.Key)
		anthropicLLM = adapters.NewAnthropicLLM(anthropicClient, cfg.Anthropic.Model)
	}

	var voyageReranker providers.Reranker
	if cfg.Voyage.Key != "" {
		voyageClient := voyage.NewClient(cfg.Voyage.Key)
		voyageReranker = adapters.NewVoyageReranker(voyageClient)
	}

	rerankCfg := rerank.DefaultConfig()
	rerankCfg.MinNonAggregatorURLs = cfg.Pipeline.MinNonAggregatorURLs
	rerankCfg.MaxBackstopAggregators = cfg.Pipeline.MaxBackstopAggregators
	rerankCfg.MaxVoyageDocs = cfg.Pipeline.MaxVoyageDocs
	rerankCfg.RerankerModel = cfg.Voyage.Model
	rerankCfg.TopK = cfg.Voyage.TopK
	gate := rerank.NewGate(voyageReranker, rerankCfg)

	prioritiser := prioritize.NewPrioritiser(anthropicLLM)

	scraper := adapters.NewFirecrawlScraper(fcClient)
	extractor := crawl.NewExtractor(scraper, anthropicLLM, cfg.Pipeline.MaxSpeakers)

	poolCfg := workerpool.DefaultConfig()
	poolCfg.MaxConcurrency = cfg.Pipeline.ExtractConcurrency
	pool := workerpool.New(poolCfg)

	var templateLib *templates.Library
	if lib, err := templates.Load(cfg.Templates.Path); err == nil {
		templateLib = lib
	} else {
		zap.L().Warn("templates not loaded, proceeding with generic queries", zap.Error(err))
	}

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.MaxCandidates = cfg.Pipeline.MaxCandidates
	orchCfg.MaxExtractions = cfg.Pipeline.MaxExtractions
	orchCfg.MinSolidHits = cfg.Pipeline.MinSolidHits
	orchCfg.AllowAutoExpand = cfg.Pipeline.AllowAutoExpand
	orchCfg.Industry = searchIndustry

	return orchestrator.New(engine, gate, prioritiser, extractor, pool, templateLib, nil, analytics, orchCfg)
}

func init() {
	searchCmd.Flags().StringVar(&searchText, "query", "", "free-text search query (required)")
	searchCmd.Flags().StringVar(&searchCountry, "country", "", "ISO-3166-1 alpha-2 country code")
	searchCmd.Flags().StringVar(&searchFrom, "from", "", "window start date, YYYY-MM-DD (required)")
	searchCmd.Flags().StringVar(&searchTo, "to", "", "window end date, YYYY-MM-DD (required)")
	searchCmd.Flags().StringVar(&searchIndustry, "industry", "", "industry name for weighted query templates")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum results requested from each search provider per query")
	searchCmd.Flags().BoolVar(&searchUseCache, "use-cache", true, "allow cached search responses")
	_ = searchCmd.MarkFlagRequired("query")
	_ = searchCmd.MarkFlagRequired("from")
	_ = searchCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(searchCmd)
}
