// Package jobs implements the newsletter pipeline's job handlers and the
// daily orchestration saga.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketbrief/marketbrief/internal/archive"
	"github.com/marketbrief/marketbrief/internal/cache"
	"github.com/marketbrief/marketbrief/internal/clients/ai"
	"github.com/marketbrief/marketbrief/internal/domain"
	"github.com/marketbrief/marketbrief/internal/queue"
	"github.com/marketbrief/marketbrief/internal/repository"
)

// Queue names. Each queue has its own worker, retry policy and concurrency.
const (
	QueueContentFetch  = "content-fetch"
	QueueSummarize     = "summarize"
	QueueNewsletter    = "newsletter"
	QueueOrchestration = "orchestration"
)

// Job names dispatched by the workers.
const (
	JobFetchMarkets       = "fetch-markets"
	JobFetchNews          = "fetch-news"
	JobSummarizeNews      = "summarize-news"
	JobGenerateNewsletter = "generate-newsletter"
	JobPublishNewsletter  = "publish-newsletter"
	JobDailyOrchestration = "daily-orchestration"
	JobFetchCommodities   = "fetch-commodities"
	JobFetchVCFunding     = "fetch-vc-funding"
	JobChartAverages      = "update-chart-averages"
	JobChartSignals       = "update-chart-signals"
	JobPortfolioSnapshot  = "portfolio-snapshot"
	JobTopInvestors       = "track-top-investors"
	JobChartSummary       = "weekly-chart-summary"
)

// QueueConfigs returns the pipeline's queue definitions. Newsletter
// generation is serialized because only one issue per day may exist; the
// orchestration queue is serialized so concurrent daily runs cannot
// interleave.
func QueueConfigs() []queue.Config {
	return []queue.Config{
		{
			Name:        QueueContentFetch,
			Attempts:    2,
			Backoff:     queue.BackoffPolicy{Type: queue.BackoffExponential, Delay: time.Second},
			Concurrency: 3,
		},
		{
			Name:        QueueSummarize,
			Attempts:    3,
			Backoff:     queue.BackoffPolicy{Type: queue.BackoffExponential, Delay: 1500 * time.Millisecond},
			Concurrency: 2,
		},
		{
			Name:        QueueNewsletter,
			Attempts:    3,
			Backoff:     queue.BackoffPolicy{Type: queue.BackoffExponential, Delay: 2 * time.Second},
			Concurrency: 1,
		},
		{
			Name:        QueueOrchestration,
			Attempts:    1,
			Backoff:     queue.BackoffPolicy{Type: queue.BackoffExponential, Delay: 2 * time.Second},
			Concurrency: 1,
		},
	}
}

// MarketFetcher is the market-data collaborator contract.
type MarketFetcher interface {
	Snapshot(ctx context.Context) (domain.MarketData, error)
	Commodities(ctx context.Context) ([]domain.CommodityQuote, error)
	Series(ctx context.Context, symbol string, days int) ([]domain.ChartPoint, error)
	Prices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// NewsFetcher is the news collaborator contract.
type NewsFetcher interface {
	TopHeadlines(ctx context.Context) ([]domain.Article, error)
	FundingRounds(ctx context.Context) ([]domain.FundingRound, error)
	UpcomingIPOs(ctx context.Context) ([]domain.IPO, error)
}

// Queues groups the pipeline's queue handles for cross-queue enqueues.
type Queues struct {
	ContentFetch  *queue.Queue
	Summarize     *queue.Queue
	Newsletter    *queue.Queue
	Orchestration *queue.Queue
}

// Caches groups the daily-expiring namespaces the handlers consult before
// any network fetch.
type Caches struct {
	Markets     *cache.Namespace[domain.MarketData]
	News        *cache.Namespace[[]domain.Article]
	Commodities *cache.Namespace[[]domain.CommodityQuote]
	VC          *cache.Namespace[VCDigest]
	Charts      *cache.Namespace[domain.ChartAverages]
	Signals     *cache.Namespace[domain.ChartSignal]
}

// NewCaches creates the pipeline's cache namespaces.
func NewCaches(log zerolog.Logger) *Caches {
	return &Caches{
		Markets:     cache.NewNamespace[domain.MarketData]("markets", log),
		News:        cache.NewNamespace[[]domain.Article]("news", log),
		Commodities: cache.NewNamespace[[]domain.CommodityQuote]("commodities", log),
		VC:          cache.NewNamespace[VCDigest]("vc", log),
		Charts:      cache.NewNamespace[domain.ChartAverages]("charts", log),
		Signals:     cache.NewNamespace[domain.ChartSignal]("signals", log),
	}
}

// Handlers holds the pipeline's collaborators and implements every job.
type Handlers struct {
	queues     *Queues
	caches     *Caches
	markets    MarketFetcher
	news       NewsFetcher
	summarizer ai.Summarizer

	newsletters *repository.NewsletterRepository
	articles    *repository.ArticleRepository
	quotes      *repository.QuoteRepository
	uploader    *archive.Uploader

	chartSymbols     []string
	portfolioSymbols []string

	log zerolog.Logger
	now func() time.Time
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithClock overrides the time source, used by tests for derived IDs.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handlers) { h.now = now }
}

// WithChartSymbols sets the symbols tracked by the chart jobs.
func WithChartSymbols(symbols []string) HandlerOption {
	return func(h *Handlers) { h.chartSymbols = symbols }
}

// WithPortfolioSymbols sets the model-portfolio symbols.
func WithPortfolioSymbols(symbols []string) HandlerOption {
	return func(h *Handlers) { h.portfolioSymbols = symbols }
}

// WithArchive attaches the optional issue archive uploader.
func WithArchive(u *archive.Uploader) HandlerOption {
	return func(h *Handlers) { h.uploader = u }
}

// DefaultChartSymbols are the symbols charted when none are configured.
var DefaultChartSymbols = []string{"SPY", "QQQ", "BTC-USD", "ETH-USD"}

// DefaultPortfolioSymbols are the model-portfolio symbols when none are
// configured.
var DefaultPortfolioSymbols = []string{"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA"}

// NewHandlers wires the pipeline's handlers.
func NewHandlers(
	queues *Queues,
	caches *Caches,
	markets MarketFetcher,
	news NewsFetcher,
	summarizer ai.Summarizer,
	newsletters *repository.NewsletterRepository,
	articles *repository.ArticleRepository,
	quotes *repository.QuoteRepository,
	log zerolog.Logger,
	opts ...HandlerOption,
) *Handlers {
	h := &Handlers{
		queues:           queues,
		caches:           caches,
		markets:          markets,
		news:             news,
		summarizer:       summarizer,
		newsletters:      newsletters,
		articles:         articles,
		quotes:           quotes,
		chartSymbols:     DefaultChartSymbols,
		portfolioSymbols: DefaultPortfolioSymbols,
		log:              log.With().Str("component", "jobs").Logger(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterAll binds every job name to its handler on the owning queue's
// worker. Registration panics on a duplicate name, so wiring mistakes
// surface at startup rather than as runtime dispatch failures.
func (h *Handlers) RegisterAll(contentFetch, summarize, newsletter, orchestration *queue.Worker) {
	contentFetch.MustHandle(JobFetchMarkets, h.FetchMarkets)
	contentFetch.MustHandle(JobFetchNews, h.FetchNews)
	contentFetch.MustHandle(JobFetchCommodities, h.FetchCommodities)
	contentFetch.MustHandle(JobFetchVCFunding, h.FetchVCFunding)
	contentFetch.MustHandle(JobChartAverages, h.UpdateChartAverages)
	contentFetch.MustHandle(JobChartSignals, h.UpdateChartSignals)
	contentFetch.MustHandle(JobPortfolioSnapshot, h.PortfolioSnapshot)
	contentFetch.MustHandle(JobTopInvestors, h.TrackTopInvestors)
	contentFetch.MustHandle(JobChartSummary, h.WeeklyChartSummary)

	summarize.MustHandle(JobSummarizeNews, h.SummarizeNews)

	newsletter.MustHandle(JobGenerateNewsletter, h.GenerateNewsletter)
	newsletter.MustHandle(JobPublishNewsletter, h.PublishNewsletter)

	orchestration.MustHandle(JobDailyOrchestration, h.RunDaily)
}
