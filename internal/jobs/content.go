package jobs

import (
	"context"
	"fmt"

	"github.com/marketbrief/marketbrief/internal/clients/ai"
	"github.com/marketbrief/marketbrief/internal/domain"
	"github.com/marketbrief/marketbrief/internal/queue"
)

// fallbackSummaries never fails and never drops an article.
func fallbackSummaries(ctx context.Context, articles []domain.Article) ([]string, error) {
	return ai.Fallback{}.Summarize(ctx, articles)
}

// FetchMarkets fetches the daily market snapshot, served from the cache when
// today's data was already fetched.
func (h *Handlers) FetchMarkets(ctx context.Context, job *queue.Job) (any, error) {
	day := domain.Day(h.now())

	data, err := h.caches.Markets.Get(ctx, day, func(ctx context.Context) (domain.MarketData, error) {
		return h.markets.Snapshot(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch markets for %s: %w", day, err)
	}

	return map[string]any{
		"success":    true,
		"marketData": data,
		"timestamp":  h.now().UTC(),
	}, nil
}

// FetchNews fetches today's headlines and, on success, enqueues the paired
// summarize job. The summarize ID is derived from this job's ID so the pair
// stays traceable and a retried fetch never duplicates the summarize job.
func (h *Handlers) FetchNews(ctx context.Context, job *queue.Job) (any, error) {
	day := domain.Day(h.now())

	articles, err := h.caches.News.Get(ctx, day, func(ctx context.Context) ([]domain.Article, error) {
		return h.news.TopHeadlines(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch news for %s: %w", day, err)
	}

	summarizeID := "summarize-" + job.ID
	summarizeJob, err := h.queues.Summarize.Enqueue(ctx, JobSummarizeNews,
		summarizePayload{Articles: articles},
		queue.WithJobID(summarizeID),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue summarize for %s: %w", job.ID, err)
	}

	h.log.Info().
		Str("job_id", job.ID).
		Str("summarize_job_id", summarizeJob.ID).
		Int("articles", len(articles)).
		Msg("News fetched, summarize enqueued")

	return map[string]any{
		"success":        true,
		"articles":       articles,
		"summarizeJobId": summarizeJob.ID,
		"timestamp":      h.now().UTC(),
	}, nil
}

type summarizePayload struct {
	Articles []domain.Article `json:"articles"`
}

// SummarizeNews enriches every article with a one-sentence summary. When the
// AI collaborator fails or returns an unusable response, the deterministic
// fallback fills in instead; the output always has the same length as the
// input.
func (h *Handlers) SummarizeNews(ctx context.Context, job *queue.Job) (any, error) {
	var payload summarizePayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return nil, queue.Unrecoverablef("summarize: bad payload: %v", err)
	}

	summaries, err := h.summarizer.Summarize(ctx, payload.Articles)
	if err != nil || len(summaries) != len(payload.Articles) {
		h.log.Warn().Err(err).Msg("AI summarization unavailable, using fallback")
		summaries, _ = fallbackSummaries(ctx, payload.Articles)
	}

	enriched := make([]domain.Article, len(payload.Articles))
	for i, a := range payload.Articles {
		a.Summary = summaries[i]
		enriched[i] = a
	}

	return map[string]any{
		"success":   true,
		"articles":  enriched,
		"timestamp": h.now().UTC(),
	}, nil
}
