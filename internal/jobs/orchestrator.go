package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/marketbrief/marketbrief/internal/domain"
	"github.com/marketbrief/marketbrief/internal/queue"
)

// fetchMarketsResult and fetchNewsResult are the stage outputs the saga
// forwards into the generate stage.
type fetchMarketsResult struct {
	MarketData domain.MarketData `json:"marketData"`
}

type fetchNewsResult struct {
	Articles []domain.Article `json:"articles"`
}

// RunDaily is the daily orchestration saga. It fans out the two fetch stages
// in parallel, waits for both (failing fast if either fails), then chains the
// generate and publish stages. Stage job IDs are derived from the invocation
// timestamp, so concurrent runs never collide on an ID and a retried stage
// within one run stays idempotent.
func (h *Handlers) RunDaily(ctx context.Context, job *queue.Job) (any, error) {
	ts := h.now().UTC().UnixMilli()
	marketID := fmt.Sprintf("market-%d", ts)
	newsID := fmt.Sprintf("news-%d", ts)

	h.log.Info().
		Str("market_job_id", marketID).
		Str("news_job_id", newsID).
		Msg("Daily orchestration started")

	var (
		marketResult fetchMarketsResult
		newsResult   fetchNewsResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.runStage(gctx, h.queues.ContentFetch, JobFetchMarkets, marketID, nil, &marketResult)
	})
	g.Go(func() error {
		return h.runStage(gctx, h.queues.ContentFetch, JobFetchNews, newsID, nil, &newsResult)
	})
	if err := g.Wait(); err != nil {
		// No partial newsletter: a failed fetch fails the whole run before
		// generate is ever enqueued.
		return nil, fmt.Errorf("daily orchestration: %w", err)
	}

	generateID := fmt.Sprintf("generate-%d", ts)
	news := newsResult.Articles
	if news == nil {
		news = []domain.Article{}
	}
	var generateResult struct {
		NewsletterID int64 `json:"newsletterId"`
	}
	err := h.runStage(ctx, h.queues.Newsletter, JobGenerateNewsletter, generateID, generatePayload{
		MarketData: &marketResult.MarketData,
		News:       &news,
	}, &generateResult)
	if err != nil {
		return nil, fmt.Errorf("daily orchestration: %w", err)
	}

	publishID := fmt.Sprintf("publish-%d", ts)
	err = h.runStage(ctx, h.queues.Newsletter, JobPublishNewsletter, publishID, publishPayload{
		NewsletterID: &generateResult.NewsletterID,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("daily orchestration: %w", err)
	}

	h.log.Info().
		Int64("newsletter_id", generateResult.NewsletterID).
		Msg("Daily orchestration completed")

	return map[string]any{
		"success":       true,
		"marketJobId":   marketID,
		"newsJobId":     newsID,
		"generateJobId": generateID,
		"publishJobId":  publishID,
		"newsletterId":  generateResult.NewsletterID,
		"timestamp":     h.now().UTC(),
	}, nil
}

// runStage enqueues one stage job and blocks until it reaches a terminal
// state, decoding its result into out when out is non-nil.
func (h *Handlers) runStage(ctx context.Context, q *queue.Queue, name, id string, payload, out any) error {
	stage, err := q.Enqueue(ctx, name, payload, queue.WithJobID(id))
	if err != nil {
		return fmt.Errorf("enqueue %s stage: %w", name, err)
	}

	result, err := q.Await(ctx, stage.ID)
	if err != nil {
		return fmt.Errorf("%s stage: %w", name, err)
	}

	if out != nil {
		if err := json.Unmarshal(result, out); err != nil {
			return fmt.Errorf("decode %s stage result: %w", name, err)
		}
	}
	return nil
}
