package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/marketbrief/marketbrief/internal/domain"
	"github.com/marketbrief/marketbrief/internal/queue"
	"github.com/marketbrief/marketbrief/internal/repository"
)

// generatePayload distinguishes missing fields from empty ones: a nil
// pointer means the field was absent, an empty slice is valid input.
type generatePayload struct {
	MarketData *domain.MarketData `json:"marketData"`
	News       *[]domain.Article  `json:"news"`
}

// GenerateNewsletter validates its input, then assembles and persists the
// issue for today. Persistence is idempotent per day: a rerun updates the
// existing record instead of creating a second one.
func (h *Handlers) GenerateNewsletter(ctx context.Context, job *queue.Job) (any, error) {
	var payload generatePayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return nil, queue.Unrecoverablef("generate: bad payload: %v", err)
	}

	// Validation happens before any persistence call. Retrying cannot make
	// missing input appear.
	if payload.MarketData == nil {
		return nil, queue.Unrecoverablef("generate: marketData is required")
	}
	if payload.News == nil {
		return nil, queue.Unrecoverablef("generate: news is required (an empty list is valid, a missing one is not)")
	}

	day := domain.Day(h.now())
	issue := &domain.Newsletter{
		Day:        day,
		Subject:    fmt.Sprintf("Market Brief for %s", day),
		MarketData: *payload.MarketData,
		Articles:   *payload.News,
	}

	// A quote is optional garnish. An exhausted pool must not fail the issue.
	quote, err := h.quotes.RandomUnused(ctx)
	switch {
	case err == nil:
		issue.Quote = quote
	case errors.Is(err, repository.ErrNotFound):
		h.log.Warn().Msg("Quote pool exhausted, issue goes out without one")
	default:
		return nil, fmt.Errorf("generate: pick quote: %w", err)
	}

	id, err := h.newsletters.Upsert(ctx, issue)
	if err != nil {
		return nil, fmt.Errorf("generate: persist newsletter: %w", err)
	}

	if err := h.articles.UpsertBatch(ctx, id, *payload.News); err != nil {
		return nil, fmt.Errorf("generate: persist articles: %w", err)
	}

	if issue.Quote != nil {
		if err := h.quotes.MarkUsed(ctx, issue.Quote.ID); err != nil {
			h.log.Warn().Err(err).Int64("quote_id", issue.Quote.ID).Msg("Failed to retire quote")
		}
	}

	h.log.Info().Str("day", day).Int64("newsletter_id", id).Int("articles", len(*payload.News)).Msg("Newsletter generated")

	return map[string]any{
		"success":      true,
		"newsletterId": id,
		"day":          day,
		"timestamp":    h.now().UTC(),
	}, nil
}

type publishPayload struct {
	NewsletterID *int64 `json:"newsletterId"`
}

// PublishNewsletter marks a persisted issue as published and, when an
// archive bucket is configured, uploads a snapshot of the issue.
func (h *Handlers) PublishNewsletter(ctx context.Context, job *queue.Job) (any, error) {
	var payload publishPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return nil, queue.Unrecoverablef("publish: bad payload: %v", err)
	}
	if payload.NewsletterID == nil {
		return nil, queue.Unrecoverablef("publish: newsletterId is required")
	}
	id := *payload.NewsletterID

	issue, err := h.newsletters.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, queue.Unrecoverablef("publish: newsletter %d does not exist", id)
	}
	if err != nil {
		return nil, fmt.Errorf("publish: load newsletter %d: %w", id, err)
	}

	publishedAt := h.now().UTC()
	if err := h.newsletters.MarkPublished(ctx, id, publishedAt); err != nil {
		return nil, fmt.Errorf("publish: mark newsletter %d published: %w", id, err)
	}

	// Archiving is best-effort: the issue is published either way.
	if h.uploader != nil {
		issue.Published = true
		issue.PublishedAt = &publishedAt
		if issue.Articles, err = h.articles.ListByNewsletter(ctx, id); err != nil {
			h.log.Warn().Err(err).Int64("newsletter_id", id).Msg("Failed to load articles for archive")
		}
		if _, err := h.uploader.UploadIssue(ctx, issue); err != nil {
			h.log.Warn().Err(err).Int64("newsletter_id", id).Msg("Failed to archive issue")
		}
	}

	return map[string]any{
		"success":      true,
		"newsletterId": id,
		"publishedAt":  publishedAt,
		"timestamp":    h.now().UTC(),
	}, nil
}
