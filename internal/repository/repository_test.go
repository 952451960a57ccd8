package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbrief/marketbrief/internal/database"
	"github.com/marketbrief/marketbrief/internal/domain"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleNewsletter(day string) *domain.Newsletter {
	return &domain.Newsletter{
		Day:     day,
		Subject: "Markets Daily: " + day,
		MarketData: domain.MarketData{
			Indices: []domain.IndexQuote{{Symbol: "SPX", Name: "S&P 500", Price: 5234.18, ChangePercent: 0.4}},
			Stocks:  []domain.StockQuote{{Symbol: "AAPL", Name: "Apple", Price: 172.62, ChangePercent: -0.8}},
		},
	}
}

func TestNewsletterRepository_UpsertIsIdempotentPerDay(t *testing.T) {
	db := newTestDB(t)
	repo := NewNewsletterRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	id1, err := repo.Upsert(ctx, sampleNewsletter("2024-03-15"))
	require.NoError(t, err)

	updated := sampleNewsletter("2024-03-15")
	updated.Subject = "Markets Daily: rates edition"
	id2, err := repo.Upsert(ctx, updated)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "rerun for the same day must update in place")

	stored, err := repo.GetByDay(ctx, "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, "Markets Daily: rates edition", stored.Subject)
	assert.Equal(t, "SPX", stored.MarketData.Indices[0].Symbol)
	assert.False(t, stored.Published)
}

func TestNewsletterRepository_MarkPublished(t *testing.T) {
	db := newTestDB(t)
	repo := NewNewsletterRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	id, err := repo.Upsert(ctx, sampleNewsletter("2024-03-15"))
	require.NoError(t, err)

	publishedAt := time.Date(2024, 3, 15, 7, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkPublished(ctx, id, publishedAt))

	stored, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.Published)
	require.NotNil(t, stored.PublishedAt)
	assert.Equal(t, publishedAt, stored.PublishedAt.UTC())

	assert.ErrorIs(t, repo.MarkPublished(ctx, 9999, publishedAt), ErrNotFound)
}

func TestNewsletterRepository_GetMissing(t *testing.T) {
	db := newTestDB(t)
	repo := NewNewsletterRepository(db.Conn(), zerolog.Nop())

	_, err := repo.GetByDay(context.Background(), "1999-01-01")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArticleRepository_UpsertByURL(t *testing.T) {
	db := newTestDB(t)
	newsletters := NewNewsletterRepository(db.Conn(), zerolog.Nop())
	articles := NewArticleRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	id, err := newsletters.Upsert(ctx, sampleNewsletter("2024-03-15"))
	require.NoError(t, err)

	batch := []domain.Article{
		{URL: "https://example.com/fed", Title: "Fed holds", Source: "Reuters", Category: "finance", PublishedAt: time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC)},
		{URL: "https://example.com/chips", Title: "Chips rally", Source: "Bloomberg", Category: "technology", PublishedAt: time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, articles.UpsertBatch(ctx, id, batch))

	// Same URLs again with summaries filled in must not duplicate rows.
	batch[0].Summary = "Rates unchanged."
	batch[1].Summary = "Strong chip earnings."
	require.NoError(t, articles.UpsertBatch(ctx, id, batch))

	stored, err := articles.ListByNewsletter(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "https://example.com/fed", stored[0].URL)
	assert.Equal(t, "Rates unchanged.", stored[0].Summary)
	assert.Equal(t, "Strong chip earnings.", stored[1].Summary)
}

func TestQuoteRepository_Rotation(t *testing.T) {
	db := newTestDB(t)
	quotes := NewQuoteRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	_, err := quotes.Add(ctx, "Compound interest is the eighth wonder of the world.", "Einstein")
	require.NoError(t, err)

	count, err := quotes.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	q, err := quotes.RandomUnused(ctx)
	require.NoError(t, err)
	require.NoError(t, quotes.MarkUsed(ctx, q.ID))

	_, err = quotes.RandomUnused(ctx)
	assert.ErrorIs(t, err, ErrNotFound, "pool must be exhausted after the only quote is used")

	assert.ErrorIs(t, quotes.MarkUsed(ctx, 9999), ErrNotFound)
}
