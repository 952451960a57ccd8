package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketbrief/marketbrief/internal/database"
	"github.com/marketbrief/marketbrief/internal/domain"
)

// ArticleRepository handles article rows, keyed naturally by URL.
type ArticleRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewArticleRepository creates an article repository.
func NewArticleRepository(db *sql.DB, log zerolog.Logger) *ArticleRepository {
	return &ArticleRepository{
		db:  db,
		log: log.With().Str("repo", "article").Logger(),
	}
}

// UpsertBatch stores articles for a newsletter in one transaction. A URL seen
// before keeps its row; title, summary and newsletter binding are refreshed.
func (r *ArticleRepository) UpsertBatch(ctx context.Context, newsletterID int64, articles []domain.Article) error {
	if len(articles) == 0 {
		return nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO articles (newsletter_id, url, title, source, category, summary, published_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET
				newsletter_id = excluded.newsletter_id,
				title         = excluded.title,
				summary       = excluded.summary
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare article upsert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC().Format(time.RFC3339)
		for _, a := range articles {
			var publishedAt any
			if !a.PublishedAt.IsZero() {
				publishedAt = a.PublishedAt.UTC().Format(time.RFC3339)
			}
			if _, err := stmt.ExecContext(ctx, newsletterID, a.URL, a.Title, a.Source, a.Category, a.Summary, publishedAt, now); err != nil {
				return fmt.Errorf("failed to upsert article %s: %w", a.URL, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().Int64("newsletter_id", newsletterID).Int("count", len(articles)).Msg("Articles stored")
	return nil
}

// ListByNewsletter returns a newsletter's articles, oldest first.
func (r *ArticleRepository) ListByNewsletter(ctx context.Context, newsletterID int64) ([]domain.Article, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT url, title, source, category, summary, published_at
		FROM articles
		WHERE newsletter_id = ?
		ORDER BY published_at ASC, id ASC
	`, newsletterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var articles []domain.Article
	for rows.Next() {
		var (
			a           domain.Article
			publishedAt sql.NullString
		)
		if err := rows.Scan(&a.URL, &a.Title, &a.Source, &a.Category, &a.Summary, &publishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		if publishedAt.Valid {
			if t, err := time.Parse(time.RFC3339, publishedAt.String); err == nil {
				a.PublishedAt = t
			}
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating articles: %w", err)
	}

	return articles, nil
}
