// Package repository implements SQLite persistence for newsletter content.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketbrief/marketbrief/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("repository: not found")

// NewsletterRepository handles newsletter rows, keyed by UTC day.
type NewsletterRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewNewsletterRepository creates a newsletter repository.
func NewNewsletterRepository(db *sql.DB, log zerolog.Logger) *NewsletterRepository {
	return &NewsletterRepository{
		db:  db,
		log: log.With().Str("repo", "newsletter").Logger(),
	}
}

// Upsert inserts the newsletter for its day or, if one already exists,
// replaces its content in place. The row ID is stable across upserts so a
// rerun of the pipeline updates rather than duplicates the issue.
func (r *NewsletterRepository) Upsert(ctx context.Context, n *domain.Newsletter) (int64, error) {
	marketData, err := json.Marshal(n.MarketData)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal market data: %w", err)
	}

	var quoteID sql.NullInt64
	if n.Quote != nil {
		quoteID = sql.NullInt64{Int64: n.Quote.ID, Valid: true}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO newsletters (day, subject, market_data, quote_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			subject     = excluded.subject,
			market_data = excluded.market_data,
			quote_id    = excluded.quote_id,
			updated_at  = excluded.updated_at
	`, n.Day, n.Subject, string(marketData), quoteID, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert newsletter for %s: %w", n.Day, err)
	}

	var id int64
	if err := r.db.QueryRowContext(ctx, "SELECT id FROM newsletters WHERE day = ?", n.Day).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read back newsletter id for %s: %w", n.Day, err)
	}

	r.log.Info().Str("day", n.Day).Int64("id", id).Msg("Newsletter upserted")
	return id, nil
}

// GetByID returns a newsletter by row ID.
func (r *NewsletterRepository) GetByID(ctx context.Context, id int64) (*domain.Newsletter, error) {
	return r.get(ctx, "WHERE id = ?", id)
}

// GetByDay returns the newsletter for a UTC day (YYYY-MM-DD).
func (r *NewsletterRepository) GetByDay(ctx context.Context, day string) (*domain.Newsletter, error) {
	return r.get(ctx, "WHERE day = ?", day)
}

func (r *NewsletterRepository) get(ctx context.Context, where string, arg any) (*domain.Newsletter, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, day, subject, market_data, published, published_at, created_at
		FROM newsletters `+where, arg)

	var (
		n           domain.Newsletter
		marketData  string
		published   int
		publishedAt sql.NullString
		createdAt   string
	)
	err := row.Scan(&n.ID, &n.Day, &n.Subject, &marketData, &published, &publishedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan newsletter: %w", err)
	}

	if err := json.Unmarshal([]byte(marketData), &n.MarketData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal market data: %w", err)
	}
	n.Published = published != 0
	if publishedAt.Valid {
		if t, err := time.Parse(time.RFC3339, publishedAt.String); err == nil {
			n.PublishedAt = &t
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		n.CreatedAt = t
	}

	return &n, nil
}

// MarkPublished flags a newsletter as published at the given time.
func (r *NewsletterRepository) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE newsletters SET published = 1, published_at = ?, updated_at = ?
		WHERE id = ?
	`, at.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to mark newsletter %d published: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check publish update: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	r.log.Info().Int64("id", id).Msg("Newsletter marked published")
	return nil
}
