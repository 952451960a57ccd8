package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/marketbrief/marketbrief/internal/domain"
)

// QuoteRepository handles the rotating pool of inspirational quotes.
type QuoteRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewQuoteRepository creates a quote repository.
func NewQuoteRepository(db *sql.DB, log zerolog.Logger) *QuoteRepository {
	return &QuoteRepository{
		db:  db,
		log: log.With().Str("repo", "quote").Logger(),
	}
}

// Add inserts a quote into the pool.
func (r *QuoteRepository) Add(ctx context.Context, text, author string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "INSERT INTO quotes (text, author) VALUES (?, ?)", text, author)
	if err != nil {
		return 0, fmt.Errorf("failed to add quote: %w", err)
	}
	return res.LastInsertId()
}

// Count returns the total number of quotes in the pool.
func (r *QuoteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM quotes").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count quotes: %w", err)
	}
	return n, nil
}

// RandomUnused picks a random quote that has not appeared in an issue yet.
// Returns ErrNotFound when the pool is exhausted.
func (r *QuoteRepository) RandomUnused(ctx context.Context) (*domain.Quote, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, text, author FROM quotes
		WHERE used = 0
		ORDER BY RANDOM()
		LIMIT 1
	`)

	var q domain.Quote
	err := row.Scan(&q.ID, &q.Text, &q.Author)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pick quote: %w", err)
	}
	return &q, nil
}

// MarkUsed removes a quote from the unused pool.
func (r *QuoteRepository) MarkUsed(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "UPDATE quotes SET used = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark quote %d used: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check quote update: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
