// Package ai produces one-sentence article summaries, either through a
// chat-completions API or a deterministic local fallback.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/marketbrief/marketbrief/internal/domain"
)

// Summarizer returns exactly one summary per input article, in order.
type Summarizer interface {
	Summarize(ctx context.Context, articles []domain.Article) ([]string, error)
}

// Fallback is a deterministic summarizer used when no AI backend is
// configured or the backend fails. It never drops an article.
type Fallback struct{}

// Summarize builds a summary from each article's own metadata.
func (Fallback) Summarize(_ context.Context, articles []domain.Article) ([]string, error) {
	summaries := make([]string, len(articles))
	for i, a := range articles {
		summaries[i] = fallbackSummary(a)
	}
	return summaries, nil
}

const fallbackTitleLimit = 120

func fallbackSummary(a domain.Article) string {
	title := strings.TrimSpace(a.Title)
	// Truncate on runes so a multi-byte title never ends mid-character.
	if runes := []rune(title); len(runes) > fallbackTitleLimit {
		title = string(runes[:fallbackTitleLimit-3]) + "..."
	}
	if title == "" {
		title = "Untitled story"
	}

	source := strings.TrimSpace(a.Source)
	if source == "" {
		source = "the newswire"
	}

	category := strings.ToLower(strings.TrimSpace(a.Category))
	if category == "" {
		category = "markets"
	}

	return fmt.Sprintf("%s (%s coverage via %s).", title, category, source)
}
