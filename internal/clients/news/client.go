// Package news fetches editorial content: finance/tech headlines, venture
// funding rounds and upcoming IPOs.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketbrief/marketbrief/internal/domain"
)

// Client for the news API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a news client. apiKey may be empty for keyless deployments.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "news").Logger(),
	}
}

// TopHeadlines fetches today's finance and tech headlines.
func (c *Client) TopHeadlines(ctx context.Context) ([]domain.Article, error) {
	q := url.Values{}
	q.Set("categories", "finance,technology")

	var articles []domain.Article
	if err := c.getJSON(ctx, "/v1/headlines", q, &articles); err != nil {
		return nil, err
	}

	c.log.Info().Int("count", len(articles)).Msg("Fetched headlines")
	return articles, nil
}

// FundingRounds fetches recently announced venture funding rounds.
func (c *Client) FundingRounds(ctx context.Context) ([]domain.FundingRound, error) {
	var rounds []domain.FundingRound
	if err := c.getJSON(ctx, "/v1/vc/funding", nil, &rounds); err != nil {
		return nil, err
	}

	c.log.Info().Int("count", len(rounds)).Msg("Fetched funding rounds")
	return rounds, nil
}

// UpcomingIPOs fetches upcoming initial public offerings.
func (c *Client) UpcomingIPOs(ctx context.Context) ([]domain.IPO, error) {
	var ipos []domain.IPO
	if err := c.getJSON(ctx, "/v1/vc/ipos", nil, &ipos); err != nil {
		return nil, err
	}
	return ipos, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("news: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("news: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("news: %s returned status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("news: parse %s response: %w", path, err)
	}
	return nil
}
