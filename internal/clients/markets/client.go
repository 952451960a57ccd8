// Package markets fetches price data: the combined daily market snapshot,
// commodities, chart close series and spot prices for tracked symbols.
package markets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketbrief/marketbrief/internal/domain"
)

// Client for the market-data API.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a market-data client.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "markets").Logger(),
	}
}

// Snapshot fetches the combined indices/stocks/crypto snapshot.
func (c *Client) Snapshot(ctx context.Context) (domain.MarketData, error) {
	var data domain.MarketData
	if err := c.getJSON(ctx, "/v1/markets/summary", nil, &data); err != nil {
		return domain.MarketData{}, err
	}

	c.log.Info().
		Int("indices", len(data.Indices)).
		Int("stocks", len(data.Stocks)).
		Int("crypto", len(data.Crypto)).
		Msg("Fetched market snapshot")
	return data, nil
}

// Commodities fetches current commodity prices.
func (c *Client) Commodities(ctx context.Context) ([]domain.CommodityQuote, error) {
	var quotes []domain.CommodityQuote
	if err := c.getJSON(ctx, "/v1/commodities", nil, &quotes); err != nil {
		return nil, err
	}

	c.log.Info().Int("count", len(quotes)).Msg("Fetched commodity quotes")
	return quotes, nil
}

// Series fetches the last `days` daily closes for a symbol, oldest first.
func (c *Client) Series(ctx context.Context, symbol string, days int) ([]domain.ChartPoint, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("days", strconv.Itoa(days))

	var points []domain.ChartPoint
	if err := c.getJSON(ctx, "/v1/charts/daily", q, &points); err != nil {
		return nil, err
	}

	c.log.Debug().Str("symbol", symbol).Int("points", len(points)).Msg("Fetched close series")
	return points, nil
}

// Prices fetches spot prices for the given symbols.
func (c *Client) Prices(ctx context.Context, symbols []string) (map[string]float64, error) {
	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))

	var prices map[string]float64
	if err := c.getJSON(ctx, "/v1/prices", q, &prices); err != nil {
		return nil, err
	}
	return prices, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("markets: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("markets: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("markets: %s returned status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("markets: parse %s response: %w", path, err)
	}
	return nil
}
