// Package domain defines the content entities that flow through the
// newsletter pipeline. The domain layer is pure: no infrastructure
// dependencies.
package domain

import "time"

// IndexQuote is a single market index snapshot.
type IndexQuote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
}

// StockQuote is a single equity snapshot.
type StockQuote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"changePercent"`
}

// CryptoQuote is a single crypto-asset snapshot.
type CryptoQuote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"changePercent"`
}

// MarketData is the combined market snapshot a daily issue is built from.
type MarketData struct {
	Indices []IndexQuote  `json:"indices"`
	Stocks  []StockQuote  `json:"stocks"`
	Crypto  []CryptoQuote `json:"crypto"`
}

// Article is one news item, keyed naturally by URL.
type Article struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	PublishedAt time.Time `json:"publishedAt"`
	Summary     string    `json:"summary,omitempty"`
}

// Newsletter is one daily issue, keyed naturally by its UTC day.
type Newsletter struct {
	ID          int64      `json:"id"`
	Day         string     `json:"day"` // YYYY-MM-DD, UTC
	Subject     string     `json:"subject"`
	MarketData  MarketData `json:"marketData"`
	Articles    []Article  `json:"articles"`
	Quote       *Quote     `json:"quote,omitempty"`
	Published   bool       `json:"published"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Quote is an inspirational finance quote rotated through issues. Each quote
// is used at most once; the pool is keyed by the unused flag.
type Quote struct {
	ID     int64  `json:"id"`
	Text   string `json:"text"`
	Author string `json:"author"`
	Used   bool   `json:"used"`
}

// CommodityQuote is a single commodity price snapshot.
type CommodityQuote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Unit          string  `json:"unit"`
	ChangePercent float64 `json:"changePercent"`
}

// FundingRound is one venture-capital funding event.
type FundingRound struct {
	Company     string    `json:"company"`
	Round       string    `json:"round"`
	AmountUSD   float64   `json:"amountUsd"`
	Investors   []string  `json:"investors"`
	AnnouncedAt time.Time `json:"announcedAt"`
}

// IPO is one upcoming or recent initial public offering.
type IPO struct {
	Company  string    `json:"company"`
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	Date     time.Time `json:"date"`
}

// ChartPoint is one close price on a symbol's daily series.
type ChartPoint struct {
	Date  string  `json:"date"` // YYYY-MM-DD, UTC
	Close float64 `json:"close"`
}

// ChartAverages holds the computed moving averages for one symbol on one day.
type ChartAverages struct {
	Symbol string  `json:"symbol"`
	Day    string  `json:"day"`
	SMA20  float64 `json:"sma20"`
	SMA50  float64 `json:"sma50"`
	EMA12  float64 `json:"ema12"`
	EMA26  float64 `json:"ema26"`
}

// ChartSignal is the trend signal derived from a symbol's moving averages.
type ChartSignal struct {
	Symbol string `json:"symbol"`
	Day    string `json:"day"`
	Signal string `json:"signal"` // bullish | bearish | neutral
}

// PortfolioSnapshot summarizes tracked model-portfolio prices for one run.
type PortfolioSnapshot struct {
	Day           string  `json:"day"`
	Symbols       int     `json:"symbols"`
	MeanReturn    float64 `json:"meanReturn"`
	ReturnStdDev  float64 `json:"returnStdDev"`
	BestSymbol    string  `json:"bestSymbol"`
	WorstSymbol   string  `json:"worstSymbol"`
	TotalValueUSD float64 `json:"totalValueUsd"`
}

// Day formats t as the pipeline's canonical UTC day key.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
