package jobs

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/marketbrief/marketbrief/internal/domain"
	"github.com/marketbrief/marketbrief/internal/queue"
)

// PortfolioSnapshot captures the model portfolio's daily state: spot prices,
// per-symbol daily returns, and their mean and spread.
func (h *Handlers) PortfolioSnapshot(ctx context.Context, job *queue.Job) (any, error) {
	day := domain.Day(h.now())

	prices, err := h.markets.Prices(ctx, h.portfolioSymbols)
	if err != nil {
		return nil, fmt.Errorf("portfolio snapshot: prices: %w", err)
	}

	var (
		returns     []float64
		best, worst string
		bestRet     float64
		worstRet    float64
		totalValue  float64
	)
	for _, symbol := range h.portfolioSymbols {
		price, ok := prices[symbol]
		if !ok {
			h.log.Warn().Str("symbol", symbol).Msg("No price for portfolio symbol")
			continue
		}
		totalValue += price

		points, err := h.markets.Series(ctx, symbol, 2)
		if err != nil || len(points) < 2 || points[len(points)-2].Close == 0 {
			h.log.Warn().Err(err).Str("symbol", symbol).Msg("No return series for portfolio symbol")
			continue
		}
		prev := points[len(points)-2].Close
		ret := (points[len(points)-1].Close - prev) / prev * 100

		if best == "" || ret > bestRet {
			best, bestRet = symbol, ret
		}
		if worst == "" || ret < worstRet {
			worst, worstRet = symbol, ret
		}
		returns = append(returns, ret)
	}

	if len(returns) == 0 {
		return nil, fmt.Errorf("portfolio snapshot: no usable symbols out of %d", len(h.portfolioSymbols))
	}

	snapshot := domain.PortfolioSnapshot{
		Day:           day,
		Symbols:       len(returns),
		MeanReturn:    stat.Mean(returns, nil),
		BestSymbol:    best,
		WorstSymbol:   worst,
		TotalValueUSD: totalValue,
	}
	if len(returns) > 1 {
		snapshot.ReturnStdDev = stat.StdDev(returns, nil)
	}

	h.log.Info().
		Str("day", day).
		Int("symbols", snapshot.Symbols).
		Float64("mean_return", snapshot.MeanReturn).
		Msg("Portfolio snapshot taken")

	return map[string]any{
		"success":   true,
		"snapshot":  snapshot,
		"timestamp": h.now().UTC(),
	}, nil
}
