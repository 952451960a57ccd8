package jobs

import (
	"context"
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/marketbrief/marketbrief/internal/domain"
	"github.com/marketbrief/marketbrief/internal/queue"
)

// chartLookbackDays must cover the longest moving-average window.
const chartLookbackDays = 60

const (
	SignalBullish = "bullish"
	SignalBearish = "bearish"
	SignalNeutral = "neutral"
)

type chartSignalsPayload struct {
	Averages []domain.ChartAverages `json:"averages"`
}

// UpdateChartAverages computes SMA/EMA sets for every tracked symbol and, on
// success, enqueues the signal job as a continuation carrying the fresh
// averages. The continuation replaces reliance on wall-clock staggering: the
// signal job always sees the averages computed in the same run.
func (h *Handlers) UpdateChartAverages(ctx context.Context, job *queue.Job) (any, error) {
	day := domain.Day(h.now())

	averages := make([]domain.ChartAverages, 0, len(h.chartSymbols))
	for _, symbol := range h.chartSymbols {
		points, err := h.markets.Series(ctx, symbol, chartLookbackDays)
		if err != nil {
			return nil, fmt.Errorf("chart averages: series for %s: %w", symbol, err)
		}
		if len(points) < 50 {
			h.log.Warn().Str("symbol", symbol).Int("points", len(points)).Msg("Series too short for moving averages")
			continue
		}

		closes := make([]float64, len(points))
		for i, p := range points {
			closes[i] = p.Close
		}

		avg := domain.ChartAverages{
			Symbol: symbol,
			Day:    day,
			SMA20:  last(talib.Sma(closes, 20)),
			SMA50:  last(talib.Sma(closes, 50)),
			EMA12:  last(talib.Ema(closes, 12)),
			EMA26:  last(talib.Ema(closes, 26)),
		}
		h.caches.Charts.Set(chartKey(day, symbol), avg)
		averages = append(averages, avg)
	}

	signalsJob, err := h.queues.ContentFetch.Enqueue(ctx, JobChartSignals,
		chartSignalsPayload{Averages: averages},
		queue.WithJobID("signals-"+job.ID),
	)
	if err != nil {
		return nil, fmt.Errorf("chart averages: enqueue signal continuation: %w", err)
	}

	return map[string]any{
		"success":      true,
		"averages":     averages,
		"signalsJobId": signalsJob.ID,
		"timestamp":    h.now().UTC(),
	}, nil
}

// UpdateChartSignals derives a trend signal per symbol. Normally it runs as a
// continuation carrying the averages in its payload; when triggered on its
// scheduled safety-net slot with an empty payload, it falls back to the
// averages cached earlier the same day.
func (h *Handlers) UpdateChartSignals(ctx context.Context, job *queue.Job) (any, error) {
	day := domain.Day(h.now())

	var payload chartSignalsPayload
	if len(job.Payload) > 0 {
		if err := job.UnmarshalPayload(&payload); err != nil {
			return nil, queue.Unrecoverablef("chart signals: bad payload: %v", err)
		}
	}

	averages := payload.Averages
	if len(averages) == 0 {
		for _, symbol := range h.chartSymbols {
			if entry, ok := h.caches.Charts.Peek(chartKey(day, symbol)); ok {
				averages = append(averages, entry.Data)
			} else {
				h.log.Warn().Str("symbol", symbol).Msg("No cached averages for signal calculation")
			}
		}
	}

	signals := make([]domain.ChartSignal, 0, len(averages))
	for _, avg := range averages {
		sig := domain.ChartSignal{
			Symbol: avg.Symbol,
			Day:    avg.Day,
			Signal: classify(avg),
		}
		h.caches.Signals.Set(chartKey(sig.Day, sig.Symbol), sig)
		signals = append(signals, sig)
	}

	return map[string]any{
		"success":   true,
		"signals":   signals,
		"timestamp": h.now().UTC(),
	}, nil
}

// WeeklyChartSummary aggregates today's cached signals into a trend overview.
func (h *Handlers) WeeklyChartSummary(ctx context.Context, job *queue.Job) (any, error) {
	day := domain.Day(h.now())

	counts := map[string]int{SignalBullish: 0, SignalBearish: 0, SignalNeutral: 0}
	signals := make([]domain.ChartSignal, 0, len(h.chartSymbols))
	for _, symbol := range h.chartSymbols {
		entry, ok := h.caches.Signals.Peek(chartKey(day, symbol))
		if !ok {
			continue
		}
		counts[entry.Data.Signal]++
		signals = append(signals, entry.Data)
	}

	return map[string]any{
		"success":   true,
		"day":       day,
		"counts":    counts,
		"signals":   signals,
		"timestamp": h.now().UTC(),
	}, nil
}

func classify(avg domain.ChartAverages) string {
	switch {
	case avg.SMA20 > avg.SMA50 && avg.EMA12 > avg.EMA26:
		return SignalBullish
	case avg.SMA20 < avg.SMA50 && avg.EMA12 < avg.EMA26:
		return SignalBearish
	default:
		return SignalNeutral
	}
}

func chartKey(day, symbol string) string {
	return day + ":" + symbol
}

// last returns the final value of a talib output series; the tail holds the
// current value.
func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
