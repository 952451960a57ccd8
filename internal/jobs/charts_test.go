package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbrief/marketbrief/internal/domain"
)

func risingSeries(n int, start float64) []domain.ChartPoint {
	points := make([]domain.ChartPoint, n)
	for i := range points {
		points[i] = domain.ChartPoint{Close: start + float64(i)}
	}
	return points
}

func fallingSeries(n int, start float64) []domain.ChartPoint {
	points := make([]domain.ChartPoint, n)
	for i := range points {
		points[i] = domain.ChartPoint{Close: start - float64(i)}
	}
	return points
}

func TestUpdateChartAverages_EnqueuesSignalContinuation(t *testing.T) {
	markets := &fakeMarkets{series: map[string][]domain.ChartPoint{
		"SPY": risingSeries(60, 400),
	}}
	p := newPipeline(t, markets, &fakeNews{}, &fakeSummarizer{})
	ctx := context.Background()

	job := testJob(JobChartAverages, nil)
	result, err := p.handlers.UpdateChartAverages(ctx, job)
	require.NoError(t, err)

	fields := result.(map[string]any)
	averages := fields["averages"].([]domain.ChartAverages)
	require.Len(t, averages, 1, "symbols without enough history are skipped")
	assert.Equal(t, "SPY", averages[0].Symbol)
	assert.Greater(t, averages[0].SMA20, averages[0].SMA50, "a rising series has the short average above the long one")

	// The signal job is a continuation with a derived ID, not a separate
	// wall-clock schedule.
	signalsID := fields["signalsJobId"].(string)
	assert.Equal(t, "signals-"+job.ID, signalsID)

	stored, err := p.store.Get(ctx, QueueContentFetch, signalsID)
	require.NoError(t, err)
	assert.Equal(t, JobChartSignals, stored.Name)
}

func TestUpdateChartSignals_FromContinuationPayload(t *testing.T) {
	p := newPipeline(t, &fakeMarkets{}, &fakeNews{}, &fakeSummarizer{})
	ctx := context.Background()

	day := domain.Day(fixedNow)
	job := testJob(JobChartSignals, chartSignalsPayload{Averages: []domain.ChartAverages{
		{Symbol: "SPY", Day: day, SMA20: 420, SMA50: 410, EMA12: 421, EMA26: 415},
		{Symbol: "QQQ", Day: day, SMA20: 350, SMA50: 360, EMA12: 349, EMA26: 355},
		{Symbol: "BTC-USD", Day: day, SMA20: 64000, SMA50: 63000, EMA12: 63900, EMA26: 64100},
	}})

	result, err := p.handlers.UpdateChartSignals(ctx, job)
	require.NoError(t, err)

	signals := result.(map[string]any)["signals"].([]domain.ChartSignal)
	require.Len(t, signals, 3)
	assert.Equal(t, SignalBullish, signals[0].Signal)
	assert.Equal(t, SignalBearish, signals[1].Signal)
	assert.Equal(t, SignalNeutral, signals[2].Signal, "mixed averages stay neutral")
}

func TestUpdateChartSignals_SafetyNetUsesCachedAverages(t *testing.T) {
	markets := &fakeMarkets{series: map[string][]domain.ChartPoint{
		"SPY": risingSeries(60, 400),
		"QQQ": fallingSeries(60, 400),
	}}
	p := newPipeline(t, markets, &fakeNews{}, &fakeSummarizer{})
	ctx := context.Background()

	_, err := p.handlers.UpdateChartAverages(ctx, testJob(JobChartAverages, nil))
	require.NoError(t, err)

	// Scheduled run with no payload: signals come from today's cached
	// averages.
	result, err := p.handlers.UpdateChartSignals(ctx, testJob(JobChartSignals, nil))
	require.NoError(t, err)

	signals := result.(map[string]any)["signals"].([]domain.ChartSignal)
	require.Len(t, signals, 2)

	bySymbol := map[string]string{}
	for _, s := range signals {
		bySymbol[s.Symbol] = s.Signal
	}
	assert.Equal(t, SignalBullish, bySymbol["SPY"])
	assert.Equal(t, SignalBearish, bySymbol["QQQ"])
}

func TestWeeklyChartSummary_CountsCachedSignals(t *testing.T) {
	markets := &fakeMarkets{series: map[string][]domain.ChartPoint{
		"SPY": risingSeries(60, 400),
		"QQQ": fallingSeries(60, 400),
	}}
	p := newPipeline(t, markets, &fakeNews{}, &fakeSummarizer{})
	ctx := context.Background()

	_, err := p.handlers.UpdateChartAverages(ctx, testJob(JobChartAverages, nil))
	require.NoError(t, err)
	_, err = p.handlers.UpdateChartSignals(ctx, testJob(JobChartSignals, nil))
	require.NoError(t, err)

	result, err := p.handlers.WeeklyChartSummary(ctx, testJob(JobChartSummary, nil))
	require.NoError(t, err)

	counts := result.(map[string]any)["counts"].(map[string]int)
	assert.Equal(t, 1, counts[SignalBullish])
	assert.Equal(t, 1, counts[SignalBearish])
	assert.Equal(t, 0, counts[SignalNeutral])
}

func TestPortfolioSnapshot(t *testing.T) {
	markets := &fakeMarkets{
		prices: map[string]float64{"AAPL": 100, "MSFT": 49},
		series: map[string][]domain.ChartPoint{
			"AAPL": {{Close: 98}, {Close: 100}},
			"MSFT": {{Close: 50}, {Close: 49}},
		},
	}
	p := newPipeline(t, markets, &fakeNews{}, &fakeSummarizer{})
	ctx := context.Background()

	result, err := p.handlers.PortfolioSnapshot(ctx, testJob(JobPortfolioSnapshot, nil))
	require.NoError(t, err)

	snapshot := result.(map[string]any)["snapshot"].(domain.PortfolioSnapshot)
	assert.Equal(t, 2, snapshot.Symbols, "symbols without prices or history are skipped")
	assert.Equal(t, "AAPL", snapshot.BestSymbol)
	assert.Equal(t, "MSFT", snapshot.WorstSymbol)
	assert.InDelta(t, 149.0, snapshot.TotalValueUSD, 0.001)
	assert.InDelta(t, 0.0204, snapshot.MeanReturn, 0.001) // mean of +2.0408% and -2%
	assert.Greater(t, snapshot.ReturnStdDev, 0.0)
}

func TestFetchCommodities_ReturnsSnapshot(t *testing.T) {
	markets := &fakeMarkets{commodities: []domain.CommodityQuote{
		{Symbol: "XAU", Name: "Gold", Price: 2350.5, Unit: "oz", ChangePercent: 0.3},
	}}
	p := newPipeline(t, markets, &fakeNews{}, &fakeSummarizer{})

	result, err := p.handlers.FetchCommodities(context.Background(), testJob(JobFetchCommodities, nil))
	require.NoError(t, err)

	quotes := result.(map[string]any)["commodities"].([]domain.CommodityQuote)
	require.Len(t, quotes, 1)
	assert.Equal(t, "XAU", quotes[0].Symbol)
}
