package jobs

import (
	"context"
	"fmt"
	"sort"

	"github.com/marketbrief/marketbrief/internal/domain"
	"github.com/marketbrief/marketbrief/internal/queue"
)

// FetchCommodities fetches the daily commodity snapshot through the cache.
func (h *Handlers) FetchCommodities(ctx context.Context, job *queue.Job) (any, error) {
	day := domain.Day(h.now())

	quotes, err := h.caches.Commodities.Get(ctx, day, func(ctx context.Context) ([]domain.CommodityQuote, error) {
		return h.markets.Commodities(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch commodities for %s: %w", day, err)
	}

	return map[string]any{
		"success":     true,
		"commodities": quotes,
		"timestamp":   h.now().UTC(),
	}, nil
}

// VCDigest is the daily venture-capital snapshot: funding rounds plus
// upcoming IPOs.
type VCDigest struct {
	Rounds []domain.FundingRound `json:"rounds"`
	IPOs   []domain.IPO          `json:"ipos"`
}

// fetchVCDigest builds the full daily digest. Every job that primes the VC
// cache goes through it, so the cached entry is complete no matter which job
// fills it first.
func (h *Handlers) fetchVCDigest(ctx context.Context) (VCDigest, error) {
	rounds, err := h.news.FundingRounds(ctx)
	if err != nil {
		return VCDigest{}, err
	}
	ipos, err := h.news.UpcomingIPOs(ctx)
	if err != nil {
		return VCDigest{}, err
	}
	return VCDigest{Rounds: rounds, IPOs: ipos}, nil
}

// FetchVCFunding fetches funding rounds and upcoming IPOs through the cache.
func (h *Handlers) FetchVCFunding(ctx context.Context, job *queue.Job) (any, error) {
	day := domain.Day(h.now())

	digest, err := h.caches.VC.Get(ctx, day, h.fetchVCDigest)
	if err != nil {
		return nil, fmt.Errorf("fetch vc digest for %s: %w", day, err)
	}

	return map[string]any{
		"success":   true,
		"rounds":    digest.Rounds,
		"ipos":      digest.IPOs,
		"timestamp": h.now().UTC(),
	}, nil
}

// InvestorActivity is one investor's deal count in the tracked window.
type InvestorActivity struct {
	Investor string `json:"investor"`
	Deals    int    `json:"deals"`
}

const topInvestorLimit = 10

// TrackTopInvestors ranks investors by deal participation in the current
// funding-round snapshot.
func (h *Handlers) TrackTopInvestors(ctx context.Context, job *queue.Job) (any, error) {
	day := domain.Day(h.now())

	digest, err := h.caches.VC.Get(ctx, day, h.fetchVCDigest)
	if err != nil {
		return nil, fmt.Errorf("track top investors for %s: %w", day, err)
	}

	deals := make(map[string]int)
	for _, round := range digest.Rounds {
		for _, investor := range round.Investors {
			deals[investor]++
		}
	}

	ranking := make([]InvestorActivity, 0, len(deals))
	for investor, n := range deals {
		ranking = append(ranking, InvestorActivity{Investor: investor, Deals: n})
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].Deals != ranking[j].Deals {
			return ranking[i].Deals > ranking[j].Deals
		}
		return ranking[i].Investor < ranking[j].Investor
	})
	if len(ranking) > topInvestorLimit {
		ranking = ranking[:topInvestorLimit]
	}

	return map[string]any{
		"success":   true,
		"investors": ranking,
		"timestamp": h.now().UTC(),
	}, nil
}
