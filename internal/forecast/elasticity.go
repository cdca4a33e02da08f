// Package forecast projects spend, cost-per-result, and result volume under
// budget changes, using a hierarchically pooled spend-to-CPR elasticity
// estimate.
package forecast

import (
	"context"
	"fmt"
	"math"

	"github.com/pulseboard/adinsights/internal/config"
	"github.com/pulseboard/adinsights/internal/domain"
	"github.com/pulseboard/adinsights/internal/pkg/logger"
)

// spendGrowthEvent is one consecutive-week pair where spend grew enough to
// reveal elasticity: x = ln(spend ratio), y = ln(cpr ratio).
type spendGrowthEvent struct {
	x float64
	y float64
}

// extractEvents walks normalized results (ordered per ad by week ascending)
// and emits a spend-growth event for every consecutive-week pair whose
// spend ratio is at least growthMin and whose CPRs are both defined. An
// empty adID keeps events from every ad in the slice.
func extractEvents(results []domain.NormalizedWeeklyResult, adID string, growthMin float64) []spendGrowthEvent {
	var events []spendGrowthEvent
	for i := 1; i < len(results); i++ {
		prev, cur := results[i-1], results[i]
		if prev.AdID != cur.AdID {
			continue
		}
		if adID != "" && cur.AdID != adID {
			continue
		}
		if !prev.WeekStart.AddDate(0, 0, 7).Equal(cur.WeekStart) {
			continue
		}
		if prev.Spend <= 0 || cur.Spend <= 0 {
			continue
		}
		ratio := cur.Spend / prev.Spend
		if ratio < growthMin {
			continue
		}
		if prev.CPR == nil || cur.CPR == nil || *prev.CPR <= 0 || *cur.CPR <= 0 {
			continue
		}
		events = append(events, spendGrowthEvent{
			x: math.Log(ratio),
			y: math.Log(*cur.CPR / *prev.CPR),
		})
	}
	return events
}

// coefficient fits a regression through the origin in log-space:
// k = Σ(x·y) / Σ(x²). Nil when the fit is degenerate.
func coefficient(events []spendGrowthEvent) *float64 {
	var sumXY, sumXX float64
	for _, e := range events {
		sumXY += e.x * e.y
		sumXX += e.x * e.x
	}
	if sumXX == 0 {
		return nil
	}
	k := sumXY / sumXX
	return &k
}

// poolingRule is one level of the elasticity fallback chain, evaluated
// first-match-wins: the first level with enough qualifying events and a
// non-degenerate fit supplies the estimate.
type poolingRule struct {
	level     domain.ElasticityLevel
	minEvents int
	events    func(ctx context.Context) ([]spendGrowthEvent, error)
}

// Estimator resolves an elasticity coefficient for an (ad, family) scope by
// pooling outward: ad, then account+family, then a cached global+family
// estimate, then a fixed fallback constant.
type Estimator struct {
	results ResultsReader
	cache   Cache
	cfg     config.ForecastConfig
}

// NewEstimator wires an elasticity estimator. cache may be nil, which
// disables global-estimate caching but not the global pool itself.
func NewEstimator(results ResultsReader, cache Cache, cfg config.ForecastConfig) *Estimator {
	return &Estimator{results: results, cache: cache, cfg: cfg}
}

// Estimate returns the first qualifying pooling level's coefficient. It
// never fails the forecast: store errors on a broader pool degrade to the
// next level, and the fixed fallback always qualifies.
func (e *Estimator) Estimate(ctx context.Context, accountID, adID string, family domain.ResultFamily) domain.ElasticityEstimate {
	rules := []poolingRule{
		{
			level:     domain.ElasticityAd,
			minEvents: e.cfg.MinAdEvents,
			events: func(ctx context.Context) ([]spendGrowthEvent, error) {
				rows, err := e.results.ListByFamily(ctx, accountID, family)
				if err != nil {
					return nil, err
				}
				return extractEvents(rows, adID, e.cfg.SpendGrowthMin), nil
			},
		},
		{
			level:     domain.ElasticityAccount,
			minEvents: e.cfg.MinAccountEvents,
			events: func(ctx context.Context) ([]spendGrowthEvent, error) {
				rows, err := e.results.ListByFamily(ctx, accountID, family)
				if err != nil {
					return nil, err
				}
				return extractEvents(rows, "", e.cfg.SpendGrowthMin), nil
			},
		},
	}

	for _, rule := range rules {
		events, err := rule.events(ctx)
		if err != nil {
			logger.Warn("elasticity pool unavailable",
				"level", string(rule.level), "family", string(family), "error", err.Error())
			continue
		}
		if len(events) < rule.minEvents {
			continue
		}
		if k := coefficient(events); k != nil {
			return domain.ElasticityEstimate{K: *k, Level: rule.level, EventCount: len(events)}
		}
	}

	if est := e.globalEstimate(ctx, family); est != nil {
		return *est
	}

	return domain.ElasticityEstimate{K: e.cfg.FallbackK, Level: domain.ElasticityFallback}
}

// globalEstimate computes (or serves from cache) the cross-account estimate
// for a family. Nil when the global pool does not qualify either.
func (e *Estimator) globalEstimate(ctx context.Context, family domain.ResultFamily) *domain.ElasticityEstimate {
	key := globalCacheKey(family)
	if e.cache != nil {
		cached, ok, err := e.cache.Get(ctx, key)
		if err != nil {
			logger.Warn("elasticity cache read failed", "key", key, "error", err.Error())
		} else if ok {
			if cached.EventCount < e.cfg.MinGlobalEvents {
				return nil
			}
			return cached
		}
	}

	rows, err := e.results.ListGlobalByFamily(ctx, family)
	if err != nil {
		logger.Warn("elasticity pool unavailable",
			"level", string(domain.ElasticityGlobal), "family", string(family), "error", err.Error())
		return nil
	}
	events := extractEvents(rows, "", e.cfg.SpendGrowthMin)

	est := &domain.ElasticityEstimate{Level: domain.ElasticityGlobal, EventCount: len(events)}
	if k := coefficient(events); k != nil {
		est.K = *k
	} else {
		// Cache the degenerate outcome too, so a thin family does not
		// trigger a full cross-account scan on every forecast.
		est.EventCount = 0
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, key, *est, e.cfg.CacheTTL()); err != nil {
			logger.Warn("elasticity cache write failed", "key", key, "error", err.Error())
		}
	}

	if est.EventCount < e.cfg.MinGlobalEvents {
		return nil
	}
	return est
}

func globalCacheKey(family domain.ResultFamily) string {
	return fmt.Sprintf("elasticity:global:%s", family)
}
