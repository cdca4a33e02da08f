package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pulseboard/adinsights/internal/config"
	"github.com/pulseboard/adinsights/internal/domain"
	"github.com/pulseboard/adinsights/internal/pkg/logger"
)

const (
	baselineConfidence = 0.75
	scalingConfidence  = 0.6
	confidenceCap      = 0.9
	forecastHorizon    = 2 // weeks
)

// ResultsReader is the normalized-results surface the forecaster reads.
type ResultsReader interface {
	ListByFamily(ctx context.Context, accountID string, family domain.ResultFamily) ([]domain.NormalizedWeeklyResult, error)
	ListGlobalByFamily(ctx context.Context, family domain.ResultFamily) ([]domain.NormalizedWeeklyResult, error)
}

// FeaturesReader supplies an ad's chronological feature history.
type FeaturesReader interface {
	ListByAd(ctx context.Context, adID string) ([]domain.FeatureRecord, error)
}

// AdsReader supplies ad reference rows for campaign aggregation.
type AdsReader interface {
	ListAds(ctx context.Context, accountID string) ([]domain.Ad, error)
}

// CampaignForecast aggregates the eligible per-ad forecasts of a campaign.
// Aggregate CPR is recomputed from summed spend and results, never averaged.
type CampaignForecast struct {
	AccountID  string `json:"account_id"`
	CampaignID string `json:"campaign_id"`

	AdsIncluded int `json:"ads_included"`
	AdsSkipped  int `json:"ads_skipped"`

	CurrentSpend float64 `json:"current_spend"`
	CurrentCPR   float64 `json:"current_cpr"`

	Baseline []domain.ForecastPoint   `json:"baseline"`
	Scaling  []domain.ScalingForecast `json:"scaling"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Service is the budget forecaster.
type Service struct {
	results   ResultsReader
	feats     FeaturesReader
	ads       AdsReader
	estimator *Estimator
	cfg       config.ForecastConfig
	now       func() time.Time
}

// NewService wires a forecaster. cache may be nil to disable global
// elasticity caching.
func NewService(results ResultsReader, feats FeaturesReader, ads AdsReader, cache Cache, cfg config.ForecastConfig) *Service {
	return &Service{
		results:   results,
		feats:     feats,
		ads:       ads,
		estimator: NewEstimator(results, cache, cfg),
		cfg:       cfg,
		now:       time.Now,
	}
}

// ForecastAd projects the next two weeks for one (ad, family): a no-change
// baseline from the feature engine's CPR trend, and constant-elasticity
// scaling projections for each configured budget delta. Returns nil when
// the ad has no current week to project from.
func (s *Service) ForecastAd(ctx context.Context, accountID, adID string, family domain.ResultFamily) (*domain.ForecastResult, error) {
	history, err := s.feats.ListByAd(ctx, adID)
	if err != nil {
		return nil, fmt.Errorf("load feature history: %w", err)
	}
	var latest *domain.FeatureRecord
	for i := range history {
		if latest == nil || history[i].WeekStart.After(latest.WeekStart) {
			latest = &history[i]
		}
	}
	if latest == nil || latest.CPR == nil || *latest.CPR <= 0 {
		logger.Debug("forecast skipped, no current cpr", "ad_id", adID, "family", string(family))
		return nil, nil
	}

	rows, err := s.results.ListByFamily(ctx, accountID, family)
	if err != nil {
		return nil, fmt.Errorf("load normalized results: %w", err)
	}
	var adRows []domain.NormalizedWeeklyResult
	for _, row := range rows {
		if row.AdID == adID {
			adRows = append(adRows, row)
		}
	}

	est := s.estimator.Estimate(ctx, accountID, adID, family)

	out := &domain.ForecastResult{
		AccountID:    accountID,
		AdID:         adID,
		ResultFamily: family,
		CurrentSpend: latest.Spend,
		CurrentCPR:   *latest.CPR,
		Elasticity:   est,
		Eligibility:  s.eligibility(adRows),
		GeneratedAt:  s.now().UTC(),
	}

	var slope float64
	if latest.CPRSlope != nil {
		slope = *latest.CPRSlope
	}
	for weeks := 1; weeks <= forecastHorizon; weeks++ {
		cpr := *latest.CPR + slope*float64(weeks)
		out.Baseline = append(out.Baseline, domain.ForecastPoint{
			WeeksAhead: weeks,
			Spend:      latest.Spend,
			CPR:        cpr,
			Results:    projectedResults(latest.Spend, cpr),
			Confidence: baselineConfidence,
		})
	}

	for _, scalePct := range s.cfg.ScalingDeltas {
		out.Scaling = append(out.Scaling, s.scale(latest.Spend, *latest.CPR, est.K, scalePct))
	}
	return out, nil
}

// scale projects one budget delta with a constant-elasticity model:
// CPR' = CPR × exp(k·ln(1+Δ)). The baseline trend slope is deliberately
// not mixed in; the trend describes no-change dynamics and adding it here
// would double-count the budget effect.
func (s *Service) scale(spend, cpr, k, scalePct float64) domain.ScalingForecast {
	factor := 1 + scalePct/100
	scaledSpend := spend * factor
	scaledCPR := cpr * math.Exp(k*math.Log(factor))

	sf := domain.ScalingForecast{ScalePct: scalePct}
	for weeks := 1; weeks <= forecastHorizon; weeks++ {
		confidence := scalingConfidence
		if weeks == 1 {
			confidence += 0.1
		}
		if scalePct <= 20 {
			confidence += 0.1
		}
		if confidence > confidenceCap {
			confidence = confidenceCap
		}
		sf.Points = append(sf.Points, domain.ForecastPoint{
			WeeksAhead: weeks,
			Spend:      scaledSpend,
			CPR:        scaledCPR,
			Results:    projectedResults(scaledSpend, scaledCPR),
			Confidence: confidence,
		})
	}
	return sf
}

// eligibility applies the advisory gate: enough positive-spend weeks, and
// average weekly spend and results above the floors. It never blocks the
// forecast; a failing verdict flags it as advisory-only.
func (s *Service) eligibility(rows []domain.NormalizedWeeklyResult) domain.ForecastEligibility {
	var spendWeeks int
	var spendSum, resultSum float64
	for _, row := range rows {
		if row.Spend > 0 {
			spendWeeks++
		}
		spendSum += row.Spend
		resultSum += row.ResultCount
	}

	if spendWeeks < s.cfg.MinSpendWeeks {
		return domain.ForecastEligibility{
			Reason: fmt.Sprintf("only %d week(s) of spend history, need %d", spendWeeks, s.cfg.MinSpendWeeks),
		}
	}
	avgSpend := spendSum / float64(len(rows))
	if avgSpend < s.cfg.MinWeeklySpend {
		return domain.ForecastEligibility{
			Reason: fmt.Sprintf("average weekly spend $%.2f is below the $%.0f floor", avgSpend, s.cfg.MinWeeklySpend),
		}
	}
	avgResults := resultSum / float64(len(rows))
	if avgResults < s.cfg.MinWeeklyResults {
		return domain.ForecastEligibility{
			Reason: fmt.Sprintf("average weekly results %.1f is below the %.0f floor", avgResults, s.cfg.MinWeeklyResults),
		}
	}
	return domain.ForecastEligibility{IsEligible: true}
}

// ForecastCampaignBudget sums the eligible per-ad forecasts of a campaign.
// Ineligible or unprojectable ads are counted but excluded from the sums.
func (s *Service) ForecastCampaignBudget(ctx context.Context, accountID, campaignID string) (*CampaignForecast, error) {
	ads, err := s.ads.ListAds(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load ads: %w", err)
	}

	cf := &CampaignForecast{
		AccountID:   accountID,
		CampaignID:  campaignID,
		GeneratedAt: s.now().UTC(),
	}

	var members []*domain.ForecastResult
	for _, ad := range ads {
		if ad.CampaignID != campaignID {
			continue
		}
		family, err := s.primaryFamily(ctx, ad.ID)
		if err != nil {
			return nil, err
		}
		if family == "" {
			cf.AdsSkipped++
			continue
		}
		fr, err := s.ForecastAd(ctx, accountID, ad.ID, family)
		if err != nil {
			return nil, err
		}
		if fr == nil || !fr.Eligibility.IsEligible {
			cf.AdsSkipped++
			continue
		}
		members = append(members, fr)
	}
	cf.AdsIncluded = len(members)
	if len(members) == 0 {
		return cf, nil
	}

	for _, fr := range members {
		cf.CurrentSpend += fr.CurrentSpend
	}
	var currentResults float64
	for _, fr := range members {
		currentResults += projectedResults(fr.CurrentSpend, fr.CurrentCPR)
	}
	if currentResults > 0 {
		cf.CurrentCPR = cf.CurrentSpend / currentResults
	}

	cf.Baseline = sumPoints(members, func(fr *domain.ForecastResult) []domain.ForecastPoint {
		return fr.Baseline
	})
	for i, scalePct := range s.cfg.ScalingDeltas {
		idx := i
		cf.Scaling = append(cf.Scaling, domain.ScalingForecast{
			ScalePct: scalePct,
			Points: sumPoints(members, func(fr *domain.ForecastResult) []domain.ForecastPoint {
				return fr.Scaling[idx].Points
			}),
		})
	}
	return cf, nil
}

// primaryFamily resolves an ad's primary result family from its latest
// feature record. Empty when the ad has no feature history.
func (s *Service) primaryFamily(ctx context.Context, adID string) (domain.ResultFamily, error) {
	history, err := s.feats.ListByAd(ctx, adID)
	if err != nil {
		return "", fmt.Errorf("load feature history: %w", err)
	}
	if len(history) == 0 {
		return "", nil
	}
	return history[len(history)-1].ResultFamily, nil
}

// sumPoints adds member forecasts point-by-point, recomputing CPR from the
// summed spend and results. Confidence is the lowest member confidence.
func sumPoints(members []*domain.ForecastResult, pick func(*domain.ForecastResult) []domain.ForecastPoint) []domain.ForecastPoint {
	var out []domain.ForecastPoint
	for w := 0; w < forecastHorizon; w++ {
		point := domain.ForecastPoint{WeeksAhead: w + 1}
		for _, fr := range members {
			points := pick(fr)
			if w >= len(points) {
				continue
			}
			point.Spend += points[w].Spend
			point.Results += points[w].Results
			if point.Confidence == 0 || points[w].Confidence < point.Confidence {
				point.Confidence = points[w].Confidence
			}
		}
		if point.Results > 0 {
			point.CPR = point.Spend / point.Results
		}
		out = append(out, point)
	}
	return out
}

func projectedResults(spend, cpr float64) float64 {
	if cpr <= 0 {
		return 0
	}
	return spend / cpr
}
