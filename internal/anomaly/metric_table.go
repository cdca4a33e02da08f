// Package anomaly detects cost-per-result spikes from feature records and
// attaches multi-week causal context and delivery-pause detection.
package anomaly

import (
	"github.com/pulseboard/adinsights/internal/domain"
	"github.com/pulseboard/adinsights/internal/features"
)

// badDirection says which way a metric moves when it is hurting the ad.
type badDirection int

const (
	badWhenUp badDirection = iota
	badWhenDown
)

// Per-metric significance thresholds, in percent. Performance metrics move
// constantly, so they get the tightest band; spend is operator-controlled
// and only significant on large swings.
const (
	performanceThreshold = 15
	outcomeThreshold     = 20
	spendThreshold       = 30
)

// tracedMetric is one row of the declarative causal-trace table: where the
// weekly value comes from, where its baseline comes from, the significance
// threshold, and which direction is bad. Thresholds are tuned here and
// nowhere else.
type tracedMetric struct {
	name      string
	threshold float64
	bad       badDirection
	value     func(features.WeekInput) *float64
	baseline  func(*domain.FeatureRecord, *rankingBaselines) *float64
}

// rankingBaselines carries the detector-computed baselines for the three
// ranking diagnostics, which the feature record does not store
// individually.
type rankingBaselines struct {
	quality    *float64
	engagement *float64
	conversion *float64
}

var tracedMetrics = []tracedMetric{
	{
		name: "frequency", threshold: performanceThreshold, bad: badWhenUp,
		value:    func(w features.WeekInput) *float64 { v := w.Metric.Frequency; return &v },
		baseline: func(r *domain.FeatureRecord, _ *rankingBaselines) *float64 { return r.BaselineFrequency },
	},
	{
		name: "ctr", threshold: performanceThreshold, bad: badWhenDown,
		value:    func(w features.WeekInput) *float64 { v := w.Metric.CTR; return &v },
		baseline: func(r *domain.FeatureRecord, _ *rankingBaselines) *float64 { return r.BaselineCTR },
	},
	{
		name: "link_ctr", threshold: performanceThreshold, bad: badWhenDown,
		value:    func(w features.WeekInput) *float64 { v := w.Metric.LinkCTR; return &v },
		baseline: func(r *domain.FeatureRecord, _ *rankingBaselines) *float64 { return r.BaselineLinkCTR },
	},
	{
		name: "cpm", threshold: performanceThreshold, bad: badWhenUp,
		value:    func(w features.WeekInput) *float64 { v := w.Metric.CPM; return &v },
		baseline: func(r *domain.FeatureRecord, _ *rankingBaselines) *float64 { return r.BaselineCPM },
	},
	{
		name: "cpr", threshold: outcomeThreshold, bad: badWhenUp,
		value: func(w features.WeekInput) *float64 {
			if w.Result == nil {
				return nil
			}
			return w.Result.CPR
		},
		baseline: func(r *domain.FeatureRecord, _ *rankingBaselines) *float64 { return r.BaselineCPR },
	},
	{
		name: "spend", threshold: spendThreshold, bad: badWhenUp,
		value:    func(w features.WeekInput) *float64 { v := w.Metric.Spend; return &v },
		baseline: func(r *domain.FeatureRecord, _ *rankingBaselines) *float64 { return r.BaselineSpend },
	},
	{
		name: "results", threshold: outcomeThreshold, bad: badWhenDown,
		value: func(w features.WeekInput) *float64 {
			if w.Result == nil {
				return nil
			}
			v := w.Result.ResultCount
			return &v
		},
		baseline: func(r *domain.FeatureRecord, _ *rankingBaselines) *float64 { return r.BaselineResults },
	},
	{
		name: "quality_ranking", threshold: outcomeThreshold, bad: badWhenDown,
		value:    func(w features.WeekInput) *float64 { return intPtrToFloat(w.Metric.QualityRanking) },
		baseline: func(_ *domain.FeatureRecord, rb *rankingBaselines) *float64 { return rb.quality },
	},
	{
		name: "engagement_ranking", threshold: outcomeThreshold, bad: badWhenDown,
		value:    func(w features.WeekInput) *float64 { return intPtrToFloat(w.Metric.EngagementRanking) },
		baseline: func(_ *domain.FeatureRecord, rb *rankingBaselines) *float64 { return rb.engagement },
	},
	{
		name: "conversion_ranking", threshold: outcomeThreshold, bad: badWhenDown,
		value:    func(w features.WeekInput) *float64 { return intPtrToFloat(w.Metric.ConversionRanking) },
		baseline: func(_ *domain.FeatureRecord, rb *rankingBaselines) *float64 { return rb.conversion },
	},
}

func intPtrToFloat(p *int) *float64 {
	if p == nil {
		return nil
	}
	v := float64(*p)
	return &v
}
