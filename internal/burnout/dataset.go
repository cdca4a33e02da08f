// Package burnout scores the risk that an ad's efficiency is about to
// degrade. It builds a lead-lag dataset from feature history, surfaces
// predictive triggers via quantile analysis, and emits per-ad risk
// predictions from a fixed-weight combiner.
package burnout

import (
	"time"

	"github.com/pulseboard/adinsights/internal/domain"
	"github.com/pulseboard/adinsights/internal/features"
)

// spikeThresholdPct labels a future week as a spike when its CPR rose at
// least this much vs the leading week.
const spikeThresholdPct = 20.0

// leadingMetric is one feature treated as a potential leading indicator.
// The same table drives the quantile analysis, the point predictor's
// weights, and driver reporting.
type leadingMetric struct {
	name   string
	weight float64
	value  func(*domain.FeatureRecord) *float64

	// triggered reports whether the raw value moves in the direction that
	// precedes a spike; only triggered metrics become drivers.
	triggered func(v float64) bool

	// warning is a liquid template rendered into the driver's
	// human-readable string with "metric" and "value" bindings.
	warning string
}

var leadingMetrics = []leadingMetric{
	{
		name: "frequency_delta", weight: 0.25,
		value:     func(r *domain.FeatureRecord) *float64 { return r.FrequencyDelta },
		triggered: func(v float64) bool { return v > 0 },
		warning:   `Frequency is {{ value | round: 1 }}% above its baseline; the audience is seeing this ad more often than usual.`,
	},
	{
		name: "ctr_delta", weight: -0.20,
		value:     func(r *domain.FeatureRecord) *float64 { return r.CTRDelta },
		triggered: func(v float64) bool { return v < 0 },
		warning:   `CTR is {{ value | abs | round: 1 }}% below its baseline; engagement with the creative is fading.`,
	},
	{
		name: "cpc_delta", weight: 0.15,
		value:     func(r *domain.FeatureRecord) *float64 { return r.CPCDelta },
		triggered: func(v float64) bool { return v > 0 },
		warning:   `CPC is {{ value | round: 1 }}% above its baseline; each click is getting more expensive.`,
	},
	{
		name: "frequency_slope", weight: 0.20,
		value:     func(r *domain.FeatureRecord) *float64 { return r.FrequencySlope },
		triggered: func(v float64) bool { return v > 0 },
		warning:   `Frequency is trending up ({{ value | round: 2 }}/week); audience saturation is building.`,
	},
	{
		name: "ctr_slope", weight: -0.10,
		value:     func(r *domain.FeatureRecord) *float64 { return r.CTRSlope },
		triggered: func(v float64) bool { return v < 0 },
		warning:   `CTR is trending down ({{ value | round: 3 }}/week) over the last month.`,
	},
	{
		name: "reach_growth", weight: -0.10,
		value:     func(r *domain.FeatureRecord) *float64 { return r.ReachGrowth },
		triggered: func(v float64) bool { return v < 0 },
		warning:   `Reach shrank {{ value | abs | round: 1 }}% week-over-week; the ad is no longer finding new people.`,
	},
	{
		name: "spend_change", weight: 0.05,
		value:     func(r *domain.FeatureRecord) *float64 { return r.SpendChange },
		triggered: func(v float64) bool { return v > 0 },
		warning:   `Spend rose {{ value | round: 1 }}% week-over-week, which can accelerate saturation.`,
	},
}

// LeadLagRow pairs one week's leading signals with what happened to CPR
// one and two weeks later.
type LeadLagRow struct {
	AdID      string
	WeekStart time.Time

	// Values holds the leading metrics by name; nil means not computable
	// for that week.
	Values map[string]*float64

	CPRChange1W *float64
	CPRChange2W *float64
	Spike1W     bool
	Spike2W     bool
}

// BuildDataset walks each ad's chronological feature history and emits one
// row per consecutive (t, t+1, t+2) week triple. Ads with fewer than
// minAdHistory weeks are skipped entirely. Records must be ordered by ad,
// then week ascending, as the feature repository returns them. A spikePct
// of 0 uses the default +20% label threshold.
func BuildDataset(records []domain.FeatureRecord, minAdHistory int, spikePct float64) []LeadLagRow {
	if spikePct <= 0 {
		spikePct = spikeThresholdPct
	}
	byAd := make(map[string][]domain.FeatureRecord)
	var adOrder []string
	for _, rec := range records {
		if _, seen := byAd[rec.AdID]; !seen {
			adOrder = append(adOrder, rec.AdID)
		}
		byAd[rec.AdID] = append(byAd[rec.AdID], rec)
	}

	var rows []LeadLagRow
	for _, adID := range adOrder {
		history := byAd[adID]
		if len(history) < minAdHistory {
			continue
		}
		for i := 0; i+2 < len(history); i++ {
			lead, next, after := history[i], history[i+1], history[i+2]
			if !consecutiveWeeks(lead.WeekStart, next.WeekStart) ||
				!consecutiveWeeks(next.WeekStart, after.WeekStart) {
				continue
			}
			if lead.CPR == nil || *lead.CPR <= 0 {
				continue
			}

			row := LeadLagRow{
				AdID:      adID,
				WeekStart: lead.WeekStart,
				Values:    make(map[string]*float64, len(leadingMetrics)),
			}
			for _, lm := range leadingMetrics {
				row.Values[lm.name] = lm.value(&lead)
			}
			if next.CPR != nil {
				row.CPRChange1W = features.PercentChange(*next.CPR, *lead.CPR)
			}
			if after.CPR != nil {
				row.CPRChange2W = features.PercentChange(*after.CPR, *lead.CPR)
			}
			row.Spike1W = row.CPRChange1W != nil && *row.CPRChange1W >= spikePct
			row.Spike2W = row.CPRChange2W != nil && *row.CPRChange2W >= spikePct
			rows = append(rows, row)
		}
	}
	return rows
}

func consecutiveWeeks(a, b time.Time) bool {
	return a.AddDate(0, 0, 7).Equal(b)
}
