package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/adinsights/internal/domain"
	"github.com/pulseboard/adinsights/internal/features"
)

var testWeek = time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)

func fp(v float64) *float64 { return &v }

func spikeRecord() *domain.FeatureRecord {
	return &domain.FeatureRecord{
		AccountID:     "acct-1",
		AdID:          "ad-1",
		WeekStart:     testWeek,
		ResultFamily:  domain.FamilyLeadgenForm,
		Spend:         600,
		ResultCount:   6,
		CPR:           fp(130),
		BaselineCPR:   fp(100),
		CPRDelta:      fp(30),
		WeeksWithData: 6,
		MinResultsMet: true,
	}
}

func traceWeek(offset int, m domain.RawWeeklyMetric, cpr *float64) features.WeekInput {
	m.AdID = "ad-1"
	m.WeekStart = testWeek.AddDate(0, 0, -7*offset)
	w := features.WeekInput{Metric: m}
	if cpr != nil {
		w.Result = &domain.NormalizedWeeklyResult{
			AdID:         m.AdID,
			WeekStart:    m.WeekStart,
			ResultFamily: domain.FamilyLeadgenForm,
			ResultCount:  6,
			CPR:          cpr,
			Spend:        m.Spend,
		}
	}
	return w
}

func TestEvaluateSpikeScoreAndConfidence(t *testing.T) {
	d := NewDetector(1.20, 4, 8)
	rec := spikeRecord()

	weeks := []features.WeekInput{
		traceWeek(0, domain.RawWeeklyMetric{Spend: 600, CTR: 1.0, Frequency: 2.0}, fp(130)),
		traceWeek(1, domain.RawWeeklyMetric{Spend: 500, CTR: 1.2, Frequency: 1.8}, fp(110)),
		traceWeek(2, domain.RawWeeklyMetric{Spend: 500, CTR: 1.3, Frequency: 1.7}, fp(100)),
	}

	a := d.Evaluate(rec, weeks, nil)
	require.NotNil(t, a)
	assert.Equal(t, domain.AnomalyCPRSpike, a.AnomalyType)
	assert.Equal(t, domain.AnomalyNew, a.Status)
	assert.Equal(t, 130.0, a.CurrentValue)
	assert.Equal(t, 100.0, a.BaselineValue)
	assert.InDelta(t, 30.0, a.DeltaPct, 1e-9)
	// 6 weeks of history gives confidence 6/8, so score = 0.30 * 0.75.
	assert.InDelta(t, 0.75, a.Confidence, 1e-9)
	assert.InDelta(t, 0.225, a.Score, 1e-9)
}

func TestEvaluateScoreCapsAtOne(t *testing.T) {
	d := NewDetector(1.20, 4, 8)
	rec := spikeRecord()
	rec.CPR = fp(350)
	rec.CPRDelta = fp(250)
	rec.WeeksWithData = 12

	a := d.Evaluate(rec, []features.WeekInput{traceWeek(0, domain.RawWeeklyMetric{Spend: 600}, fp(350))}, nil)
	require.NotNil(t, a)
	assert.Equal(t, 1.0, a.Confidence)
	assert.Equal(t, 1.0, a.Score)
}

func TestEvaluatePreconditions(t *testing.T) {
	d := NewDetector(1.20, 4, 8)
	weeks := []features.WeekInput{traceWeek(0, domain.RawWeeklyMetric{Spend: 600}, fp(130))}

	tests := []struct {
		name   string
		mutate func(*domain.FeatureRecord)
	}{
		{"short history", func(r *domain.FeatureRecord) { r.WeeksWithData = 3 }},
		{"non-business family", func(r *domain.FeatureRecord) { r.ResultFamily = domain.FamilyClick }},
		{"min results not met", func(r *domain.FeatureRecord) { r.MinResultsMet = false }},
		{"no baseline", func(r *domain.FeatureRecord) { r.BaselineCPR = nil; r.CPRDelta = nil }},
		{"below threshold", func(r *domain.FeatureRecord) { r.CPR = fp(115); r.CPRDelta = fp(15) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := spikeRecord()
			tt.mutate(rec)
			assert.Nil(t, d.Evaluate(rec, weeks, nil))
		})
	}
}

func TestEvaluateFiresExactlyAtThreshold(t *testing.T) {
	d := NewDetector(1.20, 4, 8)
	rec := spikeRecord()
	rec.CPR = fp(120)
	rec.CPRDelta = fp(20)

	a := d.Evaluate(rec, []features.WeekInput{traceWeek(0, domain.RawWeeklyMetric{Spend: 600}, fp(120))}, nil)
	require.NotNil(t, a)
	assert.InDelta(t, 20.0, a.DeltaPct, 1e-9)
}

func TestBuildTraceSignificanceAndDirection(t *testing.T) {
	d := NewDetector(1.20, 4, 8)
	rec := spikeRecord()
	rec.BaselineCTR = fp(1.0)
	rec.BaselineFrequency = fp(2.0)

	weeks := []features.WeekInput{
		// CTR down 20% (significant, bad); frequency up 10% (not significant).
		traceWeek(0, domain.RawWeeklyMetric{Spend: 600, CTR: 0.8, Frequency: 2.2}, fp(130)),
		traceWeek(1, domain.RawWeeklyMetric{Spend: 500, CTR: 1.0, Frequency: 2.0}, fp(100)),
		traceWeek(2, domain.RawWeeklyMetric{Spend: 500, CTR: 1.25, Frequency: 2.0}, fp(100)),
	}

	a := d.Evaluate(rec, weeks, nil)
	require.NotNil(t, a)
	require.Len(t, a.Trace.Weeks, 3)
	assert.Equal(t, 0, a.Trace.Weeks[0].WeekOffset)
	assert.Equal(t, -2, a.Trace.Weeks[2].WeekOffset)

	byName := map[string]domain.MetricDeviation{}
	for _, m := range a.Trace.Weeks[0].Metrics {
		byName[m.Metric] = m
	}

	ctr := byName["ctr"]
	require.NotNil(t, ctr.DeltaPct)
	assert.InDelta(t, -20.0, *ctr.DeltaPct, 1e-9)
	assert.True(t, ctr.Significant)
	assert.Equal(t, domain.DirectionBad, ctr.Direction)

	freq := byName["frequency"]
	require.NotNil(t, freq.DeltaPct)
	assert.InDelta(t, 10.0, *freq.DeltaPct, 1e-9)
	assert.False(t, freq.Significant)
	assert.Equal(t, domain.DirectionNeutral, freq.Direction)

	// CTR improved in the oldest week: significant but in the good direction.
	var oldCTR domain.MetricDeviation
	for _, m := range a.Trace.Weeks[2].Metrics {
		if m.Metric == "ctr" {
			oldCTR = m
		}
	}
	require.NotNil(t, oldCTR.DeltaPct)
	assert.InDelta(t, 25.0, *oldCTR.DeltaPct, 1e-9)
	assert.True(t, oldCTR.Significant)
	assert.Equal(t, domain.DirectionGood, oldCTR.Direction)
}

func TestBuildTraceRankingBaselines(t *testing.T) {
	d := NewDetector(1.20, 4, 8)
	rec := spikeRecord()

	q := func(v int) *int { return &v }
	m0 := domain.RawWeeklyMetric{Spend: 600, QualityRanking: q(-1)}
	m1 := domain.RawWeeklyMetric{Spend: 500, QualityRanking: q(1)}
	m2 := domain.RawWeeklyMetric{Spend: 500, QualityRanking: q(1)}

	weeks := []features.WeekInput{
		traceWeek(0, m0, fp(130)),
		traceWeek(1, m1, fp(100)),
		traceWeek(2, m2, fp(100)),
	}

	a := d.Evaluate(rec, weeks, nil)
	require.NotNil(t, a)

	var quality *domain.MetricDeviation
	for i, m := range a.Trace.Weeks[0].Metrics {
		if m.Metric == "quality_ranking" {
			quality = &a.Trace.Weeks[0].Metrics[i]
		}
	}
	require.NotNil(t, quality)
	// Baseline is the median of the prior weeks' scores, 1; a -1 current
	// score is a 200% drop and clearly significant.
	require.NotNil(t, quality.Baseline)
	assert.Equal(t, 1.0, *quality.Baseline)
	assert.True(t, quality.Significant)
	assert.Equal(t, domain.DirectionBad, quality.Direction)
}

func TestPauseDetection(t *testing.T) {
	d := NewDetector(1.20, 4, 8)
	rec := spikeRecord()
	weeks := []features.WeekInput{traceWeek(0, domain.RawWeeklyMetric{Spend: 600}, fp(130))}

	var daily []domain.RawDailyMetric
	for i := 0; i < 7; i++ {
		day := domain.RawDailyMetric{
			AdID:  "ad-1",
			Day:   testWeek.AddDate(0, 0, i),
			Spend: 10,
		}
		// Days 0 and 1 delivered; 5 of 7 days went dark.
		if i < 2 {
			day.Impressions = 1000
		}
		daily = append(daily, day)
	}
	// A row from another ad and one outside the week must not count.
	daily = append(daily,
		domain.RawDailyMetric{AdID: "ad-2", Day: testWeek, Impressions: 0},
		domain.RawDailyMetric{AdID: "ad-1", Day: testWeek.AddDate(0, 0, 7), Impressions: 0},
	)

	a := d.Evaluate(rec, weeks, daily)
	require.NotNil(t, a)
	assert.Equal(t, 5, a.PauseDaysCount)
	assert.True(t, a.HasDeliveryGap)
}

func TestPauseDetectionNoActiveDays(t *testing.T) {
	d := NewDetector(1.20, 4, 8)
	rec := spikeRecord()
	weeks := []features.WeekInput{traceWeek(0, domain.RawWeeklyMetric{Spend: 600}, fp(130))}

	var daily []domain.RawDailyMetric
	for i := 0; i < 7; i++ {
		daily = append(daily, domain.RawDailyMetric{AdID: "ad-1", Day: testWeek.AddDate(0, 0, i)})
	}

	a := d.Evaluate(rec, weeks, daily)
	require.NotNil(t, a)
	assert.Equal(t, 7, a.PauseDaysCount)
	// The week never delivered at all, so this is a full pause, not a gap.
	assert.False(t, a.HasDeliveryGap)
}
