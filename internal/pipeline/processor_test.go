package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/adinsights/internal/config"
	"github.com/pulseboard/adinsights/internal/domain"
)

var latestWeek = time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)

func fp(v float64) *float64 { return &v }

type fakeMetrics struct {
	weekly []domain.RawWeeklyMetric
	daily  []domain.RawDailyMetric
}

func (f *fakeMetrics) ListWeeklyByAccount(context.Context, string) ([]domain.RawWeeklyMetric, error) {
	return f.weekly, nil
}

func (f *fakeMetrics) ListDailyByAccount(context.Context, string, time.Time, time.Time) ([]domain.RawDailyMetric, error) {
	return f.daily, nil
}

type fakeResults struct {
	rows []domain.NormalizedWeeklyResult
}

func (f *fakeResults) ListByAccount(context.Context, string) ([]domain.NormalizedWeeklyResult, error) {
	return f.rows, nil
}

type fakeFeatureWriter struct {
	calls     int
	written   []domain.FeatureRecord
	failFirst bool
}

func (f *fakeFeatureWriter) UpsertBatch(_ context.Context, records []domain.FeatureRecord) error {
	f.calls++
	if f.failFirst && f.calls == 1 {
		return errors.New("read tcp 10.0.0.1:5432: connection reset by peer")
	}
	f.written = append(f.written, records...)
	return nil
}

type fakeAnomalyWriter struct {
	calls   int
	written []domain.Anomaly
}

func (f *fakeAnomalyWriter) UpsertBatch(_ context.Context, anomalies []domain.Anomaly) error {
	f.calls++
	f.written = append(f.written, anomalies...)
	return nil
}

func testAnalyticsConfig() config.AnalyticsConfig {
	return config.AnalyticsConfig{
		BaselineWeeks:     8,
		HistoryWeeks:      12,
		SlopeWeeks:        4,
		MinWeeksWithData:  4,
		CPRSpikeThreshold: 1.20,
		WriteBatchSize:    500,
		RetryAttempts:     3,
		RetryBackoffSecs:  0,
	}
}

// adWeeks builds weekly metrics plus matching primary purchase results,
// oldest CPR last: cprs[0] is the most recent week.
func adWeeks(adID string, cprs []float64) ([]domain.RawWeeklyMetric, []domain.NormalizedWeeklyResult) {
	var weekly []domain.RawWeeklyMetric
	var results []domain.NormalizedWeeklyResult
	for i, cpr := range cprs {
		week := latestWeek.AddDate(0, 0, -7*i)
		weekly = append(weekly, domain.RawWeeklyMetric{
			AccountID: "acct-1", AdID: adID, WeekStart: week,
			Spend: cpr * 5, Impressions: 10000, Reach: 5000,
			Frequency: 2, CTR: 1.1, LinkCTR: 0.8, CPC: 0.5, CPM: 12,
		})
		results = append(results, domain.NormalizedWeeklyResult{
			AccountID: "acct-1", AdID: adID, WeekStart: week,
			ResultFamily: domain.FamilyPurchase, ResultCount: 5,
			CPR: fp(cpr), Spend: cpr * 5, IsPrimary: true,
		})
	}
	return weekly, results
}

func TestProcessAccountComputesFeaturesAndAnomalies(t *testing.T) {
	weekly, results := adWeeks("ad-1", []float64{130, 100, 100, 100, 100, 100})

	// Latest week: 5 delivered days, 2 dark ones.
	var daily []domain.RawDailyMetric
	for i := 0; i < 7; i++ {
		d := domain.RawDailyMetric{AdID: "ad-1", Day: latestWeek.AddDate(0, 0, i), Spend: 90}
		if i < 5 {
			d.Impressions = 1000
		}
		daily = append(daily, d)
	}

	feats := &fakeFeatureWriter{}
	anoms := &fakeAnomalyWriter{}
	p := NewProcessor(&fakeMetrics{weekly: weekly, daily: daily}, &fakeResults{rows: results}, feats, anoms, testAnalyticsConfig())

	report, err := p.ProcessAccount(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Equal(t, 1, report.AdsProcessed)
	assert.Equal(t, 0, report.AdsFailed)
	assert.Equal(t, 6, report.FeaturesComputed)
	assert.Equal(t, 1, report.AnomaliesDetected)
	assert.Len(t, feats.written, 6)

	require.Len(t, anoms.written, 1)
	a := anoms.written[0]
	assert.Equal(t, "ad-1", a.AdID)
	assert.True(t, a.WeekStart.Equal(latestWeek))
	assert.Equal(t, domain.FamilyPurchase, a.ResultFamily)
	assert.InDelta(t, 30.0, a.DeltaPct, 1e-9)
	assert.Equal(t, 2, a.PauseDaysCount)
	assert.True(t, a.HasDeliveryGap)
}

func TestProcessAccountSkipsAdsWithoutPrimaryFamily(t *testing.T) {
	weekly, results := adWeeks("ad-1", []float64{100, 100, 100, 100})
	orphan, _ := adWeeks("ad-2", []float64{100, 100})
	weekly = append(weekly, orphan...)

	feats := &fakeFeatureWriter{}
	p := NewProcessor(&fakeMetrics{weekly: weekly}, &fakeResults{rows: results}, feats, &fakeAnomalyWriter{}, testAnalyticsConfig())

	report, err := p.ProcessAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.AdsProcessed)
	assert.Equal(t, 1, report.AdsSkipped)
}

func TestProcessAccountEmpty(t *testing.T) {
	p := NewProcessor(&fakeMetrics{}, &fakeResults{}, &fakeFeatureWriter{}, &fakeAnomalyWriter{}, testAnalyticsConfig())

	report, err := p.ProcessAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.AdsProcessed)
	assert.Equal(t, 0, report.FeaturesComputed)
}

func TestProcessAccountRetriesTransientWriteFailure(t *testing.T) {
	weekly, results := adWeeks("ad-1", []float64{100, 100, 100, 100})

	feats := &fakeFeatureWriter{failFirst: true}
	p := NewProcessor(&fakeMetrics{weekly: weekly}, &fakeResults{rows: results}, feats, &fakeAnomalyWriter{}, testAnalyticsConfig())

	report, err := p.ProcessAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 4, report.FeaturesComputed)
	assert.Equal(t, 2, feats.calls)
	assert.Len(t, feats.written, 4)
}

func TestProcessAccountFlushesInChunks(t *testing.T) {
	weekly, results := adWeeks("ad-1", []float64{100, 100, 100, 100, 100, 100})

	cfg := testAnalyticsConfig()
	cfg.WriteBatchSize = 4

	feats := &fakeFeatureWriter{}
	p := NewProcessor(&fakeMetrics{weekly: weekly}, &fakeResults{rows: results}, feats, &fakeAnomalyWriter{}, cfg)

	report, err := p.ProcessAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 6, report.FeaturesComputed)
	// Six records over a batch size of four: one full chunk plus the
	// mandatory final partial flush.
	assert.Equal(t, 2, feats.calls)
	assert.Len(t, feats.written, 6)
}
