package burnout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/adinsights/internal/config"
	"github.com/pulseboard/adinsights/internal/domain"
)

type fakeFeatures struct {
	records []domain.FeatureRecord
}

func (f *fakeFeatures) ListByAccount(context.Context, string) ([]domain.FeatureRecord, error) {
	return f.records, nil
}

type fakePredictions struct {
	written []domain.BurnoutPrediction
}

func (f *fakePredictions) UpsertBatch(_ context.Context, preds []domain.BurnoutPrediction) error {
	f.written = append(f.written, preds...)
	return nil
}

func testConfig() config.BurnoutConfig {
	return config.BurnoutConfig{
		MinDatasetSize:  50,
		MinAdHistory:    4,
		SpikeThreshold:  1.20,
		InsightMinDelta: 0.10,
	}
}

func newTestAnalyzer(records []domain.FeatureRecord) (*Analyzer, *fakePredictions) {
	preds := &fakePredictions{}
	return NewAnalyzer(&fakeFeatures{records: records}, preds, testConfig()), preds
}

func TestPredictWeightsAndRiskLevel(t *testing.T) {
	a, _ := newTestAnalyzer(nil)
	rec := &domain.FeatureRecord{
		AccountID:      "acct-1",
		AdID:           "ad-1",
		WeekStart:      baseWeek,
		FrequencyDelta: fp(40),
		CTRDelta:       fp(-25),
		WeeksWithData:  8,
	}

	p := a.Predict(rec)
	require.NotNil(t, p)
	// 0.25*0.40 + (-0.20)*(-0.25) = 0.15; the affine clamp centers at 0.5.
	assert.InDelta(t, 0.65, p.RiskScore, 1e-9)
	assert.Equal(t, domain.RiskHigh, p.RiskLevel)
	assert.InDelta(t, 0.65*30, p.PredictedCPRChange1W, 1e-9)
	assert.InDelta(t, 0.65*50, p.PredictedCPRChange2W, 1e-9)
	assert.Equal(t, 1.0, p.Confidence)

	require.Len(t, p.Drivers, 2)
	assert.Equal(t, "frequency_delta", p.Drivers[0].Metric)
	assert.InDelta(t, 0.10, p.Drivers[0].Contribution, 1e-9)
	assert.Equal(t, "ctr_delta", p.Drivers[1].Metric)
	assert.InDelta(t, 0.05, p.Drivers[1].Contribution, 1e-9)
	assert.NotEmpty(t, p.Drivers[0].Warning)
}

func TestPredictImprovingMetricIsNotADriver(t *testing.T) {
	a, _ := newTestAnalyzer(nil)
	rec := &domain.FeatureRecord{
		AdID:          "ad-1",
		WeekStart:     baseWeek,
		CTRDelta:      fp(10), // improving CTR still lowers the score
		WeeksWithData: 6,
	}

	p := a.Predict(rec)
	require.NotNil(t, p)
	assert.InDelta(t, 0.48, p.RiskScore, 1e-9)
	assert.Equal(t, domain.RiskMedium, p.RiskLevel)
	assert.Empty(t, p.Drivers)
}

func TestPredictClampsToUnitInterval(t *testing.T) {
	a, _ := newTestAnalyzer(nil)
	rec := &domain.FeatureRecord{
		AdID:           "ad-1",
		WeekStart:      baseWeek,
		FrequencyDelta: fp(400),
		CPCDelta:       fp(300),
		WeeksWithData:  8,
	}

	p := a.Predict(rec)
	require.NotNil(t, p)
	assert.Equal(t, 1.0, p.RiskScore)
	assert.Equal(t, domain.RiskCritical, p.RiskLevel)
}

func TestPredictNoSignalReturnsNil(t *testing.T) {
	a, _ := newTestAnalyzer(nil)
	assert.Nil(t, a.Predict(&domain.FeatureRecord{AdID: "ad-1", WeeksWithData: 8}))
}

func TestPredictAllAdsUsesLatestWeekAndPersists(t *testing.T) {
	old := domain.FeatureRecord{
		AccountID: "acct-1", AdID: "ad-1", WeekStart: baseWeek,
		FrequencyDelta: fp(10), WeeksWithData: 5,
	}
	latest := domain.FeatureRecord{
		AccountID: "acct-1", AdID: "ad-1", WeekStart: baseWeek.AddDate(0, 0, 7),
		FrequencyDelta: fp(40), WeeksWithData: 6,
	}
	tooYoung := domain.FeatureRecord{
		AccountID: "acct-1", AdID: "ad-2", WeekStart: baseWeek,
		FrequencyDelta: fp(90), WeeksWithData: 2,
	}

	a, preds := newTestAnalyzer([]domain.FeatureRecord{old, latest, tooYoung})
	out, err := a.PredictAllAds(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "ad-1", out[0].AdID)
	assert.True(t, out[0].WeekStart.Equal(latest.WeekStart))
	// 0.25 * 0.40 = 0.10 over the 0.5 center.
	assert.InDelta(t, 0.60, out[0].RiskScore, 1e-9)
	assert.Len(t, preds.written, 1)
}

func TestRunQuantileAnalysisSmallDataset(t *testing.T) {
	a, _ := newTestAnalyzer(adHistory("ad-1", []float64{100, 110, 120, 130}))

	report, err := a.RunQuantileAnalysis(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.False(t, report.MinDatasetMet)
	assert.Equal(t, 2, report.DatasetSize)
	assert.Empty(t, report.Insights)
}

func TestAnalyzeQuantilesFindsIncreaseTrigger(t *testing.T) {
	// 40 rows; frequency deltas 1..40, spikes only above 30: the top
	// bucket spikes every time, the bottom never.
	rows := make([]LeadLagRow, 0, 40)
	for i := 1; i <= 40; i++ {
		v := float64(i)
		rows = append(rows, LeadLagRow{
			AdID:    "ad-1",
			Values:  map[string]*float64{"frequency_delta": &v},
			Spike1W: i > 30,
		})
	}

	metrics, insights := analyzeQuantiles(rows, 0.10, newTemplates())

	require.Len(t, metrics, 1)
	require.Len(t, metrics[0].Buckets, 4)
	assert.Equal(t, 10, metrics[0].Buckets[0].Count)
	assert.Equal(t, 0.0, metrics[0].Buckets[0].SpikeRate1W)
	assert.Equal(t, 1.0, metrics[0].Buckets[3].SpikeRate1W)

	require.Len(t, insights, 1)
	in := insights[0]
	assert.Equal(t, "frequency_delta", in.Metric)
	assert.Equal(t, "1w", in.Horizon)
	assert.Equal(t, "increase", in.Direction)
	assert.Equal(t, 31.0, in.Threshold)
	assert.Equal(t, 1.0, in.ExtremeSpikeRate)
	assert.Equal(t, 0.0, in.OppositeSpikeRate)
	assert.NotEmpty(t, in.Recommendation)
	assert.NotContains(t, in.Recommendation, "{{")
}

func TestAnalyzeQuantilesFindsDecreaseTrigger(t *testing.T) {
	// Low CTR deltas spike, high ones do not.
	rows := make([]LeadLagRow, 0, 40)
	for i := 1; i <= 40; i++ {
		v := float64(i)
		rows = append(rows, LeadLagRow{
			AdID:    "ad-1",
			Values:  map[string]*float64{"ctr_delta": &v},
			Spike2W: i <= 10,
		})
	}

	_, insights := analyzeQuantiles(rows, 0.10, newTemplates())
	require.Len(t, insights, 1)
	in := insights[0]
	assert.Equal(t, "2w", in.Horizon)
	assert.Equal(t, "decrease", in.Direction)
	assert.Equal(t, 10.0, in.Threshold)
}

func TestAnalyzeQuantilesNoInsightBelowDelta(t *testing.T) {
	rows := make([]LeadLagRow, 0, 40)
	for i := 1; i <= 40; i++ {
		v := float64(i)
		// One spike per bucket keeps every rate equal.
		rows = append(rows, LeadLagRow{
			AdID:    "ad-1",
			Values:  map[string]*float64{"cpc_delta": &v},
			Spike1W: i%10 == 0,
		})
	}

	_, insights := analyzeQuantiles(rows, 0.10, newTemplates())
	assert.Empty(t, insights)
}
