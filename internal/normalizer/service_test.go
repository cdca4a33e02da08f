package normalizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/adinsights/internal/domain"
)

type fakeMetrics struct {
	weekly []domain.RawWeeklyMetric
}

func (f *fakeMetrics) ListWeeklyByAccount(_ context.Context, _ string) ([]domain.RawWeeklyMetric, error) {
	return f.weekly, nil
}

type fakeResults struct {
	upserted  []domain.NormalizedWeeklyResult
	primaries map[string]domain.ResultFamily
}

func (f *fakeResults) UpsertBatch(_ context.Context, results []domain.NormalizedWeeklyResult) error {
	f.upserted = append(f.upserted, results...)
	return nil
}

func (f *fakeResults) ListByAccount(_ context.Context, _ string) ([]domain.NormalizedWeeklyResult, error) {
	return f.upserted, nil
}

func (f *fakeResults) SetPrimaryFamily(_ context.Context, adID string, family domain.ResultFamily) error {
	if f.primaries == nil {
		f.primaries = make(map[string]domain.ResultFamily)
	}
	f.primaries[adID] = family
	return nil
}

type fakeAds struct {
	ads    []domain.Ad
	adSets []domain.AdSet
}

func (f *fakeAds) ListAds(_ context.Context, _ string) ([]domain.Ad, error)       { return f.ads, nil }
func (f *fakeAds) ListAdSets(_ context.Context, _ string) ([]domain.AdSet, error) { return f.adSets, nil }

func testService(metrics *fakeMetrics, results *fakeResults, ads *fakeAds) *Service {
	return NewService(metrics, results, ads, NewFamilyMapping(nil), 500, 1, time.Millisecond)
}

func week(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func TestNormalizeAccountResults(t *testing.T) {
	metrics := &fakeMetrics{weekly: []domain.RawWeeklyMetric{
		{
			AccountID: "acct-1", AdID: "ad-1", WeekStart: week("2026-08-17"),
			Spend: 120,
			Actions: []domain.ActionCount{
				{ActionType: "onsite_conversion.lead_grouped", Value: 6},
				{ActionType: "link_click", Value: 200},
			},
			ActionCosts: []domain.ActionCost{
				{ActionType: "onsite_conversion.lead_grouped", Value: 90},
			},
		},
	}}
	results := &fakeResults{}
	svc := testService(metrics, results, &fakeAds{})

	report, err := svc.NormalizeAccountResults(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Equal(t, 1, report.ProcessedRows)
	assert.Equal(t, 1, report.FamilyCounts[domain.FamilyLeadgenForm])
	assert.Equal(t, 1, report.FamilyCounts[domain.FamilyClick])
	require.Len(t, results.upserted, 2)

	byFamily := map[domain.ResultFamily]domain.NormalizedWeeklyResult{}
	for _, r := range results.upserted {
		byFamily[r.ResultFamily] = r
	}

	// Cost-weighted cpr: per-action cost wins over spend/count.
	lead := byFamily[domain.FamilyLeadgenForm]
	assert.Equal(t, 6.0, lead.ResultCount)
	require.NotNil(t, lead.CPR)
	assert.InDelta(t, 15.0, *lead.CPR, 1e-9) // 90 / 6

	// No cost data for clicks: falls back to spend/count.
	click := byFamily[domain.FamilyClick]
	assert.Equal(t, 200.0, click.ResultCount)
	require.NotNil(t, click.CPR)
	assert.InDelta(t, 0.6, *click.CPR, 1e-9) // 120 / 200
}

// Normalizing a raw action list and aggregating must reproduce a manual sum
// over matching action types.
func TestNormalizeRoundTrip(t *testing.T) {
	actions := []domain.ActionCount{
		{ActionType: "purchase", Value: 3},
		{ActionType: "omni_purchase", Value: 2},
		{ActionType: "offsite_conversion.fb_pixel_purchase", Value: 4},
		{ActionType: "link_click", Value: 50},
	}
	metrics := &fakeMetrics{weekly: []domain.RawWeeklyMetric{
		{AccountID: "acct-1", AdID: "ad-1", WeekStart: week("2026-08-17"), Spend: 90, Actions: actions},
	}}
	results := &fakeResults{}
	svc := testService(metrics, results, &fakeAds{})

	_, err := svc.NormalizeAccountResults(context.Background(), "acct-1")
	require.NoError(t, err)

	var purchaseCount float64
	for _, r := range results.upserted {
		if r.ResultFamily == domain.FamilyPurchase {
			purchaseCount = r.ResultCount
		}
	}
	assert.Equal(t, 9.0, purchaseCount) // 3 + 2 + 4
}

func TestNormalizeSkipsEmptyRows(t *testing.T) {
	metrics := &fakeMetrics{weekly: []domain.RawWeeklyMetric{
		{AccountID: "acct-1", AdID: "ad-1", WeekStart: week("2026-08-17"), Spend: 0},
	}}
	results := &fakeResults{}
	svc := testService(metrics, results, &fakeAds{})

	report, err := svc.NormalizeAccountResults(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.ProcessedRows)
	assert.Empty(t, results.upserted)
}

func TestNormalizeIdempotent(t *testing.T) {
	metrics := &fakeMetrics{weekly: []domain.RawWeeklyMetric{
		{
			AccountID: "acct-1", AdID: "ad-1", WeekStart: week("2026-08-17"), Spend: 50,
			Actions: []domain.ActionCount{{ActionType: "lead", Value: 5}},
		},
	}}
	results := &fakeResults{}
	svc := testService(metrics, results, &fakeAds{})

	r1, err := svc.NormalizeAccountResults(context.Background(), "acct-1")
	require.NoError(t, err)
	r2, err := svc.NormalizeAccountResults(context.Background(), "acct-1")
	require.NoError(t, err)

	// Same natural keys emitted both times; the repo upsert makes the
	// second run an overwrite, not a duplicate.
	assert.Equal(t, r1.ProcessedRows, r2.ProcessedRows)
	assert.Equal(t, results.upserted[0].AdID, results.upserted[1].AdID)
	assert.Equal(t, results.upserted[0].WeekStart, results.upserted[1].WeekStart)
	assert.Equal(t, results.upserted[0].ResultFamily, results.upserted[1].ResultFamily)
}

func TestEnsureClickFamily(t *testing.T) {
	metrics := &fakeMetrics{weekly: []domain.RawWeeklyMetric{
		// Link clicks present but no click action row mapped.
		{AccountID: "acct-1", AdID: "ad-1", WeekStart: week("2026-08-17"), Spend: 30, LinkClicks: 60, CPC: 0.5},
		// No link clicks: nothing to back-fill.
		{AccountID: "acct-1", AdID: "ad-2", WeekStart: week("2026-08-17"), Spend: 30},
	}}
	results := &fakeResults{}
	svc := testService(metrics, results, &fakeAds{})

	added, err := svc.EnsureClickFamily(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	require.Len(t, results.upserted, 1)
	assert.Equal(t, domain.FamilyClick, results.upserted[0].ResultFamily)
	assert.Equal(t, 60.0, results.upserted[0].ResultCount)
	require.NotNil(t, results.upserted[0].CPR)
	assert.InDelta(t, 0.5, *results.upserted[0].CPR, 1e-9)

	// Second run sees the click row and adds nothing.
	added, err = svc.EnsureClickFamily(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 0, added)
}
