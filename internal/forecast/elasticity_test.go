package forecast

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/adinsights/internal/config"
	"github.com/pulseboard/adinsights/internal/domain"
)

var weekZero = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func fp(v float64) *float64 { return &v }

func testForecastConfig() config.ForecastConfig {
	return config.ForecastConfig{
		SpendGrowthMin:   1.15,
		MinAdEvents:      3,
		MinAccountEvents: 10,
		MinGlobalEvents:  30,
		FallbackK:        0.15,
		GlobalCacheTTL:   60,
		MinWeeklySpend:   10,
		MinWeeklyResults: 3,
		MinSpendWeeks:    2,
		ScalingDeltas:    []float64{20, 50, 100},
	}
}

// growthChain builds consecutive weekly rows for one ad where spend grows
// ×1.2 and CPR ×1.1 each week, yielding `events` qualifying spend-growth
// events.
func growthChain(adID string, events int) []domain.NormalizedWeeklyResult {
	rows := make([]domain.NormalizedWeeklyResult, 0, events+1)
	spend, cpr := 100.0, 10.0
	for i := 0; i <= events; i++ {
		rows = append(rows, domain.NormalizedWeeklyResult{
			AccountID:    "acct-1",
			AdID:         adID,
			WeekStart:    weekZero.AddDate(0, 0, 7*i),
			ResultFamily: domain.FamilyPurchase,
			ResultCount:  spend / cpr,
			Spend:        spend,
			CPR:          fp(cpr),
		})
		spend *= 1.2
		cpr *= 1.1
	}
	return rows
}

type fakeResults struct {
	account     []domain.NormalizedWeeklyResult
	global      []domain.NormalizedWeeklyResult
	globalCalls int
}

func (f *fakeResults) ListByFamily(context.Context, string, domain.ResultFamily) ([]domain.NormalizedWeeklyResult, error) {
	return f.account, nil
}

func (f *fakeResults) ListGlobalByFamily(context.Context, domain.ResultFamily) ([]domain.NormalizedWeeklyResult, error) {
	f.globalCalls++
	return f.global, nil
}

// The canonical synthetic check: every event has spend ratio 1.2 and CPR
// ratio 1.1, so k must equal ln(1.1)/ln(1.2).
func TestCoefficientSyntheticEvents(t *testing.T) {
	events := extractEvents(growthChain("ad-1", 5), "ad-1", 1.15)
	require.Len(t, events, 5)

	k := coefficient(events)
	require.NotNil(t, k)
	assert.InDelta(t, math.Log(1.1)/math.Log(1.2), *k, 1e-9)
}

func TestCoefficientDegenerate(t *testing.T) {
	assert.Nil(t, coefficient(nil))
}

func TestExtractEventsFilters(t *testing.T) {
	rows := growthChain("ad-1", 3)

	// Small growth: ratio 1.1 is below the 1.15 floor.
	flat := rows[1]
	flat.WeekStart = rows[3].WeekStart.AddDate(0, 0, 7)
	flat.Spend = rows[3].Spend * 1.1
	rows = append(rows, flat)

	// A week gap breaks the pair even with big growth.
	gapped := rows[3]
	gapped.WeekStart = flat.WeekStart.AddDate(0, 0, 14)
	gapped.Spend = flat.Spend * 2
	rows = append(rows, gapped)

	events := extractEvents(rows, "ad-1", 1.15)
	assert.Len(t, events, 3)
}

func TestExtractEventsSkipsMissingCPR(t *testing.T) {
	rows := growthChain("ad-1", 2)
	rows[1].CPR = nil

	// Both pairs touch the nil-CPR middle week.
	assert.Empty(t, extractEvents(rows, "ad-1", 1.15))
}

func TestExtractEventsIgnoresOtherAds(t *testing.T) {
	rows := append(growthChain("ad-1", 3), growthChain("ad-2", 3)...)

	assert.Len(t, extractEvents(rows, "ad-1", 1.15), 3)
	assert.Len(t, extractEvents(rows, "", 1.15), 6)
}

func TestEstimatePoolingOrder(t *testing.T) {
	expectedK := math.Log(1.1) / math.Log(1.2)

	t.Run("ad level wins with enough events", func(t *testing.T) {
		results := &fakeResults{account: growthChain("ad-1", 3)}
		e := NewEstimator(results, nil, testForecastConfig())

		est := e.Estimate(context.Background(), "acct-1", "ad-1", domain.FamilyPurchase)
		assert.Equal(t, domain.ElasticityAd, est.Level)
		assert.Equal(t, 3, est.EventCount)
		assert.InDelta(t, expectedK, est.K, 1e-9)
	})

	t.Run("falls back to account pool", func(t *testing.T) {
		account := append(growthChain("ad-1", 2), growthChain("ad-2", 8)...)
		e := NewEstimator(&fakeResults{account: account}, nil, testForecastConfig())

		est := e.Estimate(context.Background(), "acct-1", "ad-1", domain.FamilyPurchase)
		assert.Equal(t, domain.ElasticityAccount, est.Level)
		assert.Equal(t, 10, est.EventCount)
	})

	t.Run("falls back to global pool", func(t *testing.T) {
		results := &fakeResults{
			account: growthChain("ad-1", 1),
			global:  growthChain("ad-9", 30),
		}
		e := NewEstimator(results, nil, testForecastConfig())

		est := e.Estimate(context.Background(), "acct-1", "ad-1", domain.FamilyPurchase)
		assert.Equal(t, domain.ElasticityGlobal, est.Level)
		assert.Equal(t, 30, est.EventCount)
	})

	t.Run("fixed fallback when every pool is thin", func(t *testing.T) {
		e := NewEstimator(&fakeResults{}, nil, testForecastConfig())

		est := e.Estimate(context.Background(), "acct-1", "ad-1", domain.FamilyPurchase)
		assert.Equal(t, domain.ElasticityFallback, est.Level)
		assert.Equal(t, 0.15, est.K)
	})
}

func newTestCache(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisCache(client)
}

func TestGlobalEstimateCached(t *testing.T) {
	_, cache := newTestCache(t)
	results := &fakeResults{global: growthChain("ad-9", 30)}
	e := NewEstimator(results, cache, testForecastConfig())

	first := e.Estimate(context.Background(), "acct-1", "ad-1", domain.FamilyPurchase)
	second := e.Estimate(context.Background(), "acct-1", "ad-1", domain.FamilyPurchase)

	assert.Equal(t, domain.ElasticityGlobal, first.Level)
	assert.Equal(t, first.K, second.K)
	// The second estimate must come from the cache, not another full scan.
	assert.Equal(t, 1, results.globalCalls)
}

func TestGlobalEstimateCacheExpires(t *testing.T) {
	mr, cache := newTestCache(t)
	results := &fakeResults{global: growthChain("ad-9", 30)}
	e := NewEstimator(results, cache, testForecastConfig())

	e.Estimate(context.Background(), "acct-1", "ad-1", domain.FamilyPurchase)
	mr.FastForward(61 * time.Minute)
	e.Estimate(context.Background(), "acct-1", "ad-1", domain.FamilyPurchase)

	assert.Equal(t, 2, results.globalCalls)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	_, cache := newTestCache(t)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "elasticity:global:purchase")
	require.NoError(t, err)
	assert.False(t, ok)

	want := domain.ElasticityEstimate{K: 0.42, Level: domain.ElasticityGlobal, EventCount: 31}
	require.NoError(t, cache.Set(ctx, "elasticity:global:purchase", want, time.Hour))

	got, ok, err := cache.Get(ctx, "elasticity:global:purchase")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, *got)
}
