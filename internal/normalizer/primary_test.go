package normalizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/adinsights/internal/domain"
)

func TestResolvePrimaryFamily_GoalConstrained(t *testing.T) {
	volumes := map[domain.ResultFamily]float64{
		domain.FamilyClick:       500, // highest volume overall
		domain.FamilyLeadgenForm: 12,
		domain.FamilyWebsiteLead: 30,
	}
	// Lead-generation intent restricts the choice to lead families even
	// though clicks dominate on volume.
	got := ResolvePrimaryFamily("LEAD_GENERATION", volumes)
	assert.Equal(t, domain.FamilyWebsiteLead, got)
}

func TestResolvePrimaryFamily_GoalWithNoMatchingVolume(t *testing.T) {
	volumes := map[domain.ResultFamily]float64{
		domain.FamilyClick: 500,
	}
	// Goal allows only messages but the ad produced none: fall through to
	// the unconstrained highest-volume rule.
	got := ResolvePrimaryFamily("CONVERSATIONS", volumes)
	assert.Equal(t, domain.FamilyClick, got)
}

func TestResolvePrimaryFamily_UnknownGoal(t *testing.T) {
	volumes := map[domain.ResultFamily]float64{
		domain.FamilyPurchase: 7,
		domain.FamilyClick:    3,
	}
	got := ResolvePrimaryFamily("REACH", volumes)
	assert.Equal(t, domain.FamilyPurchase, got)
}

func TestResolvePrimaryFamily_NothingQualifies(t *testing.T) {
	got := ResolvePrimaryFamily("", nil)
	assert.Equal(t, domain.FamilyClick, got)
}

func TestResolvePrimaryFamilies_Persists(t *testing.T) {
	now := time.Now().UTC()
	results := &fakeResults{upserted: []domain.NormalizedWeeklyResult{
		{AdID: "ad-1", WeekStart: now.AddDate(0, 0, -7), ResultFamily: domain.FamilyMessages, ResultCount: 20},
		{AdID: "ad-1", WeekStart: now.AddDate(0, 0, -14), ResultFamily: domain.FamilyClick, ResultCount: 300},
		// Outside the 8-week window: must not count.
		{AdID: "ad-1", WeekStart: now.AddDate(0, 0, -70), ResultFamily: domain.FamilyPurchase, ResultCount: 9999},
	}}
	ads := &fakeAds{
		ads:    []domain.Ad{{ID: "ad-1", AdSetID: "as-1"}},
		adSets: []domain.AdSet{{ID: "as-1", OptimizationGoal: "CONVERSATIONS"}},
	}
	svc := testService(&fakeMetrics{}, results, ads)

	resolved, err := svc.ResolvePrimaryFamilies(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, domain.FamilyMessages, resolved["ad-1"])
	assert.Equal(t, domain.FamilyMessages, results.primaries["ad-1"])
}

func TestFamilyMapping(t *testing.T) {
	m := NewFamilyMapping(map[string]string{
		"onsite_conversion.custom_event": "website_lead",
	})

	tests := []struct {
		action string
		want   domain.ResultFamily
	}{
		{"purchase", domain.FamilyPurchase},
		{"PURCHASE", domain.FamilyPurchase},
		{"link_click", domain.FamilyClick},
		{"onsite_conversion.messaging_welcome_message_view", domain.FamilyMessages}, // prefix rule
		{"video_p50_watched_actions", domain.FamilyVideoView},                       // prefix rule
		{"onsite_conversion.custom_event", domain.FamilyWebsiteLead},                // override
		{"some_unknown_action", domain.FamilyOther},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			assert.Equal(t, tt.want, m.FamilyFor(tt.action))
		})
	}
}
