package normalizer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pulseboard/adinsights/internal/domain"
	"github.com/pulseboard/adinsights/internal/pkg/logger"
)

// goalFamilies maps a delivery-optimization goal to the families consistent
// with that intent.
var goalFamilies = map[string][]domain.ResultFamily{
	"lead_generation":     {domain.FamilyLeadgenForm, domain.FamilyWebsiteLead},
	"quality_lead":        {domain.FamilyLeadgenForm, domain.FamilyWebsiteLead},
	"conversations":       {domain.FamilyMessages},
	"replies":             {domain.FamilyMessages},
	"offsite_conversions": {domain.FamilyPurchase, domain.FamilyWebsiteLead},
	"value":               {domain.FamilyPurchase},
	"purchase":            {domain.FamilyPurchase},
	"link_clicks":         {domain.FamilyClick},
	"landing_page_views":  {domain.FamilyClick},
	"app_installs":        {domain.FamilyAppInstall},
	"thruplay":            {domain.FamilyVideoView},
}

// primaryWindowWeeks is the trailing window over which cumulative volume is
// compared when resolving an ad's primary family.
const primaryWindowWeeks = 8

// primaryRule is one step of the ordered first-match-wins resolver.
type primaryRule struct {
	name    string
	resolve func(goal string, volumes map[domain.ResultFamily]float64) (domain.ResultFamily, bool)
}

var primaryRules = []primaryRule{
	{
		name: "goal_allowed_highest_volume",
		resolve: func(goal string, volumes map[domain.ResultFamily]float64) (domain.ResultFamily, bool) {
			allowed, ok := goalFamilies[strings.ToLower(goal)]
			if !ok {
				return "", false
			}
			return highestVolume(volumes, allowed)
		},
	},
	{
		name: "unconstrained_highest_volume",
		resolve: func(_ string, volumes map[domain.ResultFamily]float64) (domain.ResultFamily, bool) {
			return highestVolume(volumes, nil)
		},
	},
	{
		name: "click_fallback",
		resolve: func(_ string, _ map[domain.ResultFamily]float64) (domain.ResultFamily, bool) {
			return domain.FamilyClick, true
		},
	},
}

// ResolvePrimaryFamily picks the family most consistent with an ad's
// delivery-optimization intent, evaluating the ordered rules until one
// matches. volumes is the ad's cumulative result count per family over the
// trailing window.
func ResolvePrimaryFamily(goal string, volumes map[domain.ResultFamily]float64) domain.ResultFamily {
	for _, rule := range primaryRules {
		if family, ok := rule.resolve(goal, volumes); ok {
			return family
		}
	}
	return domain.FamilyClick
}

// highestVolume picks the family with the most cumulative results. An empty
// allowed list means any family qualifies. Ties break alphabetically so the
// resolver is deterministic.
func highestVolume(volumes map[domain.ResultFamily]float64, allowed []domain.ResultFamily) (domain.ResultFamily, bool) {
	candidates := make([]domain.ResultFamily, 0, len(volumes))
	for family, count := range volumes {
		if count <= 0 {
			continue
		}
		if len(allowed) > 0 && !contains(allowed, family) {
			continue
		}
		candidates = append(candidates, family)
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if volumes[candidates[i]] != volumes[candidates[j]] {
			return volumes[candidates[i]] > volumes[candidates[j]]
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0], true
}

func contains(families []domain.ResultFamily, f domain.ResultFamily) bool {
	for _, candidate := range families {
		if candidate == f {
			return true
		}
	}
	return false
}

// ResolvePrimaryFamilies resolves and persists the primary family for every
// ad in the account, returning the resolved mapping.
func (s *Service) ResolvePrimaryFamilies(ctx context.Context, accountID string) (map[string]domain.ResultFamily, error) {
	ads, err := s.ads.ListAds(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading ads: %w", err)
	}
	adSets, err := s.ads.ListAdSets(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading ad sets: %w", err)
	}
	results, err := s.results.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading normalized results: %w", err)
	}

	goals := make(map[string]string, len(adSets))
	for _, as := range adSets {
		goals[as.ID] = as.OptimizationGoal
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -primaryWindowWeeks*7)
	volumes := make(map[string]map[domain.ResultFamily]float64)
	for _, res := range results {
		if res.WeekStart.Before(cutoff) {
			continue
		}
		if volumes[res.AdID] == nil {
			volumes[res.AdID] = make(map[domain.ResultFamily]float64)
		}
		volumes[res.AdID][res.ResultFamily] += res.ResultCount
	}

	resolved := make(map[string]domain.ResultFamily, len(ads))
	for _, ad := range ads {
		family := ResolvePrimaryFamily(goals[ad.AdSetID], volumes[ad.ID])
		resolved[ad.ID] = family
		if err := s.results.SetPrimaryFamily(ctx, ad.ID, family); err != nil {
			// Persisting the flag is best-effort per ad; the in-memory
			// mapping still drives the current run.
			logger.Error("failed to persist primary family",
				"ad_id", ad.ID, "family", string(family), "error", err.Error())
		}
	}
	return resolved, nil
}
