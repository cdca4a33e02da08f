// Package normalizer maps raw platform conversion actions into comparable
// result families and resolves each ad's primary family.
package normalizer

import (
	"strings"

	"github.com/pulseboard/adinsights/internal/domain"
)

// FamilyMapping maps raw platform action types to result families. It is
// built once per batch run and immutable afterwards.
type FamilyMapping struct {
	exact  map[string]domain.ResultFamily
	prefix []prefixRule
}

type prefixRule struct {
	prefix string
	family domain.ResultFamily
}

// defaultActionFamilies covers the platform's standard action types.
// Config overrides are merged on top for account-specific custom events.
var defaultActionFamilies = map[string]domain.ResultFamily{
	"onsite_conversion.messaging_conversation_started_7d": domain.FamilyMessages,
	"onsite_conversion.messaging_first_reply":             domain.FamilyMessages,
	"onsite_conversion.lead_grouped":                      domain.FamilyLeadgenForm,
	"leadgen_grouped":                                     domain.FamilyLeadgenForm,
	"lead":                                                domain.FamilyWebsiteLead,
	"offsite_conversion.fb_pixel_lead":                    domain.FamilyWebsiteLead,
	"complete_registration":                               domain.FamilyWebsiteLead,
	"purchase":                                            domain.FamilyPurchase,
	"offsite_conversion.fb_pixel_purchase":                domain.FamilyPurchase,
	"omni_purchase":                                       domain.FamilyPurchase,
	"link_click":                                          domain.FamilyClick,
	"landing_page_view":                                   domain.FamilyClick,
	"video_view":                                          domain.FamilyVideoView,
	"video_thruplay_watched_actions":                      domain.FamilyVideoView,
	"mobile_app_install":                                  domain.FamilyAppInstall,
	"app_install":                                         domain.FamilyAppInstall,
	"omni_app_install":                                    domain.FamilyAppInstall,
}

var defaultPrefixRules = []prefixRule{
	{"onsite_conversion.messaging", domain.FamilyMessages},
	{"offsite_conversion.fb_pixel_purchase", domain.FamilyPurchase},
	{"video_", domain.FamilyVideoView},
}

// NewFamilyMapping builds the mapping table from the defaults plus
// account-level overrides (raw action type → family name).
func NewFamilyMapping(overrides map[string]string) *FamilyMapping {
	m := &FamilyMapping{
		exact:  make(map[string]domain.ResultFamily, len(defaultActionFamilies)+len(overrides)),
		prefix: defaultPrefixRules,
	}
	for action, family := range defaultActionFamilies {
		m.exact[action] = family
	}
	for action, family := range overrides {
		m.exact[strings.ToLower(action)] = domain.ResultFamily(family)
	}
	return m
}

// FamilyFor resolves one raw action type to its result family. Unknown
// action types land in "other".
func (m *FamilyMapping) FamilyFor(actionType string) domain.ResultFamily {
	key := strings.ToLower(strings.TrimSpace(actionType))
	if family, ok := m.exact[key]; ok {
		return family
	}
	for _, rule := range m.prefix {
		if strings.HasPrefix(key, rule.prefix) {
			return rule.family
		}
	}
	return domain.FamilyOther
}
