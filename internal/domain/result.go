package domain

import (
	"time"
)

// ResultFamily is a semantic bucket of conversion outcomes that raw platform
// action types are grouped into for comparable cost-per-result analysis.
type ResultFamily string

const (
	FamilyMessages    ResultFamily = "messages"
	FamilyLeadgenForm ResultFamily = "leadgen_form"
	FamilyWebsiteLead ResultFamily = "website_lead"
	FamilyPurchase    ResultFamily = "purchase"
	FamilyClick       ResultFamily = "click"
	FamilyVideoView   ResultFamily = "video_view"
	FamilyAppInstall  ResultFamily = "app_install"
	FamilyOther       ResultFamily = "other"
)

// BusinessFamilies are the families meaningful enough to run anomaly
// detection against. Click/video_view volume is too cheap and too noisy to
// alert on; "other" is a catch-all.
var BusinessFamilies = map[ResultFamily]bool{
	FamilyMessages:    true,
	FamilyLeadgenForm: true,
	FamilyWebsiteLead: true,
	FamilyPurchase:    true,
	FamilyAppInstall:  true,
}

// NormalizedWeeklyResult is the aggregated outcome of one (ad, week,
// result_family): total result count and cost per result for that family.
type NormalizedWeeklyResult struct {
	ID           string       `json:"id" db:"id"`
	AccountID    string       `json:"account_id" db:"account_id"`
	AdID         string       `json:"ad_id" db:"ad_id"`
	WeekStart    time.Time    `json:"week_start" db:"week_start"`
	ResultFamily ResultFamily `json:"result_family" db:"result_family"`
	ResultCount  float64      `json:"result_count" db:"result_count"`
	// CPR is cost-weighted: summed per-action cost when the platform
	// reports it, otherwise spend divided by count. Nil when count is 0.
	CPR       *float64  `json:"cpr" db:"cpr"`
	Spend     float64   `json:"spend" db:"spend"`
	IsPrimary bool      `json:"is_primary" db:"is_primary"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
