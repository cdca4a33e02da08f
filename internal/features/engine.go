package features

import (
	"time"

	"github.com/pulseboard/adinsights/internal/domain"
)

// WeekInput pairs one week's raw metric row with the ad's primary-family
// normalized result for that week (nil when the family produced nothing).
type WeekInput struct {
	Metric domain.RawWeeklyMetric
	Result *domain.NormalizedWeeklyResult
}

// defaultMinResults is the family-specific weekly volume floor for
// min_results_met.
var defaultMinResults = map[domain.ResultFamily]float64{
	domain.FamilyMessages:    5,
	domain.FamilyLeadgenForm: 5,
	domain.FamilyWebsiteLead: 5,
	domain.FamilyPurchase:    3,
	domain.FamilyClick:       50,
}

const defaultMinResultsFallback = 10

// Engine computes feature records from ordered week windows.
type Engine struct {
	baselineWeeks int
	historyWeeks  int
	slopeWeeks    int
	minResults    map[domain.ResultFamily]float64
}

// NewEngine creates a feature engine. minResults overrides merge over the
// built-in family floors; zero window sizes fall back to 8/12/4.
func NewEngine(baselineWeeks, historyWeeks, slopeWeeks int, minResults map[string]float64) *Engine {
	if baselineWeeks <= 0 {
		baselineWeeks = 8
	}
	if historyWeeks <= 0 {
		historyWeeks = 12
	}
	if slopeWeeks <= 0 {
		slopeWeeks = 4
	}
	floors := make(map[domain.ResultFamily]float64, len(defaultMinResults))
	for family, v := range defaultMinResults {
		floors[family] = v
	}
	for family, v := range minResults {
		floors[domain.ResultFamily(family)] = v
	}
	return &Engine{
		baselineWeeks: baselineWeeks,
		historyWeeks:  historyWeeks,
		slopeWeeks:    slopeWeeks,
		minResults:    floors,
	}
}

// MinResultsFor returns the weekly volume floor for a family.
func (e *Engine) MinResultsFor(family domain.ResultFamily) float64 {
	if v, ok := e.minResults[family]; ok {
		return v
	}
	return defaultMinResultsFallback
}

// Compute derives the feature record for the target week. weeks must be
// ordered most-recent first and start at the target week; when index 0 is
// missing or does not match the target date, there is nothing to compute
// and Compute returns nil.
func (e *Engine) Compute(accountID, adID string, family domain.ResultFamily, weeks []WeekInput, target time.Time) *domain.FeatureRecord {
	if len(weeks) == 0 || !sameDay(weeks[0].Metric.WeekStart, target) {
		return nil
	}
	if len(weeks) > e.historyWeeks {
		weeks = weeks[:e.historyWeeks]
	}

	cur := weeks[0]
	rec := &domain.FeatureRecord{
		AccountID:    accountID,
		AdID:         adID,
		WeekStart:    cur.Metric.WeekStart,
		ResultFamily: family,
		Spend:        cur.Metric.Spend,
		Impressions:  cur.Metric.Impressions,
		Frequency:    cur.Metric.Frequency,
		CTR:          cur.Metric.CTR,
		LinkCTR:      cur.Metric.LinkCTR,
		CPC:          cur.Metric.CPC,
		CPM:          cur.Metric.CPM,
		ComputedAt:   time.Now().UTC(),
	}
	if cur.Result != nil {
		rec.ResultCount = cur.Result.ResultCount
		rec.CPR = cur.Result.CPR
	}

	// Baseline window is indices 1..baselineWeeks; the current week never
	// contributes to its own baseline.
	window := weeks[1:]
	if len(window) > e.baselineWeeks {
		window = window[:e.baselineWeeks]
	}

	rec.BaselineCPR = MedianPositive(collect(window, func(w WeekInput) float64 {
		if w.Result != nil && w.Result.CPR != nil {
			return *w.Result.CPR
		}
		return 0
	}))
	rec.BaselineFrequency = MedianPositive(collect(window, func(w WeekInput) float64 { return w.Metric.Frequency }))
	rec.BaselineCTR = MedianPositive(collect(window, func(w WeekInput) float64 { return w.Metric.CTR }))
	rec.BaselineLinkCTR = MedianPositive(collect(window, func(w WeekInput) float64 { return w.Metric.LinkCTR }))
	rec.BaselineCPC = MedianPositive(collect(window, func(w WeekInput) float64 { return w.Metric.CPC }))
	rec.BaselineCPM = MedianPositive(collect(window, func(w WeekInput) float64 { return w.Metric.CPM }))
	rec.BaselineSpend = MedianPositive(collect(window, func(w WeekInput) float64 { return w.Metric.Spend }))
	rec.BaselineResults = MedianPositive(collect(window, func(w WeekInput) float64 {
		if w.Result != nil {
			return w.Result.ResultCount
		}
		return 0
	}))

	if rec.CPR != nil {
		rec.CPRDelta = PercentDelta(*rec.CPR, rec.BaselineCPR)
	}
	rec.FrequencyDelta = PercentDelta(rec.Frequency, rec.BaselineFrequency)
	rec.CTRDelta = PercentDelta(rec.CTR, rec.BaselineCTR)
	rec.LinkCTRDelta = PercentDelta(rec.LinkCTR, rec.BaselineLinkCTR)
	rec.CPCDelta = PercentDelta(rec.CPC, rec.BaselineCPC)
	rec.CPMDelta = PercentDelta(rec.CPM, rec.BaselineCPM)
	rec.SpendDelta = PercentDelta(rec.Spend, rec.BaselineSpend)
	rec.ResultsDelta = PercentDelta(rec.ResultCount, rec.BaselineResults)

	// Lags are the raw values at index 1 and 2, not delta-derived.
	if len(weeks) > 1 {
		rec.CPRLag1 = resultCPR(weeks[1])
		freq := weeks[1].Metric.Frequency
		rec.FrequencyLag1 = &freq
		ctr := weeks[1].Metric.CTR
		rec.CTRLag1 = &ctr

		rec.ReachGrowth = PercentChange(float64(cur.Metric.Reach), float64(weeks[1].Metric.Reach))
		rec.SpendChange = PercentChange(cur.Metric.Spend, weeks[1].Metric.Spend)
	}
	if len(weeks) > 2 {
		rec.CPRLag2 = resultCPR(weeks[2])
	}

	// Slopes run over the most recent slopeWeeks in chronological order.
	slopeWindow := weeks
	if len(slopeWindow) > e.slopeWeeks {
		slopeWindow = slopeWindow[:e.slopeWeeks]
	}
	rec.FrequencySlope = OLSSlope(chronological(slopeWindow, func(w WeekInput) float64 { return w.Metric.Frequency }))
	rec.CTRSlope = OLSSlope(chronological(slopeWindow, func(w WeekInput) float64 { return w.Metric.CTR }))
	rec.CPRSlope = OLSSlope(chronologicalCPR(slopeWindow))

	e.computeRankingFeatures(rec, cur, window)

	for _, w := range weeks {
		if w.Metric.Spend > 0 {
			rec.WeeksWithData++
		}
	}
	rec.MinResultsMet = rec.ResultCount >= e.MinResultsFor(family)

	return rec
}

// computeRankingFeatures mirrors the baseline/delta treatment for the three
// ranking diagnostics and the combined relevance health.
func (e *Engine) computeRankingFeatures(rec *domain.FeatureRecord, cur WeekInput, window []WeekInput) {
	rec.QualityRanking = cur.Metric.QualityRanking
	rec.EngagementRanking = cur.Metric.EngagementRanking
	rec.ConversionRanking = cur.Metric.ConversionRanking

	rec.RelevanceHealth = relevanceHealth(cur.Metric)

	var history []float64
	for _, w := range window {
		if h := relevanceHealth(w.Metric); h != nil {
			history = append(history, *h)
		}
	}
	baseline := Median(history)
	if rec.RelevanceHealth != nil && baseline != nil {
		drop := *baseline - *rec.RelevanceHealth
		rec.RelevanceHealthDrop = &drop
	}
}

// relevanceHealth sums the three ranking scores; nil when all three are
// missing.
func relevanceHealth(m domain.RawWeeklyMetric) *float64 {
	if m.QualityRanking == nil && m.EngagementRanking == nil && m.ConversionRanking == nil {
		return nil
	}
	var sum float64
	for _, r := range []*int{m.QualityRanking, m.EngagementRanking, m.ConversionRanking} {
		if r != nil {
			sum += float64(*r)
		}
	}
	return &sum
}

func resultCPR(w WeekInput) *float64 {
	if w.Result == nil || w.Result.CPR == nil {
		return nil
	}
	v := *w.Result.CPR
	return &v
}

func collect(weeks []WeekInput, get func(WeekInput) float64) []float64 {
	out := make([]float64, 0, len(weeks))
	for _, w := range weeks {
		out = append(out, get(w))
	}
	return out
}

// chronological reverses the most-recent-first window into oldest-first
// order for slope fitting.
func chronological(weeks []WeekInput, get func(WeekInput) float64) []float64 {
	out := make([]float64, 0, len(weeks))
	for i := len(weeks) - 1; i >= 0; i-- {
		out = append(out, get(weeks[i]))
	}
	return out
}

// chronologicalCPR builds the oldest-first cpr series, skipping weeks with
// no cpr so a single missing week does not zero the trend.
func chronologicalCPR(weeks []WeekInput) []float64 {
	var out []float64
	for i := len(weeks) - 1; i >= 0; i-- {
		if cpr := resultCPR(weeks[i]); cpr != nil {
			out = append(out, *cpr)
		}
	}
	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
