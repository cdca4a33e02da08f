package anomaly

import (
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/adinsights/internal/domain"
	"github.com/pulseboard/adinsights/internal/features"
)

const (
	// traceWeeks is how many weeks of deviation context an anomaly carries:
	// the anomaly week plus the two weeks leading into it.
	traceWeeks = 3

	// confidenceWeeks is the history depth at which detection confidence
	// saturates at 1.0.
	confidenceWeeks = 8
)

// Detector evaluates feature records for cost-per-result spikes. It is
// stateless; persistence and scheduling live with the caller.
type Detector struct {
	spikeThreshold float64 // ratio, e.g. 1.20 fires at +20%
	minWeeks       int     // weeks of spend history required to evaluate
	baselineWeeks  int     // window for the ranking baselines in the trace
	now            func() time.Time
}

// NewDetector builds a detector. spikeThreshold is a ratio (1.20 = +20%),
// minWeeks the minimum weeks-with-data before any anomaly may fire, and
// baselineWeeks the trailing window used for ranking-score baselines.
func NewDetector(spikeThreshold float64, minWeeks, baselineWeeks int) *Detector {
	if spikeThreshold <= 1 {
		spikeThreshold = 1.20
	}
	if minWeeks <= 0 {
		minWeeks = 4
	}
	if baselineWeeks <= 0 {
		baselineWeeks = 8
	}
	return &Detector{
		spikeThreshold: spikeThreshold,
		minWeeks:       minWeeks,
		baselineWeeks:  baselineWeeks,
		now:            time.Now,
	}
}

// Evaluate inspects one (ad, week, family) feature record and returns a
// cpr_spike anomaly, or nil when the week is clean or not evaluable.
// weeks is the same most-recent-first window the feature engine consumed;
// daily holds the anomaly week's daily delivery rows for pause detection.
func (d *Detector) Evaluate(rec *domain.FeatureRecord, weeks []features.WeekInput, daily []domain.RawDailyMetric) *domain.Anomaly {
	if rec == nil {
		return nil
	}
	if !domain.BusinessFamilies[rec.ResultFamily] {
		return nil
	}
	if !rec.MinResultsMet {
		return nil
	}
	if rec.WeeksWithData < d.minWeeks {
		return nil
	}
	if rec.CPR == nil || rec.BaselineCPR == nil || rec.CPRDelta == nil {
		return nil
	}

	triggerPct := (d.spikeThreshold - 1) * 100
	delta := *rec.CPRDelta
	if delta < triggerPct {
		return nil
	}

	confidence := float64(rec.WeeksWithData) / confidenceWeeks
	if confidence > 1 {
		confidence = 1
	}
	score := (delta / 100) * confidence
	if score > 1 {
		score = 1
	}

	pauseDays, hasGap := d.pauseContext(rec, daily)

	now := d.now().UTC()
	return &domain.Anomaly{
		ID:             uuid.New().String(),
		AccountID:      rec.AccountID,
		AdID:           rec.AdID,
		WeekStart:      rec.WeekStart,
		ResultFamily:   rec.ResultFamily,
		AnomalyType:    domain.AnomalyCPRSpike,
		CurrentValue:   *rec.CPR,
		BaselineValue:  *rec.BaselineCPR,
		DeltaPct:       delta,
		Score:          score,
		Confidence:     confidence,
		Trace:          d.buildTrace(rec, weeks),
		PauseDaysCount: pauseDays,
		HasDeliveryGap: hasGap,
		Status:         domain.AnomalyNew,
		DetectedAt:     now,
		UpdatedAt:      now,
	}
}

// buildTrace walks the anomaly week and the two preceding weeks, scoring
// every tracked metric against the *current* baseline so the operator sees
// how the deterioration developed, not how each week looked in isolation.
func (d *Detector) buildTrace(rec *domain.FeatureRecord, weeks []features.WeekInput) domain.CausalTrace {
	rb := d.rankingBaselines(weeks)

	trace := domain.CausalTrace{}
	for i := 0; i < traceWeeks && i < len(weeks); i++ {
		week := domain.WeekDeviation{
			WeekStart:  weeks[i].Metric.WeekStart,
			WeekOffset: -i,
		}
		for _, tm := range tracedMetrics {
			val := tm.value(weeks[i])
			if val == nil {
				continue
			}
			dev := domain.MetricDeviation{
				Metric:    tm.name,
				Value:     *val,
				Baseline:  tm.baseline(rec, rb),
				Direction: domain.DirectionNeutral,
			}
			dev.DeltaPct = features.PercentDelta(*val, dev.Baseline)
			if dev.DeltaPct != nil {
				delta := *dev.DeltaPct
				if delta >= tm.threshold || delta <= -tm.threshold {
					dev.Significant = true
					dev.Direction = deviationDirection(delta, tm.bad)
				}
			}
			week.Metrics = append(week.Metrics, dev)
		}
		trace.Weeks = append(trace.Weeks, week)
	}
	return trace
}

// rankingBaselines derives baselines for the three ranking diagnostics from
// the trailing window, excluding the current week. Ranking scores are
// signed, so a plain median is used rather than the positive-only variant.
func (d *Detector) rankingBaselines(weeks []features.WeekInput) *rankingBaselines {
	end := 1 + d.baselineWeeks
	if end > len(weeks) {
		end = len(weeks)
	}
	var quality, engagement, conversion []float64
	for i := 1; i < end; i++ {
		if v := weeks[i].Metric.QualityRanking; v != nil {
			quality = append(quality, float64(*v))
		}
		if v := weeks[i].Metric.EngagementRanking; v != nil {
			engagement = append(engagement, float64(*v))
		}
		if v := weeks[i].Metric.ConversionRanking; v != nil {
			conversion = append(conversion, float64(*v))
		}
	}
	return &rankingBaselines{
		quality:    features.Median(quality),
		engagement: features.Median(engagement),
		conversion: features.Median(conversion),
	}
}

// pauseContext counts zero-impression days inside the anomaly week and
// flags a delivery gap when the week spent money, delivered on at least one
// day, and went dark on at least one other.
func (d *Detector) pauseContext(rec *domain.FeatureRecord, daily []domain.RawDailyMetric) (int, bool) {
	weekEnd := rec.WeekStart.AddDate(0, 0, 7)

	pauseDays := 0
	activeDays := 0
	for _, day := range daily {
		if day.AdID != rec.AdID {
			continue
		}
		if day.Day.Before(rec.WeekStart) || !day.Day.Before(weekEnd) {
			continue
		}
		if day.Impressions == 0 {
			pauseDays++
		} else {
			activeDays++
		}
	}

	hasGap := rec.Spend > 0 && pauseDays > 0 && activeDays > 0
	return pauseDays, hasGap
}

func deviationDirection(delta float64, bad badDirection) domain.DeviationDirection {
	movedUp := delta > 0
	if (movedUp && bad == badWhenUp) || (!movedUp && bad == badWhenDown) {
		return domain.DirectionBad
	}
	return domain.DirectionGood
}
