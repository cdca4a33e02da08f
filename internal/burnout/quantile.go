package burnout

import (
	"sort"
	"time"

	"github.com/osteele/liquid"

	"github.com/pulseboard/adinsights/internal/pkg/logger"
)

const quantileBuckets = 4

// recommendationTemplate renders the operator guidance attached to a
// quantile insight.
const recommendationTemplate = `When {{ metric }} {{ verb }} beyond {{ threshold | round: 2 }}, the {{ horizon }}-week CPR spike rate reaches {{ spike_rate | times: 100 | round: 0 }}% versus {{ opposite_rate | times: 100 | round: 0 }}% at the opposite extreme. Review ads crossing this level and plan a creative refresh before the spike lands.`

// QuantileBucket is one of four equal-population buckets of a leading
// metric, with the observed future-CPR outcomes of its rows.
type QuantileBucket struct {
	Lower          float64 `json:"lower"`
	Upper          float64 `json:"upper"`
	Count          int     `json:"count"`
	SpikeRate1W    float64 `json:"spike_rate_1w"`
	SpikeRate2W    float64 `json:"spike_rate_2w"`
	AvgCPRChange1W float64 `json:"avg_cpr_change_1w"`
	AvgCPRChange2W float64 `json:"avg_cpr_change_2w"`
}

// MetricQuantiles is the full bucket breakdown for one leading metric.
type MetricQuantiles struct {
	Metric  string           `json:"metric"`
	Buckets []QuantileBucket `json:"buckets"`
}

// QuantileInsight marks a leading metric whose extreme quantiles diverge
// enough in future spike rate to be predictive.
type QuantileInsight struct {
	Metric    string `json:"metric"`
	Horizon   string `json:"horizon"` // "1w" or "2w"
	Direction string `json:"direction"` // increase | decrease drives risk
	// Threshold is the boundary of the risky extreme bucket.
	Threshold         float64 `json:"threshold"`
	ExtremeSpikeRate  float64 `json:"extreme_spike_rate"`
	OppositeSpikeRate float64 `json:"opposite_spike_rate"`
	Recommendation    string  `json:"recommendation"`
}

// QuantileReport is the account-level output of a quantile analysis run.
type QuantileReport struct {
	AccountID     string            `json:"account_id"`
	DatasetSize   int               `json:"dataset_size"`
	MinDatasetMet bool              `json:"min_dataset_met"`
	Metrics       []MetricQuantiles `json:"metrics,omitempty"`
	Insights      []QuantileInsight `json:"insights,omitempty"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

// analyzeQuantiles buckets every leading metric into four equal-population
// quantiles and emits insights where the extreme buckets' spike rates
// diverge by more than insightMinDelta.
func analyzeQuantiles(rows []LeadLagRow, insightMinDelta float64, tmpl *templates) ([]MetricQuantiles, []QuantileInsight) {
	var metrics []MetricQuantiles
	var insights []QuantileInsight

	for _, lm := range leadingMetrics {
		type obs struct {
			value float64
			row   LeadLagRow
		}
		var observations []obs
		for _, row := range rows {
			if v := row.Values[lm.name]; v != nil {
				observations = append(observations, obs{value: *v, row: row})
			}
		}
		if len(observations) < quantileBuckets {
			continue
		}
		sort.Slice(observations, func(i, j int) bool { return observations[i].value < observations[j].value })

		mq := MetricQuantiles{Metric: lm.name}
		for b := 0; b < quantileBuckets; b++ {
			start := b * len(observations) / quantileBuckets
			end := (b + 1) * len(observations) / quantileBuckets
			slice := observations[start:end]
			bucket := QuantileBucket{
				Lower: slice[0].value,
				Upper: slice[len(slice)-1].value,
				Count: len(slice),
			}
			var spikes1, spikes2 int
			var changeSum1, changeSum2 float64
			var changeN1, changeN2 int
			for _, o := range slice {
				if o.row.Spike1W {
					spikes1++
				}
				if o.row.Spike2W {
					spikes2++
				}
				if o.row.CPRChange1W != nil {
					changeSum1 += *o.row.CPRChange1W
					changeN1++
				}
				if o.row.CPRChange2W != nil {
					changeSum2 += *o.row.CPRChange2W
					changeN2++
				}
			}
			bucket.SpikeRate1W = float64(spikes1) / float64(len(slice))
			bucket.SpikeRate2W = float64(spikes2) / float64(len(slice))
			if changeN1 > 0 {
				bucket.AvgCPRChange1W = changeSum1 / float64(changeN1)
			}
			if changeN2 > 0 {
				bucket.AvgCPRChange2W = changeSum2 / float64(changeN2)
			}
			mq.Buckets = append(mq.Buckets, bucket)
		}
		metrics = append(metrics, mq)

		low, high := mq.Buckets[0], mq.Buckets[quantileBuckets-1]
		for _, horizon := range []struct {
			name      string
			lowRate   float64
			highRate  float64
		}{
			{"1w", low.SpikeRate1W, high.SpikeRate1W},
			{"2w", low.SpikeRate2W, high.SpikeRate2W},
		} {
			gap := horizon.highRate - horizon.lowRate
			if gap < 0 {
				gap = -gap
			}
			if gap <= insightMinDelta {
				continue
			}

			insight := QuantileInsight{Metric: lm.name, Horizon: horizon.name}
			if horizon.highRate > horizon.lowRate {
				insight.Direction = "increase"
				insight.Threshold = high.Lower
				insight.ExtremeSpikeRate = horizon.highRate
				insight.OppositeSpikeRate = horizon.lowRate
			} else {
				insight.Direction = "decrease"
				insight.Threshold = low.Upper
				insight.ExtremeSpikeRate = horizon.lowRate
				insight.OppositeSpikeRate = horizon.highRate
			}
			insight.Recommendation = tmpl.render(recommendationTemplate, map[string]interface{}{
				"metric":        lm.name,
				"verb":          directionVerb(insight.Direction),
				"threshold":     insight.Threshold,
				"horizon":       horizonWeeks(horizon.name),
				"spike_rate":    insight.ExtremeSpikeRate,
				"opposite_rate": insight.OppositeSpikeRate,
			})
			insights = append(insights, insight)
		}
	}
	return metrics, insights
}

func directionVerb(direction string) string {
	if direction == "decrease" {
		return "falls"
	}
	return "rises"
}

func horizonWeeks(horizon string) int {
	if horizon == "2w" {
		return 2
	}
	return 1
}

// templates renders the package's liquid templates; parse errors fall back
// to the raw template text so a bad template never drops an insight.
type templates struct {
	engine *liquid.Engine
}

func newTemplates() *templates {
	return &templates{engine: liquid.NewEngine()}
}

func (t *templates) render(src string, bindings map[string]interface{}) string {
	out, err := t.engine.ParseAndRenderString(src, bindings)
	if err != nil {
		logger.Warn("render insight template", "error", err.Error())
		return src
	}
	return out
}
