package burnout

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pulseboard/adinsights/internal/config"
	"github.com/pulseboard/adinsights/internal/domain"
	"github.com/pulseboard/adinsights/internal/pkg/logger"
)

const maxDrivers = 5

// FeaturesReader is the feature-history surface the analyzer reads.
type FeaturesReader interface {
	ListByAccount(ctx context.Context, accountID string) ([]domain.FeatureRecord, error)
}

// PredictionsWriter persists burnout predictions.
type PredictionsWriter interface {
	UpsertBatch(ctx context.Context, predictions []domain.BurnoutPrediction) error
}

// Analyzer runs quantile analysis and per-ad burnout risk prediction over
// an account's feature history.
type Analyzer struct {
	feats FeaturesReader
	preds PredictionsWriter
	cfg   config.BurnoutConfig
	tmpl  *templates
	now   func() time.Time
}

// NewAnalyzer wires a burnout analyzer.
func NewAnalyzer(feats FeaturesReader, preds PredictionsWriter, cfg config.BurnoutConfig) *Analyzer {
	return &Analyzer{
		feats: feats,
		preds: preds,
		cfg:   cfg,
		tmpl:  newTemplates(),
		now:   time.Now,
	}
}

// Predict scores one ad's latest feature record. The weights are empirical
// constants, not a fitted model; the resulting score is an ordering signal,
// not a calibrated probability. Returns nil when no leading signal is
// computable for the week.
func (a *Analyzer) Predict(rec *domain.FeatureRecord) *domain.BurnoutPrediction {
	var score float64
	var drivers []domain.BurnoutDriver
	signals := 0

	for _, lm := range leadingMetrics {
		v := lm.value(rec)
		if v == nil {
			continue
		}
		signals++
		contribution := lm.weight * (*v / 100)
		score += contribution
		if lm.triggered(*v) {
			drivers = append(drivers, domain.BurnoutDriver{
				Metric:       lm.name,
				Value:        *v,
				Contribution: contribution,
				Warning:      a.tmpl.render(lm.warning, map[string]interface{}{"value": *v}),
			})
		}
	}
	if signals == 0 {
		return nil
	}

	// Affine clamp: a zero signal sum lands at 0.5, saturating at 0 and 1.
	risk := score + 0.5
	if risk < 0 {
		risk = 0
	}
	if risk > 1 {
		risk = 1
	}

	sort.Slice(drivers, func(i, j int) bool {
		return abs(drivers[i].Contribution) > abs(drivers[j].Contribution)
	})
	if len(drivers) > maxDrivers {
		drivers = drivers[:maxDrivers]
	}

	confidence := float64(rec.WeeksWithData) / 8
	if confidence > 1 {
		confidence = 1
	}

	return &domain.BurnoutPrediction{
		AccountID:            rec.AccountID,
		AdID:                 rec.AdID,
		WeekStart:            rec.WeekStart,
		RiskScore:            risk,
		RiskLevel:            domain.RiskLevelForScore(risk),
		Drivers:              drivers,
		PredictedCPRChange1W: risk * 30,
		PredictedCPRChange2W: risk * 50,
		Confidence:           confidence,
		CreatedAt:            a.now().UTC(),
	}
}

// PredictAllAds scores every ad's most recent feature week and persists the
// predictions. Ads with too little history or no computable signal are
// skipped.
func (a *Analyzer) PredictAllAds(ctx context.Context, accountID string) ([]domain.BurnoutPrediction, error) {
	records, err := a.feats.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load feature history: %w", err)
	}

	latest := make(map[string]domain.FeatureRecord)
	var adOrder []string
	for _, rec := range records {
		cur, seen := latest[rec.AdID]
		if !seen {
			adOrder = append(adOrder, rec.AdID)
		}
		if !seen || rec.WeekStart.After(cur.WeekStart) {
			latest[rec.AdID] = rec
		}
	}

	var predictions []domain.BurnoutPrediction
	skipped := 0
	for _, adID := range adOrder {
		rec := latest[adID]
		if rec.WeeksWithData < a.cfg.MinAdHistory {
			skipped++
			continue
		}
		p := a.Predict(&rec)
		if p == nil {
			skipped++
			continue
		}
		predictions = append(predictions, *p)
	}

	if len(predictions) > 0 {
		if err := a.preds.UpsertBatch(ctx, predictions); err != nil {
			return nil, fmt.Errorf("persist burnout predictions: %w", err)
		}
	}

	logger.Info("burnout predictions computed",
		"account_id", accountID, "predicted", len(predictions), "skipped", skipped)
	return predictions, nil
}

// RunQuantileAnalysis builds the account's lead-lag dataset and surfaces
// predictive triggers. A dataset smaller than the configured minimum yields
// a report with MinDatasetMet=false and no insights rather than an error.
func (a *Analyzer) RunQuantileAnalysis(ctx context.Context, accountID string) (*QuantileReport, error) {
	records, err := a.feats.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load feature history: %w", err)
	}

	spikePct := (a.cfg.SpikeThreshold - 1) * 100
	rows := BuildDataset(records, a.cfg.MinAdHistory, spikePct)

	report := &QuantileReport{
		AccountID:   accountID,
		DatasetSize: len(rows),
		GeneratedAt: a.now().UTC(),
	}
	if len(rows) < a.cfg.MinDatasetSize {
		logger.Info("quantile analysis skipped, dataset too small",
			"account_id", accountID, "rows", len(rows), "min", a.cfg.MinDatasetSize)
		return report, nil
	}

	report.MinDatasetMet = true
	report.Metrics, report.Insights = analyzeQuantiles(rows, a.cfg.InsightMinDelta, a.tmpl)

	logger.Info("quantile analysis complete",
		"account_id", accountID, "rows", len(rows), "insights", len(report.Insights))
	return report, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
