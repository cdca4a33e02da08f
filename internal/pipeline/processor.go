// Package pipeline runs the per-account analytics pass: a paginated
// full-account snapshot load, an in-memory per-ad-week loop through the
// feature engine and anomaly detector, and batched idempotent writes.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pulseboard/adinsights/internal/anomaly"
	"github.com/pulseboard/adinsights/internal/config"
	"github.com/pulseboard/adinsights/internal/domain"
	"github.com/pulseboard/adinsights/internal/features"
	"github.com/pulseboard/adinsights/internal/metrics"
	"github.com/pulseboard/adinsights/internal/pkg/logger"
	"github.com/pulseboard/adinsights/internal/store"
)

// MetricsReader is the raw-metric surface the processor preloads.
type MetricsReader interface {
	ListWeeklyByAccount(ctx context.Context, accountID string) ([]domain.RawWeeklyMetric, error)
	ListDailyByAccount(ctx context.Context, accountID string, from, to time.Time) ([]domain.RawDailyMetric, error)
}

// ResultsReader supplies the account's normalized results.
type ResultsReader interface {
	ListByAccount(ctx context.Context, accountID string) ([]domain.NormalizedWeeklyResult, error)
}

// FeaturesWriter persists computed feature records.
type FeaturesWriter interface {
	UpsertBatch(ctx context.Context, records []domain.FeatureRecord) error
}

// AnomaliesWriter persists detected anomalies.
type AnomaliesWriter interface {
	UpsertBatch(ctx context.Context, anomalies []domain.Anomaly) error
}

// ProcessReport summarizes one account run. Failures are isolated per ad,
// so a non-zero AdsFailed does not mean the run failed.
type ProcessReport struct {
	AdsProcessed      int `json:"ads_processed"`
	AdsFailed         int `json:"ads_failed"`
	AdsSkipped        int `json:"ads_skipped"`
	FeaturesComputed  int `json:"features_computed"`
	AnomaliesDetected int `json:"anomalies_detected"`
}

// Processor runs the feature and anomaly stages for one account at a time.
type Processor struct {
	rawMetrics MetricsReader
	results    ResultsReader
	feats      FeaturesWriter
	anomalies  AnomaliesWriter

	engine   *features.Engine
	detector *anomaly.Detector

	batchSize     int
	retryAttempts int
	retryBackoff  time.Duration
}

// NewProcessor wires an account processor from its stores and tuning.
func NewProcessor(rawMetrics MetricsReader, results ResultsReader, feats FeaturesWriter, anomalies AnomaliesWriter, cfg config.AnalyticsConfig) *Processor {
	if cfg.WriteBatchSize <= 0 {
		cfg.WriteBatchSize = 500
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	return &Processor{
		rawMetrics: rawMetrics,
		results:    results,
		feats:      feats,
		anomalies:  anomalies,
		engine: features.NewEngine(cfg.BaselineWeeks, cfg.HistoryWeeks,
			cfg.SlopeWeeks, cfg.MinResults),
		detector: anomaly.NewDetector(cfg.CPRSpikeThreshold,
			cfg.MinWeeksWithData, cfg.BaselineWeeks),
		batchSize:     cfg.WriteBatchSize,
		retryAttempts: cfg.RetryAttempts,
		retryBackoff:  cfg.RetryBackoff(),
	}
}

// snapshot is the preloaded account state the per-ad loop runs over.
// Loading everything up front keeps the loop free of per-item queries,
// which dominate cost at tens of thousands of ad-weeks.
type snapshot struct {
	weeklyByAd map[string][]domain.RawWeeklyMetric // most recent first
	dailyByAd  map[string][]domain.RawDailyMetric
	// resultsByAd indexes each ad's primary-family result rows by week.
	resultsByAd map[string]map[string]*domain.NormalizedWeeklyResult
	familyByAd  map[string]domain.ResultFamily
	adOrder     []string
}

// ProcessAccount runs the feature engine and anomaly detector over every
// ad-week of the account, isolating per-ad failures and flushing writes in
// batches.
func (p *Processor) ProcessAccount(ctx context.Context, accountID string) (*ProcessReport, error) {
	started := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("process_account").Observe(time.Since(started).Seconds())
	}()

	snap, err := p.load(ctx, accountID)
	if err != nil {
		return nil, err
	}

	report := &ProcessReport{}
	var featureBatch []domain.FeatureRecord
	var anomalyBatch []domain.Anomaly

	for _, adID := range snap.adOrder {
		family, ok := snap.familyByAd[adID]
		if !ok {
			report.AdsSkipped++
			continue
		}

		records, found, adErr := p.processAd(accountID, adID, family, snap)
		if adErr != nil {
			logger.Error("ad processing failed",
				"account_id", accountID, "ad_id", adID, "error", adErr.Error())
			metrics.EntityFailures.WithLabelValues(accountID, "process").Inc()
			report.AdsFailed++
			continue
		}
		if len(records) == 0 {
			report.AdsSkipped++
			continue
		}

		report.AdsProcessed++
		report.FeaturesComputed += len(records)
		report.AnomaliesDetected += len(found)
		metrics.AdsProcessed.WithLabelValues(accountID).Inc()
		for _, a := range found {
			metrics.AnomaliesDetected.WithLabelValues(accountID, string(a.ResultFamily)).Inc()
		}

		featureBatch = append(featureBatch, records...)
		anomalyBatch = append(anomalyBatch, found...)

		if len(featureBatch) >= p.batchSize {
			if err := p.flushFeatures(ctx, &featureBatch); err != nil {
				return report, err
			}
		}
		if len(anomalyBatch) >= p.batchSize {
			if err := p.flushAnomalies(ctx, &anomalyBatch); err != nil {
				return report, err
			}
		}
	}

	// Final flush is mandatory even for partial batches.
	if err := p.flushFeatures(ctx, &featureBatch); err != nil {
		return report, err
	}
	if err := p.flushAnomalies(ctx, &anomalyBatch); err != nil {
		return report, err
	}

	logger.Info("account processed",
		"account_id", accountID,
		"ads_processed", report.AdsProcessed,
		"ads_failed", report.AdsFailed,
		"ads_skipped", report.AdsSkipped,
		"features", report.FeaturesComputed,
		"anomalies", report.AnomaliesDetected)
	return report, nil
}

// processAd computes feature records and anomalies for every week of one
// ad. Panics are contained here so one bad ad cannot sink the account run.
func (p *Processor) processAd(accountID, adID string, family domain.ResultFamily, snap *snapshot) (records []domain.FeatureRecord, found []domain.Anomaly, err error) {
	defer func() {
		if r := recover(); r != nil {
			records, found = nil, nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	weekly := snap.weeklyByAd[adID]
	daily := snap.dailyByAd[adID]
	resultsByWeek := snap.resultsByAd[adID]

	for i := range weekly {
		window := make([]features.WeekInput, 0, len(weekly)-i)
		for _, m := range weekly[i:] {
			window = append(window, features.WeekInput{
				Metric: m,
				Result: resultsByWeek[weekKey(m.WeekStart)],
			})
		}

		rec := p.engine.Compute(accountID, adID, family, window, weekly[i].WeekStart)
		if rec == nil {
			continue
		}
		records = append(records, *rec)

		if a := p.detector.Evaluate(rec, window, daily); a != nil {
			found = append(found, *a)
		}
	}
	return records, found, nil
}

// load preloads the account snapshot via the paginated repositories.
func (p *Processor) load(ctx context.Context, accountID string) (*snapshot, error) {
	var weekly []domain.RawWeeklyMetric
	err := store.WithRetry(ctx, p.retryAttempts, p.retryBackoff, func() error {
		var err error
		weekly, err = p.rawMetrics.ListWeeklyByAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load weekly metrics: %w", err)
	}
	if len(weekly) == 0 {
		return &snapshot{}, nil
	}

	from, to := weekly[0].WeekStart, weekly[0].WeekStart
	for _, m := range weekly[1:] {
		if m.WeekStart.Before(from) {
			from = m.WeekStart
		}
		if m.WeekStart.After(to) {
			to = m.WeekStart
		}
	}

	var daily []domain.RawDailyMetric
	err = store.WithRetry(ctx, p.retryAttempts, p.retryBackoff, func() error {
		var err error
		daily, err = p.rawMetrics.ListDailyByAccount(ctx, accountID, from, to.AddDate(0, 0, 7))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load daily metrics: %w", err)
	}

	var results []domain.NormalizedWeeklyResult
	err = store.WithRetry(ctx, p.retryAttempts, p.retryBackoff, func() error {
		var err error
		results, err = p.results.ListByAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load normalized results: %w", err)
	}

	snap := &snapshot{
		weeklyByAd:  make(map[string][]domain.RawWeeklyMetric),
		dailyByAd:   make(map[string][]domain.RawDailyMetric),
		resultsByAd: make(map[string]map[string]*domain.NormalizedWeeklyResult),
		familyByAd:  make(map[string]domain.ResultFamily),
	}
	for _, m := range weekly {
		if _, seen := snap.weeklyByAd[m.AdID]; !seen {
			snap.adOrder = append(snap.adOrder, m.AdID)
		}
		snap.weeklyByAd[m.AdID] = append(snap.weeklyByAd[m.AdID], m)
	}
	for adID := range snap.weeklyByAd {
		rows := snap.weeklyByAd[adID]
		sort.Slice(rows, func(i, j int) bool { return rows[i].WeekStart.After(rows[j].WeekStart) })
	}
	for _, d := range daily {
		snap.dailyByAd[d.AdID] = append(snap.dailyByAd[d.AdID], d)
	}
	for i := range results {
		res := &results[i]
		if res.IsPrimary {
			snap.familyByAd[res.AdID] = res.ResultFamily
		}
	}
	for i := range results {
		res := &results[i]
		if res.ResultFamily != snap.familyByAd[res.AdID] {
			continue
		}
		if snap.resultsByAd[res.AdID] == nil {
			snap.resultsByAd[res.AdID] = make(map[string]*domain.NormalizedWeeklyResult)
		}
		snap.resultsByAd[res.AdID][weekKey(res.WeekStart)] = res
	}
	return snap, nil
}

func (p *Processor) flushFeatures(ctx context.Context, batch *[]domain.FeatureRecord) error {
	if len(*batch) == 0 {
		return nil
	}
	for _, chunk := range store.Chunk(*batch, p.batchSize) {
		rows := chunk
		err := store.WithRetry(ctx, p.retryAttempts, p.retryBackoff, func() error {
			return p.feats.UpsertBatch(ctx, rows)
		})
		if err != nil {
			return fmt.Errorf("flush feature records: %w", err)
		}
		metrics.WriteBatches.WithLabelValues("feature_records").Inc()
	}
	*batch = (*batch)[:0]
	return nil
}

func (p *Processor) flushAnomalies(ctx context.Context, batch *[]domain.Anomaly) error {
	if len(*batch) == 0 {
		return nil
	}
	for _, chunk := range store.Chunk(*batch, p.batchSize) {
		rows := chunk
		err := store.WithRetry(ctx, p.retryAttempts, p.retryBackoff, func() error {
			return p.anomalies.UpsertBatch(ctx, rows)
		})
		if err != nil {
			return fmt.Errorf("flush anomalies: %w", err)
		}
		metrics.WriteBatches.WithLabelValues("anomalies").Inc()
	}
	*batch = (*batch)[:0]
	return nil
}

func weekKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
