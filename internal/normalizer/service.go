package normalizer

import (
	"context"
	"fmt"
	"time"

	"github.com/pulseboard/adinsights/internal/domain"
	"github.com/pulseboard/adinsights/internal/pkg/logger"
	"github.com/pulseboard/adinsights/internal/store"
)

// MetricsReader is the slice of the raw-metrics repository the normalizer
// needs.
type MetricsReader interface {
	ListWeeklyByAccount(ctx context.Context, accountID string) ([]domain.RawWeeklyMetric, error)
}

// ResultsWriter is the slice of the normalized-results repository the
// normalizer needs.
type ResultsWriter interface {
	UpsertBatch(ctx context.Context, results []domain.NormalizedWeeklyResult) error
	ListByAccount(ctx context.Context, accountID string) ([]domain.NormalizedWeeklyResult, error)
	SetPrimaryFamily(ctx context.Context, adID string, family domain.ResultFamily) error
}

// AdSetsReader supplies delivery-optimization goals for primary-family
// resolution.
type AdSetsReader interface {
	ListAds(ctx context.Context, accountID string) ([]domain.Ad, error)
	ListAdSets(ctx context.Context, accountID string) ([]domain.AdSet, error)
}

// NormalizeReport summarizes one normalization run.
type NormalizeReport struct {
	ProcessedRows int                         `json:"processed_rows"`
	FamilyCounts  map[domain.ResultFamily]int `json:"family_counts"`
}

// Service normalizes raw weekly action counts into result-family rows.
type Service struct {
	metrics MetricsReader
	results ResultsWriter
	ads     AdSetsReader
	mapping *FamilyMapping

	batchSize     int
	retryAttempts int
	retryBackoff  time.Duration
}

// NewService creates the normalizer service. The mapping is built once and
// immutable for the service's lifetime.
func NewService(metrics MetricsReader, results ResultsWriter, ads AdSetsReader, mapping *FamilyMapping, batchSize, retryAttempts int, retryBackoff time.Duration) *Service {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Service{
		metrics:       metrics,
		results:       results,
		ads:           ads,
		mapping:       mapping,
		batchSize:     batchSize,
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
	}
}

// NormalizeAccountResults maps every raw weekly metric row for the account
// into normalized result-family rows and upserts them by natural key.
func (s *Service) NormalizeAccountResults(ctx context.Context, accountID string) (*NormalizeReport, error) {
	raws, err := s.metrics.ListWeeklyByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading weekly metrics: %w", err)
	}

	report := &NormalizeReport{FamilyCounts: make(map[domain.ResultFamily]int)}
	var pending []domain.NormalizedWeeklyResult

	for i := range raws {
		rows := s.normalizeRow(&raws[i])
		if len(rows) == 0 {
			continue
		}
		report.ProcessedRows++
		for _, row := range rows {
			report.FamilyCounts[row.ResultFamily]++
		}
		pending = append(pending, rows...)

		if len(pending) >= s.batchSize {
			if err := s.flush(ctx, pending); err != nil {
				return report, err
			}
			pending = pending[:0]
		}
	}

	// Final flush is mandatory even on a partial batch.
	if err := s.flush(ctx, pending); err != nil {
		return report, err
	}

	logger.Info("normalized account results",
		"account_id", accountID, "rows", report.ProcessedRows)
	return report, nil
}

// normalizeRow groups one raw row's actions by family. A family's cpr
// prefers summed per-action cost; otherwise it falls back to the row's
// spend divided by the family count.
func (s *Service) normalizeRow(raw *domain.RawWeeklyMetric) []domain.NormalizedWeeklyResult {
	if len(raw.Actions) == 0 && raw.Spend == 0 {
		return nil
	}

	counts := make(map[domain.ResultFamily]float64)
	costs := make(map[domain.ResultFamily]float64)
	for _, a := range raw.Actions {
		if a.Value <= 0 {
			continue
		}
		counts[s.mapping.FamilyFor(a.ActionType)] += a.Value
	}
	for _, c := range raw.ActionCosts {
		if c.Value <= 0 {
			continue
		}
		costs[s.mapping.FamilyFor(c.ActionType)] += c.Value
	}

	var out []domain.NormalizedWeeklyResult
	for family, count := range counts {
		if count == 0 && raw.Spend == 0 {
			continue
		}
		var cpr *float64
		if count > 0 {
			v := raw.Spend / count
			if cost := costs[family]; cost > 0 {
				v = cost / count
			}
			cpr = &v
		}
		out = append(out, domain.NormalizedWeeklyResult{
			AccountID:    raw.AccountID,
			AdID:         raw.AdID,
			WeekStart:    raw.WeekStart,
			ResultFamily: family,
			ResultCount:  count,
			CPR:          cpr,
			Spend:        raw.Spend,
		})
	}
	return out
}

// EnsureClickFamily back-fills a synthetic click family row for every
// (ad, week) where raw link-click volume exists but action-type mapping
// produced no click row. Returns the number of rows added.
func (s *Service) EnsureClickFamily(ctx context.Context, accountID string) (int, error) {
	raws, err := s.metrics.ListWeeklyByAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("loading weekly metrics: %w", err)
	}
	existing, err := s.results.ListByAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("loading normalized results: %w", err)
	}

	haveClick := make(map[string]bool, len(existing))
	for _, res := range existing {
		if res.ResultFamily == domain.FamilyClick {
			haveClick[res.AdID+"|"+res.WeekStart.Format("2006-01-02")] = true
		}
	}

	var added []domain.NormalizedWeeklyResult
	for i := range raws {
		raw := &raws[i]
		if raw.LinkClicks <= 0 {
			continue
		}
		if haveClick[raw.AdID+"|"+raw.WeekStart.Format("2006-01-02")] {
			continue
		}
		count := float64(raw.LinkClicks)
		cpr := raw.CPC
		if cpr <= 0 && count > 0 {
			cpr = raw.Spend / count
		}
		added = append(added, domain.NormalizedWeeklyResult{
			AccountID:    raw.AccountID,
			AdID:         raw.AdID,
			WeekStart:    raw.WeekStart,
			ResultFamily: domain.FamilyClick,
			ResultCount:  count,
			CPR:          &cpr,
			Spend:        raw.Spend,
		})
	}

	for _, batch := range store.Chunk(added, s.batchSize) {
		if err := s.flush(ctx, batch); err != nil {
			return 0, err
		}
	}
	return len(added), nil
}

func (s *Service) flush(ctx context.Context, batch []domain.NormalizedWeeklyResult) error {
	if len(batch) == 0 {
		return nil
	}
	err := store.WithRetry(ctx, s.retryAttempts, s.retryBackoff, func() error {
		return s.results.UpsertBatch(ctx, batch)
	})
	if err != nil {
		return fmt.Errorf("flushing normalized results: %w", err)
	}
	return nil
}
