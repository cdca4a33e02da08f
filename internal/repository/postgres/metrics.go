// Package postgres implements the pipeline's repositories against the
// Postgres historical store. All full-table reads page on LIMIT/OFFSET
// until a short page is returned; the store enforces a page-size ceiling.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulseboard/adinsights/internal/domain"
)

// DefaultPageSize is the store's observed page ceiling for full scans.
const DefaultPageSize = 1000

// pageSizeOrDefault guards the configured page size for the paging repos.
func pageSizeOrDefault(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	return n
}

// MetricsRepo reads raw weekly/daily metric rows written by the sync
// collaborator.
type MetricsRepo struct {
	db       *sql.DB
	pageSize int
}

// NewMetricsRepo creates a Postgres-backed raw metrics repository paging
// full scans at pageSize rows.
func NewMetricsRepo(db *sql.DB, pageSize int) *MetricsRepo {
	return &MetricsRepo{db: db, pageSize: pageSizeOrDefault(pageSize)}
}

// ListWeeklyByAccount returns every raw weekly metric row for an account,
// paging through the table until a short page is returned.
func (r *MetricsRepo) ListWeeklyByAccount(ctx context.Context, accountID string) ([]domain.RawWeeklyMetric, error) {
	var out []domain.RawWeeklyMetric
	offset := 0
	for {
		rows, err := r.db.QueryContext(ctx, `
			SELECT id, account_id, ad_id, week_start, spend, impressions, reach,
			       frequency, ctr, link_ctr, link_clicks, cpc, cpm,
			       actions, action_costs,
			       quality_ranking, engagement_ranking, conversion_ranking
			FROM raw_weekly_metrics
			WHERE account_id = $1
			ORDER BY ad_id, week_start DESC
			LIMIT $2 OFFSET $3
		`, accountID, r.pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list weekly metrics: %w", err)
		}

		n := 0
		for rows.Next() {
			m, err := scanWeeklyMetric(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, *m)
			n++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate weekly metrics: %w", err)
		}
		rows.Close()

		if n < r.pageSize {
			return out, nil
		}
		offset += n
	}
}

// ListDailyByAccount returns every raw daily metric row for an account
// within [from, to), paged like ListWeeklyByAccount.
func (r *MetricsRepo) ListDailyByAccount(ctx context.Context, accountID string, from, to time.Time) ([]domain.RawDailyMetric, error) {
	var out []domain.RawDailyMetric
	offset := 0
	for {
		rows, err := r.db.QueryContext(ctx, `
			SELECT id, account_id, ad_id, day, spend, impressions
			FROM raw_daily_metrics
			WHERE account_id = $1 AND day >= $2 AND day < $3
			ORDER BY ad_id, day
			LIMIT $4 OFFSET $5
		`, accountID, from, to, r.pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list daily metrics: %w", err)
		}

		n := 0
		for rows.Next() {
			var m domain.RawDailyMetric
			if err := rows.Scan(&m.ID, &m.AccountID, &m.AdID, &m.Day, &m.Spend, &m.Impressions); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan daily metric: %w", err)
			}
			out = append(out, m)
			n++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate daily metrics: %w", err)
		}
		rows.Close()

		if n < r.pageSize {
			return out, nil
		}
		offset += n
	}
}

func scanWeeklyMetric(rows *sql.Rows) (*domain.RawWeeklyMetric, error) {
	var m domain.RawWeeklyMetric
	var actions, actionCosts []byte
	if err := rows.Scan(
		&m.ID, &m.AccountID, &m.AdID, &m.WeekStart, &m.Spend, &m.Impressions, &m.Reach,
		&m.Frequency, &m.CTR, &m.LinkCTR, &m.LinkClicks, &m.CPC, &m.CPM,
		&actions, &actionCosts,
		&m.QualityRanking, &m.EngagementRanking, &m.ConversionRanking,
	); err != nil {
		return nil, fmt.Errorf("scan weekly metric: %w", err)
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &m.Actions); err != nil {
			return nil, fmt.Errorf("decode actions for %s/%s: %w", m.AdID, m.WeekStart.Format("2006-01-02"), err)
		}
	}
	if len(actionCosts) > 0 {
		if err := json.Unmarshal(actionCosts, &m.ActionCosts); err != nil {
			return nil, fmt.Errorf("decode action costs for %s/%s: %w", m.AdID, m.WeekStart.Format("2006-01-02"), err)
		}
	}
	return &m, nil
}
