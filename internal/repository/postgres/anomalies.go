package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/adinsights/internal/domain"
)

// AnomalyFilter narrows anomaly listings.
type AnomalyFilter struct {
	AdID         string
	ResultFamily domain.ResultFamily
	Status       domain.AnomalyStatus
	Since        *time.Time
	MinScore     float64
	Limit        int
	Offset       int
}

// AnomalySummary aggregates an account's anomalies for dashboards.
type AnomalySummary struct {
	Total        int                            `json:"total"`
	ByStatus     map[domain.AnomalyStatus]int   `json:"by_status"`
	ByFamily     map[domain.ResultFamily]int    `json:"by_family"`
	WithGap      int                            `json:"with_delivery_gap"`
	AvgScore     float64                        `json:"avg_score"`
	LatestWeek   *time.Time                     `json:"latest_week,omitempty"`
}

// AnomaliesRepo stores detected anomalies keyed by
// (ad, week, family, type).
type AnomaliesRepo struct {
	db *sql.DB
}

// NewAnomaliesRepo creates a Postgres-backed anomalies repository.
func NewAnomaliesRepo(db *sql.DB) *AnomaliesRepo {
	return &AnomaliesRepo{db: db}
}

// UpsertBatch writes anomalies idempotently by natural key. Operator status
// fields are preserved on conflict; only the detector-owned fields refresh.
func (r *AnomaliesRepo) UpsertBatch(ctx context.Context, anomalies []domain.Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}

	values := make([]string, 0, len(anomalies))
	args := make([]interface{}, 0, len(anomalies)*14)
	idx := 1
	for _, a := range anomalies {
		id := a.ID
		if id == "" {
			id = uuid.New().String()
		}
		trace, err := json.Marshal(a.Trace)
		if err != nil {
			return fmt.Errorf("encode causal trace %s/%s: %w", a.AdID, a.WeekStart.Format("2006-01-02"), err)
		}
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, NOW(), NOW())",
			idx, idx+1, idx+2, idx+3, idx+4, idx+5, idx+6, idx+7, idx+8, idx+9, idx+10, idx+11, idx+12, idx+13))
		args = append(args, id, a.AccountID, a.AdID, a.WeekStart,
			string(a.ResultFamily), string(a.AnomalyType),
			a.CurrentValue, a.BaselineValue, a.DeltaPct, a.Score, a.Confidence,
			trace, a.PauseDaysCount, a.HasDeliveryGap)
		idx += 14
	}

	q := `
		INSERT INTO anomalies
			(id, account_id, ad_id, week_start, result_family, anomaly_type,
			 current_value, baseline_value, delta_pct, score, confidence,
			 trace, pause_days_count, has_delivery_gap, detected_at, updated_at)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (ad_id, week_start, result_family, anomaly_type) DO UPDATE SET
			current_value = EXCLUDED.current_value,
			baseline_value = EXCLUDED.baseline_value,
			delta_pct = EXCLUDED.delta_pct,
			score = EXCLUDED.score,
			confidence = EXCLUDED.confidence,
			trace = EXCLUDED.trace,
			pause_days_count = EXCLUDED.pause_days_count,
			has_delivery_gap = EXCLUDED.has_delivery_gap,
			updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("upsert anomalies: %w", err)
	}
	return nil
}

// Get fetches one anomaly by ID.
func (r *AnomaliesRepo) Get(ctx context.Context, id string) (*domain.Anomaly, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, ad_id, week_start, result_family, anomaly_type,
		       current_value, baseline_value, delta_pct, score, confidence,
		       trace, pause_days_count, has_delivery_gap,
		       status, COALESCE(status_actor,''), COALESCE(status_notes,''), status_at,
		       detected_at, updated_at
		FROM anomalies
		WHERE id = $1
	`, id)
	a, err := scanAnomalyRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get anomaly: %w", err)
	}
	return a, nil
}

// List returns anomalies for an account matching the filter, newest first.
func (r *AnomaliesRepo) List(ctx context.Context, accountID string, f AnomalyFilter) ([]domain.Anomaly, error) {
	q := `
		SELECT id, account_id, ad_id, week_start, result_family, anomaly_type,
		       current_value, baseline_value, delta_pct, score, confidence,
		       trace, pause_days_count, has_delivery_gap,
		       status, COALESCE(status_actor,''), COALESCE(status_notes,''), status_at,
		       detected_at, updated_at
		FROM anomalies
		WHERE account_id = $1`
	args := []interface{}{accountID}
	idx := 2

	if f.AdID != "" {
		q += fmt.Sprintf(" AND ad_id = $%d", idx)
		args = append(args, f.AdID)
		idx++
	}
	if f.ResultFamily != "" {
		q += fmt.Sprintf(" AND result_family = $%d", idx)
		args = append(args, string(f.ResultFamily))
		idx++
	}
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, string(f.Status))
		idx++
	}
	if f.Since != nil {
		q += fmt.Sprintf(" AND week_start >= $%d", idx)
		args = append(args, *f.Since)
		idx++
	}
	if f.MinScore > 0 {
		q += fmt.Sprintf(" AND score >= $%d", idx)
		args = append(args, f.MinScore)
		idx++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += fmt.Sprintf(" ORDER BY week_start DESC, score DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var out []domain.Anomaly
	for rows.Next() {
		a, err := scanAnomalyRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Summary aggregates anomaly counts and score for an account.
func (r *AnomaliesRepo) Summary(ctx context.Context, accountID string) (*AnomalySummary, error) {
	s := &AnomalySummary{
		ByStatus: make(map[domain.AnomalyStatus]int),
		ByFamily: make(map[domain.ResultFamily]int),
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT status, result_family, has_delivery_gap, score, week_start
		FROM anomalies
		WHERE account_id = $1
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("anomaly summary: %w", err)
	}
	defer rows.Close()

	var scoreSum float64
	for rows.Next() {
		var status, family string
		var hasGap bool
		var score float64
		var week time.Time
		if err := rows.Scan(&status, &family, &hasGap, &score, &week); err != nil {
			return nil, fmt.Errorf("scan anomaly summary row: %w", err)
		}
		s.Total++
		s.ByStatus[domain.AnomalyStatus(status)]++
		s.ByFamily[domain.ResultFamily(family)]++
		if hasGap {
			s.WithGap++
		}
		scoreSum += score
		if s.LatestWeek == nil || week.After(*s.LatestWeek) {
			w := week
			s.LatestWeek = &w
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anomaly summary: %w", err)
	}
	if s.Total > 0 {
		s.AvgScore = scoreSum / float64(s.Total)
	}
	return s, nil
}

// UpdateStatus records an operator status transition.
func (r *AnomaliesRepo) UpdateStatus(ctx context.Context, id string, status domain.AnomalyStatus, actor, notes string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE anomalies
		SET status = $2, status_actor = $3, status_notes = $4, status_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, string(status), actor, notes)
	if err != nil {
		return fmt.Errorf("update anomaly status: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAnomaly(s rowScanner) (*domain.Anomaly, error) {
	var a domain.Anomaly
	var family, atype, status string
	var trace []byte
	if err := s.Scan(
		&a.ID, &a.AccountID, &a.AdID, &a.WeekStart, &family, &atype,
		&a.CurrentValue, &a.BaselineValue, &a.DeltaPct, &a.Score, &a.Confidence,
		&trace, &a.PauseDaysCount, &a.HasDeliveryGap,
		&status, &a.StatusActor, &a.StatusNotes, &a.StatusAt,
		&a.DetectedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.ResultFamily = domain.ResultFamily(family)
	a.AnomalyType = domain.AnomalyType(atype)
	a.Status = domain.AnomalyStatus(status)
	if len(trace) > 0 {
		if err := json.Unmarshal(trace, &a.Trace); err != nil {
			return nil, fmt.Errorf("decode causal trace %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

func scanAnomalyRow(row *sql.Row) (*domain.Anomaly, error) {
	return scanAnomaly(row)
}

func scanAnomalyRows(rows *sql.Rows) (*domain.Anomaly, error) {
	a, err := scanAnomaly(rows)
	if err != nil {
		return nil, fmt.Errorf("scan anomaly: %w", err)
	}
	return a, nil
}
