package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pulseboard/adinsights/internal/domain"
)

// FeaturesRepo stores derived feature records, one per (ad, week). The key
// fields live in queryable columns; the full feature vector is kept as a
// JSONB document so recomputation can add fields without a migration.
type FeaturesRepo struct {
	db       *sql.DB
	pageSize int
}

// NewFeaturesRepo creates a Postgres-backed feature repository paging
// account scans at pageSize rows.
func NewFeaturesRepo(db *sql.DB, pageSize int) *FeaturesRepo {
	return &FeaturesRepo{db: db, pageSize: pageSizeOrDefault(pageSize)}
}

// UpsertBatch writes feature records keyed by (ad_id, week_start).
func (r *FeaturesRepo) UpsertBatch(ctx context.Context, records []domain.FeatureRecord) error {
	if len(records) == 0 {
		return nil
	}

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*8)
	idx := 1
	for _, rec := range records {
		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode feature record %s/%s: %w", rec.AdID, rec.WeekStart.Format("2006-01-02"), err)
		}
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, NOW())",
			idx, idx+1, idx+2, idx+3, idx+4, idx+5, idx+6, idx+7))
		args = append(args, id, rec.AccountID, rec.AdID, rec.WeekStart,
			string(rec.ResultFamily), rec.WeeksWithData, rec.MinResultsMet, payload)
		idx += 8
	}

	q := `
		INSERT INTO feature_records
			(id, account_id, ad_id, week_start, result_family, weeks_with_data, min_results_met, features, computed_at)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (ad_id, week_start) DO UPDATE SET
			result_family = EXCLUDED.result_family,
			weeks_with_data = EXCLUDED.weeks_with_data,
			min_results_met = EXCLUDED.min_results_met,
			features = EXCLUDED.features,
			computed_at = NOW()`

	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("upsert feature records: %w", err)
	}
	return nil
}

// ListByAccount returns all feature records for an account, ordered per ad
// by week ascending.
func (r *FeaturesRepo) ListByAccount(ctx context.Context, accountID string) ([]domain.FeatureRecord, error) {
	var out []domain.FeatureRecord
	offset := 0
	for {
		rows, err := r.db.QueryContext(ctx, `
			SELECT id, features
			FROM feature_records
			WHERE account_id = $1
			ORDER BY ad_id, week_start
			LIMIT $2 OFFSET $3
		`, accountID, r.pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list feature records: %w", err)
		}

		n := 0
		for rows.Next() {
			var id string
			var payload []byte
			if err := rows.Scan(&id, &payload); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan feature record: %w", err)
			}
			var rec domain.FeatureRecord
			if err := json.Unmarshal(payload, &rec); err != nil {
				rows.Close()
				return nil, fmt.Errorf("decode feature record %s: %w", id, err)
			}
			rec.ID = id
			out = append(out, rec)
			n++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate feature records: %w", err)
		}
		rows.Close()

		if n < r.pageSize {
			return out, nil
		}
		offset += n
	}
}

// ListByAd returns the chronologically ordered feature history for one ad.
func (r *FeaturesRepo) ListByAd(ctx context.Context, adID string) ([]domain.FeatureRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, features
		FROM feature_records
		WHERE ad_id = $1
		ORDER BY week_start
	`, adID)
	if err != nil {
		return nil, fmt.Errorf("list ad feature history: %w", err)
	}
	defer rows.Close()

	var out []domain.FeatureRecord
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan feature record: %w", err)
		}
		var rec domain.FeatureRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode feature record %s: %w", id, err)
		}
		rec.ID = id
		out = append(out, rec)
	}
	return out, rows.Err()
}
