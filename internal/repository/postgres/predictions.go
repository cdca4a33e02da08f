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

// PredictionsRepo stores burnout predictions, one per (ad, week).
type PredictionsRepo struct {
	db *sql.DB
}

// NewPredictionsRepo creates a Postgres-backed burnout predictions repository.
func NewPredictionsRepo(db *sql.DB) *PredictionsRepo {
	return &PredictionsRepo{db: db}
}

// UpsertBatch writes predictions keyed by (ad_id, week_start).
func (r *PredictionsRepo) UpsertBatch(ctx context.Context, preds []domain.BurnoutPrediction) error {
	if len(preds) == 0 {
		return nil
	}

	values := make([]string, 0, len(preds))
	args := make([]interface{}, 0, len(preds)*10)
	idx := 1
	for _, p := range preds {
		id := p.ID
		if id == "" {
			id = uuid.New().String()
		}
		drivers, err := json.Marshal(p.Drivers)
		if err != nil {
			return fmt.Errorf("encode burnout drivers %s/%s: %w", p.AdID, p.WeekStart.Format("2006-01-02"), err)
		}
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, NOW())",
			idx, idx+1, idx+2, idx+3, idx+4, idx+5, idx+6, idx+7, idx+8, idx+9))
		args = append(args, id, p.AccountID, p.AdID, p.WeekStart,
			p.RiskScore, string(p.RiskLevel), drivers,
			p.PredictedCPRChange1W, p.PredictedCPRChange2W, p.Confidence)
		idx += 10
	}

	q := `
		INSERT INTO burnout_predictions
			(id, account_id, ad_id, week_start, risk_score, risk_level, drivers,
			 predicted_cpr_change_1w, predicted_cpr_change_2w, confidence, created_at)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (ad_id, week_start) DO UPDATE SET
			risk_score = EXCLUDED.risk_score,
			risk_level = EXCLUDED.risk_level,
			drivers = EXCLUDED.drivers,
			predicted_cpr_change_1w = EXCLUDED.predicted_cpr_change_1w,
			predicted_cpr_change_2w = EXCLUDED.predicted_cpr_change_2w,
			confidence = EXCLUDED.confidence`

	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("upsert burnout predictions: %w", err)
	}
	return nil
}

// ListByAccount returns the latest prediction per ad for an account.
func (r *PredictionsRepo) ListByAccount(ctx context.Context, accountID string) ([]domain.BurnoutPrediction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (ad_id)
		       id, account_id, ad_id, week_start, risk_score, risk_level, drivers,
		       predicted_cpr_change_1w, predicted_cpr_change_2w, confidence, created_at
		FROM burnout_predictions
		WHERE account_id = $1
		ORDER BY ad_id, week_start DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list burnout predictions: %w", err)
	}
	defer rows.Close()

	var out []domain.BurnoutPrediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPrediction(rows *sql.Rows) (*domain.BurnoutPrediction, error) {
	var p domain.BurnoutPrediction
	var level string
	var drivers []byte
	if err := rows.Scan(
		&p.ID, &p.AccountID, &p.AdID, &p.WeekStart, &p.RiskScore, &level, &drivers,
		&p.PredictedCPRChange1W, &p.PredictedCPRChange2W, &p.Confidence, &p.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan burnout prediction: %w", err)
	}
	p.RiskLevel = domain.RiskLevel(level)
	if len(drivers) > 0 {
		if err := json.Unmarshal(drivers, &p.Drivers); err != nil {
			return nil, fmt.Errorf("decode burnout drivers %s: %w", p.ID, err)
		}
	}
	return &p, nil
}
