package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pulseboard/adinsights/internal/domain"
)

// ResultsRepo stores normalized weekly result rows, one per
// (ad, week, result_family).
type ResultsRepo struct {
	db       *sql.DB
	pageSize int
}

// NewResultsRepo creates a Postgres-backed normalized results repository
// paging full scans at pageSize rows.
func NewResultsRepo(db *sql.DB, pageSize int) *ResultsRepo {
	return &ResultsRepo{db: db, pageSize: pageSizeOrDefault(pageSize)}
}

// UpsertBatch writes a batch of normalized results keyed by
// (ad_id, week_start, result_family). Re-running overwrites, never
// duplicates.
func (r *ResultsRepo) UpsertBatch(ctx context.Context, results []domain.NormalizedWeeklyResult) error {
	if len(results) == 0 {
		return nil
	}

	values := make([]string, 0, len(results))
	args := make([]interface{}, 0, len(results)*8)
	idx := 1
	for _, res := range results {
		id := res.ID
		if id == "" {
			id = uuid.New().String()
		}
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, NOW(), NOW())",
			idx, idx+1, idx+2, idx+3, idx+4, idx+5, idx+6, idx+7))
		args = append(args, id, res.AccountID, res.AdID, res.WeekStart,
			string(res.ResultFamily), res.ResultCount, res.CPR, res.Spend)
		idx += 8
	}

	q := `
		INSERT INTO normalized_weekly_results
			(id, account_id, ad_id, week_start, result_family, result_count, cpr, spend, created_at, updated_at)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (ad_id, week_start, result_family) DO UPDATE SET
			result_count = EXCLUDED.result_count,
			cpr = EXCLUDED.cpr,
			spend = EXCLUDED.spend,
			updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("upsert normalized results: %w", err)
	}
	return nil
}

// SetPrimaryFamily marks family as the primary result family for an ad,
// clearing any previous primary flag.
func (r *ResultsRepo) SetPrimaryFamily(ctx context.Context, adID string, family domain.ResultFamily) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set primary family: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE normalized_weekly_results SET is_primary = FALSE, updated_at = NOW()
		 WHERE ad_id = $1 AND is_primary = TRUE AND result_family <> $2`,
		adID, string(family)); err != nil {
		return fmt.Errorf("clear primary family: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE normalized_weekly_results SET is_primary = TRUE, updated_at = NOW()
		 WHERE ad_id = $1 AND result_family = $2`,
		adID, string(family)); err != nil {
		return fmt.Errorf("set primary family: %w", err)
	}
	return tx.Commit()
}

// ListByAccount returns all normalized results for an account, paged.
func (r *ResultsRepo) ListByAccount(ctx context.Context, accountID string) ([]domain.NormalizedWeeklyResult, error) {
	return r.list(ctx,
		`SELECT id, account_id, ad_id, week_start, result_family, result_count, cpr, spend, is_primary
		 FROM normalized_weekly_results
		 WHERE account_id = $1
		 ORDER BY ad_id, week_start DESC`, accountID)
}

// ListByFamily returns all normalized results for one family in an account,
// ordered per ad by week ascending so consecutive rows form week pairs.
func (r *ResultsRepo) ListByFamily(ctx context.Context, accountID string, family domain.ResultFamily) ([]domain.NormalizedWeeklyResult, error) {
	return r.list(ctx,
		`SELECT id, account_id, ad_id, week_start, result_family, result_count, cpr, spend, is_primary
		 FROM normalized_weekly_results
		 WHERE account_id = $1 AND result_family = $2
		 ORDER BY ad_id, week_start`, accountID, string(family))
}

// ListGlobalByFamily returns normalized results for one family across all
// accounts. Feeds the global elasticity pool; callers cache the outcome.
func (r *ResultsRepo) ListGlobalByFamily(ctx context.Context, family domain.ResultFamily) ([]domain.NormalizedWeeklyResult, error) {
	return r.list(ctx,
		`SELECT id, account_id, ad_id, week_start, result_family, result_count, cpr, spend, is_primary
		 FROM normalized_weekly_results
		 WHERE result_family = $1
		 ORDER BY ad_id, week_start`, string(family))
}

func (r *ResultsRepo) list(ctx context.Context, baseQuery string, args ...interface{}) ([]domain.NormalizedWeeklyResult, error) {
	var out []domain.NormalizedWeeklyResult
	offset := 0
	argc := len(args)
	paged := fmt.Sprintf("%s LIMIT $%d OFFSET $%d", baseQuery, argc+1, argc+2)
	for {
		rows, err := r.db.QueryContext(ctx, paged, append(args, r.pageSize, offset)...)
		if err != nil {
			return nil, fmt.Errorf("list normalized results: %w", err)
		}

		n := 0
		for rows.Next() {
			var res domain.NormalizedWeeklyResult
			var family string
			if err := rows.Scan(&res.ID, &res.AccountID, &res.AdID, &res.WeekStart,
				&family, &res.ResultCount, &res.CPR, &res.Spend, &res.IsPrimary); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan normalized result: %w", err)
			}
			res.ResultFamily = domain.ResultFamily(family)
			out = append(out, res)
			n++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate normalized results: %w", err)
		}
		rows.Close()

		if n < r.pageSize {
			return out, nil
		}
		offset += n
	}
}
