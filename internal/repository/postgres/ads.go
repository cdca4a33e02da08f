package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pulseboard/adinsights/internal/domain"
)

// AdsRepo reads ad and ad-set reference rows synced from the platform.
type AdsRepo struct {
	db       *sql.DB
	pageSize int
}

// NewAdsRepo creates a Postgres-backed ads repository paging account scans
// at pageSize rows.
func NewAdsRepo(db *sql.DB, pageSize int) *AdsRepo {
	return &AdsRepo{db: db, pageSize: pageSizeOrDefault(pageSize)}
}

// ListAds returns all ads for an account.
func (r *AdsRepo) ListAds(ctx context.Context, accountID string) ([]domain.Ad, error) {
	var out []domain.Ad
	offset := 0
	for {
		rows, err := r.db.QueryContext(ctx, `
			SELECT id, account_id, campaign_id, ad_set_id, name, status
			FROM ads
			WHERE account_id = $1
			ORDER BY id
			LIMIT $2 OFFSET $3
		`, accountID, r.pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list ads: %w", err)
		}

		n := 0
		for rows.Next() {
			var a domain.Ad
			if err := rows.Scan(&a.ID, &a.AccountID, &a.CampaignID, &a.AdSetID, &a.Name, &a.Status); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan ad: %w", err)
			}
			out = append(out, a)
			n++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate ads: %w", err)
		}
		rows.Close()

		if n < r.pageSize {
			return out, nil
		}
		offset += n
	}
}

// ListAdSets returns all ad sets for an account.
func (r *AdsRepo) ListAdSets(ctx context.Context, accountID string) ([]domain.AdSet, error) {
	var out []domain.AdSet
	offset := 0
	for {
		rows, err := r.db.QueryContext(ctx, `
			SELECT id, account_id, campaign_id, optimization_goal
			FROM ad_sets
			WHERE account_id = $1
			ORDER BY id
			LIMIT $2 OFFSET $3
		`, accountID, r.pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list ad sets: %w", err)
		}

		n := 0
		for rows.Next() {
			var s domain.AdSet
			if err := rows.Scan(&s.ID, &s.AccountID, &s.CampaignID, &s.OptimizationGoal); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan ad set: %w", err)
			}
			out = append(out, s)
			n++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate ad sets: %w", err)
		}
		rows.Close()

		if n < r.pageSize {
			return out, nil
		}
		offset += n
	}
}
