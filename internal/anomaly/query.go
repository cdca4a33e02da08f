package anomaly

import (
	"context"

	"github.com/pulseboard/adinsights/internal/domain"
	"github.com/pulseboard/adinsights/internal/repository/postgres"
)

// QueryStore is the read surface the query service needs.
type QueryStore interface {
	List(ctx context.Context, accountID string, f postgres.AnomalyFilter) ([]domain.Anomaly, error)
	Summary(ctx context.Context, accountID string) (*postgres.AnomalySummary, error)
}

// QueryService serves anomaly listings and dashboard summaries.
type QueryService struct {
	store QueryStore
}

// NewQueryService creates a query service over the given store.
func NewQueryService(store QueryStore) *QueryService {
	return &QueryService{store: store}
}

// List returns an account's anomalies, newest first, narrowed by the
// filter.
func (s *QueryService) List(ctx context.Context, accountID string, f postgres.AnomalyFilter) ([]domain.Anomaly, error) {
	return s.store.List(ctx, accountID, f)
}

// Summary aggregates an account's anomalies for dashboards.
func (s *QueryService) Summary(ctx context.Context, accountID string) (*postgres.AnomalySummary, error) {
	return s.store.Summary(ctx, accountID)
}
