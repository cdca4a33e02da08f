package anomaly

import (
	"context"
	"fmt"

	"github.com/pulseboard/adinsights/internal/domain"
	"github.com/pulseboard/adinsights/internal/pkg/logger"
)

// ErrNotFound is returned when an anomaly ID does not exist.
var ErrNotFound = fmt.Errorf("anomaly not found")

// StatusStore is the persistence surface the status service needs.
type StatusStore interface {
	Get(ctx context.Context, id string) (*domain.Anomaly, error)
	UpdateStatus(ctx context.Context, id string, status domain.AnomalyStatus, actor, notes string) error
}

// InvalidTransitionError rejects a status change the lifecycle does not
// allow. Terminal anomalies are immutable.
type InvalidTransitionError struct {
	From domain.AnomalyStatus
	To   domain.AnomalyStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid anomaly status transition %s -> %s", e.From, e.To)
}

// StatusService applies operator status transitions with lifecycle
// validation.
type StatusService struct {
	store StatusStore
}

// NewStatusService creates a status service over the given store.
func NewStatusService(store StatusStore) *StatusService {
	return &StatusService{store: store}
}

var validStatuses = map[domain.AnomalyStatus]bool{
	domain.AnomalyAcknowledged:  true,
	domain.AnomalyResolved:      true,
	domain.AnomalyFalsePositive: true,
}

// Transition moves an anomaly to the target status on behalf of an
// operator. It returns ErrNotFound for unknown IDs and
// *InvalidTransitionError when the lifecycle forbids the move.
func (s *StatusService) Transition(ctx context.Context, id string, target domain.AnomalyStatus, actor, notes string) (*domain.Anomaly, error) {
	if !validStatuses[target] {
		return nil, fmt.Errorf("unknown anomaly status %q", target)
	}

	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	if !a.CanTransitionTo(target) {
		return nil, &InvalidTransitionError{From: a.Status, To: target}
	}

	if err := s.store.UpdateStatus(ctx, id, target, actor, notes); err != nil {
		return nil, err
	}

	logger.Info("anomaly status changed",
		"anomaly_id", id, "from", string(a.Status), "to", string(target), "actor", actor)

	a.Status = target
	a.StatusActor = actor
	a.StatusNotes = notes
	return a, nil
}
