package anomaly

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/adinsights/internal/domain"
)

type fakeStatusStore struct {
	anomalies map[string]*domain.Anomaly
	updates   int
}

func (f *fakeStatusStore) Get(_ context.Context, id string) (*domain.Anomaly, error) {
	a, ok := f.anomalies[id]
	if !ok {
		return nil, nil
	}
	copied := *a
	return &copied, nil
}

func (f *fakeStatusStore) UpdateStatus(_ context.Context, id string, status domain.AnomalyStatus, actor, notes string) error {
	f.updates++
	a := f.anomalies[id]
	a.Status = status
	a.StatusActor = actor
	a.StatusNotes = notes
	return nil
}

func newFakeStatusStore(status domain.AnomalyStatus) *fakeStatusStore {
	return &fakeStatusStore{anomalies: map[string]*domain.Anomaly{
		"an-1": {ID: "an-1", Status: status},
	}}
}

func TestTransitionNewToAcknowledged(t *testing.T) {
	store := newFakeStatusStore(domain.AnomalyNew)
	svc := NewStatusService(store)

	a, err := svc.Transition(context.Background(), "an-1", domain.AnomalyAcknowledged, "ops@pulseboard", "looking into it")
	require.NoError(t, err)
	assert.Equal(t, domain.AnomalyAcknowledged, a.Status)
	assert.Equal(t, "ops@pulseboard", a.StatusActor)
	assert.Equal(t, 1, store.updates)
}

func TestTransitionLifecycle(t *testing.T) {
	tests := []struct {
		name   string
		from   domain.AnomalyStatus
		to     domain.AnomalyStatus
		wantOK bool
	}{
		{"new to resolved", domain.AnomalyNew, domain.AnomalyResolved, true},
		{"new to false positive", domain.AnomalyNew, domain.AnomalyFalsePositive, true},
		{"acknowledged to resolved", domain.AnomalyAcknowledged, domain.AnomalyResolved, true},
		{"acknowledged back to acknowledged", domain.AnomalyAcknowledged, domain.AnomalyAcknowledged, false},
		{"resolved is terminal", domain.AnomalyResolved, domain.AnomalyAcknowledged, false},
		{"false positive is terminal", domain.AnomalyFalsePositive, domain.AnomalyResolved, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStatusStore(tt.from)
			svc := NewStatusService(store)

			_, err := svc.Transition(context.Background(), "an-1", tt.to, "ops", "")
			if tt.wantOK {
				assert.NoError(t, err)
				return
			}
			var inv *InvalidTransitionError
			require.ErrorAs(t, err, &inv)
			assert.Equal(t, tt.from, inv.From)
			assert.Equal(t, 0, store.updates)
		})
	}
}

func TestTransitionUnknownID(t *testing.T) {
	svc := NewStatusService(newFakeStatusStore(domain.AnomalyNew))

	_, err := svc.Transition(context.Background(), "missing", domain.AnomalyResolved, "ops", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	svc := NewStatusService(newFakeStatusStore(domain.AnomalyNew))

	_, err := svc.Transition(context.Background(), "an-1", domain.AnomalyStatus("archived"), "ops", "")
	assert.Error(t, err)
}
