package occupancy

import (
	"context"
	"sync"

	"github.com/diwise/integration-smartbed/domain"
)

const DefaultThreshold float64 = 30

// Derive computes occupancy and sleep phase using the default weight threshold (kg).
func Derive(weight float64, sleepStatus string) domain.OccupancySleepState {
	return DeriveWithThreshold(weight, sleepStatus, DefaultThreshold)
}

func DeriveWithThreshold(weight float64, sleepStatus string, threshold float64) domain.OccupancySleepState {
	inBed := weight > threshold

	return domain.OccupancySleepState{
		IsInBed:    inBed,
		IsSleeping: inBed && sleepStatus == domain.StatusSleeping,
		IsAwake:    inBed && sleepStatus == domain.StatusAwake,
	}
}

type ChangeFunc func(ctx context.Context, state domain.OccupancySleepState)

// Tracker holds the latest weight and sleep status and notifies listeners when the
// derived state changes. Listeners are called in registration order while the
// tracker is locked, so they must not call back into the tracker.
type Tracker struct {
	mu          sync.Mutex
	threshold   float64
	weight      float64
	sleepStatus string
	state       domain.OccupancySleepState
	listeners   []ChangeFunc
}

func NewTracker(threshold float64) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Tracker{threshold: threshold}
}

func (t *Tracker) OnChange(fn ChangeFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.listeners = append(t.listeners, fn)
}

func (t *Tracker) State() domain.OccupancySleepState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

func (t *Tracker) UpdateWeight(ctx context.Context, weight float64) domain.OccupancySleepState {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.weight = weight
	if weight <= t.threshold {
		// the sleep feed is only sampled while someone is in bed
		t.sleepStatus = ""
	}

	return t.recompute(ctx)
}

// UpdateSleepStatus is ignored while the bed is empty.
func (t *Tracker) UpdateSleepStatus(ctx context.Context, status string) domain.OccupancySleepState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.weight <= t.threshold {
		return t.state
	}

	t.sleepStatus = status

	return t.recompute(ctx)
}

func (t *Tracker) recompute(ctx context.Context) domain.OccupancySleepState {
	next := DeriveWithThreshold(t.weight, t.sleepStatus, t.threshold)
	if next == t.state {
		return next
	}

	t.state = next
	for _, fn := range t.listeners {
		fn(ctx, next)
	}

	return next
}
