package reactions

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/diwise/integration-smartbed/domain"
)

const (
	DefaultHeartRateThreshold  float64 = 100
	DefaultSnoreLevelThreshold float64 = 85
	DefaultAlarmMessage        string  = "Mag relapse kana!!! Wake up!"
)

type FanSwitch interface {
	Auto(ctx context.Context, on bool, speed int) error
}

type AlarmPlayer interface {
	Play(ctx context.Context, message string) error
}

type LegLifter interface {
	Elevate(ctx context.Context) error
	Lower(ctx context.Context) error
}

// decision remembers the last successfully dispatched outcome of a rule so that
// unchanged outcomes are not resent. A failed dispatch is not remembered.
type decision struct {
	mu    sync.Mutex
	known bool
	value bool
}

func (d *decision) apply(want bool, dispatch func() error) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.known && d.value == want {
		return false, nil
	}

	if err := dispatch(); err != nil {
		d.known = false
		return false, err
	}

	d.known, d.value = true, want
	return true, nil
}

// FanRule turns the fan on while the heart rate is above the threshold.
type FanRule struct {
	threshold float64
	fan       FanSwitch
	last      decision
}

func NewFanRule(threshold float64, fan FanSwitch) *FanRule {
	if threshold <= 0 {
		threshold = DefaultHeartRateThreshold
	}
	return &FanRule{threshold: threshold, fan: fan}
}

func (r *FanRule) Evaluate(ctx context.Context, m domain.HeartRateMetrics) (*domain.Reaction, error) {
	on := m.Rate > r.threshold
	speed := 0
	if on {
		speed = FanSpeed(m.Rate, r.threshold)
	}

	dispatched, err := r.last.apply(on, func() error {
		return r.fan.Auto(ctx, on, speed)
	})
	if err != nil || !dispatched {
		return nil, err
	}

	command := "off"
	if on {
		command = "on"
	}

	return &domain.Reaction{
		Rule:     "heart-rate-fan",
		Actuator: domain.Fan,
		Command:  command,
		Reason:   fmt.Sprintf("heart rate %.0f bpm, threshold %.0f bpm", m.Rate, r.threshold),
	}, nil
}

// FanSpeed scales with how far the rate exceeds the threshold.
func FanSpeed(rate, threshold float64) int {
	return int(math.Min(100, 40+(rate-threshold)*2))
}

// SnoreAlarm plays one alarm per snoring onset. It does not fire again until
// snoring has stopped and restarted.
type SnoreAlarm struct {
	message string
	player  AlarmPlayer

	mu      sync.Mutex
	snoring bool
}

func NewSnoreAlarm(message string, player AlarmPlayer) *SnoreAlarm {
	if message == "" {
		message = DefaultAlarmMessage
	}
	return &SnoreAlarm{message: message, player: player}
}

func (a *SnoreAlarm) Evaluate(ctx context.Context, snoring bool) (*domain.Reaction, error) {
	a.mu.Lock()
	rising := snoring && !a.snoring
	a.snoring = snoring
	a.mu.Unlock()

	if !rising {
		return nil, nil
	}

	reaction := &domain.Reaction{
		Rule:     "snore-alarm",
		Actuator: domain.Speaker,
		Command:  "play",
		Reason:   "snoring detected",
	}

	return reaction, a.player.Play(ctx, a.message)
}

// Reset forgets the last snoring state, so the next snoring reading fires again.
func (a *SnoreAlarm) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.snoring = false
}

// LegElevation raises the legs while sleeping with a snore level above the
// threshold and lowers them otherwise.
type LegElevation struct {
	threshold float64
	legs      LegLifter
	last      decision
}

func NewLegElevation(threshold float64, legs LegLifter) *LegElevation {
	if threshold <= 0 {
		threshold = DefaultSnoreLevelThreshold
	}
	return &LegElevation{threshold: threshold, legs: legs}
}

func (l *LegElevation) Evaluate(ctx context.Context, status string, level float64) (*domain.Reaction, error) {
	elevate := status == domain.StatusSleeping && level > l.threshold

	dispatched, err := l.last.apply(elevate, func() error {
		if elevate {
			return l.legs.Elevate(ctx)
		}
		return l.legs.Lower(ctx)
	})
	if err != nil || !dispatched {
		return nil, err
	}

	command := "lower"
	if elevate {
		command = "elevate"
	}

	return &domain.Reaction{
		Rule:     "snore-leg-elevation",
		Actuator: domain.Legs,
		Command:  command,
		Reason:   fmt.Sprintf("status %s, snore level %.0f", status, level),
	}, nil
}
