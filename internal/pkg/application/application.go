package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/diwise/integration-smartbed/domain"
	"github.com/diwise/integration-smartbed/internal/pkg/application/actuators"
	"github.com/diwise/integration-smartbed/internal/pkg/application/alerts"
	"github.com/diwise/integration-smartbed/internal/pkg/application/channels"
	"github.com/diwise/integration-smartbed/internal/pkg/application/occupancy"
	"github.com/diwise/integration-smartbed/internal/pkg/application/reactions"
	"github.com/diwise/integration-smartbed/internal/pkg/application/vitals"
	"github.com/diwise/integration-smartbed/internal/pkg/infrastructure/observability"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/rs/zerolog"
)

// Hardware is the boundary to the bed. Reads return the latest sample of a
// sensor and Write delivers one actuator command.
type Hardware interface {
	ReadWeight(ctx context.Context) (domain.WeightReading, error)
	ReadHeartRate(ctx context.Context) (domain.HeartRateReading, error)
	ReadBreathing(ctx context.Context) (domain.BreathingReading, error)
	ReadGyroscope(ctx context.Context) (domain.GyroscopeReading, error)
	ReadSnore(ctx context.Context) (domain.SnoreReading, error)

	actuators.CommandWriter
}

type SmartBed interface {
	Start()
	Stop()

	Occupancy() domain.OccupancySleepState
	Weight() channels.Snapshot[domain.WeightMetrics]
	HeartRate() channels.Snapshot[domain.HeartRateMetrics]
	Breathing() channels.Snapshot[domain.BreathingMetrics]
	Posture() channels.Snapshot[domain.PostureMetrics]
	Snore() channels.Snapshot[domain.SnoreMetrics]
	Channel(name domain.ChannelName) (any, error)
	Actuators() map[domain.ActuatorName]domain.ActuatorState
	Actuator(name domain.ActuatorName) (domain.ActuatorState, error)
	Alerts() []domain.Alert
	Snapshot() State

	Fan() *actuators.Fan
	Vibration() *actuators.Vibration
	Pillow() *actuators.Pillow
	Legs() *actuators.Legs
	LED() *actuators.LED
	Speaker() *actuators.Speaker

	Control(ctx context.Context, name domain.ActuatorName, command string, req ControlRequest) error
}

type Intervals struct {
	Weight    time.Duration
	HeartRate time.Duration
	Breathing time.Duration
	Gyroscope time.Duration
	Snore     time.Duration
}

type Config struct {
	OccupancyThreshold     float64
	Intervals              Intervals
	HistorySize            int
	Delays                 actuators.Delays
	CommandTimeout         time.Duration
	FanHeartRateThreshold  float64
	LegSnoreLevelThreshold float64
	AlarmMessage           string
	EventQueueSize         int
	Metrics                *observability.Metrics
}

func DefaultConfig() Config {
	return Config{
		OccupancyThreshold: occupancy.DefaultThreshold,
		Intervals: Intervals{
			Weight:    5 * time.Second,
			HeartRate: 2 * time.Second,
			Breathing: 2 * time.Second,
			Gyroscope: 500 * time.Millisecond,
			Snore:     3 * time.Second,
		},
		HistorySize:            vitals.DefaultHistorySize,
		Delays:                 actuators.DefaultDelays(),
		CommandTimeout:         actuators.DefaultCommandTimeout,
		FanHeartRateThreshold:  reactions.DefaultHeartRateThreshold,
		LegSnoreLevelThreshold: reactions.DefaultSnoreLevelThreshold,
		AlarmMessage:           reactions.DefaultAlarmMessage,
		EventQueueSize:         DefaultEventQueueSize,
	}
}

// State is everything the bed currently knows, in one document.
type State struct {
	Occupancy domain.OccupancySleepState                   `json:"occupancy"`
	Weight    channels.Snapshot[domain.WeightMetrics]      `json:"weight"`
	HeartRate channels.Snapshot[domain.HeartRateMetrics]   `json:"heartRate"`
	Breathing channels.Snapshot[domain.BreathingMetrics]   `json:"breathing"`
	Posture   channels.Snapshot[domain.PostureMetrics]     `json:"posture"`
	Snore     channels.Snapshot[domain.SnoreMetrics]       `json:"snore"`
	Actuators map[domain.ActuatorName]domain.ActuatorState `json:"actuators"`
	Alerts    []domain.Alert                               `json:"alerts"`
}

type smartBed struct {
	cancel context.CancelFunc
	cfg    Config
	log    zerolog.Logger

	tracker    *occupancy.Tracker
	dispatcher *actuators.Dispatcher
	controls   actuators.Controllers
	board      *alerts.Board
	events     *bus

	weight    *channels.Channel[domain.WeightReading, domain.WeightMetrics]
	heartRate *channels.Channel[domain.HeartRateReading, domain.HeartRateMetrics]
	breathing *channels.Channel[domain.BreathingReading, domain.BreathingMetrics]
	gyroscope *channels.Channel[domain.GyroscopeReading, domain.PostureMetrics]
	snore     *channels.Channel[domain.SnoreReading, domain.SnoreMetrics]

	fanRule *reactions.FanRule
	alarm   *reactions.SnoreAlarm
	legRule *reactions.LegElevation

	// gateMu orders what channel callbacks publish against gates closing
	gateMu   sync.Mutex
	stopOnce sync.Once
}

func New(ctx context.Context, cfg Config, hw Hardware, sinks ...Sink) SmartBed {
	ctx, cancel := context.WithCancel(ctx)

	b := &smartBed{
		cancel:  cancel,
		cfg:     cfg,
		log:     logging.GetFromContext(ctx),
		tracker: occupancy.NewTracker(cfg.OccupancyThreshold),
		board:   alerts.NewBoard(),
		events:  newBus(ctx, cfg.EventQueueSize, cfg.Metrics, sinks...),
	}

	b.dispatcher = actuators.NewDispatcher(ctx, hw,
		actuators.WithMetrics(cfg.Metrics),
		actuators.WithCommandTimeout(cfg.CommandTimeout),
		actuators.OnChange(b.actuatorChanged),
	)
	b.controls = actuators.NewControllers(b.dispatcher, cfg.Delays)

	b.fanRule = reactions.NewFanRule(cfg.FanHeartRateThreshold, b.controls.Fan)
	b.alarm = reactions.NewSnoreAlarm(cfg.AlarmMessage, b.controls.Speaker)
	b.legRule = reactions.NewLegElevation(cfg.LegSnoreLevelThreshold, b.controls.Legs)

	b.weight = channels.New(ctx, channels.Config[domain.WeightReading, domain.WeightMetrics]{
		Name:        domain.Weight,
		Interval:    cfg.Intervals.Weight,
		HistorySize: cfg.HistorySize,
		Source:      channels.SourceFunc[domain.WeightReading](hw.ReadWeight),
		Initial:     domain.WeightMetrics{Stability: "Unknown"},
		Derive:      vitals.Weight,
		OnUpdate:    b.weightUpdated,
		Metrics:     cfg.Metrics,
	})

	b.heartRate = channels.New(ctx, channels.Config[domain.HeartRateReading, domain.HeartRateMetrics]{
		Name:        domain.HeartRate,
		Interval:    cfg.Intervals.HeartRate,
		HistorySize: cfg.HistorySize,
		Source:      channels.SourceFunc[domain.HeartRateReading](hw.ReadHeartRate),
		Initial:     vitals.IdleHeartRate(domain.HeartRateMetrics{}),
		Derive:      vitals.HeartRate,
		Idle:        vitals.IdleHeartRate,
		OnUpdate:    b.heartRateUpdated,
		Metrics:     cfg.Metrics,
	})

	b.breathing = channels.New(ctx, channels.Config[domain.BreathingReading, domain.BreathingMetrics]{
		Name:        domain.Breathing,
		Interval:    cfg.Intervals.Breathing,
		HistorySize: cfg.HistorySize,
		Source:      channels.SourceFunc[domain.BreathingReading](hw.ReadBreathing),
		Initial:     vitals.IdleBreathing(domain.BreathingMetrics{}),
		Derive:      vitals.Breathing,
		Idle:        vitals.IdleBreathing,
		OnUpdate:    b.breathingUpdated,
		Metrics:     cfg.Metrics,
	})

	b.gyroscope = channels.New(ctx, channels.Config[domain.GyroscopeReading, domain.PostureMetrics]{
		Name:        domain.Gyroscope,
		Interval:    cfg.Intervals.Gyroscope,
		HistorySize: cfg.HistorySize,
		Source:      channels.SourceFunc[domain.GyroscopeReading](hw.ReadGyroscope),
		Initial:     vitals.IdlePosture(domain.PostureMetrics{}),
		Derive:      vitals.Posture,
		Idle:        vitals.IdlePosture,
		OnUpdate:    b.postureUpdated,
		Metrics:     cfg.Metrics,
	})

	b.snore = channels.New(ctx, channels.Config[domain.SnoreReading, domain.SnoreMetrics]{
		Name:        domain.Snore,
		Interval:    cfg.Intervals.Snore,
		HistorySize: cfg.HistorySize,
		Source:      channels.SourceFunc[domain.SnoreReading](hw.ReadSnore),
		Initial:     vitals.IdleSnore(domain.SnoreMetrics{}),
		Derive:      vitals.Snore,
		Idle:        vitals.IdleSnore,
		OnUpdate:    b.snoreUpdated,
		Metrics:     cfg.Metrics,
	})

	b.tracker.OnChange(b.occupancyChanged)

	return b
}

// Start opens the weight channel. Every other channel follows occupancy.
func (b *smartBed) Start() {
	if _, changed := b.weight.SetGate(true); changed {
		b.log.Info().Msg("smart bed started")
	}
}

// Stop closes every channel, cancels scheduled actuator sends and drains the
// event sinks. It is safe to call more than once.
func (b *smartBed) Stop() {
	b.stopOnce.Do(func() {
		b.weight.Close()
		b.heartRate.Close()
		b.breathing.Close()
		b.gyroscope.Close()
		b.snore.Close()

		b.dispatcher.Close()
		b.events.close()
		b.cancel()

		b.log.Info().Msg("smart bed stopped")
	})
}

func (b *smartBed) occupancyChanged(ctx context.Context, s domain.OccupancySleepState) {
	// the tracker is locked while listeners run, gates never block
	if !s.IsSleeping {
		b.alarm.Reset()
	}

	gate(b, b.heartRate, s.IsInBed)
	gate(b, b.breathing, s.IsInBed)
	gate(b, b.gyroscope, s.IsInBed)
	gate(b, b.snore, s.IsInBed)

	b.log.Info().
		Bool("in_bed", s.IsInBed).
		Bool("sleeping", s.IsSleeping).
		Bool("awake", s.IsAwake).
		Msg("occupancy changed")

	b.events.publish(domain.NewEvent(domain.EventOccupancy, "bed", s))
}

func gate[R, M any](b *smartBed, ch *channels.Channel[R, M], open bool) {
	b.gateMu.Lock()
	defer b.gateMu.Unlock()

	s, changed := ch.SetGate(open)
	if !changed || open {
		return
	}

	b.board.Set(ch.Name(), nil)
	b.events.publish(domain.NewEvent(domain.EventSnapshot, string(ch.Name()), s))
}

func (b *smartBed) weightUpdated(ctx context.Context, s channels.Snapshot[domain.WeightMetrics]) {
	if !b.settle(ctx, s.Name, s, s.Active, s.Connected, alerts.Weight(s.Metrics)) {
		return
	}

	if s.Connected {
		b.tracker.UpdateWeight(ctx, s.Metrics.Weight)
	}
}

func (b *smartBed) heartRateUpdated(ctx context.Context, s channels.Snapshot[domain.HeartRateMetrics]) {
	if !b.settle(ctx, s.Name, s, s.Active, s.Connected, alerts.HeartRate(s.Metrics)) {
		return
	}

	if !s.Active || !s.Connected || ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.CommandTimeout)
	defer cancel()

	r, err := b.fanRule.Evaluate(ctx, s.Metrics)
	b.reacted(r, err)
}

func (b *smartBed) breathingUpdated(ctx context.Context, s channels.Snapshot[domain.BreathingMetrics]) {
	b.settle(ctx, s.Name, s, s.Active, s.Connected, nil)
}

func (b *smartBed) postureUpdated(ctx context.Context, s channels.Snapshot[domain.PostureMetrics]) {
	b.settle(ctx, s.Name, s, s.Active, s.Connected, alerts.Posture(s.Metrics))
}

func (b *smartBed) snoreUpdated(ctx context.Context, s channels.Snapshot[domain.SnoreMetrics]) {
	if !b.settle(ctx, s.Name, s, s.Active, s.Connected, alerts.Snore(s.Metrics)) {
		return
	}

	if !s.Active || !s.Connected || ctx.Err() != nil {
		return
	}

	state := b.tracker.UpdateSleepStatus(ctx, s.Metrics.Status)
	if ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.CommandTimeout)
	defer cancel()

	r, err := b.alarm.Evaluate(ctx, s.Metrics.IsSnoring && state.IsSleeping)
	b.reacted(r, err)

	r, err = b.legRule.Evaluate(ctx, s.Metrics.Status, s.Metrics.Level)
	b.reacted(r, err)
}

func (b *smartBed) reacted(r *domain.Reaction, err error) {
	if err != nil {
		b.log.Error().Err(err).Msg("reaction failed")
	}

	if r == nil {
		return
	}

	b.cfg.Metrics.Reaction(r.Rule)

	b.log.Info().
		Str("rule", r.Rule).
		Str("actuator", string(r.Actuator)).
		Str("command", r.Command).
		Msg(r.Reason)

	b.events.publish(domain.NewEvent(domain.EventReaction, r.Rule, r))
}

// settle publishes a channel snapshot and its alerts unless the gate of the
// channel closed since the poll. The poll context is cancelled when that happens.
func (b *smartBed) settle(ctx context.Context, channel domain.ChannelName, s any, active, connected bool, evaluated []domain.Alert) bool {
	b.gateMu.Lock()
	defer b.gateMu.Unlock()

	if ctx.Err() != nil {
		return false
	}

	b.publishSnapshot(channel, s)
	b.raise(channel, active, connected, evaluated)

	return true
}

// raise must be called with b.gateMu held.
func (b *smartBed) raise(channel domain.ChannelName, active, connected bool, evaluated []domain.Alert) {
	var current []domain.Alert

	switch {
	case !active:
		current = nil
	case !connected:
		current = []domain.Alert{alerts.Disconnected(channel)}
	default:
		current = evaluated
	}

	for _, a := range b.board.Set(channel, current) {
		b.events.publish(domain.NewEvent(domain.EventAlert, string(channel), a))
	}
}

func (b *smartBed) publishSnapshot(channel domain.ChannelName, s any) {
	b.events.publish(domain.NewEvent(domain.EventSnapshot, string(channel), s))
}

func (b *smartBed) actuatorChanged(name domain.ActuatorName, s domain.ActuatorState) {
	b.events.publish(domain.NewEvent(domain.EventActuator, string(name), s))
}

func (b *smartBed) Occupancy() domain.OccupancySleepState {
	return b.tracker.State()
}

func (b *smartBed) Weight() channels.Snapshot[domain.WeightMetrics] {
	return b.weight.Snapshot()
}

func (b *smartBed) HeartRate() channels.Snapshot[domain.HeartRateMetrics] {
	return b.heartRate.Snapshot()
}

func (b *smartBed) Breathing() channels.Snapshot[domain.BreathingMetrics] {
	return b.breathing.Snapshot()
}

func (b *smartBed) Posture() channels.Snapshot[domain.PostureMetrics] {
	return b.gyroscope.Snapshot()
}

func (b *smartBed) Snore() channels.Snapshot[domain.SnoreMetrics] {
	return b.snore.Snapshot()
}

func (b *smartBed) Channel(name domain.ChannelName) (any, error) {
	switch name {
	case domain.Weight:
		return b.Weight(), nil
	case domain.HeartRate:
		return b.HeartRate(), nil
	case domain.Breathing:
		return b.Breathing(), nil
	case domain.Gyroscope:
		return b.Posture(), nil
	case domain.Snore:
		return b.Snore(), nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownChannel, name)
}

func (b *smartBed) Actuators() map[domain.ActuatorName]domain.ActuatorState {
	return b.dispatcher.States()
}

func (b *smartBed) Actuator(name domain.ActuatorName) (domain.ActuatorState, error) {
	return b.dispatcher.State(name)
}

func (b *smartBed) Alerts() []domain.Alert {
	return b.board.Alerts()
}

func (b *smartBed) Snapshot() State {
	return State{
		Occupancy: b.Occupancy(),
		Weight:    b.Weight(),
		HeartRate: b.HeartRate(),
		Breathing: b.Breathing(),
		Posture:   b.Posture(),
		Snore:     b.Snore(),
		Actuators: b.Actuators(),
		Alerts:    b.Alerts(),
	}
}

func (b *smartBed) Fan() *actuators.Fan {
	return b.controls.Fan
}

func (b *smartBed) Vibration() *actuators.Vibration {
	return b.controls.Vibration
}

func (b *smartBed) Pillow() *actuators.Pillow {
	return b.controls.Pillow
}

func (b *smartBed) Legs() *actuators.Legs {
	return b.controls.Legs
}

func (b *smartBed) LED() *actuators.LED {
	return b.controls.LED
}

func (b *smartBed) Speaker() *actuators.Speaker {
	return b.controls.Speaker
}
