package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/diwise/integration-smartbed/domain"
	"github.com/diwise/integration-smartbed/internal/pkg/application/actuators"
	"github.com/matryer/is"
)

func TestThatOccupancyOpensGatedChannels(t *testing.T) {
	is := is.New(t)

	hw := newFakeHardware()
	hw.setWeight(75)
	hw.setSnore(domain.SnoreReading{Status: domain.StatusSleeping})

	bed := newTestBed(hw)
	defer bed.Stop()

	is.True(!bed.HeartRate().Active)

	bed.Start()

	eventually(t, func() bool { return bed.Occupancy().IsInBed })
	eventually(t, func() bool { return bed.HeartRate().Active && bed.HeartRate().Connected })
	eventually(t, func() bool { return bed.Occupancy().IsSleeping })

	is.True(!bed.Occupancy().IsAwake)
	is.True(bed.Posture().Active)
	is.True(bed.Breathing().Active)
}

func TestThatLeavingTheBedIdlesChannels(t *testing.T) {
	is := is.New(t)

	hw := newFakeHardware()
	hw.setWeight(75)
	hw.setSnore(domain.SnoreReading{Status: domain.StatusSleeping})

	bed := newTestBed(hw)
	defer bed.Stop()
	bed.Start()

	eventually(t, func() bool { return bed.Occupancy().IsSleeping })

	hw.setWeight(10)

	eventually(t, func() bool { return !bed.Occupancy().IsInBed })

	hr := bed.HeartRate()
	is.True(!hr.Active)
	is.True(!hr.Connected)
	is.Equal(hr.Metrics.Status, domain.StatusNotMonitored)
	is.Equal(bed.Snore().Metrics.Status, domain.StatusNotMonitored)
	is.Equal(bed.Occupancy(), domain.OccupancySleepState{})
}

func TestThatHighHeartRateTurnsTheFanOn(t *testing.T) {
	is := is.New(t)

	hw := newFakeHardware()
	hw.setWeight(75)
	hw.setHeartRate(110)

	bed := newTestBed(hw)
	defer bed.Stop()
	bed.Start()

	eventually(t, func() bool { return bed.Fan().IsOn() })

	cmd, ok := hw.last(domain.Fan)
	is.True(ok)
	is.Equal(cmd.Parameters["state"], true)
	is.Equal(cmd.Parameters["speed"], 60)
	is.Equal(cmd.Parameters["auto_mode"], true)

	hw.setHeartRate(90)

	eventually(t, func() bool { return !bed.Fan().IsOn() })

	cmd, _ = hw.last(domain.Fan)
	is.Equal(cmd.Parameters["state"], false)
}

func TestThatLoudSnoringWhileSleepingElevatesTheLegs(t *testing.T) {
	is := is.New(t)

	level := 90.0
	hw := newFakeHardware()
	hw.setWeight(75)
	hw.setSnore(domain.SnoreReading{Status: domain.StatusSleeping, Level: &level, IsDetected: true})

	bed := newTestBed(hw)
	defer bed.Stop()
	bed.Start()

	eventually(t, func() bool {
		cmd, ok := hw.last(domain.Legs)
		return ok && cmd.Parameters["height"] == actuators.ElevatedHeight
	})

	quiet := 60.0
	hw.setSnore(domain.SnoreReading{Status: domain.StatusSleeping, Level: &quiet})

	eventually(t, func() bool {
		cmd, ok := hw.last(domain.Legs)
		return ok && cmd.Parameters["height"] == actuators.LoweredHeight
	})

	is.Equal(hw.count(domain.Speaker), 1) // one alarm for one snoring onset
}

func TestThatSnoringWhileAwakeDoesNotSoundTheAlarm(t *testing.T) {
	is := is.New(t)

	hw := newFakeHardware()
	hw.setWeight(75)
	hw.setSnore(domain.SnoreReading{Status: domain.StatusAwake, IsDetected: true})

	bed := newTestBed(hw)
	defer bed.Stop()
	bed.Start()

	eventually(t, func() bool { return bed.Occupancy().IsAwake && bed.Snore().Metrics.IsSnoring })
	time.Sleep(50 * time.Millisecond)

	is.Equal(hw.count(domain.Speaker), 0) // awake snoring must not wake anyone

	hw.setSnore(domain.SnoreReading{Status: domain.StatusSleeping, IsDetected: true})

	eventually(t, func() bool { return hw.count(domain.Speaker) == 1 })
	cmd, _ := hw.last(domain.Speaker)
	is.Equal(cmd.Type, "play")
}

func TestThatEventsReachSinks(t *testing.T) {
	is := is.New(t)

	hw := newFakeHardware()
	hw.setWeight(75)

	sink := &fakeSink{}
	bed := New(context.Background(), testConfig(), hw, sink)
	bed.Start()

	eventually(t, func() bool { return sink.has(domain.EventOccupancy) })
	eventually(t, func() bool { return sink.has(domain.EventSnapshot) })

	bed.Stop()
	bed.Stop()

	is.True(!bed.Weight().Active)
}

func TestThatFailingSensorsRaiseAlerts(t *testing.T) {
	is := is.New(t)

	hw := newFakeHardware()
	hw.setWeight(75)
	hw.fail(domain.Gyroscope)

	bed := newTestBed(hw)
	defer bed.Stop()
	bed.Start()

	eventually(t, func() bool {
		for _, a := range bed.Alerts() {
			if a.Type == "sensor_disconnected" && a.Channel == domain.Gyroscope {
				return true
			}
		}
		return false
	})

	is.True(bed.Posture().Active)
	is.True(!bed.Posture().Connected)
}

func TestThatUpdatesForAClosedGateAreDiscarded(t *testing.T) {
	is := is.New(t)

	sink := &fakeSink{}
	bed := New(context.Background(), testConfig(), newFakeHardware(), sink).(*smartBed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stale := domain.Alert{Type: "high_heart_rate", Channel: domain.HeartRate}
	is.True(!bed.settle(ctx, domain.HeartRate, nil, true, true, []domain.Alert{stale}))

	bed.Stop()

	is.Equal(len(bed.Alerts()), 0)
	is.True(!sink.has(domain.EventAlert))
	is.True(!sink.has(domain.EventSnapshot))
}

func TestControl(t *testing.T) {
	is := is.New(t)

	hw := newFakeHardware()
	bed := newTestBed(hw)
	defer bed.Stop()
	ctx := context.Background()

	on := true
	is.NoErr(bed.Control(ctx, domain.Vibration, "power", ControlRequest{State: &on}))
	s, _ := bed.Actuator(domain.Vibration)
	is.Equal(s.LastConfirmed["power"], true)

	is.NoErr(bed.Control(ctx, domain.Legs, "elevate", ControlRequest{}))
	cmd, _ := hw.last(domain.Legs)
	is.Equal(cmd.Parameters["height"], actuators.ElevatedHeight)

	err := bed.Control(ctx, domain.Fan, "power", ControlRequest{})
	is.True(errors.Is(err, domain.ErrInvalidRequest))

	err = bed.Control(ctx, domain.Fan, "dance", ControlRequest{})
	is.True(errors.Is(err, domain.ErrUnknownCommand))

	err = bed.Control(ctx, domain.ActuatorName("blanket"), "power", ControlRequest{State: &on})
	is.True(errors.Is(err, domain.ErrUnknownActuator))

	_, err = bed.Channel(domain.ChannelName("temperature"))
	is.True(errors.Is(err, domain.ErrUnknownChannel))
}

func newTestBed(hw Hardware) SmartBed {
	return New(context.Background(), testConfig(), hw)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Intervals = Intervals{
		Weight:    10 * time.Millisecond,
		HeartRate: 10 * time.Millisecond,
		Breathing: 10 * time.Millisecond,
		Gyroscope: 10 * time.Millisecond,
		Snore:     10 * time.Millisecond,
	}
	cfg.Delays = actuators.Delays{
		Brightness: 10 * time.Millisecond,
		Color:      10 * time.Millisecond,
		Volume:     10 * time.Millisecond,
		Pillow:     10 * time.Millisecond,
		Legs:       10 * time.Millisecond,
	}
	return cfg
}

type fakeHardware struct {
	mu        sync.Mutex
	weight    float64
	heartRate float64
	snore     domain.SnoreReading
	failing   map[domain.ChannelName]bool
	commands  map[domain.ActuatorName][]domain.Command
}

func newFakeHardware() *fakeHardware {
	return &fakeHardware{
		heartRate: 70,
		snore:     domain.SnoreReading{Status: domain.StatusAwake},
		failing:   map[domain.ChannelName]bool{},
		commands:  map[domain.ActuatorName][]domain.Command{},
	}
}

func (f *fakeHardware) setWeight(w float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weight = w
}

func (f *fakeHardware) setHeartRate(r float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartRate = r
}

func (f *fakeHardware) setSnore(s domain.SnoreReading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snore = s
}

func (f *fakeHardware) fail(channel domain.ChannelName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[channel] = true
}

func (f *fakeHardware) err(channel domain.ChannelName) error {
	if f.failing[channel] {
		return domain.ErrFetchFailed
	}
	return nil
}

func (f *fakeHardware) ReadWeight(ctx context.Context) (domain.WeightReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.WeightReading{Weight: f.weight}, f.err(domain.Weight)
}

func (f *fakeHardware) ReadHeartRate(ctx context.Context) (domain.HeartRateReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.HeartRateReading{Rate: f.heartRate}, f.err(domain.HeartRate)
}

func (f *fakeHardware) ReadBreathing(ctx context.Context) (domain.BreathingReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.BreathingReading{Rate: 14, Rhythm: "Normal"}, f.err(domain.Breathing)
}

func (f *fakeHardware) ReadGyroscope(ctx context.Context) (domain.GyroscopeReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.GyroscopeReading{Pitch: 10, Roll: 5}, f.err(domain.Gyroscope)
}

func (f *fakeHardware) ReadSnore(ctx context.Context) (domain.SnoreReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snore, f.err(domain.Snore)
}

func (f *fakeHardware) Write(ctx context.Context, actuator domain.ActuatorName, requestID string, cmd domain.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands[actuator] = append(f.commands[actuator], cmd)
	return nil
}

func (f *fakeHardware) last(actuator domain.ActuatorName) (domain.Command, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmds := f.commands[actuator]
	if len(cmds) == 0 {
		return domain.Command{}, false
	}
	return cmds[len(cmds)-1], true
}

func (f *fakeHardware) count(actuator domain.ActuatorName) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commands[actuator])
}

type fakeSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *fakeSink) Name() string {
	return "fake"
}

func (s *fakeSink) Handle(ctx context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *fakeSink) has(t domain.EventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Type == t {
			return true
		}
	}
	return false
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
