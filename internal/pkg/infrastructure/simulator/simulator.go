package simulator

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/diwise/integration-smartbed/domain"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

// Simulator produces plausible sensor readings and accepts every actuator
// command. Occupancy and sleep are sticky and only flip occasionally so that
// gated channels get time to run.
type Simulator struct {
	mu       sync.Mutex
	rnd      *rand.Rand
	occupied bool
	sleeping bool
	apnea    int
	commands map[domain.ActuatorName]domain.Command
}

func New(seed int64) *Simulator {
	return &Simulator{
		rnd:      rand.New(rand.NewSource(seed)),
		occupied: true,
		commands: map[domain.ActuatorName]domain.Command{},
	}
}

func (s *Simulator) ReadWeight(ctx context.Context) (domain.WeightReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rnd.Float64() > 0.95 {
		s.occupied = !s.occupied
		s.sleeping = false
	}

	if !s.occupied {
		return domain.WeightReading{Weight: 0}, nil
	}

	movement := math.Round(s.rnd.Float64()*20*10) / 10

	return domain.WeightReading{
		Weight:   float64(75 + s.rnd.Intn(20)),
		Movement: &movement,
	}, nil
}

func (s *Simulator) ReadHeartRate(ctx context.Context) (domain.HeartRateReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.HeartRateReading{
		Rate: math.Floor(65 + s.rnd.Float64()*20 - 5),
	}, nil
}

func (s *Simulator) ReadBreathing(ctx context.Context) (domain.BreathingReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate := math.Round(14 + s.rnd.Float64()*8 - 4)

	rhythm := "Normal"
	switch {
	case rate < 10:
		rhythm = "Shallow"
	case rate > 20:
		rhythm = "Deep"
	case s.rnd.Float64() > 0.9:
		rhythm = "Irregular"
	}

	if s.rnd.Float64() > 0.95 {
		s.apnea++
	}

	return domain.BreathingReading{Rate: rate, Rhythm: rhythm, ApneaEvents: s.apnea}, nil
}

func (s *Simulator) ReadGyroscope(ctx context.Context) (domain.GyroscopeReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.GyroscopeReading{
		Pitch: math.Round((s.rnd.Float64()*60-30)*10) / 10,
		Roll:  math.Round((s.rnd.Float64()*60-30)*10) / 10,
	}, nil
}

func (s *Simulator) ReadSnore(ctx context.Context) (domain.SnoreReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rnd.Float64() > 0.8 {
		s.sleeping = !s.sleeping
	}

	status := domain.StatusAwake
	if s.sleeping {
		status = domain.StatusSleeping
	}

	detected := s.sleeping && s.rnd.Float64() > 0.7
	if !detected {
		return domain.SnoreReading{Status: status, Duration: "0s"}, nil
	}

	return domain.SnoreReading{
		Status:       status,
		IsDetected:   true,
		Intensity:    float64(40 + s.rnd.Intn(60)),
		Frequency:    float64(20 + s.rnd.Intn(50)),
		Duration:     (time.Duration(1+s.rnd.Intn(30)) * time.Second).String(),
		LastDetected: time.Now().Format("15:04:05"),
	}, nil
}

func (s *Simulator) Write(ctx context.Context, actuator domain.ActuatorName, requestID string, cmd domain.Command) error {
	s.mu.Lock()
	s.commands[actuator] = cmd
	s.mu.Unlock()

	log := logging.GetFromContext(ctx)
	log.Info().
		Str("actuator", string(actuator)).
		Str("request_id", requestID).
		Str("type", cmd.Type).
		Msg("simulated command accepted")

	return nil
}

// LastCommand returns the most recent command written to an actuator.
func (s *Simulator) LastCommand(actuator domain.ActuatorName) (domain.Command, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.commands[actuator]
	return c, ok
}
