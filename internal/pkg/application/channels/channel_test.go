package channels

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diwise/integration-smartbed/domain"
	"github.com/diwise/integration-smartbed/internal/pkg/application/vitals"
	"github.com/matryer/is"
)

func TestThatOpeningTheGatePollsImmediately(t *testing.T) {
	is := is.New(t)

	src := &fakeSource{rate: 72}
	c := newTestChannel(src, time.Hour, nil)
	defer c.Close()

	_, changed := c.SetGate(true)
	is.True(changed)

	eventually(t, func() bool { return c.Snapshot().Connected })

	s := c.Snapshot()
	is.True(s.Active)
	is.Equal(s.Metrics.Rate, 72.0)
	is.True(s.LastUpdated != nil)
	is.Equal(src.calls.Load(), int32(1))
}

func TestThatChannelPollsPeriodically(t *testing.T) {
	src := &fakeSource{rate: 60}
	c := newTestChannel(src, 10*time.Millisecond, nil)
	defer c.Close()

	c.SetGate(true)

	eventually(t, func() bool { return src.calls.Load() >= 4 })
}

func TestThatFailedReadKeepsMetricsAndFlipsConnected(t *testing.T) {
	is := is.New(t)

	src := &fakeSource{rate: 80}
	c := newTestChannel(src, 10*time.Millisecond, nil)
	defer c.Close()

	c.SetGate(true)
	eventually(t, func() bool { return c.Snapshot().Connected })

	src.fail.Store(true)
	eventually(t, func() bool { return !c.Snapshot().Connected })

	s := c.Snapshot()
	is.True(s.Active)
	is.Equal(s.Metrics.Rate, 80.0) // last known value is retained
	is.True(len(c.History()) > 0)  // history is not cleared
}

func TestThatClosingTheGateReportsNotMonitored(t *testing.T) {
	is := is.New(t)

	src := &fakeSource{rate: 80}
	c := newTestChannel(src, 10*time.Millisecond, nil)
	defer c.Close()

	c.SetGate(true)
	eventually(t, func() bool { return c.Snapshot().Connected })

	s, changed := c.SetGate(false)
	is.True(changed)
	is.True(!s.Active)
	is.True(!s.Connected)
	is.Equal(s.Metrics.Status, domain.StatusNotMonitored)

	_, changed = c.SetGate(false)
	is.True(!changed) // closing twice is a no-op

	calls := src.calls.Load()
	time.Sleep(50 * time.Millisecond)
	is.Equal(src.calls.Load(), calls) // no polls after the gate closed
}

func TestThatLateResultDoesNotResurrectAClosedChannel(t *testing.T) {
	is := is.New(t)

	src := &fakeSource{rate: 90, block: make(chan struct{}), ignoreCancel: true}
	updates := atomic.Int32{}
	c := newTestChannel(src, time.Hour, func(ctx context.Context, s Snapshot[domain.HeartRateMetrics]) {
		updates.Add(1)
	})

	c.SetGate(true)
	eventually(t, func() bool { return src.calls.Load() == 1 })

	c.SetGate(false)
	close(src.block)
	c.Close()

	s := c.Snapshot()
	is.True(!s.Active)
	is.True(!s.Connected)
	is.Equal(s.Metrics.Rate, 0.0)
	is.Equal(updates.Load(), int32(0)) // the in-flight result was discarded
	is.Equal(len(c.History()), 0)
}

func TestThatClosingTheGateCancelsARunningUpdate(t *testing.T) {
	is := is.New(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	cancelled := make(chan bool, 1)

	src := &fakeSource{rate: 90}
	c := newTestChannel(src, time.Hour, func(ctx context.Context, s Snapshot[domain.HeartRateMetrics]) {
		close(entered)
		<-release
		cancelled <- ctx.Err() != nil
	})
	defer c.Close()

	c.SetGate(true)
	<-entered

	_, changed := c.SetGate(false)
	is.True(changed)
	close(release)

	is.True(<-cancelled) // the callback sees that its gate has closed
}

func TestThatReopeningTheGateStartsAFreshHistory(t *testing.T) {
	is := is.New(t)

	src := &fakeSource{rate: 120}
	c := newTestChannel(src, 10*time.Millisecond, nil)
	defer c.Close()

	c.SetGate(true)
	eventually(t, func() bool { return len(c.History()) >= 3 })
	c.SetGate(false)

	src.mu.Lock()
	src.rate = 60
	src.mu.Unlock()

	c.SetGate(true)
	eventually(t, func() bool { return c.Snapshot().Connected })
	snapshot := c.Snapshot()
	c.SetGate(false)

	for _, v := range c.History() {
		is.Equal(v, 60.0) // nothing from the previous session
	}
	is.Equal(snapshot.Metrics.Max, 60.0)
}

func TestThatCloseIsIdempotent(t *testing.T) {
	c := newTestChannel(&fakeSource{}, time.Hour, nil)
	c.Close()
	c.Close()

	c.SetGate(true)
	c.Close()
	c.Close()
}

func newTestChannel(src Source[domain.HeartRateReading], interval time.Duration, onUpdate func(context.Context, Snapshot[domain.HeartRateMetrics])) *Channel[domain.HeartRateReading, domain.HeartRateMetrics] {
	return New(context.Background(), Config[domain.HeartRateReading, domain.HeartRateMetrics]{
		Name:     domain.HeartRate,
		Interval: interval,
		Source:   src,
		Derive:   vitals.HeartRate,
		Idle:     vitals.IdleHeartRate,
		OnUpdate: onUpdate,
	})
}

type fakeSource struct {
	mu           sync.Mutex
	rate         float64
	fail         atomic.Bool
	calls        atomic.Int32
	block        chan struct{}
	ignoreCancel bool
}

func (f *fakeSource) Read(ctx context.Context) (domain.HeartRateReading, error) {
	f.calls.Add(1)

	if f.block != nil {
		if f.ignoreCancel {
			<-f.block
		} else {
			select {
			case <-f.block:
			case <-ctx.Done():
				return domain.HeartRateReading{}, ctx.Err()
			}
		}
	}

	if f.fail.Load() {
		return domain.HeartRateReading{}, errors.New("connection refused")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.HeartRateReading{Rate: f.rate}, nil
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
