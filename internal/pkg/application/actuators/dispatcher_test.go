package actuators

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/diwise/integration-smartbed/domain"
	"github.com/matryer/is"
)

func TestThatRapidUpdatesAreDebouncedIntoOneCommand(t *testing.T) {
	is := is.New(t)

	w := &fakeWriter{}
	d := NewDispatcher(context.Background(), w)
	c := NewControllers(d, testDelays(30*time.Millisecond))

	for h := 10; h <= 50; h += 10 {
		is.NoErr(c.Legs.SetHeight(context.Background(), h))
	}

	v, _ := d.Desired(domain.Legs, ParamHeight)
	is.Equal(v, 50) // desired follows every input at once

	eventually(t, func() bool { return w.count() == 1 })
	time.Sleep(60 * time.Millisecond)

	cmds := w.sent()
	is.Equal(len(cmds), 1)
	is.Equal(cmds[0].actuator, domain.Legs)
	is.Equal(cmds[0].cmd.Parameters["height"], 50)

	s, _ := d.State(domain.Legs)
	is.True(!s.Pending)
	is.Equal(s.LastConfirmed[ParamHeight], 50)
}

func TestThatImmediateFailureRollsBackDesiredState(t *testing.T) {
	is := is.New(t)

	w := &fakeWriter{}
	d := NewDispatcher(context.Background(), w)
	c := NewControllers(d, DefaultDelays())

	before, _ := d.Desired(domain.Fan, ParamPower)

	w.fail(true)
	err := c.Fan.SetPower(context.Background(), true)
	is.True(errors.Is(err, domain.ErrCommandFailed))

	after, _ := d.Desired(domain.Fan, ParamPower)
	is.Equal(after, before)

	s, _ := d.State(domain.Fan)
	is.True(s.LastError != "")
	is.True(!s.Pending)
	is.Equal(len(s.LastConfirmed), 0)
}

func TestThatImmediateSuccessConfirmsState(t *testing.T) {
	is := is.New(t)

	w := &fakeWriter{}
	d := NewDispatcher(context.Background(), w)
	c := NewControllers(d, DefaultDelays())

	is.NoErr(c.LED.SetPower(context.Background(), true))

	s, _ := d.State(domain.LED)
	is.Equal(s.Desired[ParamPower], true)
	is.Equal(s.LastConfirmed[ParamPower], true)
	is.Equal(s.LastError, "")
	is.Equal(w.sent()[0].cmd.Type, "power")
	is.Equal(w.sent()[0].cmd.Parameters["enabled"], true)
}

func TestThatDebouncedFailureKeepsDesiredState(t *testing.T) {
	is := is.New(t)

	w := &fakeWriter{}
	w.fail(true)
	d := NewDispatcher(context.Background(), w)
	c := NewControllers(d, testDelays(10*time.Millisecond))

	is.NoErr(c.Speaker.SetVolume(context.Background(), 80))

	eventually(t, func() bool {
		s, _ := d.State(domain.Speaker)
		return s.LastError != ""
	})

	v, _ := d.Desired(domain.Speaker, ParamVolume)
	is.Equal(v, 80)
}

func TestThatPresetCancelsPendingDebouncedSend(t *testing.T) {
	is := is.New(t)

	w := &fakeWriter{}
	d := NewDispatcher(context.Background(), w)
	c := NewControllers(d, testDelays(40*time.Millisecond))
	ctx := context.Background()

	is.NoErr(c.LED.SetPower(ctx, true))
	is.NoErr(c.LED.SetColor(ctx, "#123456"))
	is.NoErr(c.LED.SetPresetColor(ctx, "Blue"))

	time.Sleep(100 * time.Millisecond)

	cmds := w.sent()
	is.Equal(len(cmds), 2) // power and the preset, the debounced color never goes out
	is.Equal(cmds[1].cmd.Parameters["color"], "#0000ff")

	v, _ := d.Desired(domain.LED, ParamColor)
	is.Equal(v, "#0000ff")
}

func TestThatPresetColorRequiresPower(t *testing.T) {
	is := is.New(t)

	d := NewDispatcher(context.Background(), &fakeWriter{})
	c := NewControllers(d, DefaultDelays())

	err := c.LED.SetPresetColor(context.Background(), "red")
	is.True(errors.Is(err, domain.ErrActuatorOff))

	err = c.LED.SetColor(context.Background(), "not a color")
	is.True(err != nil)
}

func TestThatParametersAreDebouncedIndependently(t *testing.T) {
	is := is.New(t)

	w := &fakeWriter{}
	d := NewDispatcher(context.Background(), w)
	c := NewControllers(d, testDelays(20*time.Millisecond))
	ctx := context.Background()

	is.NoErr(c.LED.SetBrightness(ctx, 10))
	is.NoErr(c.LED.SetColor(ctx, "#ff0000"))
	is.NoErr(c.LED.SetBrightness(ctx, 90))
	is.NoErr(c.Pillow.SetHeight(ctx, 30))

	eventually(t, func() bool { return w.count() == 3 })
	time.Sleep(50 * time.Millisecond)
	is.Equal(w.count(), 3)
}

func TestThatCloseCancelsScheduledSends(t *testing.T) {
	is := is.New(t)

	w := &fakeWriter{}
	d := NewDispatcher(context.Background(), w)
	c := NewControllers(d, testDelays(20*time.Millisecond))

	is.NoErr(c.Pillow.SetHeight(context.Background(), 70))
	d.Cancel(domain.Legs, ParamHeight) // nothing scheduled, must be a no-op
	d.Close()
	d.Close()

	time.Sleep(60 * time.Millisecond)
	is.Equal(w.count(), 0)
}

func TestThatChangesAreReported(t *testing.T) {
	is := is.New(t)

	var mu sync.Mutex
	changes := map[domain.ActuatorName]int{}

	d := NewDispatcher(context.Background(), &fakeWriter{}, OnChange(func(n domain.ActuatorName, s domain.ActuatorState) {
		mu.Lock()
		defer mu.Unlock()
		changes[n]++
	}))
	c := NewControllers(d, DefaultDelays())

	is.NoErr(c.Vibration.SetPower(context.Background(), true))

	mu.Lock()
	defer mu.Unlock()
	is.Equal(changes[domain.Vibration], 2) // optimistic update and acknowledgement
}

func testDelays(delay time.Duration) Delays {
	return Delays{
		Brightness: delay,
		Color:      delay,
		Volume:     delay,
		Pillow:     delay,
		Legs:       delay,
	}
}

type sentCommand struct {
	actuator domain.ActuatorName
	cmd      domain.Command
}

type fakeWriter struct {
	mu       sync.Mutex
	commands []sentCommand
	failing  bool
}

func (f *fakeWriter) Write(ctx context.Context, actuator domain.ActuatorName, requestID string, cmd domain.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failing {
		return errors.New("503 service unavailable")
	}

	f.commands = append(f.commands, sentCommand{actuator: actuator, cmd: cmd})
	return nil
}

func (f *fakeWriter) fail(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = b
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commands)
}

func (f *fakeWriter) sent() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentCommand, len(f.commands))
	copy(out, f.commands)
	return out
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
