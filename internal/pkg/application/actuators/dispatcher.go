package actuators

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/diwise/integration-smartbed/domain"
	"github.com/diwise/integration-smartbed/internal/pkg/infrastructure/observability"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/google/uuid"
)

const DefaultCommandTimeout = 5 * time.Second

// CommandWriter is the write side of the hardware boundary.
type CommandWriter interface {
	Write(ctx context.Context, actuator domain.ActuatorName, requestID string, cmd domain.Command) error
}

// Strategy decides how an update reaches the hardware. A zero Debounce sends
// synchronously; otherwise only the last update within the window is sent.
type Strategy struct {
	RollbackOnFailure bool
	Debounce          time.Duration
}

var (
	Immediate = Strategy{RollbackOnFailure: true}
	Preset    = Strategy{}
)

func Debounced(delay time.Duration) Strategy {
	return Strategy{Debounce: delay}
}

// Update changes one parameter of an actuator. Value becomes the desired state of
// the parameter and Command is what the hardware receives.
type Update struct {
	Parameter string
	Value     any
	Command   domain.Command
}

type ChangeFunc func(actuator domain.ActuatorName, state domain.ActuatorState)

type Option func(*Dispatcher)

func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithCommandTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

func OnChange(fn ChangeFunc) Option {
	return func(d *Dispatcher) {
		d.onChange = fn
	}
}

type parameter struct {
	desired   any
	confirmed any
	hasValue  bool
	pending   bool
	timer     *time.Timer
	seq       uint64
}

type actuator struct {
	params    map[string]*parameter
	lastError error
}

// Dispatcher owns the state of every actuator and the debounce timer of every
// continuously adjustable parameter.
type Dispatcher struct {
	ctx      context.Context
	writer   CommandWriter
	metrics  *observability.Metrics
	timeout  time.Duration
	onChange ChangeFunc

	mu        sync.Mutex
	actuators map[domain.ActuatorName]*actuator
	closed    bool
}

// NewDispatcher creates a dispatcher. Debounced sends run in ctx.
func NewDispatcher(ctx context.Context, writer CommandWriter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ctx:       ctx,
		writer:    writer,
		timeout:   DefaultCommandTimeout,
		actuators: map[domain.ActuatorName]*actuator{},
	}

	for _, n := range domain.ActuatorNames() {
		d.actuators[n] = &actuator{params: map[string]*parameter{}}
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Init sets the initial desired state of a parameter without sending anything.
func (d *Dispatcher) Init(name domain.ActuatorName, param string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.parameter(name, param)
	p.desired = value
	p.hasValue = true
}

func (d *Dispatcher) Dispatch(ctx context.Context, name domain.ActuatorName, u Update, s Strategy) error {
	if _, ok := d.actuators[name]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownActuator, name)
	}

	if s.Debounce > 0 {
		d.debounce(name, u, s.Debounce)
		return nil
	}

	return d.send(ctx, name, u, s.RollbackOnFailure)
}

func (d *Dispatcher) send(ctx context.Context, name domain.ActuatorName, u Update, rollback bool) error {
	d.mu.Lock()
	p := d.parameter(name, u.Parameter)
	previous, hadValue := p.desired, p.hasValue

	d.cancelTimer(p)
	seq := p.seq
	p.desired = u.Value
	p.hasValue = true
	p.pending = true
	d.mu.Unlock()

	d.changed(name)

	err := d.write(ctx, name, u)

	d.mu.Lock()
	if p.seq == seq {
		p.pending = false
	}
	if err != nil {
		d.actuators[name].lastError = err
		if rollback && reflect.DeepEqual(p.desired, u.Value) {
			p.desired, p.hasValue = previous, hadValue
		}
	} else {
		d.actuators[name].lastError = nil
		p.confirmed = u.Value
	}
	d.mu.Unlock()

	d.changed(name)

	return err
}

func (d *Dispatcher) debounce(name domain.ActuatorName, u Update, delay time.Duration) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}

	p := d.parameter(name, u.Parameter)
	d.cancelTimer(p)
	p.desired = u.Value
	p.hasValue = true
	p.pending = true

	seq := p.seq
	p.timer = time.AfterFunc(delay, func() {
		d.fire(name, u, seq)
	})
	d.mu.Unlock()

	d.changed(name)
}

func (d *Dispatcher) fire(name domain.ActuatorName, u Update, seq uint64) {
	d.mu.Lock()
	p := d.parameter(name, u.Parameter)
	if p.seq != seq || d.closed {
		// replaced or cancelled after the timer had already fired
		d.mu.Unlock()
		return
	}
	p.timer = nil
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	err := d.write(ctx, name, u)

	d.mu.Lock()
	if p.seq == seq {
		p.pending = false
	}
	if err != nil {
		// debounced failures keep the optimistic value
		d.actuators[name].lastError = err
	} else {
		d.actuators[name].lastError = nil
		p.confirmed = u.Value
	}
	d.mu.Unlock()

	d.changed(name)
}

func (d *Dispatcher) write(ctx context.Context, name domain.ActuatorName, u Update) error {
	requestID := uuid.NewString()
	log := logging.GetFromContext(ctx).With().
		Str("actuator", string(name)).
		Str("parameter", u.Parameter).
		Str("request_id", requestID).
		Logger()

	err := d.writer.Write(ctx, name, requestID, u.Command)
	d.metrics.Command(string(name), u.Parameter, err)

	if err != nil {
		log.Error().Err(err).Msg("failed to send command")
		return fmt.Errorf("%w: %s %s: %s", domain.ErrCommandFailed, name, u.Command.Type, err.Error())
	}

	log.Debug().Str("type", u.Command.Type).Msg("command acknowledged")

	return nil
}

// Cancel drops any scheduled send for a parameter. Safe when nothing is scheduled.
func (d *Dispatcher) Cancel(name domain.ActuatorName, param string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.parameter(name, param)
	if d.cancelTimer(p) {
		p.pending = false
	}
}

// Close cancels every scheduled send. Later debounced updates are ignored.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	for _, a := range d.actuators {
		for _, p := range a.params {
			if d.cancelTimer(p) {
				p.pending = false
			}
		}
	}
}

func (d *Dispatcher) State(name domain.ActuatorName) (domain.ActuatorState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.actuators[name]
	if !ok {
		return domain.ActuatorState{}, fmt.Errorf("%w: %s", domain.ErrUnknownActuator, name)
	}

	return a.state(), nil
}

func (d *Dispatcher) States() map[domain.ActuatorName]domain.ActuatorState {
	d.mu.Lock()
	defer d.mu.Unlock()

	states := make(map[domain.ActuatorName]domain.ActuatorState, len(d.actuators))
	for n, a := range d.actuators {
		states[n] = a.state()
	}
	return states
}

// Desired returns the optimistic value of a single parameter.
func (d *Dispatcher) Desired(name domain.ActuatorName, param string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.actuators[name]
	if !ok {
		return nil, false
	}
	p, ok := a.params[param]
	if !ok || !p.hasValue {
		return nil, false
	}
	return p.desired, true
}

func (a *actuator) state() domain.ActuatorState {
	s := domain.ActuatorState{
		Desired:       map[string]any{},
		LastConfirmed: map[string]any{},
	}

	for name, p := range a.params {
		if p.hasValue {
			s.Desired[name] = p.desired
		}
		if p.confirmed != nil {
			s.LastConfirmed[name] = p.confirmed
		}
		s.Pending = s.Pending || p.pending
	}

	if a.lastError != nil {
		s.LastError = a.lastError.Error()
	}

	return s
}

func (d *Dispatcher) changed(name domain.ActuatorName) {
	if d.onChange == nil {
		return
	}

	s, err := d.State(name)
	if err == nil {
		d.onChange(name, s)
	}
}

// parameter must be called with d.mu held.
func (d *Dispatcher) parameter(name domain.ActuatorName, param string) *parameter {
	a := d.actuators[name]
	p, ok := a.params[param]
	if !ok {
		p = &parameter{}
		a.params[param] = p
	}
	return p
}

// cancelTimer must be called with d.mu held. Bumping seq invalidates a timer
// that already fired but has not yet taken the lock.
func (d *Dispatcher) cancelTimer(p *parameter) bool {
	p.seq++
	if p.timer == nil {
		return false
	}
	p.timer.Stop()
	p.timer = nil
	return true
}
