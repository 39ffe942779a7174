package channels

import (
	"context"
	"sync"
	"time"

	"github.com/diwise/integration-smartbed/domain"
	"github.com/diwise/integration-smartbed/internal/pkg/application/vitals"
	"github.com/diwise/integration-smartbed/internal/pkg/infrastructure/observability"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

// Source is the data-source strategy of a channel, one read per poll.
type Source[R any] interface {
	Read(ctx context.Context) (R, error)
}

type SourceFunc[R any] func(ctx context.Context) (R, error)

func (f SourceFunc[R]) Read(ctx context.Context) (R, error) {
	return f(ctx)
}

type Snapshot[M any] struct {
	Name        domain.ChannelName `json:"name"`
	Metrics     M                  `json:"metrics"`
	Active      bool               `json:"active"`
	Connected   bool               `json:"isConnected"`
	LastUpdated *time.Time         `json:"lastUpdated,omitempty"`
}

type Config[R, M any] struct {
	Name        domain.ChannelName
	Interval    time.Duration
	HistorySize int
	Source      Source[R]
	Initial     M
	// Derive turns a fresh reading, the previous metrics and the rolling history
	// into new metrics. It may push to the history.
	Derive func(reading R, prev M, history *vitals.History) M
	// Idle returns the "not monitored" metrics reported while gated off.
	Idle func(prev M) M
	// OnUpdate is called after every applied poll result, outside the channel lock.
	// Its ctx is cancelled as soon as the gate closes, callbacks check it before
	// acting on the snapshot.
	OnUpdate func(ctx context.Context, s Snapshot[M])
	Metrics  *observability.Metrics
}

// Channel polls its source on a fixed interval while its gate is open. Every gate
// opening starts a new generation; results from an older generation are discarded
// on arrival.
type Channel[R, M any] struct {
	cfg Config[R, M]
	ctx context.Context

	mu         sync.Mutex
	snapshot   Snapshot[M]
	history    *vitals.History
	generation uint64
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates an idle channel. Polling goroutines derive their context from ctx.
func New[R, M any](ctx context.Context, cfg Config[R, M]) *Channel[R, M] {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}

	return &Channel[R, M]{
		cfg:     cfg,
		ctx:     ctx,
		history: vitals.NewHistory(cfg.HistorySize),
		snapshot: Snapshot[M]{
			Name:    cfg.Name,
			Metrics: cfg.Initial,
		},
	}
}

func (c *Channel[R, M]) Name() domain.ChannelName {
	return c.cfg.Name
}

func (c *Channel[R, M]) Snapshot() Snapshot[M] {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshot
}

// SetGate opens or closes the channel. Opening triggers an immediate poll followed
// by periodic polls; closing cancels the schedule and reports idle metrics. It never
// blocks on an in-flight poll. The returned bool is false when nothing changed.
func (c *Channel[R, M]) SetGate(open bool) (Snapshot[M], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	active := c.cancel != nil
	if open == active {
		return c.snapshot, false
	}

	c.generation++
	log := logging.GetFromContext(c.ctx).With().Str("channel", string(c.cfg.Name)).Logger()

	if open {
		pollCtx, cancel := context.WithCancel(c.ctx)
		c.cancel = cancel
		c.snapshot.Active = true

		// every activation is a new session
		c.history.Reset()
		c.snapshot.Metrics = c.cfg.Initial

		c.wg.Add(1)
		go c.run(pollCtx, c.generation)

		log.Debug().Msg("channel activated")
	} else {
		c.cancel()
		c.cancel = nil
		c.snapshot.Active = false
		c.snapshot.Connected = false
		if c.cfg.Idle != nil {
			c.snapshot.Metrics = c.cfg.Idle(c.snapshot.Metrics)
		}

		log.Debug().Msg("channel idled")
	}

	c.cfg.Metrics.Active(string(c.cfg.Name), open)

	return c.snapshot, true
}

// Close cancels any pending schedule and waits for the polling goroutine to exit.
// It is safe to call more than once and on a channel that was never opened.
func (c *Channel[R, M]) Close() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
		c.generation++
		c.snapshot.Active = false
		c.snapshot.Connected = false
	}
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Channel[R, M]) run(ctx context.Context, generation uint64) {
	defer c.wg.Done()

	c.poll(ctx, generation)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll(ctx, generation)
		}
	}
}

func (c *Channel[R, M]) poll(ctx context.Context, generation uint64) {
	if ctx.Err() != nil {
		return
	}

	log := logging.GetFromContext(ctx).With().Str("channel", string(c.cfg.Name)).Logger()

	reading, err := c.cfg.Source.Read(ctx)

	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		log.Debug().Msg("discarding result for a closed gate")
		return
	}

	if err != nil {
		c.snapshot.Connected = false
	} else {
		c.snapshot.Metrics = c.cfg.Derive(reading, c.snapshot.Metrics, c.history)
		c.snapshot.Connected = true
		now := time.Now().UTC()
		c.snapshot.LastUpdated = &now
	}
	snapshot := c.snapshot
	c.mu.Unlock()

	c.cfg.Metrics.Poll(string(c.cfg.Name), err)

	if err != nil {
		log.Warn().Err(err).Msg("sensor read failed")
	}

	if c.cfg.OnUpdate != nil && ctx.Err() == nil {
		c.cfg.OnUpdate(ctx, snapshot)
	}
}

// History returns a copy of the rolling history.
func (c *Channel[R, M]) History() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.history.Values()
}
