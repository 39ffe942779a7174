package application

import (
	"context"
	"sync"

	"github.com/diwise/integration-smartbed/domain"
	"github.com/diwise/integration-smartbed/internal/pkg/infrastructure/observability"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

const DefaultEventQueueSize int = 64

// Sink receives every event published by the bed. Handle is called from a
// goroutine owned by the sink, one event at a time.
type Sink interface {
	Name() string
	Handle(ctx context.Context, e domain.Event) error
}

type worker struct {
	sink  Sink
	queue chan domain.Event
}

// bus fans events out to the sinks. A slow sink only ever fills its own queue;
// events that do not fit are dropped.
type bus struct {
	ctx     context.Context
	metrics *observability.Metrics

	mu      sync.RWMutex
	workers []*worker
	closed  bool
	wg      sync.WaitGroup
}

func newBus(ctx context.Context, size int, metrics *observability.Metrics, sinks ...Sink) *bus {
	if size <= 0 {
		size = DefaultEventQueueSize
	}

	b := &bus{ctx: ctx, metrics: metrics}

	for _, s := range sinks {
		w := &worker{sink: s, queue: make(chan domain.Event, size)}
		b.workers = append(b.workers, w)

		b.wg.Add(1)
		go b.run(w)
	}

	return b
}

func (b *bus) run(w *worker) {
	defer b.wg.Done()

	log := logging.GetFromContext(b.ctx).With().Str("sink", w.sink.Name()).Logger()

	for e := range w.queue {
		if err := w.sink.Handle(b.ctx, e); err != nil {
			log.Warn().Err(err).Str("event", string(e.Type)).Msg("sink failed to handle event")
		}
	}
}

func (b *bus) publish(e domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, w := range b.workers {
		select {
		case w.queue <- e:
		default:
			b.metrics.Dropped(w.sink.Name())
			log := logging.GetFromContext(b.ctx)
			log.Warn().Str("sink", w.sink.Name()).Str("event", string(e.Type)).Msg("event queue full, dropping event")
		}
	}
}

// close stops accepting events and waits for the sinks to drain their queues.
func (b *bus) close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for _, w := range b.workers {
			close(w.queue)
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
}
