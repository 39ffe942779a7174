package fiware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/diwise/context-broker/pkg/ngsild/client"
	ngsierrors "github.com/diwise/context-broker/pkg/ngsild/errors"
	"github.com/diwise/context-broker/pkg/ngsild/types"
	"github.com/diwise/context-broker/pkg/ngsild/types/entities"
	. "github.com/diwise/context-broker/pkg/ngsild/types/entities/decorators"
	"github.com/diwise/context-broker/pkg/ngsild/types/properties"
	"github.com/diwise/integration-smartbed/domain"
	"github.com/diwise/integration-smartbed/internal/pkg/application/channels"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("integration-smartbed/fiware")

const (
	DeviceIDPrefix string = "urn:ngsi-ld:Device:"
	DeviceTypeName string = "Device"
)

// BedState is the latest known state of the bed as exported to the context broker.
type BedState struct {
	Occupancy  domain.OccupancySleepState
	HeartRate  float64
	Breathing  float64
	Weight     float64
	SnoreLevel float64
	Position   string
	ObservedAt time.Time
}

// Exporter keeps one Device entity per bed up to date. Occupancy changes are sent
// at once, everything else at most once per interval.
type Exporter struct {
	cbClient client.ContextBrokerClient
	bedID    string
	interval time.Duration

	mu       sync.Mutex
	state    BedState
	lastSent time.Time
}

func NewExporter(cbClient client.ContextBrokerClient, bedID string, interval time.Duration) *Exporter {
	return &Exporter{
		cbClient: cbClient,
		bedID:    bedID,
		interval: interval,
	}
}

func (e *Exporter) Name() string {
	return "fiware"
}

func (e *Exporter) Handle(ctx context.Context, ev domain.Event) error {
	state, ok := e.apply(ev)
	if !ok {
		return nil
	}

	return CreateOrUpdateDevice(ctx, e.cbClient, e.bedID, state)
}

// apply folds an event into the cached state and reports whether the entity
// should be sent now.
func (e *Exporter) apply(ev domain.Event) (BedState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	force := false

	switch data := ev.Data.(type) {
	case domain.OccupancySleepState:
		force = data != e.state.Occupancy
		e.state.Occupancy = data
	case channels.Snapshot[domain.HeartRateMetrics]:
		e.state.HeartRate = data.Metrics.Rate
	case channels.Snapshot[domain.BreathingMetrics]:
		e.state.Breathing = data.Metrics.Rate
	case channels.Snapshot[domain.WeightMetrics]:
		e.state.Weight = data.Metrics.Weight
	case channels.Snapshot[domain.PostureMetrics]:
		e.state.Position = data.Metrics.Position
	case channels.Snapshot[domain.SnoreMetrics]:
		e.state.SnoreLevel = data.Metrics.Level
	default:
		return BedState{}, false
	}

	e.state.ObservedAt = ev.Timestamp

	if !force && !e.lastSent.IsZero() && ev.Timestamp.Sub(e.lastSent) < e.interval {
		return BedState{}, false
	}

	e.lastSent = ev.Timestamp
	return e.state, true
}

func CreateOrUpdateDevice(ctx context.Context, cbClient client.ContextBrokerClient, bedID string, state BedState) error {
	var err error

	ctx, span := tracer.Start(ctx, "create-or-update-bed")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	_, ctx, logger := o11y.AddTraceIDToLoggerAndStoreInContext(span, logging.GetFromContext(ctx), ctx)

	headers := map[string][]string{"Content-Type": {"application/ld+json"}}

	decorators := Decorators(state)

	var fragment types.EntityFragment
	fragment, err = entities.NewFragment(decorators...)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create entity fragments")
		return err
	}

	entityID := DeviceIDPrefix + bedID

	_, err = cbClient.MergeEntity(ctx, entityID, fragment, headers)
	if err == nil {
		logger.Debug().Msgf("updated entity %s", entityID)
		return nil
	}

	if !errors.Is(err, ngsierrors.ErrNotFound) {
		logger.Error().Err(err).Msg("failed to merge entity")
		return err
	}

	var entity types.Entity
	entity, err = entities.New(entityID, DeviceTypeName, decorators...)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create new entity")
		return err
	}

	_, err = cbClient.CreateEntity(ctx, entity, headers)
	if err != nil {
		logger.Error().Err(err).Msg("failed to post entity to context broker")
		return err
	}

	logger.Info().Msgf("created entity %s", entityID)

	return nil
}

func Decorators(state BedState) []entities.EntityDecoratorFunc {
	observedAt := state.ObservedAt.UTC().Format(time.RFC3339)

	occupancy := "unoccupied"
	if state.Occupancy.IsInBed {
		occupancy = "occupied"
	}

	decorators := []entities.EntityDecoratorFunc{
		entities.DefaultContext(),
		Text("occupancy", occupancy),
		Text("sleepStatus", sleepStatus(state)),
		DateTime(properties.DateObserved, observedAt),
		Number("weight", state.Weight, properties.UnitCode("KGM"), properties.ObservedAt(observedAt)),
	}

	if state.Occupancy.IsInBed {
		decorators = append(decorators,
			Number("heartRate", state.HeartRate, properties.UnitCode("C94"), properties.ObservedAt(observedAt)),
			Number("respiratoryRate", state.Breathing, properties.UnitCode("C94"), properties.ObservedAt(observedAt)),
			Number("snoreLevel", state.SnoreLevel, properties.UnitCode("P1"), properties.ObservedAt(observedAt)),
		)
		if state.Position != "" {
			decorators = append(decorators, Text("sleepPosition", state.Position))
		}
	}

	return decorators
}

func sleepStatus(state BedState) string {
	switch {
	case state.Occupancy.IsSleeping:
		return domain.StatusSleeping
	case state.Occupancy.IsAwake:
		return domain.StatusAwake
	default:
		return domain.StatusNotMonitored
	}
}
