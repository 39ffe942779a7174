package lwm2m

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/diwise/integration-smartbed/domain"
	"github.com/diwise/integration-smartbed/internal/pkg/application/channels"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/farshidtz/senml/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

var tlsSkipVerify bool

func init() {
	tlsSkipVerify = env.GetVariableOrDefault(zerolog.Logger{}, "TLS_SKIP_VERIFY", "0") == "1"
}

var tracer = otel.Tracer("integration-smartbed/lwm2m")

const (
	GenericSensorURN string = "urn:oma:lwm2m:ext:3300"
	LoadURN          string = "urn:oma:lwm2m:ext:3322"
)

// Exporter forwards heart rate, breathing rate and weight as SenML packs. Each
// channel is sent at most once per interval.
type Exporter struct {
	url      string
	bedID    string
	interval time.Duration
	sender   SenderFunc

	mu   sync.Mutex
	sent map[domain.ChannelName]time.Time
}

func NewExporter(url, bedID string, interval time.Duration, sender SenderFunc) *Exporter {
	if sender == nil {
		sender = Send
	}

	return &Exporter{
		url:      url,
		bedID:    bedID,
		interval: interval,
		sender:   sender,
		sent:     map[domain.ChannelName]time.Time{},
	}
}

func (e *Exporter) Name() string {
	return "lwm2m"
}

func (e *Exporter) Handle(ctx context.Context, ev domain.Event) error {
	if ev.Type != domain.EventSnapshot {
		return nil
	}

	var packs []senml.Pack
	var channel domain.ChannelName

	switch s := ev.Data.(type) {
	case channels.Snapshot[domain.HeartRateMetrics]:
		if !s.Active || !s.Connected || s.Metrics.Rate <= 0 {
			return nil
		}
		channel = s.Name
		packs = append(packs, newPack(GenericSensorURN, "5700", e.id(s.Name), s.Metrics.Rate, "beat/min", ev.Timestamp, ev.Timestamp))
	case channels.Snapshot[domain.BreathingMetrics]:
		if !s.Active || !s.Connected || s.Metrics.Rate <= 0 {
			return nil
		}
		channel = s.Name
		packs = append(packs, newPack(GenericSensorURN, "5700", e.id(s.Name), s.Metrics.Rate, "1/min", ev.Timestamp, ev.Timestamp))
	case channels.Snapshot[domain.WeightMetrics]:
		if !s.Connected {
			return nil
		}
		channel = s.Name
		packs = append(packs, newPack(LoadURN, "5700", e.id(s.Name), s.Metrics.Weight, "kg", ev.Timestamp, ev.Timestamp))
	default:
		return nil
	}

	if !e.due(channel, ev.Timestamp) {
		return nil
	}

	log := logging.GetFromContext(ctx).With().Str("channel", string(channel)).Logger()

	var errs []error

	for _, p := range packs {
		err := e.sender(ctx, e.url, p)
		if err != nil {
			log.Error().Err(err).Msg("could not send pack")
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		e.forget(channel)
	}

	return errors.Join(errs...)
}

func (e *Exporter) id(channel domain.ChannelName) string {
	return fmt.Sprintf("%s:%s", e.bedID, channel)
}

func (e *Exporter) due(channel domain.ChannelName, at time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.sent[channel]; ok && at.Sub(last) < e.interval {
		return false
	}

	e.sent[channel] = at
	return true
}

func (e *Exporter) forget(channel domain.ChannelName) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.sent, channel)
}

func newPack(baseName, name, id string, v float64, u string, bt, t time.Time) senml.Pack {
	p := senml.Pack{
		senml.Record{
			BaseName:    baseName,
			BaseTime:    float64(bt.Unix()),
			Name:        "0",
			StringValue: id,
		},
		newRec(name, v, u, t),
	}
	return p
}

func newRec(name string, v float64, u string, t time.Time) senml.Record {
	return senml.Record{
		Name:  name,
		Value: &v,
		Time:  float64(t.Unix()),
		Unit:  u,
	}
}

type SenderFunc = func(context.Context, string, senml.Pack) error

func Send(ctx context.Context, url string, pack senml.Pack) error {
	var err error

	ctx, span := tracer.Start(ctx, "send-object")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	var httpClient http.Client

	if tlsSkipVerify {
		customTransport := http.DefaultTransport.(*http.Transport).Clone()
		customTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		httpClient = http.Client{
			Transport: otelhttp.NewTransport(customTransport),
		}
	} else {
		httpClient = http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	b, err := json.Marshal(pack)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(b))
	if err != nil {
		return err
	}

	req.Header.Add("Content-Type", "application/senml+json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		err = fmt.Errorf("unexpected response code %d", resp.StatusCode)
	}

	return err
}
