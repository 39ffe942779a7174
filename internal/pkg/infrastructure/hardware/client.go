package hardware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/diwise/integration-smartbed/domain"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("integration-smartbed/hardware")

const DefaultTimeout = 5 * time.Second

var sensorPaths = map[domain.ChannelName]string{
	domain.Weight:    "/api/weight-data",
	domain.HeartRate: "/api/heart-rate",
	domain.Breathing: "/api/breathing-data",
	domain.Gyroscope: "/api/gyroscope-data",
	domain.Snore:     "/api/snore-data",
}

var actuatorPaths = map[domain.ActuatorName]string{
	domain.Fan:       "/api/control/fan",
	domain.Vibration: "/api/control/vibration",
	domain.Pillow:    "/api/control/pillow",
	domain.Legs:      "/api/control/legs",
	domain.LED:       "/api/led-control",
	domain.Speaker:   "/api/control/speaker",
}

// Client talks to the bed hardware service over HTTP. Reads decode the latest
// sensor sample and writes post one actuator command.
type Client interface {
	ReadWeight(ctx context.Context) (domain.WeightReading, error)
	ReadHeartRate(ctx context.Context) (domain.HeartRateReading, error)
	ReadBreathing(ctx context.Context) (domain.BreathingReading, error)
	ReadGyroscope(ctx context.Context) (domain.GyroscopeReading, error)
	ReadSnore(ctx context.Context) (domain.SnoreReading, error)

	Write(ctx context.Context, actuator domain.ActuatorName, requestID string, cmd domain.Command) error
}

type client struct {
	http *resty.Client
}

func New(baseUrl string, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := resty.New().
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetBaseURL(baseUrl).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &client{http: c}
}

func (c *client) ReadWeight(ctx context.Context) (domain.WeightReading, error) {
	r := domain.WeightReading{}
	return r, c.read(ctx, domain.Weight, &r)
}

func (c *client) ReadHeartRate(ctx context.Context) (domain.HeartRateReading, error) {
	r := domain.HeartRateReading{}
	return r, c.read(ctx, domain.HeartRate, &r)
}

func (c *client) ReadBreathing(ctx context.Context) (domain.BreathingReading, error) {
	r := domain.BreathingReading{}
	return r, c.read(ctx, domain.Breathing, &r)
}

func (c *client) ReadGyroscope(ctx context.Context) (domain.GyroscopeReading, error) {
	r := domain.GyroscopeReading{}
	return r, c.read(ctx, domain.Gyroscope, &r)
}

func (c *client) ReadSnore(ctx context.Context) (domain.SnoreReading, error) {
	r := domain.SnoreReading{}
	return r, c.read(ctx, domain.Snore, &r)
}

func (c *client) read(ctx context.Context, channel domain.ChannelName, result any) error {
	var err error

	ctx, span := tracer.Start(ctx, "read-"+string(channel))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	var resp *resty.Response
	resp, err = c.http.R().
		SetContext(ctx).
		SetResult(result).
		ForceContentType("application/json").
		Get(sensorPaths[channel])
	if err != nil {
		err = fmt.Errorf("%w: %s: %s", domain.ErrFetchFailed, channel, err.Error())
		return err
	}

	if resp.StatusCode() != http.StatusOK {
		err = fmt.Errorf("%w: %s: expected status code %d, got %d", domain.ErrFetchFailed, channel, http.StatusOK, resp.StatusCode())
		return err
	}

	return nil
}

func (c *client) Write(ctx context.Context, actuator domain.ActuatorName, requestID string, cmd domain.Command) error {
	var err error

	ctx, span := tracer.Start(ctx, "write-"+string(actuator))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	path, ok := actuatorPaths[actuator]
	if !ok {
		err = fmt.Errorf("%w: %s", domain.ErrUnknownActuator, actuator)
		return err
	}

	var resp *resty.Response
	resp, err = c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Request-ID", requestID).
		SetBody(cmd).
		Post(path)
	if err != nil {
		err = fmt.Errorf("request failed: %s", err.Error())
		return err
	}

	if resp.IsError() {
		err = fmt.Errorf("request failed, expected a successful status code but got %d", resp.StatusCode())
		return err
	}

	return nil
}
