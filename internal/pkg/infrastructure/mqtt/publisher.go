package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/diwise/integration-smartbed/domain"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const DefaultTopicPrefix string = "smartbed"

const publishTimeout = 5 * time.Second

type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Publisher forwards occupancy, alert, reaction and actuator events to a broker.
// Channel snapshots stay local.
type Publisher struct {
	client mqtt.Client
	prefix string
}

func Connect(ctx context.Context, cfg Config) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	log := logging.GetFromContext(ctx)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("lost connection to mqtt broker")
	})

	client := mqtt.NewClient(opts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.Info().Str("broker", cfg.Broker).Msg("connected to mqtt broker")

	return NewPublisher(client, cfg.TopicPrefix), nil
}

func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &Publisher{client: client, prefix: strings.TrimSuffix(prefix, "/")}
}

func (p *Publisher) Name() string {
	return "mqtt"
}

func (p *Publisher) Handle(ctx context.Context, e domain.Event) error {
	switch e.Type {
	case domain.EventOccupancy, domain.EventAlert, domain.EventReaction, domain.EventActuator:
	default:
		return nil
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := Topic(p.prefix, e)

	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to topic %s", topic)
	}

	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// Topic is <prefix>/<event type>/<source>.
func Topic(prefix string, e domain.Event) string {
	return fmt.Sprintf("%s/%s/%s", prefix, e.Type, e.Source)
}
