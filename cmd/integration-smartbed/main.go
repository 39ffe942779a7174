package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/diwise/context-broker/pkg/ngsild/client"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/diwise/integration-smartbed/internal/pkg/application"
	"github.com/diwise/integration-smartbed/internal/pkg/application/fiware"
	"github.com/diwise/integration-smartbed/internal/pkg/application/lwm2m"
	"github.com/diwise/integration-smartbed/internal/pkg/infrastructure/hardware"
	"github.com/diwise/integration-smartbed/internal/pkg/infrastructure/mqtt"
	"github.com/diwise/integration-smartbed/internal/pkg/infrastructure/observability"
	"github.com/diwise/integration-smartbed/internal/pkg/infrastructure/router"
	"github.com/diwise/integration-smartbed/internal/pkg/infrastructure/simulator"
)

const serviceName string = "integration-smartbed"

func main() {
	serviceVersion := buildinfo.SourceVersion()

	ctx, logger, cleanup := o11y.Init(context.Background(), serviceName, serviceVersion)
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var hw application.Hardware
	if env.GetVariableOrDefault(logger, "SMARTBED_SIMULATE", "false") == "true" {
		logger.Warn().Msg("running against simulated hardware")
		hw = simulator.New(time.Now().UnixNano())
	} else {
		baseUrl := env.GetVariableOrDie(logger, "SMARTBED_BASEURL", "smart bed hardware base url")
		hw = hardware.New(baseUrl, duration(logger, "HARDWARE_TIMEOUT", "5s"))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cfg := loadConfig(logger)
	cfg.Metrics = observability.NewMetrics(reg, "smartbed")

	hub := router.NewHub(logger)
	sinks := []application.Sink{hub}

	exportInterval := duration(logger, "EXPORT_INTERVAL", "1m")
	bedID := env.GetVariableOrDefault(logger, "BED_ID", "bed-01")

	if broker := env.GetVariableOrDefault(logger, "MQTT_BROKER", ""); broker != "" {
		publisher, err := mqtt.Connect(ctx, mqtt.Config{
			Broker:      broker,
			ClientID:    env.GetVariableOrDefault(logger, "MQTT_CLIENT_ID", serviceName),
			Username:    env.GetVariableOrDefault(logger, "MQTT_USERNAME", ""),
			Password:    env.GetVariableOrDefault(logger, "MQTT_PASSWORD", ""),
			TopicPrefix: env.GetVariableOrDefault(logger, "MQTT_TOPIC_PREFIX", mqtt.DefaultTopicPrefix),
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}

	if contextBrokerUrl := env.GetVariableOrDefault(logger, "CONTEXT_BROKER_URL", ""); contextBrokerUrl != "" {
		contextBroker := client.NewContextBrokerClient(contextBrokerUrl)
		sinks = append(sinks, fiware.NewExporter(contextBroker, bedID, exportInterval))
	}

	if lwm2mUrl := env.GetVariableOrDefault(logger, "LWM2M_ENDPOINT", ""); lwm2mUrl != "" {
		sinks = append(sinks, lwm2m.NewExporter(lwm2mUrl, bedID, exportInterval, lwm2m.Send))
	}

	bed := application.New(ctx, cfg, hw, sinks...)
	bed.Start()

	r := router.SetupRouter(chi.NewRouter(), logger, bed, hub, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		port := env.GetVariableOrDefault(logger, "SERVICE_PORT", "8080")
		if err := r.Start(port); err != nil {
			logger.Error().Err(err).Msg("router stopped")
			stop()
		}
	}()

	<-ctx.Done()

	bed.Stop()
	hub.Close()

	logger.Info().Msg("shutting down")
}

func loadConfig(logger zerolog.Logger) application.Config {
	cfg := application.DefaultConfig()

	cfg.OccupancyThreshold = number(logger, "OCCUPANCY_THRESHOLD_KG", cfg.OccupancyThreshold)
	cfg.FanHeartRateThreshold = number(logger, "FAN_HEART_RATE_THRESHOLD", cfg.FanHeartRateThreshold)
	cfg.LegSnoreLevelThreshold = number(logger, "LEG_SNORE_LEVEL_THRESHOLD", cfg.LegSnoreLevelThreshold)
	cfg.AlarmMessage = env.GetVariableOrDefault(logger, "SNORE_ALARM_MESSAGE", cfg.AlarmMessage)

	cfg.Intervals.Weight = duration(logger, "WEIGHT_INTERVAL", cfg.Intervals.Weight.String())
	cfg.Intervals.HeartRate = duration(logger, "HEART_RATE_INTERVAL", cfg.Intervals.HeartRate.String())
	cfg.Intervals.Breathing = duration(logger, "BREATHING_INTERVAL", cfg.Intervals.Breathing.String())
	cfg.Intervals.Gyroscope = duration(logger, "GYROSCOPE_INTERVAL", cfg.Intervals.Gyroscope.String())
	cfg.Intervals.Snore = duration(logger, "SNORE_INTERVAL", cfg.Intervals.Snore.String())

	cfg.Delays.Brightness = duration(logger, "LED_BRIGHTNESS_DEBOUNCE", cfg.Delays.Brightness.String())
	cfg.Delays.Color = duration(logger, "LED_COLOR_DEBOUNCE", cfg.Delays.Color.String())
	cfg.Delays.Volume = duration(logger, "VOLUME_DEBOUNCE", cfg.Delays.Volume.String())
	cfg.Delays.Pillow = duration(logger, "PILLOW_DEBOUNCE", cfg.Delays.Pillow.String())
	cfg.Delays.Legs = duration(logger, "LEG_DEBOUNCE", cfg.Delays.Legs.String())

	return cfg
}

func duration(logger zerolog.Logger, name, defaultValue string) time.Duration {
	value := env.GetVariableOrDefault(logger, name, defaultValue)

	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Fatal().Err(err).Str("variable", name).Msg("invalid duration")
	}

	return d
}

func number(logger zerolog.Logger, name string, defaultValue float64) float64 {
	value := env.GetVariableOrDefault(logger, name, strconv.FormatFloat(defaultValue, 'f', -1, 64))

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logger.Fatal().Err(err).Str("variable", name).Msg("invalid number")
	}

	return f
}
