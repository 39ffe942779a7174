// Package observability provides Prometheus metrics for the coordinator.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is nil safe, a nil *Metrics records nothing.
type Metrics struct {
	SensorPolls      *prometheus.CounterVec
	ChannelActive    *prometheus.GaugeVec
	ChannelConnected *prometheus.GaugeVec
	Commands         *prometheus.CounterVec
	Reactions        *prometheus.CounterVec
	DroppedEvents    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "smartbed"
	}

	f := promauto.With(reg)

	return &Metrics{
		SensorPolls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_polls_total",
			Help:      "Sensor reads per channel and result",
		}, []string{"channel", "result"}),
		ChannelActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_active",
			Help:      "1 while a channel is polling",
		}, []string{"channel"}),
		ChannelConnected: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_connected",
			Help:      "1 while the last read of a channel succeeded",
		}, []string{"channel"}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuator_commands_total",
			Help:      "Commands sent to actuators per parameter and result",
		}, []string{"actuator", "parameter", "result"}),
		Reactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reactions_total",
			Help:      "Reaction rule dispatches",
		}, []string{"rule"}),
		DroppedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Events dropped because a sink queue was full",
		}, []string{"sink"}),
	}
}

func (m *Metrics) Poll(channel string, err error) {
	if m == nil {
		return
	}
	m.SensorPolls.WithLabelValues(channel, result(err)).Inc()
	m.ChannelConnected.WithLabelValues(channel).Set(boolToFloat(err == nil))
}

func (m *Metrics) Active(channel string, active bool) {
	if m == nil {
		return
	}
	m.ChannelActive.WithLabelValues(channel).Set(boolToFloat(active))
	if !active {
		m.ChannelConnected.WithLabelValues(channel).Set(0)
	}
}

func (m *Metrics) Command(actuator, parameter string, err error) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(actuator, parameter, result(err)).Inc()
}

func (m *Metrics) Reaction(rule string) {
	if m == nil {
		return
	}
	m.Reactions.WithLabelValues(rule).Inc()
}

func (m *Metrics) Dropped(sink string) {
	if m == nil {
		return
	}
	m.DroppedEvents.WithLabelValues(sink).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
