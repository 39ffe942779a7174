package alerts

import (
	"fmt"
	"sort"
	"sync"

	"github.com/diwise/integration-smartbed/domain"
)

const (
	HeartRateHigh      float64 = 120
	HeartRateLow       float64 = 50
	NeckAngleBad       float64 = 40
	NeckAngleModerate  float64 = 30
	SnoreLoud          float64 = 80
	SnoreModerate      float64 = 60
	SnoreHighFrequency float64 = 50
)

func HeartRate(m domain.HeartRateMetrics) []domain.Alert {
	switch {
	case m.Rate > HeartRateHigh:
		return []domain.Alert{warning("high_heart_rate", domain.HeartRate, "High heart rate detected: %.0f BPM", m.Rate)}
	case m.Rate > 0 && m.Rate < HeartRateLow:
		return []domain.Alert{warning("low_heart_rate", domain.HeartRate, "Low heart rate detected: %.0f BPM", m.Rate)}
	case m.Rate == 0:
		return []domain.Alert{{
			Type:     "no_signal",
			Channel:  domain.HeartRate,
			Message:  "No heart rate signal",
			Severity: domain.SeverityError,
		}}
	}
	return nil
}

func Posture(m domain.PostureMetrics) []domain.Alert {
	var alerts []domain.Alert

	if m.NeckAngle > NeckAngleBad {
		alerts = append(alerts, warning("bad_neck_posture", domain.Gyroscope, "Poor neck posture detected: %.1f° angle", m.NeckAngle))
	} else if m.NeckAngle > NeckAngleModerate {
		alerts = append(alerts, info("moderate_neck_strain", domain.Gyroscope, "Moderate neck strain: %.1f° angle", m.NeckAngle))
	}

	if m.PostureSeverity == "Bad" {
		alerts = append(alerts, warning("bad_posture", domain.Gyroscope, "Bad sleeping posture detected"))
	}

	return alerts
}

func Weight(m domain.WeightMetrics) []domain.Alert {
	if m.Stability == "Very Restless" {
		return []domain.Alert{warning("restless_sleep", domain.Weight, "Very restless sleep detected")}
	}
	return nil
}

func Snore(m domain.SnoreMetrics) []domain.Alert {
	if !m.IsSnoring {
		return nil
	}

	var alerts []domain.Alert

	if m.Level > SnoreLoud {
		alerts = append(alerts, warning("loud_snoring", domain.Snore, "Loud snoring detected: %.0f%% intensity", m.Level))
	} else if m.Level > SnoreModerate {
		alerts = append(alerts, info("moderate_snoring", domain.Snore, "Moderate snoring: %.0f%% intensity", m.Level))
	}

	if m.Frequency > SnoreHighFrequency {
		alerts = append(alerts, info("high_frequency_snoring", domain.Snore, "High frequency snoring: %.0fHz", m.Frequency))
	}

	return alerts
}

func Disconnected(channel domain.ChannelName) domain.Alert {
	return domain.Alert{
		Type:     "sensor_disconnected",
		Channel:  channel,
		Message:  fmt.Sprintf("%s sensor not connected", channel),
		Severity: domain.SeverityError,
	}
}

func warning(t string, channel domain.ChannelName, format string, args ...any) domain.Alert {
	return domain.Alert{Type: t, Channel: channel, Message: fmt.Sprintf(format, args...), Severity: domain.SeverityWarning}
}

func info(t string, channel domain.ChannelName, format string, args ...any) domain.Alert {
	return domain.Alert{Type: t, Channel: channel, Message: fmt.Sprintf(format, args...), Severity: domain.SeverityInfo}
}

// Board holds the alerts currently raised for every channel.
type Board struct {
	mu      sync.Mutex
	current map[domain.ChannelName][]domain.Alert
}

func NewBoard() *Board {
	return &Board{current: map[domain.ChannelName][]domain.Alert{}}
}

// Set replaces the alerts of a channel and returns those that were not raised
// before.
func (b *Board) Set(channel domain.ChannelName, alerts []domain.Alert) []domain.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	previous := map[string]bool{}
	for _, a := range b.current[channel] {
		previous[a.Type] = true
	}

	var raised []domain.Alert
	for _, a := range alerts {
		if !previous[a.Type] {
			raised = append(raised, a)
		}
	}

	if len(alerts) == 0 {
		delete(b.current, channel)
	} else {
		b.current[channel] = alerts
	}

	return raised
}

func (b *Board) Alerts() []domain.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	channels := make([]string, 0, len(b.current))
	for c := range b.current {
		channels = append(channels, string(c))
	}
	sort.Strings(channels)

	all := []domain.Alert{}
	for _, c := range channels {
		all = append(all, b.current[domain.ChannelName(c)]...)
	}
	return all
}
