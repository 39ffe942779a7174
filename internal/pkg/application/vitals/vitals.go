package vitals

import (
	"math"

	"github.com/diwise/integration-smartbed/domain"
)

const (
	HeartRateLow  float64 = 50
	HeartRateHigh float64 = 100
)

// HeartRate merges a reading with the rolling history. The rate is appended to
// the history first, so min and max collapse to the reading itself when the
// history was empty. Values supplied by the source win over derived ones.
func HeartRate(r domain.HeartRateReading, prev domain.HeartRateMetrics, h *History) domain.HeartRateMetrics {
	if r.Rate > 0 {
		h.Push(r.Rate)
	}

	m := domain.HeartRateMetrics{
		Rate:        r.Rate,
		Status:      r.Status,
		Min:         valueOr(r.Min, math.Min(h.Min(), r.Rate)),
		Max:         valueOr(r.Max, math.Max(h.Max(), r.Rate)),
		Average:     valueOr(r.Average, math.Round(h.Mean())),
		Variability: valueOr(r.Variability, math.Round(h.Variability())),
	}

	if m.Status == "" {
		m.Status = HeartRateStatus(r.Rate)
	}

	return m
}

func HeartRateStatus(rate float64) string {
	switch {
	case rate < HeartRateLow:
		return "Low"
	case rate > HeartRateHigh:
		return "High"
	default:
		return "Normal"
	}
}

func IdleHeartRate(prev domain.HeartRateMetrics) domain.HeartRateMetrics {
	prev.Rate = 0
	prev.Status = domain.StatusNotMonitored
	return prev
}

func Posture(r domain.GyroscopeReading, prev domain.PostureMetrics, h *History) domain.PostureMetrics {
	m := domain.PostureMetrics{
		Pitch:           r.Pitch,
		Roll:            r.Roll,
		NeckAngle:       valueOr(r.NeckAngle, math.Abs(r.Pitch)),
		Position:        r.Position,
		PostureSeverity: r.PostureSeverity,
	}

	if m.Position == "" {
		m.Position = SleepPosition(r.Roll)
	}
	if m.PostureSeverity == "" {
		m.PostureSeverity = PostureSeverity(m.NeckAngle)
	}

	return m
}

func SleepPosition(roll float64) string {
	switch {
	case roll > 30:
		return "Right Side"
	case roll < -30:
		return "Left Side"
	default:
		return "Back"
	}
}

func PostureSeverity(neckAngle float64) string {
	switch {
	case neckAngle < 15:
		return "Good"
	case neckAngle < 30:
		return "Poor"
	default:
		return "Bad"
	}
}

func IdlePosture(prev domain.PostureMetrics) domain.PostureMetrics {
	prev.Position = "Not in bed"
	return prev
}

func Breathing(r domain.BreathingReading, prev domain.BreathingMetrics, h *History) domain.BreathingMetrics {
	return domain.BreathingMetrics{
		Rate:        r.Rate,
		Rhythm:      r.Rhythm,
		ApneaEvents: r.ApneaEvents,
	}
}

func IdleBreathing(prev domain.BreathingMetrics) domain.BreathingMetrics {
	prev.Rate = 0
	prev.Rhythm = domain.StatusNotMonitored
	return prev
}

// Snore passes the source classification through and counts snoring episodes as
// false to true transitions.
func Snore(r domain.SnoreReading, prev domain.SnoreMetrics, h *History) domain.SnoreMetrics {
	snoring := r.IsDetected
	if r.IsSnoring != nil {
		snoring = *r.IsSnoring
	}

	m := domain.SnoreMetrics{
		Status:       r.Status,
		Level:        valueOr(r.Level, r.Intensity),
		IsSnoring:    snoring,
		Frequency:    r.Frequency,
		Duration:     r.Duration,
		LastDetected: r.LastDetected,
		Episodes:     prev.Episodes,
	}

	if snoring && !prev.IsSnoring {
		m.Episodes++
	}

	return m
}

func IdleSnore(prev domain.SnoreMetrics) domain.SnoreMetrics {
	prev.Status = domain.StatusNotMonitored
	prev.IsSnoring = false
	prev.Level = 0
	return prev
}

func Weight(r domain.WeightReading, prev domain.WeightMetrics, h *History) domain.WeightMetrics {
	m := domain.WeightMetrics{
		Weight:    r.Weight,
		Stability: r.Stability,
	}

	if m.Stability == "" {
		m.Stability = "Unknown"
		if r.Movement != nil {
			m.Stability = Stability(*r.Movement)
		}
	}

	return m
}

func Stability(movement float64) string {
	switch {
	case movement <= 0:
		return "Stable"
	case movement < 5:
		return "Minor Movement"
	case movement < 15:
		return "Restless"
	default:
		return "Very Restless"
	}
}

func valueOr(v *float64, fallback float64) float64 {
	if v != nil {
		return *v
	}
	return fallback
}
