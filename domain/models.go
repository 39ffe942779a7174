package domain

type ChannelName string

const (
	Weight    ChannelName = "weight"
	HeartRate ChannelName = "heartRate"
	Breathing ChannelName = "breathing"
	Gyroscope ChannelName = "gyroscope"
	Snore     ChannelName = "snore"
)

const (
	StatusNotMonitored string = "Not Monitored"
	StatusSleeping     string = "Sleeping"
	StatusAwake        string = "Awake"
)

// Readings are decoded as delivered by the hardware boundary. Pointer fields are
// optional; when present they take precedence over locally derived values.

type WeightReading struct {
	Weight    float64  `json:"weight"`
	Movement  *float64 `json:"movement,omitempty"`
	Stability string   `json:"stability,omitempty"`
}

type HeartRateReading struct {
	Rate        float64  `json:"rate"`
	Status      string   `json:"status,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Average     *float64 `json:"average,omitempty"`
	Variability *float64 `json:"variability,omitempty"`
}

type BreathingReading struct {
	Rate        float64 `json:"rate"`
	Rhythm      string  `json:"rhythm"`
	ApneaEvents int     `json:"apneaEvents"`
}

type GyroscopeReading struct {
	Pitch           float64  `json:"pitch"`
	Roll            float64  `json:"roll"`
	NeckAngle       *float64 `json:"neckAngle,omitempty"`
	Position        string   `json:"position,omitempty"`
	PostureSeverity string   `json:"postureSeverity,omitempty"`
}

type SnoreReading struct {
	Status       string   `json:"status"`
	Level        *float64 `json:"level,omitempty"`
	Intensity    float64  `json:"intensity"`
	IsDetected   bool     `json:"isDetected"`
	IsSnoring    *bool    `json:"isSnoring,omitempty"`
	Frequency    float64  `json:"frequency"`
	Duration     string   `json:"duration"`
	LastDetected string   `json:"lastDetected"`
}

// Derived metrics, recomputed from every new reading.

type WeightMetrics struct {
	Weight    float64 `json:"weight"`
	Stability string  `json:"stability"`
}

type HeartRateMetrics struct {
	Rate        float64 `json:"rate"`
	Status      string  `json:"status"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Average     float64 `json:"average"`
	Variability float64 `json:"variability"`
}

type BreathingMetrics struct {
	Rate        float64 `json:"rate"`
	Rhythm      string  `json:"rhythm"`
	ApneaEvents int     `json:"apneaEvents"`
}

type PostureMetrics struct {
	Pitch           float64 `json:"pitch"`
	Roll            float64 `json:"roll"`
	NeckAngle       float64 `json:"neckAngle"`
	Position        string  `json:"position"`
	PostureSeverity string  `json:"postureSeverity"`
}

type SnoreMetrics struct {
	Status       string  `json:"status"`
	Level        float64 `json:"level"`
	IsSnoring    bool    `json:"isSnoring"`
	Frequency    float64 `json:"frequency"`
	Duration     string  `json:"duration"`
	LastDetected string  `json:"lastDetected"`
	Episodes     int     `json:"episodes"`
}

// OccupancySleepState never has IsSleeping or IsAwake set without IsInBed, and
// never both at once.
type OccupancySleepState struct {
	IsInBed    bool `json:"isInBed"`
	IsSleeping bool `json:"isSleeping"`
	IsAwake    bool `json:"isAwake"`
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Alert struct {
	Type     string      `json:"type"`
	Channel  ChannelName `json:"channel"`
	Message  string      `json:"message"`
	Severity Severity    `json:"severity"`
}
