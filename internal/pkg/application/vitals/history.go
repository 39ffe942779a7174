package vitals

import "math"

const DefaultHistorySize int = 10

// History is a bounded FIFO of the most recent primary values of one channel.
// It is not safe for concurrent use; the owning channel serializes access.
type History struct {
	values   []float64
	capacity int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{
		values:   make([]float64, 0, capacity),
		capacity: capacity,
	}
}

func (h *History) Push(v float64) {
	if len(h.values) == h.capacity {
		copy(h.values, h.values[1:])
		h.values = h.values[:len(h.values)-1]
	}
	h.values = append(h.values, v)
}

func (h *History) Reset() {
	h.values = h.values[:0]
}

func (h *History) Len() int {
	return len(h.values)
}

func (h *History) Values() []float64 {
	out := make([]float64, len(h.values))
	copy(out, h.values)
	return out
}

func (h *History) Min() float64 {
	if len(h.values) == 0 {
		return 0
	}
	m := math.Inf(1)
	for _, v := range h.values {
		m = math.Min(m, v)
	}
	return m
}

func (h *History) Max() float64 {
	if len(h.values) == 0 {
		return 0
	}
	m := math.Inf(-1)
	for _, v := range h.values {
		m = math.Max(m, v)
	}
	return m
}

func (h *History) Mean() float64 {
	if len(h.values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range h.values {
		sum += v
	}
	return sum / float64(len(h.values))
}

// Variability is the mean absolute difference between consecutive values,
// 0 with fewer than two values.
func (h *History) Variability() float64 {
	if len(h.values) < 2 {
		return 0
	}
	sum := 0.0
	for i := 1; i < len(h.values); i++ {
		sum += math.Abs(h.values[i] - h.values[i-1])
	}
	return sum / float64(len(h.values)-1)
}
