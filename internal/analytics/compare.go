package analytics

// changeEpsilon bounds float noise when classifying a delta as flat.
const changeEpsilon = 1e-9

// Direction classifies the movement of a metric between periods.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// MetricChange is the period-over-period movement of one metric. Pointer
// fields are nil when the value is absent or undefined: a metric missing on
// one side keeps that side nil, and PercentChange is nil when the previous
// value is zero while the current one is not. A genuine zero-to-zero change
// carries an explicit zero percent.
type MetricChange struct {
	Current       *float64  `json:"current,omitempty"`
	Previous      *float64  `json:"previous,omitempty"`
	Delta         *float64  `json:"delta,omitempty"`
	PercentChange *float64  `json:"percent_change,omitempty"`
	Direction     Direction `json:"direction"`
}

// Defined reports whether the percent change carries a value.
func (c MetricChange) Defined() bool { return c.PercentChange != nil }

// Comparison maps metric names to their period-over-period movement.
type Comparison map[string]MetricChange

// Compare builds the metric-by-metric movement between two payloads. Metrics
// present on both sides get delta and percent change; metrics present on one
// side only are passed through with the other side nil, never dropped.
func Compare(current, previous Payload) Comparison {
	cur := metricsOf(current)
	prev := metricsOf(previous)
	out := make(Comparison, len(cur)+len(prev))

	for name, cv := range cur {
		change := MetricChange{Current: f64(cv), Direction: DirectionFlat}
		if pv, ok := prev[name]; ok {
			delta := cv - pv
			change.Previous = f64(pv)
			change.Delta = f64(delta)
			change.Direction = classify(delta)
			switch {
			case pv == 0 && cv == 0:
				change.PercentChange = f64(0)
			case pv == 0:
				// No defined percent against a zero base.
			default:
				change.PercentChange = f64(delta / pv * 100)
			}
		}
		out[name] = change
	}
	for name, pv := range prev {
		if _, ok := cur[name]; ok {
			continue
		}
		out[name] = MetricChange{Previous: f64(pv), Direction: DirectionFlat}
	}
	return out
}

func metricsOf(p Payload) map[string]float64 {
	if p == nil {
		return nil
	}
	return p.Metrics()
}

func classify(delta float64) Direction {
	switch {
	case delta > changeEpsilon:
		return DirectionUp
	case delta < -changeEpsilon:
		return DirectionDown
	}
	return DirectionFlat
}

func f64(v float64) *float64 { return &v }
