package detector

import "math"

// RawMetricValue is the metric_value field exactly as decoded from JSON,
// before the coercion rules in §4.2 are applied: absent, non-numeric, and
// non-finite values must each be distinguished and reported distinctly.
type RawMetricValue struct {
	Value   interface{}
	Present bool
}

// coerceMetricValue applies the detector's numeric-handling rules in order:
// absent key, then non-numeric, then non-finite. Order matters — a missing
// key is reported as missing even though "not present" could also be read
// as "not a number".
func coerceMetricValue(raw RawMetricValue) (float64, string) {
	if !raw.Present || raw.Value == nil {
		return 0, "Missing metric_value"
	}

	var value float64
	switch v := raw.Value.(type) {
	case float64:
		value = v
	case int:
		value = float64(v)
	case int64:
		value = float64(v)
	default:
		return 0, "Invalid value"
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, "Non-finite value"
	}

	return value, ""
}
