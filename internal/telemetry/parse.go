package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// LinePrefix marks a telemetry line on the serial wire: T|key:value|key:value.
const LinePrefix = "T|"

// ErrMalformed is returned by [ParseLine] for a telemetry line that cannot be
// parsed. The store must not be updated from such a line.
var ErrMalformed = errors.New("telemetry: malformed line")

// IsTelemetry reports whether line is a telemetry line. Anything else the
// board prints is diagnostic output.
func IsTelemetry(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), LinePrefix)
}

// ParseLine parses a telemetry line into a [Reading]. Every field must have
// the form key:value with a non-empty key. Numeric values go to
// Reading.Values; anything else goes to Reading.Labels. A line with no fields
// at all, or with a NaN or infinite value, is malformed.
func ParseLine(line string) (Reading, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, LinePrefix) {
		return Reading{}, fmt.Errorf("%w: missing %q prefix", ErrMalformed, LinePrefix)
	}
	body := strings.TrimPrefix(line, LinePrefix)

	r := Reading{Values: make(map[string]float64)}
	fields := 0
	for part := range strings.SplitSeq(body, "|") {
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, ":")
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if !ok || key == "" {
			return Reading{}, fmt.Errorf("%w: field %q", ErrMalformed, part)
		}
		fields++
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return Reading{}, fmt.Errorf("%w: %s is %s", ErrMalformed, key, val)
			}
			r.Values[key] = f
			continue
		}
		if r.Labels == nil {
			r.Labels = make(map[string]string)
		}
		r.Labels[key] = val
	}
	if fields == 0 {
		return Reading{}, fmt.Errorf("%w: no fields", ErrMalformed)
	}
	return r, nil
}
