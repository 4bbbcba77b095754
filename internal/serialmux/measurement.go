package serialmux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrBadMeasurement is returned by ParseMeasurement for lines that are not
// a complete finite measurement.
var ErrBadMeasurement = errors.New("bad measurement line")

// Measurement is one full-state observation (x, y, vx, vy).
type Measurement [4]float64

// Slice returns the measurement as a vector.
func (m Measurement) Slice() []float64 { return []float64{m[0], m[1], m[2], m[3]} }

type jsonMeasurement struct {
	X  *float64 `json:"x"`
	Y  *float64 `json:"y"`
	VX *float64 `json:"vx"`
	VY *float64 `json:"vy"`
}

// ParseMeasurement accepts either a JSON object with x, y, vx and vy, or
// four numbers separated by commas or whitespace.
func ParseMeasurement(line string) (Measurement, error) {
	var m Measurement
	line = strings.TrimSpace(line)
	if line == "" {
		return m, fmt.Errorf("%w: empty", ErrBadMeasurement)
	}

	if strings.HasPrefix(line, "{") {
		var jm jsonMeasurement
		if err := json.Unmarshal([]byte(line), &jm); err != nil {
			return m, fmt.Errorf("%w: %v", ErrBadMeasurement, err)
		}
		if jm.X == nil || jm.Y == nil || jm.VX == nil || jm.VY == nil {
			return m, fmt.Errorf("%w: need x, y, vx and vy", ErrBadMeasurement)
		}
		m = Measurement{*jm.X, *jm.Y, *jm.VX, *jm.VY}
	} else {
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		if len(fields) != len(m) {
			return m, fmt.Errorf("%w: got %d fields, want %d", ErrBadMeasurement, len(fields), len(m))
		}
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return m, fmt.Errorf("%w: field %d: %v", ErrBadMeasurement, i, err)
			}
			m[i] = v
		}
	}

	for i, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return m, fmt.Errorf("%w: component %d is not finite", ErrBadMeasurement, i)
		}
	}
	return m, nil
}

// Measurements subscribes to mux and sends every parseable line on the
// returned channel until ctx is done or the mux closes. Unparseable lines are
// passed to onError, which may be nil.
func (s *SerialMux[T]) Measurements(ctx context.Context, onError func(line string, err error)) <-chan Measurement {
	id, lines := s.Subscribe(64)
	out := make(chan Measurement)

	go func() {
		defer close(out)
		defer s.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok {
					return
				}
				m, err := ParseMeasurement(line)
				if err != nil {
					if onError != nil {
						onError(line, err)
					}
					continue
				}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
