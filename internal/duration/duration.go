// internal/duration/duration.go
package duration

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput is returned when a negative elapsed-seconds count is
// passed to Compute. Callers are expected to clamp clock skew to zero
// before calling.
var ErrInvalidInput = errors.New("elapsed seconds must be non-negative")

// SessionDuration is the derived view of a session's elapsed time. It is
// always recomputed from the raw seconds count, never mutated in place.
type SessionDuration struct {
	Seconds   int64   `json:"seconds"`
	Hours     float64 `json:"hours"`
	Formatted string  `json:"formatted"`
}

// Compute converts an elapsed-seconds count into a SessionDuration.
// Hours are rounded half away from zero to 2 decimal places. The
// formatted string is zero-padded H:MM:SS; the hour field grows beyond
// two digits instead of wrapping at 24.
func Compute(elapsedSeconds int64) (SessionDuration, error) {
	if elapsedSeconds < 0 {
		return SessionDuration{}, ErrInvalidInput
	}

	hours := math.Round(float64(elapsedSeconds)/3600*100) / 100

	return SessionDuration{
		Seconds:   elapsedSeconds,
		Hours:     hours,
		Formatted: Format(elapsedSeconds),
	}, nil
}

// Format renders a seconds count as zero-padded H:MM:SS.
func Format(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
