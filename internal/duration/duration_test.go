// internal/duration/duration_test.go
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute(t *testing.T) {
	t.Run("zero seconds", func(t *testing.T) {
		d, err := Compute(0)
		require.NoError(t, err)
		assert.Equal(t, int64(0), d.Seconds)
		assert.Equal(t, 0.0, d.Hours)
		assert.Equal(t, "00:00:00", d.Formatted)
	})

	t.Run("one hour one minute one second", func(t *testing.T) {
		d, err := Compute(3661)
		require.NoError(t, err)
		assert.Equal(t, int64(3661), d.Seconds)
		assert.Equal(t, 1.02, d.Hours)
		assert.Equal(t, "01:01:01", d.Formatted)
	})

	t.Run("hours exceed two digits without wrapping", func(t *testing.T) {
		d, err := Compute(100 * 3600)
		require.NoError(t, err)
		assert.Equal(t, 100.0, d.Hours)
		assert.Equal(t, "100:00:00", d.Formatted)
	})

	t.Run("half-up rounding", func(t *testing.T) {
		// 90 seconds = 0.025h, rounds half away from zero to 0.03
		d, err := Compute(90)
		require.NoError(t, err)
		assert.Equal(t, 0.03, d.Hours)
	})

	t.Run("negative input rejected", func(t *testing.T) {
		_, err := Compute(-1)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestFormatRoundTrip(t *testing.T) {
	pattern := regexp.MustCompile(`^\d{2,}:\d{2}:\d{2}$`)

	cases := []int64{0, 1, 59, 60, 61, 3599, 3600, 3661, 86399, 86400, 360000, 123456789}
	for _, secs := range cases {
		t.Run(fmt.Sprintf("%d seconds", secs), func(t *testing.T) {
			d, err := Compute(secs)
			require.NoError(t, err)
			assert.Regexp(t, pattern, d.Formatted)
			assert.Equal(t, secs, parseFormatted(t, d.Formatted))
		})
	}
}

func parseFormatted(t *testing.T, formatted string) int64 {
	t.Helper()
	parts := strings.Split(formatted, ":")
	require.Len(t, parts, 3)

	h, err := strconv.ParseInt(parts[0], 10, 64)
	require.NoError(t, err)
	m, err := strconv.ParseInt(parts[1], 10, 64)
	require.NoError(t, err)
	s, err := strconv.ParseInt(parts[2], 10, 64)
	require.NoError(t, err)

	return h*3600 + m*60 + s
}
