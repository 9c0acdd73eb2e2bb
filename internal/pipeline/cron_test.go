package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronNext(t *testing.T) {
	base := time.Date(2025, 1, 15, 10, 7, 30, 0, time.UTC) // Wednesday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2025, 1, 15, 10, 8, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2025, 1, 16, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2025, 1, 15, 10, 15, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2025, 2, 1, 3, 0, 0, 0, time.UTC)},
		{"30 9-17 * * 1-5", time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"0 0 * * 0", time.Date(2025, 1, 19, 0, 0, 0, 0, time.UTC)},
		{"5,10 10 * * *", time.Date(2025, 1, 15, 10, 10, 0, 0, time.UTC)},
		{"@daily", time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)},
		// Day-of-month and day-of-week both restricted: either one matches.
		{"0 0 1 * 5", time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := ParseCron(tt.expr)
			require.NoError(t, err)
			got, err := nextRun(s, base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateCronErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"5-1 * * * *",
		"a * * * *",
	} {
		assert.Error(t, ValidateCron(expr), expr)
	}
}

func TestNextRunNoMatch(t *testing.T) {
	s, err := ParseCron("0 0 31 2 *")
	require.NoError(t, err)
	_, err = nextRun(s, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, errNoNextRun)
}
