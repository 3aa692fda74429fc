package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	got, err := ParsePeriod("2024-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), got)

	for _, bad := range []string{"", "2024", "2024-13", "2024-2", "24-02", "2024/02"} {
		_, err := ParsePeriod(bad)
		assert.Error(t, err, bad)
	}
}

func TestPreviousPeriod(t *testing.T) {
	assert.Equal(t, "2024-02", PreviousPeriod(time.Date(2024, time.March, 31, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2023-12", PreviousPeriod(time.Date(2024, time.January, 1, 0, 5, 0, 0, time.UTC)))
}

func TestNextPeriod(t *testing.T) {
	next, err := NextPeriod("2024-12")
	require.NoError(t, err)
	assert.Equal(t, "2025-01", next)

	_, err = NextPeriod("december")
	assert.Error(t, err)
}

func TestFormatPeriodUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	assert.Equal(t, "2024-05", FormatPeriod(time.Date(2024, time.June, 1, 1, 0, 0, 0, loc)))
}
