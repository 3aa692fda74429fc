package utils

import (
	"fmt"
	"strings"
	"time"
)

// PeriodLayout is the YYYY-MM format accrual periods are keyed by.
const PeriodLayout = "2006-01"

// ParsePeriod validates a YYYY-MM period and returns the first instant of that month in UTC.
func ParsePeriod(period string) (time.Time, error) {
	period = strings.TrimSpace(period)
	t, err := time.Parse(PeriodLayout, period)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid period %q: expected YYYY-MM", period)
	}
	return t.UTC(), nil
}

// FormatPeriod returns the YYYY-MM period containing t.
func FormatPeriod(t time.Time) string {
	return t.UTC().Format(PeriodLayout)
}

// PreviousPeriod returns the period before the one containing t, i.e. the month that just elapsed.
func PreviousPeriod(t time.Time) string {
	t = t.UTC()
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return FormatPeriod(first.AddDate(0, -1, 0))
}

// NextPeriod returns the period after period.
func NextPeriod(period string) (string, error) {
	t, err := ParsePeriod(period)
	if err != nil {
		return "", err
	}
	return FormatPeriod(t.AddDate(0, 1, 0)), nil
}
