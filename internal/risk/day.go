package risk

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// LoadLocation resolves the trading timezone, defaulting to UTC
func LoadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	return loc, nil
}

// TradingDay formats the calendar day of t in loc
func TradingDay(loc *time.Location, t time.Time) string {
	return t.In(loc).Format(dayLayout)
}
