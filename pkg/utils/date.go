package utils

import "time"

const tradingDayLayout = "2006-01-02"

// TradingDayKey buckets a timestamp into its UTC trading day.
// The simulator uses it to key daily P&L and trade counters.
func TradingDayKey(t time.Time) string {
	return t.UTC().Format(tradingDayLayout)
}

// StartOfTradingDay returns midnight UTC of the timestamp's trading day.
func StartOfTradingDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
