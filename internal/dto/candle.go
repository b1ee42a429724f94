package dto

import "time"

type Timeframe string

const (
	Timeframe5Min  Timeframe = "5m"
	Timeframe15Min Timeframe = "15m"
	Timeframe30Min Timeframe = "30m"
	Timeframe1Hour Timeframe = "1h"
	Timeframe4Hour Timeframe = "4h"
	Timeframe1Day  Timeframe = "1d"
	Timeframe1Week Timeframe = "1w"
)

// Duration returns the bar length of the timeframe. Unknown timeframes
// map to one day, matching the coarsest common default.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe5Min:
		return 5 * time.Minute
	case Timeframe15Min:
		return 15 * time.Minute
	case Timeframe30Min:
		return 30 * time.Minute
	case Timeframe1Hour:
		return time.Hour
	case Timeframe4Hour:
		return 4 * time.Hour
	case Timeframe1Day:
		return 24 * time.Hour
	case Timeframe1Week:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// IsValid reports whether the timeframe is one of the supported bar sizes.
func (tf Timeframe) IsValid() bool {
	switch tf {
	case Timeframe5Min, Timeframe15Min, Timeframe30Min,
		Timeframe1Hour, Timeframe4Hour, Timeframe1Day, Timeframe1Week:
		return true
	}
	return false
}

// LowestTimeframe returns the finest timeframe in the set; the simulation
// cursor advances at this resolution.
func LowestTimeframe(timeframes []Timeframe) Timeframe {
	if len(timeframes) == 0 {
		return ""
	}
	lowest := timeframes[0]
	for _, tf := range timeframes[1:] {
		if tf.Duration() < lowest.Duration() {
			lowest = tf
		}
	}
	return lowest
}

// Candle is a single OHLCV bar. Timestamp is the bar open time; the bar is
// considered closed at Timestamp + Timeframe.Duration().
type Candle struct {
	Asset     string    `json:"asset"`
	Timeframe Timeframe `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// CloseTime returns the instant the bar fully closes.
func (c Candle) CloseTime() time.Time {
	return c.Timestamp.Add(c.Timeframe.Duration())
}
