package service

import (
	"confluence-backtest/internal/dto"

	"github.com/sdcoffey/big"
	"github.com/sdcoffey/techan"
)

// atrFromCandles computes the average true range over the supplied series.
// Returns 0 when the series is empty; with fewer candles than the window
// techan degrades to the range it has, which is good enough for a buffer.
func atrFromCandles(candles []dto.Candle, window int) float64 {
	if len(candles) == 0 || window <= 0 {
		return 0
	}

	series := techan.NewTimeSeries()
	for _, c := range candles {
		period := techan.NewTimePeriod(c.Timestamp, c.Timeframe.Duration())
		candle := techan.NewCandle(period)
		candle.OpenPrice = big.NewDecimal(c.Open)
		candle.ClosePrice = big.NewDecimal(c.Close)
		candle.MaxPrice = big.NewDecimal(c.High)
		candle.MinPrice = big.NewDecimal(c.Low)
		candle.Volume = big.NewDecimal(c.Volume)
		series.AddCandle(candle)
	}

	atr := techan.NewAverageTrueRangeIndicator(series, window)
	return atr.Calculate(len(series.Candles) - 1).Float()
}
