package model

import "time"

// Candle is a historical OHLCV row. Timestamp is the bar open time.
type Candle struct {
	ID        uint      `gorm:"primarykey"`
	Asset     string    `gorm:"not null;index:idx_candles_lookup,priority:1"`
	Timeframe string    `gorm:"not null;index:idx_candles_lookup,priority:2"`
	Timestamp time.Time `gorm:"not null;index:idx_candles_lookup,priority:3"`
	Open      float64   `gorm:"not null"`
	High      float64   `gorm:"not null"`
	Low       float64   `gorm:"not null"`
	Close     float64   `gorm:"not null"`
	Volume    float64   `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Candle) TableName() string {
	return "candles"
}
