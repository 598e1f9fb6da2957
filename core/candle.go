package core

import "time"

// Candle represents a trading candle with OHLCV data
type Candle struct {
	Pair     string
	Time     time.Time
	Open     float64
	Close    float64
	Low      float64
	High     float64
	Volume   float64
	Complete bool
}
