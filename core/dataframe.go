package core

import "time"

// Dataframe is a columnar view over a window of candles, in the shape the
// indicator functions consume.
type Dataframe struct {
	Pair string

	Close  Series[float64]
	Open   Series[float64]
	High   Series[float64]
	Low    Series[float64]
	Volume Series[float64]

	Time       []time.Time
	LastUpdate time.Time
}

// NewDataframe builds a Dataframe from a chronological candle window.
func NewDataframe(pair string, candles []Candle) *Dataframe {
	df := &Dataframe{
		Pair:   pair,
		Close:  make(Series[float64], 0, len(candles)),
		Open:   make(Series[float64], 0, len(candles)),
		High:   make(Series[float64], 0, len(candles)),
		Low:    make(Series[float64], 0, len(candles)),
		Volume: make(Series[float64], 0, len(candles)),
		Time:   make([]time.Time, 0, len(candles)),
	}
	for _, c := range candles {
		df.Close = append(df.Close, c.Close)
		df.Open = append(df.Open, c.Open)
		df.High = append(df.High, c.High)
		df.Low = append(df.Low, c.Low)
		df.Volume = append(df.Volume, c.Volume)
		df.Time = append(df.Time, c.Time)
	}
	if n := len(candles); n > 0 {
		df.LastUpdate = candles[n-1].Time
	}
	return df
}

// Len returns the number of rows in the dataframe.
func (df *Dataframe) Len() int { return len(df.Close) }
