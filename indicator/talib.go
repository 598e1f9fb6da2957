package indicator

import "github.com/markcheno/go-talib"

// MaType represents moving average type
type MaType = talib.MaType

// Moving average type constants
const (
	TypeSMA = talib.SMA // Simple Moving Average
	TypeEMA = talib.EMA // Exponential Moving Average
)

// BB calculates Bollinger Bands
// Returns upper, middle, and lower bands
func BB(input []float64, period int, deviation float64, maType MaType) ([]float64, []float64, []float64) {
	return talib.BBands(input, period, deviation, deviation, maType)
}

// EMA calculates Exponential Moving Average
func EMA(input []float64, period int) []float64 {
	return talib.Ema(input, period)
}

// SMA calculates Simple Moving Average
func SMA(input []float64, period int) []float64 {
	return talib.Sma(input, period)
}

// RSI calculates Relative Strength Index (Wilder smoothing)
func RSI(input []float64, period int) []float64 {
	return talib.Rsi(input, period)
}

// MACD calculates Moving Average Convergence/Divergence
// Returns MACD line, signal line, and histogram
func MACD(input []float64, fastPeriod, slowPeriod, signalPeriod int) ([]float64, []float64, []float64) {
	return talib.Macd(input, fastPeriod, slowPeriod, signalPeriod)
}

// ATR calculates Average True Range
func ATR(high []float64, low []float64, close []float64, period int) []float64 {
	return talib.Atr(high, low, close, period)
}

// ADX calculates Average Directional Movement Index
func ADX(high []float64, low []float64, close []float64, period int) []float64 {
	return talib.Adx(high, low, close, period)
}
