package indicator

import "github.com/markcheno/go-talib"

// Direction is the SuperTrend trend side.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// SuperTrend calculates the SuperTrend indicator based on high, low, and
// close prices. The direction flips only on a close crossing the band.
// Returns the SuperTrend line and the per-bar direction.
func SuperTrend(high, low, close []float64, atrPeriod int, factor float64) ([]float64, []Direction) {
	length := len(close)
	if length == 0 {
		return []float64{}, []Direction{}
	}

	atr := talib.Atr(high, low, close, atrPeriod)

	basicUpperBand := make([]float64, length)
	basicLowerBand := make([]float64, length)
	finalUpperBand := make([]float64, length)
	finalLowerBand := make([]float64, length)
	superTrend := make([]float64, length)
	direction := make([]Direction, length)
	direction[0] = Bearish

	// Skip first element since we need previous values
	for i := 1; i < length; i++ {
		median := (high[i] + low[i]) / 2.0
		basicUpperBand[i] = median + atr[i]*factor
		basicLowerBand[i] = median - atr[i]*factor

		if basicUpperBand[i] < finalUpperBand[i-1] || close[i-1] > finalUpperBand[i-1] {
			finalUpperBand[i] = basicUpperBand[i]
		} else {
			finalUpperBand[i] = finalUpperBand[i-1]
		}

		if basicLowerBand[i] > finalLowerBand[i-1] || close[i-1] < finalLowerBand[i-1] {
			finalLowerBand[i] = basicLowerBand[i]
		} else {
			finalLowerBand[i] = finalLowerBand[i-1]
		}

		if finalUpperBand[i-1] == superTrend[i-1] {
			// Previous SuperTrend was the upper band
			if close[i] > finalUpperBand[i] {
				superTrend[i] = finalLowerBand[i]
				direction[i] = Bullish
			} else {
				superTrend[i] = finalUpperBand[i]
				direction[i] = Bearish
			}
		} else {
			// Previous SuperTrend was the lower band
			if close[i] < finalLowerBand[i] {
				superTrend[i] = finalUpperBand[i]
				direction[i] = Bearish
			} else {
				superTrend[i] = finalLowerBand[i]
				direction[i] = Bullish
			}
		}
	}

	return superTrend, direction
}
