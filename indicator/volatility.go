package indicator

import (
	"helmsman/core"

	"gonum.org/v1/gonum/stat"
)

// Regime thresholds on ATR as a percent of price.
const (
	lowRegimeATRPercent  = 1.0
	highRegimeATRPercent = 3.0
)

// Volatility derives the volatility metrics handed to the validation
// ensemble: absolute ATR, ATR as percent of price, a coarse regime label,
// and the average bar range.
func Volatility(df *core.Dataframe, snap Snapshot) core.VolatilityMetrics {
	m := core.VolatilityMetrics{ATR: snap.ATR, Regime: core.RegimeNormal}
	if snap.Price > 0 {
		m.ATRPercent = snap.ATR / snap.Price * 100
	}

	switch {
	case m.ATRPercent < lowRegimeATRPercent:
		m.Regime = core.RegimeLow
	case m.ATRPercent > highRegimeATRPercent:
		m.Regime = core.RegimeHigh
	}

	m.AvgDailyRangePercent = avgRangePercent(df)
	return m
}

// avgRangePercent is the mean of (high-low)/close over the window, in
// percent.
func avgRangePercent(df *core.Dataframe) float64 {
	n := df.Len()
	if n == 0 {
		return 0
	}
	ranges := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if c := df.Close[i]; c > 0 {
			ranges = append(ranges, (df.High[i]-df.Low[i])/c*100)
		}
	}
	if len(ranges) == 0 {
		return 0
	}
	return stat.Mean(ranges, nil)
}
