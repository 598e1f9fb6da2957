package indicator

import (
	"testing"
	"time"

	"helmsman/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeCandles(pair string, closes []float64) []core.Candle {
	start := time.Now().Add(-time.Duration(len(closes)) * time.Minute)
	candles := make([]core.Candle, 0, len(closes))
	for i, c := range closes {
		candles = append(candles, core.Candle{
			Pair:     pair,
			Time:     start.Add(time.Duration(i) * time.Minute),
			Open:     c * 0.999,
			Close:    c,
			High:     c * 1.002,
			Low:      c * 0.998,
			Volume:   1000,
			Complete: true,
		})
	}
	return candles
}

func flatWindow(price float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func TestCompute_RejectsShortWindow(t *testing.T) {
	df := core.NewDataframe("BTCUSDT", makeCandles("BTCUSDT", flatWindow(100, 10)))
	_, err := Compute(df, nil, time.Now())
	require.Error(t, err)
}

func TestCompute_FlatMarket(t *testing.T) {
	df := core.NewDataframe("BTCUSDT", makeCandles("BTCUSDT", flatWindow(100, 60)))
	snap, err := Compute(df, NewCrossTracker(), time.Now())
	require.NoError(t, err)

	assert.InDelta(t, 100, snap.Price, 0.001)
	assert.InDelta(t, 100, snap.SMA5, 0.001)
	assert.InDelta(t, 100, snap.SMA10, 0.001)
	assert.InDelta(t, 100, snap.SMA20, 0.001)
	assert.InDelta(t, 100, snap.BollingerMiddle, 0.001)
	assert.InDelta(t, 1, snap.VolumeRatio, 0.001)
}

func macdWindow(prev, last float64) (core.Series[float64], core.Series[float64]) {
	return core.Series[float64]{prev, last}, core.Series[float64]{2.0, 2.0}
}

func TestCrossTracker_Observe(t *testing.T) {
	tracker := NewCrossTracker()
	now := time.Now()

	// Below signal: no crossover yet.
	line, signal := macdWindow(1.0, 1.5)
	seen := tracker.Observe("BTCUSDT", line, signal, now)
	assert.True(t, seen.IsZero())

	// The window edge crossing above records the timestamp.
	line, signal = macdWindow(1.5, 3.0)
	seen = tracker.Observe("BTCUSDT", line, signal, now.Add(time.Minute))
	assert.Equal(t, now.Add(time.Minute), seen)

	// Staying above keeps the original crossover time.
	line, signal = macdWindow(3.0, 4.0)
	seen = tracker.Observe("BTCUSDT", line, signal, now.Add(2*time.Minute))
	assert.Equal(t, now.Add(time.Minute), seen)

	// Dropping below and re-crossing updates it.
	line, signal = macdWindow(1.5, 1.0)
	tracker.Observe("BTCUSDT", line, signal, now.Add(3*time.Minute))
	line, signal = macdWindow(1.0, 3.0)
	seen = tracker.Observe("BTCUSDT", line, signal, now.Add(4*time.Minute))
	assert.Equal(t, now.Add(4*time.Minute), seen)
}

func TestCrossTracker_AboveBetweenObservations(t *testing.T) {
	tracker := NewCrossTracker()
	now := time.Now()

	// The window edge itself never crosses, but the line was below the
	// signal last observation and above it now.
	line, signal := macdWindow(1.0, 1.5)
	tracker.Observe("ETHUSDT", line, signal, now)

	line, signal = macdWindow(3.0, 4.0)
	seen := tracker.Observe("ETHUSDT", line, signal, now.Add(time.Minute))
	assert.Equal(t, now.Add(time.Minute), seen)
}

func TestCrossTracker_RestartMidUptrendIsNotFresh(t *testing.T) {
	tracker := NewCrossTracker()
	now := time.Now()

	// First ever observation with the line already above the signal and no
	// cross at the window edge: the cross happened before we were watching.
	line, signal := macdWindow(3.0, 4.0)
	seen := tracker.Observe("BTCUSDT", line, signal, now)
	assert.True(t, seen.IsZero())

	// And it stays unseen until a genuine re-cross.
	line, signal = macdWindow(4.0, 5.0)
	seen = tracker.Observe("BTCUSDT", line, signal, now.Add(time.Minute))
	assert.True(t, seen.IsZero())
}

func TestSnapshot_FreshBullishCross(t *testing.T) {
	now := time.Now()

	snap := Snapshot{MACDBullishCross: now.Add(-10 * time.Minute)}
	assert.True(t, snap.FreshBullishCross(now))

	snap.MACDBullishCross = now.Add(-31 * time.Minute)
	assert.False(t, snap.FreshBullishCross(now), "cross older than 30 minutes is stale")

	assert.False(t, Snapshot{}.FreshBullishCross(now), "zero time means no cross observed")
}

func TestVolumeRatio(t *testing.T) {
	volumes := flatWindow(1000, 21)
	volumes[20] = 2000
	assert.InDelta(t, 2.0, volumeRatio(volumes, 20), 0.001)

	assert.InDelta(t, 1.0, volumeRatio(flatWindow(1000, 5), 20), 0.001, "short window defaults to neutral")
}

func TestVolatility_Regimes(t *testing.T) {
	df := core.NewDataframe("BTCUSDT", makeCandles("BTCUSDT", flatWindow(100, 60)))

	m := Volatility(df, Snapshot{Price: 100, ATR: 0.5})
	assert.Equal(t, core.RegimeLow, m.Regime)

	m = Volatility(df, Snapshot{Price: 100, ATR: 2.0})
	assert.Equal(t, core.RegimeNormal, m.Regime)

	m = Volatility(df, Snapshot{Price: 100, ATR: 3.5})
	assert.Equal(t, core.RegimeHigh, m.Regime)
}
