package indicator

import (
	"fmt"
	"sync"
	"time"

	"helmsman/core"

	"gonum.org/v1/gonum/stat"
)

// MinWindow is the shortest candle window a full snapshot needs: the MACD
// slow EMA plus its signal EMA must both be warm.
const MinWindow = 40

// crossFreshness is how long a MACD bullish crossover counts as fresh.
const crossFreshness = 30 * time.Minute

// Snapshot is the derived indicator record for one symbol at one tick.
// Ephemeral; recomputed every tick from the candle window.
type Snapshot struct {
	Price float64

	SMA5  float64
	SMA10 float64
	SMA20 float64

	BollingerUpper  float64
	BollingerMiddle float64
	BollingerLower  float64
	BollingerWidth  float64

	RSI float64

	MACDLine         float64
	MACDSignal       float64
	MACDBullishCross time.Time // zero when no bullish cross observed

	ATR                 float64
	SuperTrend          float64
	SuperTrendDirection Direction
	ADX                 float64

	VolumeRatio float64
}

// FreshBullishCross reports whether a MACD bullish crossover happened within
// the freshness window.
func (s Snapshot) FreshBullishCross(now time.Time) bool {
	return !s.MACDBullishCross.IsZero() && now.Sub(s.MACDBullishCross) <= crossFreshness
}

// CrossTracker remembers, per symbol, when the MACD line last crossed above
// its signal. The crossover timestamp is wall-clock component state; the
// surrounding snapshot stays a pure function of the candle window.
type CrossTracker struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	above   map[string]bool
	tracked map[string]bool
}

func NewCrossTracker() *CrossTracker {
	return &CrossTracker{
		seen:    make(map[string]time.Time),
		above:   make(map[string]bool),
		tracked: make(map[string]bool),
	}
}

// Observe feeds the latest MACD line and signal series and returns the time
// of the most recent bullish crossover, or a zero time if none was observed.
// A cross is recorded when the window edge crosses within this observation,
// or when the line moved above the signal between two consecutive
// observations. The first observation of a symbol only seeds state, so a
// restart mid-uptrend does not count as a fresh cross.
func (t *CrossTracker) Observe(symbol string, line, signal core.Series[float64], now time.Time) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	above := line.Last(0) > signal.Last(0)
	switch {
	case line.Crossover(signal):
		t.seen[symbol] = now
	case above && t.tracked[symbol] && !t.above[symbol]:
		t.seen[symbol] = now
	}
	t.above[symbol] = above
	t.tracked[symbol] = true
	return t.seen[symbol]
}

// Compute derives the full indicator snapshot from a candle window. The
// window must be chronological, newest-last.
func Compute(df *core.Dataframe, tracker *CrossTracker, now time.Time) (Snapshot, error) {
	n := df.Len()
	if n < MinWindow {
		return Snapshot{}, fmt.Errorf("candle window too short: %d < %d", n, MinWindow)
	}

	closes := df.Close.Values()
	snap := Snapshot{Price: df.Close.Last(0)}

	snap.SMA5 = last(SMA(closes, 5))
	snap.SMA10 = last(SMA(closes, 10))
	snap.SMA20 = last(SMA(closes, 20))

	upper, middle, lower := BB(closes, 20, 2.0, TypeSMA)
	snap.BollingerUpper = last(upper)
	snap.BollingerMiddle = last(middle)
	snap.BollingerLower = last(lower)
	if snap.BollingerMiddle != 0 {
		snap.BollingerWidth = (snap.BollingerUpper - snap.BollingerLower) / snap.BollingerMiddle
	}

	// Neutral RSI on a window too short for Wilder smoothing.
	if n > 14 {
		snap.RSI = last(RSI(closes, 14))
	} else {
		snap.RSI = 50
	}

	line, signal, _ := MACD(closes, 12, 26, 9)
	snap.MACDLine = last(line)
	snap.MACDSignal = last(signal)
	if tracker != nil {
		snap.MACDBullishCross = tracker.Observe(
			df.Pair, core.Series[float64](line), core.Series[float64](signal), now)
	}

	snap.ATR = last(ATR(df.High.Values(), df.Low.Values(), closes, 14))
	snap.ADX = last(ADX(df.High.Values(), df.Low.Values(), closes, 14))

	st, dir := SuperTrend(df.High.Values(), df.Low.Values(), closes, 14, 3.0)
	snap.SuperTrend = last(st)
	snap.SuperTrendDirection = dir[len(dir)-1]

	snap.VolumeRatio = volumeRatio(df.Volume.Values(), 20)

	return snap, nil
}

// volumeRatio compares the latest volume against the mean of the previous
// period bars.
func volumeRatio(volumes []float64, period int) float64 {
	n := len(volumes)
	if n < period+1 {
		return 1
	}
	mean := stat.Mean(volumes[n-1-period:n-1], nil)
	if mean == 0 {
		return 1
	}
	return volumes[n-1] / mean
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}
