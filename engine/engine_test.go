package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"helmsman/ai"
	"helmsman/config"
	"helmsman/core"
	zero "helmsman/logger/zerolog"
	"helmsman/storage"

	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExchange is a scriptable venue: fixed quotes, canned candles, and
// order outcomes the test controls.
type fakeExchange struct {
	mu sync.Mutex

	quote     decimal.Decimal
	quoteErr  error
	candles   []core.Candle
	candleErr error
	balances  map[string]decimal.Decimal

	buyOrder     core.Order
	buyErr       error
	buyFailures  int // fail this many buys before succeeding
	buyCalls     int
	lastBuyQuote decimal.Decimal

	sellOrder core.Order
	sellErr   error
	sellCalls int
}

func (f *fakeExchange) AssetsInfo(pair string) (core.AssetInfo, error) {
	return core.AssetInfo{BaseAsset: pair[:3], QuoteAsset: pair[3:]}, nil
}

func (f *fakeExchange) LastQuote(_ context.Context, _ string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quote, f.quoteErr
}

func (f *fakeExchange) CandlesByLimit(_ context.Context, _, _ string, _ int) ([]core.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.candles, f.candleErr
}

func (f *fakeExchange) Balances(_ context.Context) (map[string]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(f.balances))
	for k, v := range f.balances {
		out[k] = v
	}
	return out, nil
}

func (f *fakeExchange) CreateOrderMarketQuote(_ context.Context, _ string, quote decimal.Decimal) (core.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buyCalls++
	f.lastBuyQuote = quote
	if f.buyFailures > 0 {
		f.buyFailures--
		return core.Order{}, context.DeadlineExceeded
	}
	if f.buyErr != nil {
		return core.Order{}, f.buyErr
	}
	return f.buyOrder, nil
}

func (f *fakeExchange) CreateOrderMarket(_ context.Context, _ string, _ decimal.Decimal) (core.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sellCalls++
	if f.sellErr != nil {
		return core.Order{}, f.sellErr
	}
	return f.sellOrder, nil
}

type fixedScorer struct {
	name   string
	result ai.ScoreResult
}

func (s fixedScorer) Name() string { return s.name }

func (s fixedScorer) Score(_ context.Context, _ ai.Input) (ai.ScoreResult, error) {
	return s.result, nil
}

// approvingScorers votes a confident unanimous BUY; the validator also hands
// back autonomous risk parameters.
func approvingScorers() []ai.Scorer {
	buy := ai.ScoreResult{Side: core.SideBuy, Confidence: 0.9}
	withParams := buy
	withParams.Params = &core.RiskParams{StopLossPercent: 1.5}
	return []ai.Scorer{
		fixedScorer{name: ai.ScorerSentiment, result: buy},
		fixedScorer{name: ai.ScorerTechnical, result: buy},
		fixedScorer{name: ai.ScorerMacro, result: buy},
		fixedScorer{name: ai.ScorerLLM, result: withParams},
	}
}

func testLogger(t *testing.T) core.Logger {
	t.Helper()
	log, err := zero.New("disabled", "2006-01-02 15:04:05", false)
	require.NoError(t, err)
	return log
}

const engineConfig = `
exchange:
  quote_asset: USDT
strategies:
  macd_supertrend:
    enabled: true
    trailing_stop:
      enabled: true
      activation_percent: 5.0
      distance_percent: 3.0
pairs:
  - symbol: BTCUSDT
    enabled: true
    allocation_percent: 50.0
    strategies: [scalping]
`

func newTestEngine(t *testing.T, yamlBody string, venue core.Exchange, scorers ...ai.Scorer) *Engine {
	t.Helper()
	log := testLogger(t)

	path := filepath.Join(t.TempDir(), "helmsman.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))
	manager, err := config.Load(path, log)
	require.NoError(t, err)

	store, err := storage.NewFromMemory(log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	e := New(manager, venue, store, ai.NewEnsemble(log, scorers...), log)
	e.buyBackoffStep = time.Millisecond
	e.sellBackoffStep = time.Millisecond
	e.priceRetryDelay = time.Millisecond
	return e
}

// flatCandles produces a window of identical closes, enough for every
// indicator to have data.
func flatCandles(close float64, n int) []core.Candle {
	base := time.Now().Add(-time.Duration(n) * time.Minute)
	candles := make([]core.Candle, n)
	for i := range candles {
		candles[i] = core.Candle{
			Pair:     "BTCUSDT",
			Time:     base.Add(time.Duration(i) * time.Minute),
			Open:     close,
			Close:    close,
			High:     close * 1.001,
			Low:      close * 0.999,
			Volume:   1000,
			Complete: true,
		}
	}
	return candles
}

func openTestPosition(strategy string, entry float64, qty float64) *core.Position {
	return &core.Position{
		ID:           "pos-1",
		Symbol:       "BTCUSDT",
		Strategy:     strategy,
		Quantity:     decimal.NewFromFloat(qty),
		EntryPrice:   decimal.NewFromFloat(entry),
		EntryTime:    time.Now().Add(-2 * time.Hour),
		Params:       core.RiskParams{StopLossPercent: 2.0, TakeProfitPercent: 3.0},
		HighestPrice: decimal.NewFromFloat(entry),
		State:        core.PositionOpen,
	}
}

func injectPosition(t *testing.T, e *Engine, p *core.Position) {
	t.Helper()
	require.NoError(t, e.store.SavePosition(context.Background(), p))
	e.setPosition(p)
}

func TestEntrySize(t *testing.T) {
	free := decimal.NewFromInt(1000)

	// Size percent binds: min(150, 500, 500).
	amount := entrySize(free, 15, 50, 500)
	assert.True(t, amount.Equal(decimal.NewFromInt(150)), "got %s", amount)

	// Order cap binds.
	amount = entrySize(free, 80, 90, 500)
	assert.True(t, amount.Equal(decimal.NewFromInt(500)), "got %s", amount)

	// Pair allocation binds.
	amount = entrySize(free, 80, 20, 500)
	assert.True(t, amount.Equal(decimal.NewFromInt(200)), "got %s", amount)
}

func TestEffectiveParams(t *testing.T) {
	risk := config.Strategy{StopLossPercent: 2.0, TakeProfitPercent: 3.0, PositionSizePercent: 10.0}

	// No validator params: the strategy table as-is.
	params := effectiveParams(nil, risk)
	assert.Equal(t, 2.0, params.StopLossPercent)
	assert.Equal(t, 3.0, params.TakeProfitPercent)

	// Validator values win field by field.
	params = effectiveParams(&core.RiskParams{StopLossPercent: 1.5, RiskRewardRatio: 2.8}, risk)
	assert.Equal(t, 1.5, params.StopLossPercent)
	assert.Equal(t, 3.0, params.TakeProfitPercent, "absent field falls back to the table")
	assert.Equal(t, 2.8, params.RiskRewardRatio)

	// Out-of-range validator values are clamped, not trusted.
	params = effectiveParams(&core.RiskParams{StopLossPercent: 40}, risk)
	assert.Equal(t, core.MaxStopLossPercent, params.StopLossPercent)
}

func TestTryEnter_OpensPosition(t *testing.T) {
	venue := &fakeExchange{
		// 1% below the flat SMA10 trips the scalping dip entry.
		quote:    decimal.NewFromFloat(99.0),
		candles:  flatCandles(100, 100),
		balances: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1000)},
		buyOrder: core.Order{
			ExchangeID: 7,
			Pair:       "BTCUSDT",
			Side:       core.SideBuy,
			Quantity:   decimal.NewFromFloat(1.01),
			Price:      decimal.NewFromFloat(99.0),
			Quote:      decimal.NewFromInt(100),
			CreatedAt:  time.Now(),
		},
	}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)

	ctx := context.Background()
	snapshot := e.cfg.Current()
	var refusal atomic.Bool
	e.tryEnter(ctx, ctx, snapshot, snapshot.Pairs[0], &refusal)

	position := e.position("BTCUSDT")
	require.NotNil(t, position, "pipeline should end in an open position")
	assert.Equal(t, "scalping", position.Strategy)
	assert.Equal(t, core.PositionOpen, position.State)
	assert.True(t, position.Quantity.Equal(decimal.NewFromFloat(1.01)))
	assert.True(t, position.HighestPrice.Equal(position.EntryPrice), "peak starts at the fill price")
	assert.Equal(t, 1.5, position.Params.StopLossPercent, "validator stop wins")
	assert.Equal(t, 3.0, position.Params.TakeProfitPercent, "unset field falls back to defaults")
	assert.InDelta(t, 0.9, position.Confidence, 0.0001)

	// Sized as min(free x 10%, max order, free x 50% allocation) = $100.
	assert.True(t, venue.lastBuyQuote.Equal(decimal.NewFromInt(100)), "got %s", venue.lastBuyQuote)

	// Durable on both surfaces.
	stored, err := e.store.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	trades, err := e.store.Trades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, core.SideBuy, trades[0].Action)
	assert.Equal(t, core.ReasonStrategyEntry, trades[0].Reason)
	assert.Equal(t, position.ID, trades[0].ID)
}

func TestTryEnter_RefusesWhenEnsembleDisabled(t *testing.T) {
	venue := &fakeExchange{
		quote:    decimal.NewFromFloat(99.0),
		candles:  flatCandles(100, 100),
		balances: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1000)},
	}
	e := newTestEngine(t, engineConfig+`
ai:
  enabled: false
`, venue, approvingScorers()...)

	ctx := context.Background()
	snapshot := e.cfg.Current()
	var refusal atomic.Bool
	e.tryEnter(ctx, ctx, snapshot, snapshot.Pairs[0], &refusal)

	assert.Nil(t, e.position("BTCUSDT"))
	assert.Equal(t, 0, venue.buyCalls, "rule signal alone must never buy")
	assert.True(t, refusal.Load(), "the structural refusal is surfaced")
}

func TestTryEnter_BuyRetriesTransientFailures(t *testing.T) {
	venue := &fakeExchange{
		quote:       decimal.NewFromFloat(99.0),
		candles:     flatCandles(100, 100),
		balances:    map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1000)},
		buyFailures: 2,
		buyOrder: core.Order{
			Quantity: decimal.NewFromFloat(1.0), Price: decimal.NewFromFloat(99.0),
			Quote: decimal.NewFromInt(100), CreatedAt: time.Now(),
		},
	}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)

	ctx := context.Background()
	snapshot := e.cfg.Current()
	var refusal atomic.Bool
	e.tryEnter(ctx, ctx, snapshot, snapshot.Pairs[0], &refusal)

	assert.Equal(t, 3, venue.buyCalls, "two timeouts then a fill")
	assert.NotNil(t, e.position("BTCUSDT"))
}

func TestTryEnter_TerminalBuyErrorAbortsImmediately(t *testing.T) {
	venue := &fakeExchange{
		quote:    decimal.NewFromFloat(99.0),
		candles:  flatCandles(100, 100),
		balances: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1000)},
		buyErr:   &common.APIError{Code: -2010, Message: "Account has insufficient balance"},
	}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)

	ctx := context.Background()
	snapshot := e.cfg.Current()
	var refusal atomic.Bool
	e.tryEnter(ctx, ctx, snapshot, snapshot.Pairs[0], &refusal)

	assert.Equal(t, 1, venue.buyCalls, "business rejections are not retried")
	assert.Nil(t, e.position("BTCUSDT"))
}

func TestMonitor_TakeProfit(t *testing.T) {
	venue := &fakeExchange{
		quote: decimal.NewFromFloat(103.0),
		sellOrder: core.Order{
			ExchangeID: 9,
			Quantity:   decimal.NewFromFloat(1),
			Price:      decimal.NewFromFloat(103.0),
			Quote:      decimal.NewFromInt(103),
			CreatedAt:  time.Now(),
		},
	}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)
	injectPosition(t, e, openTestPosition("momentum", 100, 1))

	ctx := context.Background()
	e.monitorPosition(ctx, ctx, e.cfg.Current(), "BTCUSDT")

	assert.Nil(t, e.position("BTCUSDT"))
	stored, err := e.store.Positions(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)

	trades, err := e.store.Trades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, core.ReasonTakeProfit, trades[0].Reason)
	assert.True(t, trades[0].PnL.Equal(decimal.NewFromInt(3)), "got %s", trades[0].PnL)
	assert.True(t, trades[0].IsWin())
}

func TestMonitor_StopLoss(t *testing.T) {
	venue := &fakeExchange{
		quote: decimal.NewFromFloat(98.0),
		sellOrder: core.Order{
			Quantity: decimal.NewFromFloat(1), Price: decimal.NewFromFloat(98.0),
			Quote: decimal.NewFromInt(98), CreatedAt: time.Now(),
		},
	}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)
	injectPosition(t, e, openTestPosition("momentum", 100, 1))

	ctx := context.Background()
	e.monitorPosition(ctx, ctx, e.cfg.Current(), "BTCUSDT")

	trades, err := e.store.Trades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, core.ReasonStopLoss, trades[0].Reason)
	assert.True(t, trades[0].PnL.Equal(decimal.NewFromInt(-2)))
}

func TestMonitor_SmallMoveHolds(t *testing.T) {
	venue := &fakeExchange{quote: decimal.NewFromFloat(101.0), candleErr: errors.New("not needed")}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)
	position := openTestPosition("momentum", 100, 1)
	position.EntryTime = time.Now().Add(-time.Minute) // inside min hold
	injectPosition(t, e, position)

	ctx := context.Background()
	e.monitorPosition(ctx, ctx, e.cfg.Current(), "BTCUSDT")

	assert.Equal(t, 0, venue.sellCalls)
	got := e.position("BTCUSDT")
	require.NotNil(t, got)
	assert.Equal(t, core.PositionOpen, got.State)
	assert.True(t, got.HighestPrice.Equal(decimal.NewFromFloat(101.0)), "peak ratchets up")
}

func TestMonitor_TrailingStopArmsAtActivation(t *testing.T) {
	venue := &fakeExchange{quote: decimal.NewFromFloat(105.0)}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)
	position := openTestPosition("macd_supertrend", 100, 1)
	position.Params = core.RiskParams{StopLossPercent: 5.0, TakeProfitPercent: 15.0}
	injectPosition(t, e, position)

	ctx := context.Background()
	e.monitorPosition(ctx, ctx, e.cfg.Current(), "BTCUSDT")

	got := e.position("BTCUSDT")
	require.NotNil(t, got)
	assert.True(t, got.TrailingArmed)
	assert.Equal(t, 0, venue.sellCalls, "arming is not an exit")

	// The armed flag survives a reload.
	stored, err := e.store.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].TrailingArmed)
}

func TestMonitor_TrailingStopTriggers(t *testing.T) {
	venue := &fakeExchange{
		quote: decimal.NewFromFloat(106.5), // below 110 - 3%
		sellOrder: core.Order{
			Quantity: decimal.NewFromFloat(1), Price: decimal.NewFromFloat(106.5),
			Quote: decimal.NewFromFloat(106.5), CreatedAt: time.Now(),
		},
	}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)
	position := openTestPosition("macd_supertrend", 100, 1)
	position.Params = core.RiskParams{StopLossPercent: 5.0, TakeProfitPercent: 15.0}
	position.HighestPrice = decimal.NewFromInt(110)
	position.TrailingArmed = true
	injectPosition(t, e, position)

	ctx := context.Background()
	e.monitorPosition(ctx, ctx, e.cfg.Current(), "BTCUSDT")

	trades, err := e.store.Trades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, core.ReasonTrailingStop, trades[0].Reason)
	assert.Nil(t, e.position("BTCUSDT"))
}

func TestMonitor_DustPurgedWithoutSell(t *testing.T) {
	venue := &fakeExchange{quote: decimal.NewFromFloat(477.0)}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)
	// 0.001 x $477 = $0.48 notional, under the $1 floor.
	injectPosition(t, e, openTestPosition("momentum", 500, 0.001))

	ctx := context.Background()
	e.monitorPosition(ctx, ctx, e.cfg.Current(), "BTCUSDT")

	assert.Equal(t, 0, venue.sellCalls, "dust is never sold")
	assert.Nil(t, e.position("BTCUSDT"))

	trades, err := e.store.Trades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, core.ReasonDustPurge, trades[0].Reason)
	assert.NotEmpty(t, trades[0].Note)
}

func TestMonitor_VolumeMinRejectionReclassifiesAsDust(t *testing.T) {
	venue := &fakeExchange{
		quote:   decimal.NewFromFloat(103.0),
		sellErr: &common.APIError{Code: -1013, Message: "Filter failure: NOTIONAL"},
	}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)
	injectPosition(t, e, openTestPosition("momentum", 100, 1))

	ctx := context.Background()
	e.monitorPosition(ctx, ctx, e.cfg.Current(), "BTCUSDT")

	assert.Equal(t, 1, venue.sellCalls, "terminal rejection is not retried")
	assert.Nil(t, e.position("BTCUSDT"))

	trades, err := e.store.Trades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, core.ReasonDustPurge, trades[0].Reason)
}

func TestMonitor_SellRetryExhaustionReopens(t *testing.T) {
	venue := &fakeExchange{
		quote:   decimal.NewFromFloat(103.0),
		sellErr: errors.New("venue black hole"),
	}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)
	injectPosition(t, e, openTestPosition("momentum", 100, 1))

	ctx := context.Background()
	e.monitorPosition(ctx, ctx, e.cfg.Current(), "BTCUSDT")

	assert.Equal(t, 5, venue.sellCalls)

	got := e.position("BTCUSDT")
	require.NotNil(t, got, "the position is never dropped on a failed close")
	assert.Equal(t, core.PositionOpen, got.State, "back to OPEN for the next tick")
	assert.Equal(t, FlagCloseRetryExhausted, e.PositionFlags()["BTCUSDT"])

	stored, err := e.store.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, core.PositionOpen, stored[0].State)

	trades, err := e.store.Trades(ctx)
	require.NoError(t, err)
	assert.Empty(t, trades, "no fill, no record")
}

// TestPositions_SnapshotSafeDuringMonitor hammers the control-plane snapshot
// while the monitor ratchets the peak price, so the race detector sees any
// unfenced field write on a shared position.
func TestPositions_SnapshotSafeDuringMonitor(t *testing.T) {
	venue := &fakeExchange{quote: decimal.NewFromFloat(105.0)}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)
	position := openTestPosition("macd_supertrend", 100, 1)
	position.Params = core.RiskParams{StopLossPercent: 5.0, TakeProfitPercent: 50.0}
	injectPosition(t, e, position)

	ctx := context.Background()
	snapshot := e.cfg.Current()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			for _, p := range e.Positions() {
				_ = p.HighestPrice
				_ = p.TrailingArmed
				_ = p.State
			}
		}
	}()

	// Every iteration raises the quote so the peak write happens each pass.
	for i := 0; i < 50; i++ {
		venue.mu.Lock()
		venue.quote = decimal.NewFromFloat(105.0 + float64(i)*0.1)
		venue.mu.Unlock()
		e.monitorPosition(ctx, ctx, snapshot, "BTCUSDT")
	}
	<-done

	got := e.position("BTCUSDT")
	require.NotNil(t, got)
	assert.True(t, got.TrailingArmed)
	assert.True(t, got.HighestPrice.Equal(venue.quote), "peak tracks the last quote, got %s", got.HighestPrice)
}

func TestMonitor_TrailingDefaultsHoldSmallProfit(t *testing.T) {
	venue := &fakeExchange{quote: decimal.NewFromFloat(100.5), candleErr: errors.New("not needed")}
	e := newTestEngine(t, `
exchange:
  quote_asset: USDT
strategies:
  momentum:
    enabled: true
    trailing_stop:
      enabled: true
pairs:
  - symbol: BTCUSDT
    enabled: true
    allocation_percent: 50.0
    strategies: [momentum]
`, venue, approvingScorers()...)
	injectPosition(t, e, openTestPosition("momentum", 100, 1))

	ctx := context.Background()
	e.monitorPosition(ctx, ctx, e.cfg.Current(), "BTCUSDT")

	assert.Equal(t, 0, venue.sellCalls, "+0.5% is well below the 5% activation default")
	got := e.position("BTCUSDT")
	require.NotNil(t, got)
	assert.False(t, got.TrailingArmed)
	assert.Equal(t, core.PositionOpen, got.State)
}

func TestTryEnter_DisabledStrategyNeverBuys(t *testing.T) {
	venue := &fakeExchange{
		quote:    decimal.NewFromFloat(99.0),
		candles:  flatCandles(100, 100),
		balances: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1000)},
	}
	e := newTestEngine(t, `
exchange:
  quote_asset: USDT
strategies:
  scalping:
    enabled: false
pairs:
  - symbol: BTCUSDT
    enabled: true
    allocation_percent: 50.0
    strategies: [scalping]
`, venue, approvingScorers()...)

	ctx := context.Background()
	snapshot := e.cfg.Current()
	var refusal atomic.Bool
	e.tryEnter(ctx, ctx, snapshot, snapshot.Pairs[0], &refusal)

	assert.Nil(t, e.position("BTCUSDT"))
	assert.Equal(t, 0, venue.buyCalls, "a switched-off strategy produces no entries")
}

func TestReserveEntry_CountsPendingAgainstPositionCap(t *testing.T) {
	e := newTestEngine(t, engineConfig, &fakeExchange{}, approvingScorers()...)
	snapshot := e.cfg.Current()
	quote := decimal.NewFromInt(100)

	for _, symbol := range []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT", "EUSDT"} {
		require.True(t, e.reserveEntry(symbol, "momentum", quote, snapshot))
	}
	assert.False(t, e.reserveEntry("FUSDT", "momentum", quote, snapshot),
		"all five slots held by buys in flight")

	e.releaseEntry("AUSDT")
	assert.True(t, e.reserveEntry("FUSDT", "momentum", quote, snapshot),
		"a failed buy frees its slot")
}

func TestReserveEntry_CountsPendingAgainstExposure(t *testing.T) {
	e := newTestEngine(t, engineConfig, &fakeExchange{}, approvingScorers()...)
	snapshot := e.cfg.Current()

	require.True(t, e.reserveEntry("AUSDT", "momentum", decimal.NewFromInt(1900), snapshot))
	assert.False(t, e.reserveEntry("BUSDT", "momentum", decimal.NewFromInt(200), snapshot),
		"in-flight notional counts toward the exposure cap")
	assert.True(t, e.reserveEntry("BUSDT", "momentum", decimal.NewFromInt(100), snapshot))
}

func TestReserveEntry_PerStrategyCapIncludesPending(t *testing.T) {
	e := newTestEngine(t, `
exchange:
  quote_asset: USDT
limits:
  max_positions_per_strategy:
    scalping: 1
pairs:
  - symbol: BTCUSDT
    enabled: true
    allocation_percent: 50.0
    strategies: [scalping]
`, &fakeExchange{}, approvingScorers()...)
	snapshot := e.cfg.Current()
	quote := decimal.NewFromInt(100)

	require.True(t, e.reserveEntry("AUSDT", "scalping", quote, snapshot))
	assert.False(t, e.reserveEntry("BUSDT", "scalping", quote, snapshot))
	assert.True(t, e.reserveEntry("BUSDT", "momentum", quote, snapshot),
		"the cap is per strategy, not global")
}

func TestSetPosition_ConvertsReservation(t *testing.T) {
	e := newTestEngine(t, engineConfig, &fakeExchange{}, approvingScorers()...)
	snapshot := e.cfg.Current()
	quote := decimal.NewFromInt(100)

	require.True(t, e.reserveEntry("BTCUSDT", "momentum", quote, snapshot))
	e.setPosition(openTestPosition("momentum", 100, 1))

	// The filled position replaced its ticket, so four slots remain.
	for _, symbol := range []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT"} {
		require.True(t, e.reserveEntry(symbol, "momentum", quote, snapshot))
	}
	assert.False(t, e.reserveEntry("EUSDT", "momentum", quote, snapshot))
}

func TestRecover_OrphanClosedManual(t *testing.T) {
	venue := &fakeExchange{
		balances: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1000)},
	}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)
	ctx := context.Background()
	require.NoError(t, e.store.SavePosition(ctx, openTestPosition("momentum", 100, 1)))

	require.NoError(t, e.recover(ctx, e.cfg.Current()))

	assert.Nil(t, e.position("BTCUSDT"))
	stored, err := e.store.Positions(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)

	trades, err := e.store.Trades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, core.ReasonManual, trades[0].Reason)
	assert.True(t, trades[0].PnL.IsZero(), "PnL is unknowable without the missing fill")
	assert.Contains(t, trades[0].Note, "PnL unknown")
}

func TestRecover_ClosingStateReopens(t *testing.T) {
	venue := &fakeExchange{
		balances: map[string]decimal.Decimal{
			"USDT": decimal.NewFromInt(1000),
			"BTC":  decimal.NewFromFloat(1),
		},
	}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)
	ctx := context.Background()

	position := openTestPosition("momentum", 100, 1)
	position.State = core.PositionClosing
	require.NoError(t, e.store.SavePosition(ctx, position))

	require.NoError(t, e.recover(ctx, e.cfg.Current()))

	got := e.position("BTCUSDT")
	require.NotNil(t, got)
	assert.Equal(t, core.PositionOpen, got.State, "a crash mid-close reopens; the monitor decides again")

	stored, err := e.store.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, core.PositionOpen, stored[0].State)
}

func TestRecover_UntrackedBalanceIgnored(t *testing.T) {
	venue := &fakeExchange{
		balances: map[string]decimal.Decimal{
			"USDT": decimal.NewFromInt(1000),
			"ETH":  decimal.NewFromFloat(2),
		},
	}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)
	ctx := context.Background()

	require.NoError(t, e.recover(ctx, e.cfg.Current()))

	assert.Empty(t, e.Positions(), "the engine never infers entries it did not execute")
}

func TestStart_RefusesWithEnsembleDisabled(t *testing.T) {
	venue := &fakeExchange{balances: map[string]decimal.Decimal{}}
	e := newTestEngine(t, engineConfig+`
ai:
  enabled: false
`, venue, approvingScorers()...)

	err := e.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEnsembleDisabled)
	assert.Equal(t, StatusStopped, e.Status())
}

func TestStartStop_Lifecycle(t *testing.T) {
	venue := &fakeExchange{
		quote:     decimal.NewFromFloat(100),
		candleErr: errors.New("no data"),
		balances:  map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1000)},
	}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, StatusRunning, e.Status())
	require.NoError(t, e.Start(context.Background()), "second start is a no-op")

	e.Stop()
	assert.Equal(t, StatusStopped, e.Status())
}

func TestReport_IncludesAccountTotals(t *testing.T) {
	venue := &fakeExchange{balances: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(900)}}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)
	injectPosition(t, e, openTestPosition("momentum", 100, 1))

	report := e.Report(context.Background())
	assert.Contains(t, report, "Status: stopped")
	assert.Contains(t, report, "Positions: 1/5")
	assert.Contains(t, report, "Exposure: $100.00")
	assert.Contains(t, report, "Equity: $1000.00")
}

func TestRecentTrades_TailsTheLog(t *testing.T) {
	venue := &fakeExchange{balances: map[string]decimal.Decimal{}}
	e := newTestEngine(t, engineConfig, venue, approvingScorers()...)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		require.NoError(t, e.store.AppendTrade(ctx, &core.TradeRecord{
			ID: string(rune('a' + i)), Time: base.Add(time.Duration(i) * time.Minute),
			Symbol: "BTCUSDT", Action: core.SideBuy,
		}))
	}

	trades, err := e.RecentTrades(ctx, 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "c", trades[0].ID)
	assert.Equal(t, "d", trades[1].ID)
}
