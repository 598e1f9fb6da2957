package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"helmsman/ai"
	"helmsman/config"
	"helmsman/core"
	"helmsman/exchange"
	"helmsman/indicator"
	"helmsman/strategy"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	buyMaxAttempts = 3
	buyBackoffStep = 3 * time.Second
)

// tryEnter runs the entry pipeline for one symbol without an open position.
// tickCtx bounds data fetching and validation; execCtx bounds order
// execution, which outlives the tick deadline because a submitted order
// cannot be cancelled.
func (e *Engine) tryEnter(
	tickCtx, execCtx context.Context,
	snapshot *config.Config,
	pair config.Pair,
	refusalLogged *atomic.Bool,
) {
	lock := e.symbolLock(pair.Symbol)
	lock.Lock()
	defer lock.Unlock()

	log := e.log.WithField("symbol", pair.Symbol)

	if e.position(pair.Symbol) != nil {
		return
	}
	if e.openCount() >= snapshot.Limits.MaxTotalPositions {
		log.Debug("position limit reached, skipping entry scan")
		return
	}

	candles, err := e.exchange.CandlesByLimit(
		tickCtx, pair.Symbol, snapshot.Engine.Timeframe, snapshot.Engine.CandleWindow)
	if err != nil {
		log.WithError(err).Warn("failed to fetch candles")
		return
	}
	df := core.NewDataframe(pair.Symbol, candles)

	now := time.Now()
	snap, err := indicator.Compute(df, e.tracker, now)
	if err != nil {
		log.WithError(err).Warn("failed to compute indicators")
		return
	}

	price, err := e.exchange.LastQuote(tickCtx, pair.Symbol)
	if err != nil {
		log.WithError(err).Warn("failed to fetch last quote")
		return
	}

	enabled := lo.Filter(pair.Strategies, func(name string, _ int) bool {
		return snapshot.StrategyEnabled(name)
	})
	if len(enabled) == 0 {
		return
	}

	signal, ok := e.evaluator.Entry(strategy.Context{
		Symbol: pair.Symbol,
		Price:  price,
		Snap:   snap,
		Now:    now,
	}, enabled)
	if !ok {
		return
	}
	log = log.WithField("strategy", signal.Strategy)

	// The ensemble gate is structural: with the ensemble off the engine
	// refuses to buy, it does not fall back to rules.
	if !snapshot.AI.Enabled {
		if refusalLogged.CompareAndSwap(false, true) {
			log.Error("CRITICAL: entry candidate found but validation ensemble is disabled, refusing all buys")
		}
		return
	}

	if limit := snapshot.StrategyCap(signal.Strategy); limit > 0 && e.countByStrategy(signal.Strategy) >= limit {
		log.Debug("per-strategy position cap reached")
		return
	}

	balances, err := e.exchange.Balances(tickCtx)
	if err != nil {
		log.WithError(err).Warn("failed to fetch balances")
		return
	}
	quoteAsset := snapshot.Exchange.QuoteAsset
	free := balances[quoteAsset]

	portfolio := e.portfolioContext(tickCtx, snapshot, pair.Symbol, free)
	volatility := indicator.Volatility(df, snap)

	verdict := e.ensemble.Validate(tickCtx, ai.Input{
		Symbol:     pair.Symbol,
		Strategy:   signal.Strategy,
		Price:      price,
		Candles:    candles,
		Snap:       snap,
		Portfolio:  portfolio,
		Volatility: volatility,
		Now:        now,
	}, ensembleOptions(snapshot))

	if !verdict.Approves(snapshot.AI.MinConfidence) {
		log.WithField("side", verdict.Side).
			WithField("confidence", verdict.Confidence).
			Debug("ensemble rejected entry candidate")
		return
	}

	params := effectiveParams(verdict.Params, snapshot.StrategyRisk(signal.Strategy))

	quoteAmount := entrySize(free, params.PositionSizePercent, pair.AllocationPercent,
		snapshot.Limits.MaxOrderSizeUSD)

	minOrder := decimal.NewFromFloat(snapshot.Limits.MinOrderValueUSD)
	if quoteAmount.LessThan(minOrder) {
		log.WithField("quote_amount", core.FormatUSD(quoteAmount)).
			Debug("entry size below dust floor, skipping")
		return
	}

	if !e.reserveEntry(pair.Symbol, signal.Strategy, quoteAmount, snapshot) {
		log.Debug("position or exposure limit reached, skipping entry")
		return
	}

	order, err := e.buyWithRetry(execCtx, pair.Symbol, quoteAmount)
	if err != nil {
		e.releaseEntry(pair.Symbol)
		log.WithError(err).Error("CRITICAL: buy failed after all retries")
		e.notifyError(err)
		return
	}

	position := &core.Position{
		ID:           uuid.NewString(),
		Symbol:       pair.Symbol,
		Strategy:     signal.Strategy,
		Quantity:     order.Quantity,
		EntryPrice:   order.Price,
		EntryTime:    order.CreatedAt,
		Confidence:   verdict.Confidence,
		Params:       params,
		HighestPrice: order.Price,
		State:        core.PositionOpen,
		OrderID:      order.ExchangeID,
	}
	if err := e.store.SavePosition(execCtx, position); err != nil {
		log.WithError(err).Error("CRITICAL: failed to persist new position")
		e.notifyError(err)
	}
	e.setPosition(position)

	record := core.TradeRecord{
		ID:         position.ID,
		Time:       order.CreatedAt,
		Symbol:     pair.Symbol,
		Action:     core.SideBuy,
		Quantity:   order.Quantity,
		Price:      order.Price,
		QuoteValue: order.Quote,
		Reason:     core.ReasonStrategyEntry,
		Strategy:   signal.Strategy,
		Confidence: verdict.Confidence,
		OrderID:    order.ExchangeID,
	}
	e.appendTrade(execCtx, &record)
	e.notifyTrade(record)

	log.WithField("quantity", order.Quantity.String()).
		WithField("price", core.FormatUSD(order.Price)).
		WithField("confidence", verdict.Confidence).
		Info("position opened")
}

// effectiveParams merges validator-set parameters with the strategy risk
// table. Validator values win field by field; absent values fall back.
func effectiveParams(fromVerdict *core.RiskParams, risk config.Strategy) core.RiskParams {
	params := core.RiskParams{
		StopLossPercent:     risk.StopLossPercent,
		TakeProfitPercent:   risk.TakeProfitPercent,
		PositionSizePercent: risk.PositionSizePercent,
	}
	if fromVerdict == nil {
		return params.Clamped()
	}
	if fromVerdict.StopLossPercent != 0 {
		params.StopLossPercent = fromVerdict.StopLossPercent
	}
	if fromVerdict.TakeProfitPercent != 0 {
		params.TakeProfitPercent = fromVerdict.TakeProfitPercent
	}
	if fromVerdict.PositionSizePercent != 0 {
		params.PositionSizePercent = fromVerdict.PositionSizePercent
	}
	params.RiskRewardRatio = fromVerdict.RiskRewardRatio
	return params.Clamped()
}

// entrySize computes the quote notional for a buy:
// min(free × size%, max order size, free × pair allocation%).
func entrySize(free decimal.Decimal, sizePercent, allocationPercent, maxOrderUSD float64) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	bySize := free.Mul(decimal.NewFromFloat(sizePercent)).Div(hundred)
	byAllocation := free.Mul(decimal.NewFromFloat(allocationPercent)).Div(hundred)
	byOrderCap := decimal.NewFromFloat(maxOrderUSD)

	amount := bySize
	if byOrderCap.LessThan(amount) {
		amount = byOrderCap
	}
	if byAllocation.LessThan(amount) {
		amount = byAllocation
	}
	return amount
}

// buyWithRetry submits a market buy with up to three attempts, backing off
// 3s, 6s, 9s between them. Terminal business errors abort immediately.
func (e *Engine) buyWithRetry(ctx context.Context, symbol string, quote decimal.Decimal) (core.Order, error) {
	var lastErr error
	for attempt := 1; attempt <= buyMaxAttempts; attempt++ {
		order, err := e.exchange.CreateOrderMarketQuote(ctx, symbol, quote)
		if err == nil {
			return order, nil
		}
		lastErr = err
		if !exchange.IsTransient(err) {
			return core.Order{}, err
		}
		if attempt == buyMaxAttempts {
			break
		}
		delay := time.Duration(attempt) * e.buyBackoffStep
		e.log.WithError(err).WithField("symbol", symbol).
			WithField("attempt", attempt).
			Warn("buy attempt failed, backing off ", delay)
		select {
		case <-ctx.Done():
			return core.Order{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return core.Order{}, fmt.Errorf("%w: %v", core.ErrRetriesExhausted, lastErr)
}
