package engine

import (
	"context"
	"time"

	"helmsman/config"
	"helmsman/core"
	"helmsman/exchange"
	"helmsman/indicator"
	"helmsman/strategy"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
)

const (
	priceFetchAttempts = 3
	priceFetchDelay    = 2 * time.Second

	sellMaxAttempts = 5
	sellBackoffStep = 3 * time.Second
)

// monitorPosition runs the exit pipeline for one open position. tickCtx
// bounds data fetching; execCtx bounds sell execution, which is never
// cancelled by the tick deadline.
func (e *Engine) monitorPosition(
	tickCtx, execCtx context.Context,
	snapshot *config.Config,
	symbol string,
) {
	lock := e.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	position := e.position(symbol)
	if position == nil || position.State != core.PositionOpen {
		return
	}
	log := e.log.WithField("symbol", symbol).WithField("strategy", position.Strategy)

	price, err := e.fetchPriceWithRetry(tickCtx, symbol)
	if err != nil {
		log.WithError(err).Warn("price unavailable, skipping position this tick")
		return
	}

	// Dust: unsellable below the exchange minimum, purge without a sell.
	minOrder := decimal.NewFromFloat(snapshot.Limits.MinOrderValueUSD)
	if position.NotionalAt(price).LessThan(minOrder) {
		e.purgeDust(execCtx, position, price)
		return
	}

	newPeak := false
	e.updatePosition(position, func(p *core.Position) {
		newPeak = p.UpdateHighest(price)
	})
	if newPeak {
		if err := e.store.SavePosition(execCtx, position); err != nil {
			log.WithError(err).Error("CRITICAL: failed to persist peak price")
		}
	}

	profit := position.ProfitPercentAt(price)
	risk := snapshot.StrategyRisk(position.Strategy)

	if risk.TrailingStop.Enabled {
		trailing := strategy.NewTrailingStop(
			risk.TrailingStop.ActivationPercent, risk.TrailingStop.DistancePercent)
		if !position.TrailingArmed && trailing.ShouldArm(profit) {
			e.updatePosition(position, func(p *core.Position) { p.TrailingArmed = true })
			if err := e.store.SavePosition(execCtx, position); err != nil {
				log.WithError(err).Error("CRITICAL: failed to persist trailing arm")
			}
			log.WithField("profit_percent", profit.StringFixed(2)).Info("trailing stop armed")
		}
		if position.TrailingArmed && trailing.Triggered(price, position.HighestPrice) {
			e.sellWithRetry(execCtx, position, core.ReasonTrailingStop)
			return
		}
	}

	stopLoss := decimal.NewFromFloat(exitStopLoss(position, risk))
	if profit.LessThanOrEqual(stopLoss.Neg()) {
		e.sellWithRetry(execCtx, position, core.ReasonStopLoss)
		return
	}

	takeProfit := decimal.NewFromFloat(exitTakeProfit(position, risk))
	if profit.GreaterThanOrEqual(takeProfit) {
		e.sellWithRetry(execCtx, position, core.ReasonTakeProfit)
		return
	}

	if e.strategyWantsExit(tickCtx, snapshot, position, price, profit, risk) {
		e.sellWithRetry(execCtx, position, core.ReasonStrategyExit)
	}
}

// exitStopLoss resolves the effective stop-loss percent: the AI-set value
// wins; legacy positions fall back to the strategy table.
func exitStopLoss(position *core.Position, risk config.Strategy) float64 {
	if position.Params.StopLossPercent != 0 {
		return position.Params.StopLossPercent
	}
	return risk.StopLossPercent
}

func exitTakeProfit(position *core.Position, risk config.Strategy) float64 {
	if position.Params.TakeProfitPercent != 0 {
		return position.Params.TakeProfitPercent
	}
	return risk.TakeProfitPercent
}

// strategyWantsExit asks the position's own strategy for a SELL suggestion.
// Only momentum and mean reversion ever answer; both respect min hold.
func (e *Engine) strategyWantsExit(
	ctx context.Context,
	snapshot *config.Config,
	position *core.Position,
	price decimal.Decimal,
	profit decimal.Decimal,
	risk config.Strategy,
) bool {
	if !snapshot.StrategyEnabled(position.Strategy) {
		return false
	}
	owner, ok := e.evaluator.Get(position.Strategy)
	if !ok {
		return false
	}

	now := time.Now()
	minHold := owner.MinHold()
	if risk.MinHoldMinutes > 0 {
		minHold = time.Duration(risk.MinHoldMinutes) * time.Minute
	}
	if position.Age(now) < minHold {
		return false
	}

	candles, err := e.exchange.CandlesByLimit(
		ctx, position.Symbol, snapshot.Engine.Timeframe, snapshot.Engine.CandleWindow)
	if err != nil {
		return false
	}
	df := core.NewDataframe(position.Symbol, candles)
	snap, err := indicator.Compute(df, e.tracker, now)
	if err != nil {
		return false
	}

	return e.evaluator.Exit(strategy.Context{
		Symbol:        position.Symbol,
		Price:         price,
		Snap:          snap,
		Position:      position,
		ProfitPercent: profit,
		Now:           now,
	})
}

// fetchPriceWithRetry fetches the last quote with a short constant backoff.
func (e *Engine) fetchPriceWithRetry(ctx context.Context, symbol string) (decimal.Decimal, error) {
	delay := &backoff.Backoff{Min: e.priceRetryDelay, Max: e.priceRetryDelay}
	var lastErr error
	for attempt := 1; attempt <= priceFetchAttempts; attempt++ {
		price, err := e.exchange.LastQuote(ctx, symbol)
		if err == nil {
			return price, nil
		}
		lastErr = err
		if attempt == priceFetchAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-time.After(delay.Duration()):
		}
	}
	return decimal.Zero, lastErr
}

// sellWithRetry drives OPEN → CLOSING → CLOSED. Up to five attempts with
// 3s/6s/9s/12s/15s backoff; each attempt re-fetches the price so the
// recorded PnL reflects the actual market at fill time. On "volume minimum"
// the position is reclassified as dust. On exhaustion the position returns
// to OPEN, carries the retry-exhausted flag, and is retried next tick.
func (e *Engine) sellWithRetry(ctx context.Context, position *core.Position, reason core.TradeReason) {
	log := e.log.WithField("symbol", position.Symbol).WithField("reason", string(reason))

	e.updatePosition(position, func(p *core.Position) { p.State = core.PositionClosing })
	if err := e.store.SavePosition(ctx, position); err != nil {
		log.WithError(err).Error("CRITICAL: failed to persist closing state")
	}

	var lastErr error
	for attempt := 1; attempt <= sellMaxAttempts; attempt++ {
		price, err := e.exchange.LastQuote(ctx, position.Symbol)
		if err != nil {
			price = position.HighestPrice
		}

		order, err := e.exchange.CreateOrderMarket(ctx, position.Symbol, position.Quantity)
		if err == nil {
			if order.Price.IsZero() {
				order.Price = price
			}
			e.closePosition(ctx, position, order, reason)
			return
		}
		lastErr = err

		if exchange.IsVolumeMin(err) {
			log.WithError(err).Info("sell rejected below volume minimum, reclassifying as dust")
			e.purgeDust(ctx, position, price)
			return
		}
		if attempt == sellMaxAttempts {
			break
		}

		delay := time.Duration(attempt) * e.sellBackoffStep
		log.WithError(err).WithField("attempt", attempt).
			Warn("sell attempt failed, backing off ", delay)
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = sellMaxAttempts
		case <-time.After(delay):
		}
	}

	// Back to OPEN so the next tick re-evaluates and retries.
	e.updatePosition(position, func(p *core.Position) { p.State = core.PositionOpen })
	if err := e.store.SavePosition(ctx, position); err != nil {
		log.WithError(err).Error("CRITICAL: failed to persist reopen after failed close")
	}
	e.setFlag(position.Symbol, FlagCloseRetryExhausted)
	log.WithError(lastErr).Error("CRITICAL: close retries exhausted, position remains open")
	e.notifyError(lastErr)
}

// closePosition finalizes a filled sell: CLOSED state, terminal trade
// record, removal from the open set.
func (e *Engine) closePosition(ctx context.Context, position *core.Position, order core.Order, reason core.TradeReason) {
	e.updatePosition(position, func(p *core.Position) { p.State = core.PositionClosed })

	pnl := order.Price.Sub(position.EntryPrice).Mul(order.Quantity)
	record := core.TradeRecord{
		ID:         uuid.NewString(),
		Time:       order.CreatedAt,
		Symbol:     position.Symbol,
		Action:     core.SideSell,
		Quantity:   order.Quantity,
		Price:      order.Price,
		QuoteValue: order.Quote,
		Reason:     reason,
		Strategy:   position.Strategy,
		PnL:        pnl,
		PnLPercent: position.ProfitPercentAt(order.Price),
		OrderID:    order.ExchangeID,
	}

	if err := e.store.DeletePosition(ctx, position.Symbol); err != nil {
		e.log.WithError(err).WithField("symbol", position.Symbol).
			Error("CRITICAL: failed to delete closed position")
	}
	e.appendTrade(ctx, &record)
	e.removePosition(position.Symbol)
	e.notifyTrade(record)

	e.log.WithField("symbol", position.Symbol).
		WithField("reason", string(reason)).
		WithField("pnl", core.FormatUSD(pnl)).
		WithField("pnl_percent", record.PnLPercent.StringFixed(2)).
		Info("position closed")
}

// purgeDust removes an unsellable position without a sell order.
func (e *Engine) purgeDust(ctx context.Context, position *core.Position, price decimal.Decimal) {
	e.updatePosition(position, func(p *core.Position) { p.State = core.PositionClosed })

	pnl := price.Sub(position.EntryPrice).Mul(position.Quantity)
	record := core.TradeRecord{
		ID:         uuid.NewString(),
		Time:       time.Now(),
		Symbol:     position.Symbol,
		Action:     core.SideSell,
		Quantity:   position.Quantity,
		Price:      price,
		QuoteValue: position.NotionalAt(price),
		Reason:     core.ReasonDustPurge,
		Strategy:   position.Strategy,
		PnL:        pnl,
		PnLPercent: position.ProfitPercentAt(price),
		Note:       "notional below minimum order value, no sell attempted",
	}

	if err := e.store.DeletePosition(ctx, position.Symbol); err != nil {
		e.log.WithError(err).WithField("symbol", position.Symbol).
			Error("CRITICAL: failed to delete dust position")
	}
	e.appendTrade(ctx, &record)
	e.removePosition(position.Symbol)
	e.notifyTrade(record)

	e.log.WithField("symbol", position.Symbol).
		WithField("notional", core.FormatUSD(record.QuoteValue)).
		Warn("dust position purged")
}
