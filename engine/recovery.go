package engine

import (
	"context"
	"time"

	"helmsman/config"
	"helmsman/core"
	"helmsman/exchange"

	"github.com/google/uuid"
)

// recover reloads persisted positions and reconciles them against exchange
// balances. Conservative policy: assets held on the exchange without a
// stored position are logged, never ingested (the engine does not infer
// entries it did not execute); stored positions whose asset the exchange no
// longer holds are closed MANUAL with unknown PnL.
func (e *Engine) recover(ctx context.Context, snapshot *config.Config) error {
	positions, err := e.store.Positions(ctx)
	if err != nil {
		return err
	}

	balances, err := e.exchange.Balances(ctx)
	if err != nil {
		return err
	}

	tracked := make(map[string]bool)
	for _, position := range positions {
		base, _ := exchange.SplitAssetQuote(position.Symbol)
		tracked[base] = true

		if balances[base].IsZero() {
			e.closeOrphan(ctx, position)
			continue
		}

		// A crash mid-close leaves CLOSING on disk; the sell may or may not
		// have filled. Reopen and let the monitor decide again.
		if position.State == core.PositionClosing {
			position.State = core.PositionOpen
			if err := e.store.SavePosition(ctx, position); err != nil {
				e.log.WithError(err).WithField("symbol", position.Symbol).
					Error("CRITICAL: failed to persist recovered position")
			}
		}
		e.setPosition(position)
		e.log.WithField("symbol", position.Symbol).
			WithField("strategy", position.Strategy).
			WithField("entry_price", core.FormatUSD(position.EntryPrice)).
			Info("recovered open position")
	}

	quoteAsset := snapshot.Exchange.QuoteAsset
	for asset, amount := range balances {
		if asset == quoteAsset || tracked[asset] || amount.IsZero() {
			continue
		}
		e.log.WithField("asset", asset).
			WithField("amount", amount.String()).
			Warn("exchange holds untracked balance, not opening a position for it")
	}

	e.log.WithField("positions", len(e.positions)).Info("startup recovery complete")
	return nil
}

// closeOrphan retires a stored position whose asset the exchange no longer
// shows. PnL is unknowable without the missing fill, so it is recorded zero.
func (e *Engine) closeOrphan(ctx context.Context, position *core.Position) {
	record := core.TradeRecord{
		ID:       uuid.NewString(),
		Time:     time.Now(),
		Symbol:   position.Symbol,
		Action:   core.SideSell,
		Quantity: position.Quantity,
		Price:    position.EntryPrice,
		Reason:   core.ReasonManual,
		Strategy: position.Strategy,
		Note:     "asset missing from exchange balance on recovery, PnL unknown",
	}

	if err := e.store.DeletePosition(ctx, position.Symbol); err != nil {
		e.log.WithError(err).WithField("symbol", position.Symbol).
			Error("CRITICAL: failed to delete orphaned position")
	}
	e.appendTrade(ctx, &record)

	e.log.WithField("symbol", position.Symbol).
		Warn("stored position has no backing balance, closed with unknown PnL")
}
