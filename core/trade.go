package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeReason explains why a fill happened.
type TradeReason string

const (
	ReasonStrategyEntry TradeReason = "STRATEGY_ENTRY"
	ReasonStrategyExit  TradeReason = "STRATEGY_EXIT"
	ReasonTakeProfit    TradeReason = "TAKE_PROFIT"
	ReasonStopLoss      TradeReason = "STOP_LOSS"
	ReasonTrailingStop  TradeReason = "TRAILING_STOP"
	ReasonDustPurge     TradeReason = "DUST_PURGE"
	ReasonManual        TradeReason = "MANUAL"
)

// TradeRecord is one executed fill, appended to the trade log. PnL fields are
// only meaningful on sells.
type TradeRecord struct {
	ID         string          `json:"id"`
	Time       time.Time       `json:"time"`
	Symbol     string          `json:"symbol"`
	Action     Side            `json:"action"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	QuoteValue decimal.Decimal `json:"quote_value"`
	Reason     TradeReason     `json:"reason"`
	Strategy   string          `json:"strategy"`
	Confidence float64         `json:"confidence,omitempty"`
	PnL        decimal.Decimal `json:"pnl"`
	PnLPercent decimal.Decimal `json:"pnl_percent"`
	OrderID    int64           `json:"order_id"`
	Note       string          `json:"note,omitempty"`
}

// IsWin reports whether a closed trade finished in profit.
func (t TradeRecord) IsWin() bool {
	return t.Action == SideSell && t.PnL.IsPositive()
}
