package core

import "github.com/shopspring/decimal"

// Regime is a coarse volatility classification used for position sizing and
// in validator prompts.
type Regime string

const (
	RegimeLow    Regime = "LOW"
	RegimeNormal Regime = "NORMAL"
	RegimeHigh   Regime = "HIGH"
)

// VolatilityMetrics summarizes how much a market is moving.
type VolatilityMetrics struct {
	ATR                  float64 `json:"atr"`
	ATRPercent           float64 `json:"atr_percent"`
	AvgDailyRangePercent float64 `json:"avg_daily_range_percent"`
	Regime               Regime  `json:"regime"`
}

// PortfolioContext is a point-in-time view of account-wide state handed to
// the validation ensemble alongside per-symbol market data.
type PortfolioContext struct {
	OpenPositions int             `json:"open_positions"`
	MaxPositions  int             `json:"max_positions"`
	ByStrategy    map[string]int  `json:"by_strategy"`
	Symbols       []string        `json:"symbols"`
	QuoteBalance  decimal.Decimal `json:"quote_balance"`
	TotalExposure decimal.Decimal `json:"total_exposure"`
	Equity        decimal.Decimal `json:"equity"`
	DailyPnL      decimal.Decimal `json:"daily_pnl"`
	RecentTrades  []TradeRecord   `json:"recent_trades,omitempty"`
}
