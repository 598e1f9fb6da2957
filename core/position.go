package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionState is the lifecycle state of an open position.
type PositionState string

const (
	PositionOpen    PositionState = "OPEN"
	PositionClosing PositionState = "CLOSING"
	PositionClosed  PositionState = "CLOSED"
)

// Position is a held spot position. All money fields are decimals parsed
// straight from exchange wire strings. Only the engine monitor mutates
// HighestPrice and TrailingArmed.
type Position struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Strategy      string          `json:"strategy"`
	Quantity      decimal.Decimal `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	EntryTime     time.Time       `json:"entry_time"`
	Confidence    float64         `json:"confidence"`
	Params        RiskParams      `json:"params"`
	HighestPrice  decimal.Decimal `json:"highest_price"`
	TrailingArmed bool            `json:"trailing_armed"`
	State         PositionState   `json:"state"`
	OrderID       int64           `json:"order_id"`
}

// Validate checks the structural invariants a position must hold at rest.
func (p *Position) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidPosition)
	}
	if !p.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity %s", ErrInvalidPosition, p.Quantity)
	}
	if !p.EntryPrice.IsPositive() {
		return fmt.Errorf("%w: entry price %s", ErrInvalidPosition, p.EntryPrice)
	}
	if p.HighestPrice.LessThan(p.EntryPrice) {
		return fmt.Errorf("%w: highest price %s below entry %s",
			ErrInvalidPosition, p.HighestPrice, p.EntryPrice)
	}
	switch p.State {
	case PositionOpen, PositionClosing, PositionClosed:
	default:
		return fmt.Errorf("%w: state %q", ErrInvalidPosition, p.State)
	}
	if err := p.Params.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	return nil
}

// NotionalAt returns the position value in quote currency at the given price.
func (p *Position) NotionalAt(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// ProfitPercentAt returns the unrealized PnL percentage at the given price.
func (p *Position) ProfitPercentAt(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

// UpdateHighest ratchets the peak price. Returns true when the price set a
// new high. The peak never moves down.
func (p *Position) UpdateHighest(price decimal.Decimal) bool {
	if price.GreaterThan(p.HighestPrice) {
		p.HighestPrice = price
		return true
	}
	return false
}

// DrawdownFromPeakPercent returns how far the price has fallen from the
// recorded peak, as a positive percentage.
func (p *Position) DrawdownFromPeakPercent(price decimal.Decimal) decimal.Decimal {
	if p.HighestPrice.IsZero() {
		return decimal.Zero
	}
	return p.HighestPrice.Sub(price).Div(p.HighestPrice).Mul(decimal.NewFromInt(100))
}

// Age returns how long the position has been held.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}
