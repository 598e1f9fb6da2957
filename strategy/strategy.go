// Package strategy provides the rule-based entry/exit evaluators.
package strategy

import (
	"time"

	"helmsman/core"
	"helmsman/indicator"

	"github.com/shopspring/decimal"
)

// Strategy tag names.
const (
	Scalping       = "scalping"
	Momentum       = "momentum"
	MeanReversion  = "mean_reversion"
	MACDSuperTrend = "macd_supertrend"
)

// Context is everything a strategy may look at. Strategies are pure over
// this value: same context, same answer.
type Context struct {
	Symbol string
	Price  decimal.Decimal
	Snap   indicator.Snapshot

	// Position is the open position for this symbol, or nil. Exit rules only
	// fire against a position the same strategy entered.
	Position      *core.Position
	ProfitPercent decimal.Decimal

	Now time.Time
}

// Strategy is one rule set. Evaluate returns BUY for an entry candidate,
// SELL for a strategy-owned exit suggestion, or HOLD.
type Strategy interface {
	Name() string
	MinHold() time.Duration
	Evaluate(ctx Context) core.Side
}

// Signal is an entry candidate emitted by the evaluator.
type Signal struct {
	Strategy   string
	Side       core.Side
	Price      decimal.Decimal
	DetectedAt time.Time
}

// Evaluator runs the registered strategies against a symbol context.
type Evaluator struct {
	registry map[string]Strategy
}

func NewEvaluator() *Evaluator {
	e := &Evaluator{registry: make(map[string]Strategy)}
	for _, s := range []Strategy{
		&ScalpingStrategy{},
		&MomentumStrategy{},
		&MeanReversionStrategy{},
		&MACDSuperTrendStrategy{},
	} {
		e.registry[s.Name()] = s
	}
	return e
}

// Get returns a registered strategy by tag.
func (e *Evaluator) Get(name string) (Strategy, bool) {
	s, ok := e.registry[name]
	return s, ok
}

// Entry evaluates the enabled strategies in pair-config order and returns
// the first BUY candidate. Ties go to the first strategy listed.
func (e *Evaluator) Entry(ctx Context, enabled []string) (Signal, bool) {
	for _, name := range enabled {
		s, ok := e.registry[name]
		if !ok {
			continue
		}
		if s.Evaluate(ctx) == core.SideBuy {
			return Signal{
				Strategy:   name,
				Side:       core.SideBuy,
				Price:      ctx.Price,
				DetectedAt: ctx.Now,
			}, true
		}
	}
	return Signal{}, false
}

// Exit asks the strategy that owns the position for a SELL suggestion.
// Only momentum and mean reversion ever answer SELL.
func (e *Evaluator) Exit(ctx Context) bool {
	if ctx.Position == nil {
		return false
	}
	s, ok := e.registry[ctx.Position.Strategy]
	if !ok {
		return false
	}
	return s.Evaluate(ctx) == core.SideSell
}
