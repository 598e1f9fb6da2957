package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// Exchange is the full surface the engine requires from a spot venue.
type Exchange interface {
	Broker
	Feeder
}

// Feeder provides read-only market data.
type Feeder interface {
	AssetsInfo(pair string) (AssetInfo, error)
	LastQuote(ctx context.Context, pair string) (decimal.Decimal, error)
	CandlesByLimit(ctx context.Context, pair, timeframe string, limit int) ([]Candle, error)
}

// Broker executes orders and reports balances. Every order is a market order:
// buys are sized in quote currency notional, sells in base asset units.
type Broker interface {
	Balances(ctx context.Context) (map[string]decimal.Decimal, error)
	CreateOrderMarketQuote(ctx context.Context, pair string, quote decimal.Decimal) (Order, error)
	CreateOrderMarket(ctx context.Context, pair string, size decimal.Decimal) (Order, error)
}

// Notifier receives human-facing events from the engine.
type Notifier interface {
	Notify(text string)
	OnTrade(record TradeRecord)
	OnError(err error)
}

type NotifierWithStart interface {
	Notifier
	Start()
}
