package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the normalized result of a filled market order.
type Order struct {
	ExchangeID int64
	Pair       string
	Side       Side
	Quantity   decimal.Decimal // filled base quantity
	Price      decimal.Decimal // average fill price
	Quote      decimal.Decimal // filled quote notional
	CreatedAt  time.Time
}
