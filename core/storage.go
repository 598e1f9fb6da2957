package core

import (
	"context"
	"time"
)

// PositionStore persists the authoritative open-position snapshot. Every
// mutation is durable before the engine proceeds.
type PositionStore interface {
	SavePosition(ctx context.Context, position *Position) error
	DeletePosition(ctx context.Context, symbol string) error
	Positions(ctx context.Context) ([]*Position, error)
}

// TradeLog is the append-only history of executed fills.
type TradeLog interface {
	AppendTrade(ctx context.Context, record *TradeRecord) error
	Trades(ctx context.Context, filters ...TradeFilter) ([]*TradeRecord, error)
}

// Storage combines both persistence surfaces.
type Storage interface {
	PositionStore
	TradeLog
}

// TradeFilter selects trade records from the log.
type TradeFilter func(record TradeRecord) bool

// WithSymbol filters trades by trading pair.
func WithSymbol(symbol string) TradeFilter {
	return func(record TradeRecord) bool {
		return record.Symbol == symbol
	}
}

// WithAction filters trades by side.
func WithAction(action Side) TradeFilter {
	return func(record TradeRecord) bool {
		return record.Action == action
	}
}

// WithReason filters trades by exit/entry reason.
func WithReason(reason TradeReason) TradeFilter {
	return func(record TradeRecord) bool {
		return record.Reason == reason
	}
}

// WithSince filters trades executed at or after the given time.
func WithSince(t time.Time) TradeFilter {
	return func(record TradeRecord) bool {
		return !record.Time.Before(t)
	}
}
