package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"helmsman/core"

	"github.com/tidwall/buntdb"
)

const (
	positionPrefix   = "position:"
	tradePrefix      = "trade:"
	quarantinePrefix = "quarantine:"

	// tradeIndexName orders trade history by execution time.
	tradeIndexName = "trade_time"
)

// BuntStorage persists positions and trade history as JSON records in a
// single BuntDB file. Positions are keyed by symbol and rewritten on every
// mutation; trades are append-only. SyncPolicy Always keeps every mutation
// durable before the call returns.
type BuntStorage struct {
	lastID int64
	db     *buntdb.DB
	log    core.Logger
}

// NewFromMemory creates an in-memory storage, used by tests.
func NewFromMemory(log core.Logger) (*BuntStorage, error) {
	return NewBuntStorage(":memory:", log)
}

// NewBuntStorage opens or creates the storage file.
func NewBuntStorage(sourceFile string, log core.Logger) (*BuntStorage, error) {
	db, err := buntdb.Open(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}

	if err := db.SetConfig(buntdb.Config{
		SyncPolicy: buntdb.Always,
	}); err != nil {
		return nil, fmt.Errorf("failed to configure buntdb: %w", err)
	}

	if err := db.CreateIndex(tradeIndexName, tradePrefix+"*", buntdb.IndexJSON("time")); err != nil {
		return nil, fmt.Errorf("failed to create trade index: %w", err)
	}

	return &BuntStorage{db: db, log: log}, nil
}

// getID generates a unique suffix for trade keys
func (b *BuntStorage) getID() int64 {
	return atomic.AddInt64(&b.lastID, 1)
}

// SavePosition writes the position snapshot for its symbol.
func (b *BuntStorage) SavePosition(_ context.Context, position *core.Position) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		content, err := json.Marshal(position)
		if err != nil {
			return fmt.Errorf("failed to marshal position: %w", err)
		}

		_, _, err = tx.Set(positionPrefix+position.Symbol, string(content), nil)
		if err != nil {
			return fmt.Errorf("failed to store position: %w", err)
		}
		return nil
	})
}

// DeletePosition removes the symbol from the open set.
func (b *BuntStorage) DeletePosition(_ context.Context, symbol string) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(positionPrefix + symbol)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// Positions loads every stored open position. Records failing the position
// invariants are moved under the quarantine prefix and logged, never
// returned: a torn or hand-edited record must not become an open position.
func (b *BuntStorage) Positions(_ context.Context) ([]*core.Position, error) {
	positions := make([]*core.Position, 0)
	quarantine := make(map[string]string)

	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(positionPrefix+"*", func(key, value string) bool {
			var position core.Position
			if err := json.Unmarshal([]byte(value), &position); err != nil {
				b.log.WithError(err).WithField("key", key).Error("quarantining unreadable position record")
				quarantine[key] = value
				return true
			}
			if err := position.Validate(); err != nil {
				b.log.WithError(err).WithField("key", key).Error("quarantining invalid position record")
				quarantine[key] = value
				return true
			}
			positions = append(positions, &position)
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	if len(quarantine) > 0 {
		err = b.db.Update(func(tx *buntdb.Tx) error {
			for key, value := range quarantine {
				if _, _, err := tx.Set(quarantinePrefix+key, value, nil); err != nil {
					return err
				}
				if _, err := tx.Delete(key); err != nil && err != buntdb.ErrNotFound {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to quarantine records: %w", err)
		}
	}

	return positions, nil
}

// AppendTrade appends a record to the trade history.
func (b *BuntStorage) AppendTrade(_ context.Context, record *core.TradeRecord) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		content, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal trade: %w", err)
		}

		key := fmt.Sprintf("%s%d-%d", tradePrefix, record.Time.UnixNano(), b.getID())
		_, _, err = tx.Set(key, string(content), nil)
		if err != nil {
			return fmt.Errorf("failed to store trade: %w", err)
		}
		return nil
	})
}

// Trades retrieves trade records in time order, oldest first.
func (b *BuntStorage) Trades(_ context.Context, filters ...core.TradeFilter) ([]*core.TradeRecord, error) {
	trades := make([]*core.TradeRecord, 0)

	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend(tradeIndexName, func(key, value string) bool {
			if !strings.HasPrefix(key, tradePrefix) {
				return true
			}

			var record core.TradeRecord
			if err := json.Unmarshal([]byte(value), &record); err != nil {
				b.log.WithError(err).WithField("key", key).Warn("skipping unreadable trade record")
				return true
			}

			for _, filter := range filters {
				if !filter(record) {
					return true
				}
			}

			trades = append(trades, &record)
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}

	return trades, nil
}

// Close closes the database connection
func (b *BuntStorage) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

var _ core.Storage = (*BuntStorage)(nil)
