package storage

import (
	"fmt"
	"io"

	"helmsman/core"
)

// Backend selects where trade history lives. Open positions are always in
// BuntDB; the relational backend only replaces the trade log.
const (
	BackendBunt   = "bunt"
	BackendSQLite = "sqlite"
)

// Store is the concrete storage handle built by New. It satisfies
// core.Storage and owns the underlying database handles.
type Store struct {
	core.PositionStore
	core.TradeLog

	closers []io.Closer
}

// New builds the storage stack for the configured backend.
func New(backend, sourceFile string, log core.Logger) (*Store, error) {
	bunt, err := NewBuntStorage(sourceFile, log)
	if err != nil {
		return nil, err
	}

	store := &Store{
		PositionStore: bunt,
		TradeLog:      bunt,
		closers:       []io.Closer{bunt},
	}

	switch backend {
	case BackendBunt, "":
	case BackendSQLite:
		trades, err := NewSQLTradeLog(sourceFile + ".sqlite")
		if err != nil {
			bunt.Close()
			return nil, err
		}
		store.TradeLog = trades
		store.closers = append(store.closers, trades)
	default:
		bunt.Close()
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}

	return store, nil
}

func (s *Store) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ core.Storage = (*Store)(nil)
