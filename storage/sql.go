package storage

import (
	"context"
	"fmt"
	"time"

	"helmsman/core"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// tradeRow is the relational shape of a trade record. Money fields are
// stored as strings so SQLite never rounds them.
type tradeRow struct {
	ID         string `gorm:"primaryKey"`
	Time       time.Time
	Symbol     string `gorm:"index"`
	Action     string
	Quantity   string
	Price      string
	QuoteValue string
	Reason     string
	Strategy   string
	Confidence float64
	PnL        string
	PnLPercent string
	OrderID    int64
	Note       string
}

// SQLTradeLog is the relational trade-history backend. Positions stay in
// BuntDB either way; only the append-only history is selectable.
type SQLTradeLog struct {
	db *gorm.DB
}

// NewSQLTradeLog opens (or creates) the SQLite file and migrates the
// trade table.
func NewSQLTradeLog(sourceFile string) (*SQLTradeLog, error) {
	db, err := gorm.Open(sqlite.Open(sourceFile), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&tradeRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate trades table: %w", err)
	}

	return &SQLTradeLog{db: db}, nil
}

func (s *SQLTradeLog) AppendTrade(ctx context.Context, record *core.TradeRecord) error {
	row := tradeRow{
		ID:         record.ID,
		Time:       record.Time,
		Symbol:     record.Symbol,
		Action:     string(record.Action),
		Quantity:   record.Quantity.String(),
		Price:      record.Price.String(),
		QuoteValue: record.QuoteValue.String(),
		Reason:     string(record.Reason),
		Strategy:   record.Strategy,
		Confidence: record.Confidence,
		PnL:        record.PnL.String(),
		PnLPercent: record.PnLPercent.String(),
		OrderID:    record.OrderID,
		Note:       record.Note,
	}
	result := s.db.WithContext(ctx).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("failed to store trade: %w", result.Error)
	}
	return nil
}

func (s *SQLTradeLog) Trades(ctx context.Context, filters ...core.TradeFilter) ([]*core.TradeRecord, error) {
	rows := make([]tradeRow, 0)
	result := s.db.WithContext(ctx).Order("time asc").Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query trades: %w", result.Error)
	}

	records := make([]*core.TradeRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return lo.Filter(records, func(record *core.TradeRecord, _ int) bool {
		for _, filter := range filters {
			if !filter(*record) {
				return false
			}
		}
		return true
	}), nil
}

func (row tradeRow) toRecord() (*core.TradeRecord, error) {
	quantity, err := decimal.NewFromString(row.Quantity)
	if err != nil {
		return nil, fmt.Errorf("trade %s has invalid quantity: %w", row.ID, err)
	}
	price, err := decimal.NewFromString(row.Price)
	if err != nil {
		return nil, fmt.Errorf("trade %s has invalid price: %w", row.ID, err)
	}
	quoteValue, err := decimal.NewFromString(row.QuoteValue)
	if err != nil {
		return nil, fmt.Errorf("trade %s has invalid quote value: %w", row.ID, err)
	}
	pnl, err := decimal.NewFromString(row.PnL)
	if err != nil {
		return nil, fmt.Errorf("trade %s has invalid pnl: %w", row.ID, err)
	}
	pnlPercent, err := decimal.NewFromString(row.PnLPercent)
	if err != nil {
		return nil, fmt.Errorf("trade %s has invalid pnl percent: %w", row.ID, err)
	}

	return &core.TradeRecord{
		ID:         row.ID,
		Time:       row.Time,
		Symbol:     row.Symbol,
		Action:     core.Side(row.Action),
		Quantity:   quantity,
		Price:      price,
		QuoteValue: quoteValue,
		Reason:     core.TradeReason(row.Reason),
		Strategy:   row.Strategy,
		Confidence: row.Confidence,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		OrderID:    row.OrderID,
		Note:       row.Note,
	}, nil
}

func (s *SQLTradeLog) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ core.TradeLog = (*SQLTradeLog)(nil)
