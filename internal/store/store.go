// Package store applies engine events to the relational store. Every mutation
// runs in its own transaction, and inserts are keyed on deterministic ids so a
// redelivered event does not add a second row.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Aidin1998/tradebus/internal/config"
	"github.com/Aidin1998/tradebus/internal/database"
)

var (
	// ErrMarketNotFound is returned when an event references an unknown market.
	ErrMarketNotFound = errors.New("store: market not found")
	ErrOrderNotFound  = errors.New("store: order not found")
)

// idNamespace seeds the name-based UUIDs of event rows.
var idNamespace = uuid.MustParse("6f1f7a3e-4c55-4d0b-9c1e-2b8a5f0d7e21")

type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New wraps an open connection.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.Named("store")}
}

// Open connects to Postgres and migrates the schema when cfg asks for it.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	db, err := database.NewPostgresDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	s := New(db, logger)
	if cfg.AutoMigrate {
		if err := s.AutoMigrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// PoolStats reports the connection pool of the underlying database.
func (s *Store) PoolStats() (sql.DBStats, error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return sql.DBStats{}, err
	}
	return sqlDB.Stats(), nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateMarket inserts m, or does nothing if a market with that id exists.
func (s *Store) CreateMarket(ctx context.Context, m *Market) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m).Error
}

func (s *Store) GetMarket(ctx context.Context, id string) (*Market, error) {
	var m Market
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMarketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// IncrementTraders adds delta to the market's trader count.
func (s *Store) IncrementTraders(ctx context.Context, marketID string, delta int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Market{}).
			Where("id = ?", marketID).
			Update("number_of_traders", gorm.Expr("number_of_traders + ?", delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
		}
		return nil
	})
}

// UpdatePrices sets the quoted yes/no prices of a market.
func (s *Store) UpdatePrices(ctx context.Context, marketID string, yes, no decimal.Decimal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Market{}).
			Where("id = ?", marketID).
			Updates(map[string]any{"yes_price": yes, "no_price": no})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
		}
		return nil
	})
}

// AppendPricePoint adds a timeline entry. Points are identified by market and
// timestamp.
func (s *Store) AppendPricePoint(ctx context.Context, p PricePoint) error {
	p.Timestamp = p.Timestamp.UTC()
	if p.ID == "" {
		p.ID = eventID("timeline", p.MarketID, p.Timestamp.Format(time.RFC3339Nano))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireMarket(tx, p.MarketID); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error
	})
}

// RecordActivity stores a trade. The id is derived from the trade's fields.
func (s *Store) RecordActivity(ctx context.Context, a Activity) error {
	a.Timestamp = a.Timestamp.UTC()
	if a.ID == "" {
		a.ID = eventID("activity", a.MarketID, a.BuyerPhone, a.SellerPhone, a.Outcome,
			a.Price.String(), fmt.Sprint(a.Quantity), a.Timestamp.Format(time.RFC3339Nano))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if a.MarketID != "" {
			if err := requireMarket(tx, a.MarketID); err != nil {
				return err
			}
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&a).Error
	})
}

// RecordOrder stores an order placed on the engine.
func (s *Store) RecordOrder(ctx context.Context, o OrderRecord) error {
	o.Timestamp = o.Timestamp.UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireMarket(tx, o.MarketID); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&o).Error
	})
}

// Timeline returns the price points of a market, oldest first.
func (s *Store) Timeline(ctx context.Context, marketID string) ([]PricePoint, error) {
	var points []PricePoint
	err := s.db.WithContext(ctx).Where("market_id = ?", marketID).Order("timestamp asc").Find(&points).Error
	return points, err
}

// Activities returns recorded trades for a market, or all when marketID is empty.
func (s *Store) Activities(ctx context.Context, marketID string) ([]Activity, error) {
	var out []Activity
	q := s.db.WithContext(ctx).Order("timestamp asc")
	if marketID != "" {
		q = q.Where("market_id = ?", marketID)
	}
	err := q.Find(&out).Error
	return out, err
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*OrderRecord, error) {
	var o OrderRecord
	err := s.db.WithContext(ctx).First(&o, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func requireMarket(tx *gorm.DB, marketID string) error {
	var n int64
	if err := tx.Model(&Market{}).Where("id = ?", marketID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	return nil
}

func eventID(kind string, parts ...string) string {
	key := kind
	for _, p := range parts {
		key += "|" + p
	}
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}
