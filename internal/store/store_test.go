package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// every pooled connection to :memory: would get its own empty database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s := New(db, zaptest.NewLogger(t))
	require.NoError(t, s.AutoMigrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedMarket(t *testing.T, s *Store, id, symbol string) {
	t.Helper()
	require.NoError(t, s.CreateMarket(context.Background(), &Market{
		ID:       id,
		Symbol:   symbol,
		Title:    "Will it rain tomorrow?",
		YesPrice: decimal.NewFromFloat(5),
		NoPrice:  decimal.NewFromFloat(5),
	}))
}

func TestIncrementTraders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMarket(t, s, "m1", "RAIN-YES")

	require.NoError(t, s.IncrementTraders(ctx, "m1", 1))
	require.NoError(t, s.IncrementTraders(ctx, "m1", 2))

	m, err := s.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.NumberOfTraders)

	err = s.IncrementTraders(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrMarketNotFound)
}

func TestUpdatePrices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMarket(t, s, "m1", "RAIN-YES")

	require.NoError(t, s.UpdatePrices(ctx, "m1", decimal.NewFromFloat(6.5), decimal.NewFromFloat(3.5)))

	m, err := s.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.YesPrice.Equal(decimal.NewFromFloat(6.5)), m.YesPrice.String())
	assert.True(t, m.NoPrice.Equal(decimal.NewFromFloat(3.5)), m.NoPrice.String())

	err = s.UpdatePrices(ctx, "missing", decimal.Zero, decimal.Zero)
	assert.ErrorIs(t, err, ErrMarketNotFound)
}

func TestAppendPricePointIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMarket(t, s, "m1", "RAIN-YES")

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	point := PricePoint{MarketID: "m1", Timestamp: ts, YesPrice: decimal.NewFromInt(6), NoPrice: decimal.NewFromInt(4)}

	require.NoError(t, s.AppendPricePoint(ctx, point))
	require.NoError(t, s.AppendPricePoint(ctx, point))
	require.NoError(t, s.AppendPricePoint(ctx, PricePoint{MarketID: "m1", Timestamp: ts.Add(time.Second), YesPrice: decimal.NewFromInt(7), NoPrice: decimal.NewFromInt(3)}))

	points, err := s.Timeline(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.True(t, points[0].YesPrice.Equal(decimal.NewFromInt(6)))
	assert.True(t, points[1].YesPrice.Equal(decimal.NewFromInt(7)))

	err = s.AppendPricePoint(ctx, PricePoint{MarketID: "missing", Timestamp: ts})
	assert.ErrorIs(t, err, ErrMarketNotFound)
}

func TestRecordActivityIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trade := Activity{
		BuyerPhone:  "9999900001",
		SellerPhone: "9999900002",
		Outcome:     "YES",
		Price:       decimal.NewFromFloat(6.5),
		Quantity:    10,
		Timestamp:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.RecordActivity(ctx, trade))
	require.NoError(t, s.RecordActivity(ctx, trade))

	other := trade
	other.Quantity = 11
	require.NoError(t, s.RecordActivity(ctx, other))

	all, err := s.Activities(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRecordOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMarket(t, s, "m1", "RAIN-YES")

	order := OrderRecord{
		OrderID:           "ord-1",
		MarketID:          "m1",
		Symbol:            "RAIN-YES",
		UserID:            "u1",
		Side:              "YES",
		Action:            "BUY",
		Price:             decimal.NewFromFloat(6.5),
		OriginalQuantity:  10,
		FilledQuantity:    4,
		RemainingQuantity: 6,
		Timestamp:         time.Now(),
	}
	require.NoError(t, s.RecordOrder(ctx, order))
	require.NoError(t, s.RecordOrder(ctx, order))

	got, err := s.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.FilledQuantity)
	assert.Equal(t, "u1", got.UserID)

	_, err = s.GetOrder(ctx, "ord-unknown")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	order.OrderID = "ord-2"
	order.MarketID = "missing"
	assert.ErrorIs(t, s.RecordOrder(ctx, order), ErrMarketNotFound)
}

func TestPoolStats(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))

	stats, err := s.PoolStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MaxOpenConnections)
}
