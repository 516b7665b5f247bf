package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/tradebus/internal/store"
)

// MarketStore is the set of mutations the engine events map to.
type MarketStore interface {
	IncrementTraders(ctx context.Context, marketID string, delta int64) error
	UpdatePrices(ctx context.Context, marketID string, yes, no decimal.Decimal) error
	AppendPricePoint(ctx context.Context, p store.PricePoint) error
	RecordActivity(ctx context.Context, a store.Activity) error
	RecordOrder(ctx context.Context, o store.OrderRecord) error
}

var validate = validator.New()

type tradersCountData struct {
	MarketID string `json:"marketId" validate:"required"`
	Count    int64  `json:"count" validate:"gte=0"`
}

type stockPriceData struct {
	MarketID string          `json:"marketId" validate:"required"`
	YesPrice decimal.Decimal `json:"yesPrice"`
	NoPrice  decimal.Decimal `json:"noPrice"`
}

// The engine serializes timeline points with capitalized keys; decoding is case
// insensitive.
type timelineData struct {
	MarketID string `json:"marketId" validate:"required"`
	Timeline struct {
		Timestamp time.Time       `json:"timestamp" validate:"required"`
		YesPrice  decimal.Decimal `json:"yesPrice"`
		NoPrice   decimal.Decimal `json:"noPrice"`
	} `json:"timeline"`
}

type activityData struct {
	MarketID    string          `json:"marketId"`
	BuyerPhone  string          `json:"buyerPhone"`
	SellerPhone string          `json:"sellerPhone"`
	Outcome     string          `json:"outcome" validate:"required"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity" validate:"gt=0"`
	Timestamp   time.Time       `json:"timestamp" validate:"required"`
}

type orderPlacedData struct {
	OrderID           string          `json:"orderId" validate:"required"`
	MarketID          string          `json:"marketId" validate:"required"`
	Symbol            string          `json:"symbol" validate:"required"`
	UserID            string          `json:"userId" validate:"required"`
	Side              string          `json:"side" validate:"required"`
	Action            string          `json:"action" validate:"required"`
	Price             decimal.Decimal `json:"price"`
	OriginalQuantity  int64           `json:"originalQuantity" validate:"gte=0"`
	FilledQuantity    int64           `json:"filledQuantity" validate:"gte=0"`
	RemainingQuantity int64           `json:"remainingQuantity" validate:"gte=0"`
	Timestamp         time.Time       `json:"timestamp"`
}

func decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}

// RegisterStoreHandlers binds the engine event tags to s.
func RegisterStoreHandlers(r *Registry, s MarketStore) {
	r.Register(EventIncreaseTradersCount, HandlerFunc(func(ctx context.Context, data json.RawMessage) error {
		var d tradersCountData
		if err := decode(data, &d); err != nil {
			return err
		}
		if d.Count == 0 {
			d.Count = 1
		}
		return s.IncrementTraders(ctx, d.MarketID, d.Count)
	}))

	r.Register(EventUpdateStockPrice, HandlerFunc(func(ctx context.Context, data json.RawMessage) error {
		var d stockPriceData
		if err := decode(data, &d); err != nil {
			return err
		}
		return s.UpdatePrices(ctx, d.MarketID, d.YesPrice, d.NoPrice)
	}))

	r.Register(EventUpdateMarketTimeline, HandlerFunc(func(ctx context.Context, data json.RawMessage) error {
		var d timelineData
		if err := decode(data, &d); err != nil {
			return err
		}
		return s.AppendPricePoint(ctx, store.PricePoint{
			MarketID:  d.MarketID,
			Timestamp: d.Timeline.Timestamp,
			YesPrice:  d.Timeline.YesPrice,
			NoPrice:   d.Timeline.NoPrice,
		})
	}))

	r.Register(EventRecordActivity, HandlerFunc(func(ctx context.Context, data json.RawMessage) error {
		var d activityData
		if err := decode(data, &d); err != nil {
			return err
		}
		return s.RecordActivity(ctx, store.Activity{
			MarketID:    d.MarketID,
			BuyerPhone:  d.BuyerPhone,
			SellerPhone: d.SellerPhone,
			Outcome:     d.Outcome,
			Price:       d.Price,
			Quantity:    d.Quantity,
			Timestamp:   d.Timestamp,
		})
	}))

	r.Register(EventOrderPlaced, HandlerFunc(func(ctx context.Context, data json.RawMessage) error {
		var d orderPlacedData
		if err := decode(data, &d); err != nil {
			return err
		}
		if d.Timestamp.IsZero() {
			d.Timestamp = time.Now()
		}
		return s.RecordOrder(ctx, store.OrderRecord{
			OrderID:           d.OrderID,
			MarketID:          d.MarketID,
			Symbol:            d.Symbol,
			UserID:            d.UserID,
			Side:              d.Side,
			Action:            d.Action,
			Price:             d.Price,
			OriginalQuantity:  d.OriginalQuantity,
			FilledQuantity:    d.FilledQuantity,
			RemainingQuantity: d.RemainingQuantity,
			Timestamp:         d.Timestamp,
		})
	}))
}
