package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market is the persisted projection of an engine market.
type Market struct {
	ID              string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	Symbol          string          `gorm:"type:varchar(50);uniqueIndex;not null" json:"symbol"`
	Title           string          `gorm:"type:varchar(255)" json:"title"`
	YesPrice        decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"yes_price"`
	NoPrice         decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"no_price"`
	NumberOfTraders int64           `gorm:"not null;default:0" json:"number_of_traders"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PricePoint is one entry of a market's price timeline.
type PricePoint struct {
	ID        string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	MarketID  string          `gorm:"type:varchar(64);index:idx_price_points_market_ts;not null" json:"market_id"`
	Timestamp time.Time       `gorm:"index:idx_price_points_market_ts;not null" json:"timestamp"`
	YesPrice  decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"yes_price"`
	NoPrice   decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"no_price"`
}

// Activity records a trade between two users.
type Activity struct {
	ID          string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	MarketID    string          `gorm:"type:varchar(64);index" json:"market_id,omitempty"`
	BuyerPhone  string          `gorm:"type:varchar(20)" json:"buyer_phone"`
	SellerPhone string          `gorm:"type:varchar(20)" json:"seller_phone"`
	Outcome     string          `gorm:"type:varchar(10);not null" json:"outcome"`
	Price       decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"price"`
	Quantity    int64           `gorm:"not null" json:"quantity"`
	Timestamp   time.Time       `gorm:"index;not null" json:"timestamp"`
}

// OrderRecord is keyed by the engine's order id.
type OrderRecord struct {
	OrderID           string          `gorm:"type:varchar(64);primaryKey" json:"order_id"`
	MarketID          string          `gorm:"type:varchar(64);index;not null" json:"market_id"`
	Symbol            string          `gorm:"type:varchar(50);not null" json:"symbol"`
	UserID            string          `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Side              string          `gorm:"type:varchar(10);not null" json:"side"`
	Action            string          `gorm:"type:varchar(10);not null" json:"action"`
	Price             decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"price"`
	OriginalQuantity  int64           `gorm:"not null" json:"original_quantity"`
	FilledQuantity    int64           `gorm:"not null" json:"filled_quantity"`
	RemainingQuantity int64           `gorm:"not null" json:"remaining_quantity"`
	Timestamp         time.Time       `gorm:"not null" json:"timestamp"`
}

func (OrderRecord) TableName() string { return "orders" }

// Models lists every table AutoMigrate manages.
func Models() []any {
	return []any{&Market{}, &PricePoint{}, &Activity{}, &OrderRecord{}}
}
