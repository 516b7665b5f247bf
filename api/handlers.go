package api

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradebus/api/responses"
	"github.com/Aidin1998/tradebus/internal/bridge"
	apierrors "github.com/Aidin1998/tradebus/pkg/errors"
)

// Order actions sent with PLACE_ORDER and SELL_ORDER.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// Balances handed out on account creation and new-market opening prices.
var (
	SignupBonus         = decimal.NewFromInt(15)
	InitialOutcomePrice = decimal.NewFromInt(5)
)

type onrampRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type orderRequest struct {
	MarketID  string          `json:"marketId" binding:"required"`
	Symbol    string          `json:"symbol" binding:"required"`
	Side      string          `json:"side" binding:"required,oneof=YES NO"`
	OrderType string          `json:"orderType" binding:"required"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type marketRequest struct {
	Title         string    `json:"title" binding:"required,min=3,max=100"`
	Description   string    `json:"description" binding:"max=2000"`
	CategoryID    string    `json:"categoryId" binding:"required"`
	SourceOfTruth string    `json:"sourceOfTruth" binding:"max=300"`
	Thumbnail     string    `json:"thumbnail" binding:"omitempty,url"`
	StartTime     time.Time `json:"startTime" binding:"required"`
	EndTime       time.Time `json:"endTime" binding:"required"`
}

type userRequest struct {
	ID                        string `json:"id" binding:"required"`
	Phone                     string `json:"phone" binding:"required"`
	KYCVerificationStatus     string `json:"kycVerificationStatus"`
	PaymentVerificationStatus string `json:"paymentVerificationStatus"`
}

func (s *Server) getBalance(c *gin.Context) {
	userID := c.GetString("userID")
	resp, err := s.engine.Call(c.Request.Context(), bridge.EventGetBalance, gin.H{"userId": userID}, s.timeout)
	s.writeEngineResult(c, bridge.EventGetBalance, resp, err, false)
}

// onramp credits funds. Amounts are positive with at most two decimal places.
func (s *Server) onramp(c *gin.Context) {
	var req onrampRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeBindError(c, err)
		return
	}
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Round(2)) {
		s.badField(c, "amount", "must be greater than 0 with up to 2 decimal places")
		return
	}

	amount, _ := req.Amount.Float64()
	userID := c.GetString("userID")
	resp, err := bridge.Retry(c.Request.Context(), s.engine, s.retry, s.logger, bridge.EventAddBalance, gin.H{
		"userId": userID,
		"amount": amount,
	})
	s.writeEngineResult(c, bridge.EventAddBalance, resp, err, false)
}

func (s *Server) placeOrder(eventType bridge.EventType, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req orderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeBindError(c, err)
			return
		}
		if !req.Price.IsPositive() {
			s.badField(c, "price", "must be greater than 0")
			return
		}
		if !req.Quantity.IsPositive() {
			s.badField(c, "quantity", "must be greater than 0")
			return
		}

		price, _ := req.Price.Float64()
		quantity, _ := req.Quantity.Float64()
		resp, err := s.engine.Call(c.Request.Context(), eventType, gin.H{
			"userId":    c.GetString("userID"),
			"marketId":  req.MarketID,
			"side":      req.Side,
			"symbol":    req.Symbol,
			"price":     price,
			"action":    action,
			"orderType": req.OrderType,
			"quantity":  quantity,
		}, s.timeout)
		s.writeEngineResult(c, eventType, resp, err, false)
	}
}

// createMarket opens a market in the engine at even prices. The symbol is derived
// from the title plus a short unique suffix.
func (s *Server) createMarket(c *gin.Context) {
	var req marketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeBindError(c, err)
		return
	}
	if !req.EndTime.After(req.StartTime) {
		s.badField(c, "endTime", "must be after startTime")
		return
	}

	price, _ := InitialOutcomePrice.Float64()
	marketID := xid.New().String()
	symbol := MarketSymbol(req.Title, xid.New())
	resp, err := bridge.Retry(c.Request.Context(), s.engine, s.retry, s.logger, bridge.EventCreateMarket, gin.H{
		"marketId":      marketID,
		"symbol":        symbol,
		"yesPrice":      price,
		"NoPrice":       price,
		"startDate":     req.StartTime.UTC(),
		"endDate":       req.EndTime.UTC(),
		"categoryId":    req.CategoryID,
		"description":   req.Description,
		"SourceOfTruth": req.SourceOfTruth,
	})
	if err != nil || !resp.Success {
		s.writeEngineResult(c, bridge.EventCreateMarket, resp, err, true)
		return
	}

	s.logger.Info("Market created",
		zap.String("user_id", c.GetString("userID")),
		zap.String("market_id", marketID),
		zap.String("symbol", symbol),
	)
	responses.Created(c, gin.H{"id": marketID, "symbol": symbol}, "Market created successfully")
}

// createUser registers an account with the engine on behalf of the auth service.
func (s *Server) createUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeBindError(c, err)
		return
	}

	resp, err := bridge.Retry(c.Request.Context(), s.engine, s.retry, s.logger, bridge.EventCreateUser, req)
	s.writeEngineResult(c, bridge.EventCreateUser, resp, err, true)
}

// initBalance seeds a verified account with the signup bonus.
func (s *Server) initBalance(c *gin.Context) {
	userID := c.Param("id")
	bonus, _ := SignupBonus.Float64()
	resp, err := bridge.Retry(c.Request.Context(), s.engine, s.retry, s.logger, bridge.EventInitBalance, gin.H{
		"userId": userID,
		"amount": bonus,
		"locked": 0.0,
	})
	s.writeEngineResult(c, bridge.EventInitBalance, resp, err, false)
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// MarketSymbol slugs title and appends the last six characters of id.
func MarketSymbol(title string, id xid.ID) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(title), "-"), "-")
	s := id.String()
	return slug + "-" + s[len(s)-6:]
}

func (s *Server) badField(c *gin.Context, field, message string) {
	responses.BadRequest(c, "validation failed", apierrors.ValidationError{
		Field:   field,
		Message: message,
	})
}
