// Package venue abstracts the exchange the trader sends orders to.
package venue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"futures-risk-lab/internal/domain"
)

// Venue errors.
var (
	ErrUnknownSymbol       = errors.New("unknown symbol")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoPosition          = errors.New("no open position")
	ErrOrderNotFound       = errors.New("order not found")
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

// OrderStatus constants.
const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// OrderRequest opens a position at market.
type OrderRequest struct {
	Symbol     string
	Side       domain.Side
	Quantity   float64
	Leverage   float64
	StopLoss   float64
	TakeProfit float64
}

// Order is a venue acknowledgement. Price and Fee are set once filled.
type Order struct {
	ID         string
	Symbol     string
	Side       domain.Side
	Quantity   float64
	Price      float64
	Fee        float64
	Leverage   float64
	StopLoss   float64
	TakeProfit float64
	Status     OrderStatus
	CreatedAt  time.Time
}

// Venue is the execution surface. Implementations must be safe for
// concurrent use.
type Venue interface {
	Price(ctx context.Context, symbol string) (float64, error)
	Balance(ctx context.Context) (float64, error)
	Positions(ctx context.Context) ([]domain.Position, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	// ClosePosition flattens the symbol at market and returns the closing fill.
	ClosePosition(ctx context.Context, symbol string) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// BarSource supplies recent candles, oldest first.
type BarSource interface {
	Bars(ctx context.Context, symbol string, limit int) ([]domain.Bar, error)
}

// Validate checks the request fields.
func (r OrderRequest) Validate() error {
	switch {
	case r.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	case r.Side != domain.SideLong && r.Side != domain.SideShort:
		return fmt.Errorf("%w: side must be long or short", ErrInvalidOrder)
	case r.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	case r.Leverage < 1:
		return fmt.Errorf("%w: leverage below 1", ErrInvalidOrder)
	}
	return nil
}
