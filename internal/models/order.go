package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSide - направление ордера
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite возвращает противоположное направление
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType - тип ордера
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// OrderStatus - статус ордера
//
// Допустимые переходы задаются таблицей в internal/engine/state_machine.go
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Terminal сообщает, является ли статус конечным
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// Order - ордер на покупку или продажу
type Order struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	Type           OrderType       `json:"type"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	StopLoss       decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit     decimal.Decimal `json:"take_profit,omitempty"`
	Status         OrderStatus     `json:"status"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	AvgFillPrice   decimal.Decimal `json:"avg_fill_price"`
	Strategy       string          `json:"strategy"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewOrder создает ордер в статусе PENDING
func NewOrder(symbol string, side OrderSide, orderType OrderType, quantity, price decimal.Decimal, strategy string) *Order {
	now := time.Now()
	return &Order{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Type:      orderType,
		Quantity:  quantity,
		Price:     price,
		Status:    OrderStatusPending,
		Strategy:  strategy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ApplyFill учитывает исполнение части ордера
//
// Инвариант: filled_quantity никогда не превышает quantity.
func (o *Order) ApplyFill(quantity, price decimal.Decimal) error {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("fill quantity must be positive, got %s", quantity)
	}
	newFilled := o.FilledQuantity.Add(quantity)
	if newFilled.GreaterThan(o.Quantity) {
		return fmt.Errorf("fill %s exceeds order quantity %s (already filled %s)",
			quantity, o.Quantity, o.FilledQuantity)
	}
	// Средневзвешенная цена исполнения
	if o.FilledQuantity.IsZero() {
		o.AvgFillPrice = price
	} else {
		total := o.AvgFillPrice.Mul(o.FilledQuantity).Add(price.Mul(quantity))
		o.AvgFillPrice = total.Div(newFilled)
	}
	o.FilledQuantity = newFilled
	o.UpdatedAt = time.Now()
	return nil
}

// RemainingQuantity возвращает неисполненный остаток
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}
