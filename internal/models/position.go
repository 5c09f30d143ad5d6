package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionSide - направление позиции
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// Position - открытая позиция по инструменту
//
// Уникальность: не более одной открытой позиции на пару (символ, стратегия).
type Position struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Side          PositionSide    `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	StopLoss      decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit    decimal.Decimal `json:"take_profit,omitempty"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	Strategy      string          `json:"strategy"`
	OpenedAt      time.Time       `json:"opened_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewPosition создает позицию по факту исполнения открывающего ордера
func NewPosition(symbol string, side PositionSide, quantity, entryPrice decimal.Decimal, strategy string) *Position {
	now := time.Now()
	return &Position{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Side:         side,
		Quantity:     quantity,
		EntryPrice:   entryPrice,
		CurrentPrice: entryPrice,
		Strategy:     strategy,
		OpenedAt:     now,
		UpdatedAt:    now,
	}
}

// PositionKey возвращает ключ уникальности позиции
func PositionKey(symbol, strategy string) string {
	return symbol + "_" + strategy
}

// Key возвращает ключ уникальности этой позиции
func (p *Position) Key() string {
	return PositionKey(p.Symbol, p.Strategy)
}

// UpdatePrice пересчитывает нереализованный PNL по новой рыночной цене
//
// LONG:  (цена - вход) * объем
// SHORT: (вход - цена) * объем
func (p *Position) UpdatePrice(price decimal.Decimal) {
	p.CurrentPrice = price
	if p.Side == PositionSideLong {
		p.UnrealizedPnl = price.Sub(p.EntryPrice).Mul(p.Quantity)
	} else {
		p.UnrealizedPnl = p.EntryPrice.Sub(price).Mul(p.Quantity)
	}
	p.UpdatedAt = time.Now()
}

// AddFill доливает позицию: средневзвешенная цена входа, объемы суммируются
func (p *Position) AddFill(quantity, price decimal.Decimal) {
	newQty := p.Quantity.Add(quantity)
	if newQty.IsZero() {
		return
	}
	total := p.EntryPrice.Mul(p.Quantity).Add(price.Mul(quantity))
	p.EntryPrice = total.Div(newQty)
	p.Quantity = newQty
	p.UpdatePrice(price)
}

// Notional возвращает текущую стоимость позиции
func (p *Position) Notional() decimal.Decimal {
	return p.CurrentPrice.Mul(p.Quantity)
}
