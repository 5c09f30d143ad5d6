package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalAction - действие, предлагаемое стратегией
type SignalAction string

const (
	SignalActionBuy  SignalAction = "BUY"
	SignalActionSell SignalAction = "SELL"
)

// Signal - торговый сигнал от стратегии
//
// Strength в диапазоне [0, 1] масштабирует размер позиции, рассчитанный
// движком. Quantity опциональна: нулевое значение означает "размер
// определяет движок".
type Signal struct {
	Symbol    string          `json:"symbol"`
	Action    SignalAction    `json:"action"`
	Strength  decimal.Decimal `json:"strength"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity,omitempty"`
	Strategy  string          `json:"strategy"`
	Timestamp time.Time       `json:"timestamp"`
}

// Side возвращает направление ордера для сигнала
func (s *Signal) Side() OrderSide {
	if s.Action == SignalActionBuy {
		return OrderSideBuy
	}
	return OrderSideSell
}
