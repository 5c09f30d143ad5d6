package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/models"
)

// Exchange определяет унифицированный интерфейс коннектора биржи
//
// Ядро не знает деталей конкретной биржи: live коннекторы и бумажный
// (симулированный) коннектор реализуют один контракт.
type Exchange interface {
	// Connect устанавливает соединение с биржей
	Connect(ctx context.Context) error

	// GetName возвращает имя биржи
	GetName() string

	// GetAccountBalance получает доступный баланс котируемой валюты
	GetAccountBalance(ctx context.Context) (decimal.Decimal, error)

	// GetTicker получает текущую цену актива
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// PlaceOrder размещает ордер и возвращает результат биржи
	PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error)

	// CancelOrder отменяет ордер по ID
	CancelOrder(ctx context.Context, orderID string) error

	// StreamPrices подписывается на обновления цен; callback вызывается
	// на каждый тик до отмены контекста
	StreamPrices(ctx context.Context, symbols []string, callback func(*Ticker)) error

	// Close закрывает соединения с биржей
	Close() error
}

// Ticker содержит информацию о текущей цене
type Ticker struct {
	Symbol    string          `json:"symbol"`
	BidPrice  decimal.Decimal `json:"bid_price"`  // лучшая цена покупки
	AskPrice  decimal.Decimal `json:"ask_price"`  // лучшая цена продажи
	LastPrice decimal.Decimal `json:"last_price"` // последняя сделка
	Timestamp time.Time       `json:"timestamp"`
}

// OrderResult описывает принятый биржей ордер
type OrderResult struct {
	ExchangeOrderID string          `json:"exchange_order_id"`
	Status          string          `json:"status"` // accepted, filled
	FilledQty       decimal.Decimal `json:"filled_qty"`
	AvgFillPrice    decimal.Decimal `json:"avg_fill_price"`
	Fee             decimal.Decimal `json:"fee"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Статусы OrderResult
const (
	ResultAccepted = "accepted"
	ResultFilled   = "filled"
)

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// Retryable сообщает, имеет ли смысл повторять запрос.
// Ответ биржи с кодом ошибки повторять бессмысленно, обрыв сети - можно.
func (e *ExchangeError) Retryable() bool {
	return e.Code == "network"
}
