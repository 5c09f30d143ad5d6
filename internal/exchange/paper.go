package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradebot/internal/models"
)

// Параметры симуляции
const (
	// DefaultPaperFee - комиссия тейкера в бумажном режиме (0.1%)
	DefaultPaperFee = 0.001
	// defaultTickInterval - период генерации тиков в StreamPrices
	defaultTickInterval = 1 * time.Second
	// maxStepPct - максимальный шаг случайного блуждания цены за тик
	maxStepPct = 0.002
	// spreadPct - половина спреда bid/ask вокруг последней цены
	spreadPct = 0.0005
)

// PaperExchange - симулированный коннектор биржи
//
// Исполняет ордера мгновенно по текущей цене со спредом и комиссией,
// цены двигаются случайным блужданием вокруг заданных стартовых.
// Короткие продажи допускаются: базовый баланс может уходить в минус.
type PaperExchange struct {
	mu        sync.RWMutex
	connected bool
	balances  map[string]decimal.Decimal // актив -> количество
	prices    map[string]decimal.Decimal // символ -> последняя цена
	fee       decimal.Decimal
	quote     string // котируемая валюта, обычно USDT
	rnd       *rand.Rand
	logger    *zap.Logger

	tickInterval time.Duration
}

// NewPaperExchange создает бумажную биржу со стартовым балансом
// котируемой валюты и стартовыми ценами инструментов
func NewPaperExchange(initialBalance decimal.Decimal, basePrices map[string]decimal.Decimal, logger *zap.Logger) *PaperExchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	prices := make(map[string]decimal.Decimal, len(basePrices))
	for s, p := range basePrices {
		prices[s] = p
	}
	return &PaperExchange{
		balances:     map[string]decimal.Decimal{"USDT": initialBalance},
		prices:       prices,
		fee:          decimal.NewFromFloat(DefaultPaperFee),
		quote:        "USDT",
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:       logger.Named("paper_exchange"),
		tickInterval: defaultTickInterval,
	}
}

// Connect помечает биржу подключенной
func (p *PaperExchange) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	p.logger.Info("бумажная биржа подключена",
		zap.String("balance", p.balances[p.quote].String()))
	return nil
}

// GetName возвращает имя биржи
func (p *PaperExchange) GetName() string {
	return "paper"
}

// GetAccountBalance возвращает баланс котируемой валюты
func (p *PaperExchange) GetAccountBalance(ctx context.Context) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.connected {
		return decimal.Zero, &ExchangeError{Exchange: "paper", Code: "not_connected", Message: "биржа не подключена"}
	}
	return p.balances[p.quote], nil
}

// Balance возвращает баланс произвольного актива (для тестов и отчётов)
func (p *PaperExchange) Balance(asset string) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balances[asset]
}

// GetTicker возвращает текущую цену с имитацией движения рынка
func (p *PaperExchange) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, &ExchangeError{Exchange: "paper", Code: "not_connected", Message: "биржа не подключена"}
	}
	last, ok := p.prices[symbol]
	if !ok {
		return nil, &ExchangeError{Exchange: "paper", Code: "unknown_symbol",
			Message: fmt.Sprintf("неизвестный символ %s", symbol)}
	}

	last = p.walkLocked(symbol, last)
	spread := last.Mul(decimal.NewFromFloat(spreadPct))
	return &Ticker{
		Symbol:    symbol,
		BidPrice:  last.Sub(spread),
		AskPrice:  last.Add(spread),
		LastPrice: last,
		Timestamp: time.Now(),
	}, nil
}

// walkLocked делает шаг случайного блуждания цены (вызывается под локом)
func (p *PaperExchange) walkLocked(symbol string, last decimal.Decimal) decimal.Decimal {
	step := (p.rnd.Float64()*2 - 1) * maxStepPct
	next := last.Mul(decimal.NewFromFloat(1 + step))
	if next.LessThanOrEqual(decimal.Zero) {
		next = last
	}
	p.prices[symbol] = next
	return next
}

// PlaceOrder мгновенно исполняет ордер по текущей цене со спредом
func (p *PaperExchange) PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, &ExchangeError{Exchange: "paper", Code: "not_connected", Message: "биржа не подключена"}
	}

	last, ok := p.prices[order.Symbol]
	if !ok {
		// Символ не задан при создании - принимаем цену ордера за рыночную
		last = order.Price
		p.prices[order.Symbol] = last
	}

	spread := last.Mul(decimal.NewFromFloat(spreadPct))
	fillPrice := last.Add(spread) // BUY исполняется по ask
	if order.Side == models.OrderSideSell {
		fillPrice = last.Sub(spread)
	}

	notional := fillPrice.Mul(order.Quantity)
	fee := notional.Mul(p.fee)
	base := baseAsset(order.Symbol)

	if order.Side == models.OrderSideBuy {
		cost := notional.Add(fee)
		if p.balances[p.quote].LessThan(cost) {
			return nil, &ExchangeError{Exchange: "paper", Code: "insufficient_balance",
				Message: fmt.Sprintf("недостаточно %s: нужно %s, доступно %s",
					p.quote, cost.StringFixed(2), p.balances[p.quote].StringFixed(2))}
		}
		p.balances[p.quote] = p.balances[p.quote].Sub(cost)
		p.balances[base] = p.balances[base].Add(order.Quantity)
	} else {
		p.balances[base] = p.balances[base].Sub(order.Quantity)
		p.balances[p.quote] = p.balances[p.quote].Add(notional.Sub(fee))
	}

	p.logger.Debug("бумажный ордер исполнен",
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("quantity", order.Quantity.String()),
		zap.String("fill_price", fillPrice.String()),
		zap.String("fee", fee.String()))

	return &OrderResult{
		ExchangeOrderID: uuid.NewString(),
		Status:          ResultFilled,
		FilledQty:       order.Quantity,
		AvgFillPrice:    fillPrice,
		Fee:             fee,
		Timestamp:       time.Now(),
	}, nil
}

// CancelOrder - на бумажной бирже ордера исполняются мгновенно,
// отменять нечего; операция идемпотентна
func (p *PaperExchange) CancelOrder(ctx context.Context, orderID string) error {
	return nil
}

// StreamPrices генерирует тики случайного блуждания до отмены контекста
func (p *PaperExchange) StreamPrices(ctx context.Context, symbols []string, callback func(*Ticker)) error {
	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, symbol := range symbols {
				t, err := p.GetTicker(ctx, symbol)
				if err != nil {
					p.logger.Warn("ошибка генерации тика",
						zap.String("symbol", symbol), zap.Error(err))
					continue
				}
				callback(t)
			}
		}
	}
}

// Close отключает биржу
func (p *PaperExchange) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

// baseAsset извлекает базовый актив из символа (BTC/USDT -> BTC)
func baseAsset(symbol string) string {
	for i, r := range symbol {
		if r == '/' || r == '_' || r == '-' {
			return symbol[:i]
		}
	}
	if len(symbol) > 3 {
		return symbol[:3]
	}
	return symbol
}
