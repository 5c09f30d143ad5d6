package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradebot/internal/eventbus"
	"tradebot/internal/exchange"
	"tradebot/internal/models"
	"tradebot/internal/risk"
	"tradebot/pkg/utils"
)

// Режимы торговли
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Защитные уровни, зашиваемые в ордер при создании из сигнала
var (
	longStopLoss    = decimal.NewFromFloat(0.97)
	longTakeProfit  = decimal.NewFromFloat(1.06)
	shortStopLoss   = decimal.NewFromFloat(1.03)
	shortTakeProfit = decimal.NewFromFloat(0.94)
)

// drawdownAlertFraction - доля лимита просадки, с которой публикуется
// предупреждение DrawdownAlert (до аварийной остановки)
var drawdownAlertFraction = decimal.NewFromFloat(0.5)

var (
	ErrInvalidTransition = errors.New("invalid engine state transition")
)

// Config - конфигурация торгового движка
type Config struct {
	Mode            string          // paper или live
	RiskPerTrade    decimal.Decimal // доля портфеля, рискуемая в сделке
	InitialBalance  decimal.Decimal // стартовая стоимость портфеля
	StopDistancePct decimal.Decimal // оценка дистанции стопа для сайзинга
	PaperFillDelay  time.Duration   // задержка синтетического исполнения
}

// DefaultConfig возвращает конфигурацию движка по умолчанию
func DefaultConfig() Config {
	return Config{
		Mode:            ModePaper,
		RiskPerTrade:    decimal.NewFromFloat(0.02),
		InitialBalance:  decimal.NewFromInt(10000),
		StopDistancePct: decimal.NewFromFloat(0.03),
		PaperFillDelay:  100 * time.Millisecond,
	}
}

// Stats - статистика работы движка
type Stats struct {
	State            State           `json:"state"`
	UptimeSeconds    float64         `json:"uptime_seconds"`
	SignalsProcessed uint64          `json:"signals_processed"`
	OrdersPlaced     uint64          `json:"orders_placed"`
	SuccessfulTrades uint64          `json:"successful_trades"`
	FailedTrades     uint64          `json:"failed_trades"`
	ActiveOrders     int             `json:"active_orders"`
	ActivePositions  int             `json:"active_positions"`
	SuccessRate      float64         `json:"success_rate"`
	PortfolioValue   decimal.Decimal `json:"portfolio_value"`
	RealizedPnl      decimal.Decimal `json:"realized_pnl"`
}

// Engine - торговый движок: оркестрация сигналов, ордеров и позиций
//
// Весь поток управления идёт через шину событий: сигнал -> валидация
// риска -> ордер -> исполнение -> позиция. Движок не закрывает позиции
// напрямую при срабатывании защитных уровней - он публикует событие и
// проводит закрывающий ордер через ту же валидацию, что и любой другой.
type Engine struct {
	cfg       Config
	bus       *eventbus.Bus
	riskMgr   *risk.Manager
	connector exchange.Exchange
	logger    *zap.Logger

	mu        sync.RWMutex
	state     State
	startTime time.Time
	lastReset time.Time

	activeOrders map[string]*models.Order
	positions    map[string]*models.Position
	// Позиции, по которым уже отправлен закрывающий ордер
	closing map[string]bool

	completedOrders []*models.Order
	closedPositions []*models.Position

	realizedPnl decimal.Decimal

	signalsProcessed uint64
	ordersPlaced     uint64
	successfulTrades uint64
	failedTrades     uint64

	emergencyStopped bool
	// Защёлка предупреждения о просадке: одно событие на эпизод
	drawdownAlerted bool

	subIDs []string
}

// NewEngine создает движок и подписывает его на события шины
func NewEngine(cfg Config, bus *eventbus.Bus, riskMgr *risk.Manager, connector exchange.Exchange, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:          cfg,
		bus:          bus,
		riskMgr:      riskMgr,
		connector:    connector,
		logger:       logger.Named("engine"),
		state:        StateStopped,
		activeOrders: make(map[string]*models.Order),
		positions:    make(map[string]*models.Position),
		closing:      make(map[string]bool),
	}
	e.subscribeHandlers()
	return e
}

func (e *Engine) subscribeHandlers() {
	e.subIDs = append(e.subIDs,
		e.bus.Subscribe(models.EventSignalGenerated, e.handleSignal,
			eventbus.HandlerOptions{Name: "engine.signal", Priority: 10}),
		e.bus.Subscribe(models.EventOrderFilled, e.handleOrderFilled,
			eventbus.HandlerOptions{Name: "engine.order_filled", Priority: 10}),
		e.bus.Subscribe(models.EventPriceUpdate, e.handlePriceUpdate,
			eventbus.HandlerOptions{Name: "engine.price_update", Priority: 10}),
		e.bus.Subscribe(models.EventStopLossTriggered, e.handleProtectiveExit,
			eventbus.HandlerOptions{Name: "engine.stop_loss", Priority: 10}),
		e.bus.Subscribe(models.EventTakeProfitTriggered, e.handleProtectiveExit,
			eventbus.HandlerOptions{Name: "engine.take_profit", Priority: 10}),
	)
}

// ============ Жизненный цикл ============

// Start запускает движок: STOPPED -> STARTING -> RUNNING
//
// При ошибке подключения коннектора движок переходит в ERROR и требует
// ручного перезапуска.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.transition(StateStarting); err != nil {
		return err
	}

	if err := e.connector.Connect(ctx); err != nil {
		e.setState(StateError)
		return fmt.Errorf("connect exchange: %w", err)
	}

	e.mu.Lock()
	e.startTime = time.Now()
	e.resetDailyMetricsLocked()
	e.mu.Unlock()

	if err := e.transition(StateRunning); err != nil {
		e.setState(StateError)
		return err
	}

	e.logger.Info("торговый движок запущен",
		zap.String("mode", e.cfg.Mode),
		zap.String("initial_balance", e.cfg.InitialBalance.String()))

	e.bus.Publish(models.NewEvent(models.EventSystemStartup, "trading_engine", models.PriorityHigh,
		map[string]interface{}{
			"component": "trading_engine",
			"mode":      e.cfg.Mode,
		}))
	return nil
}

// Stop останавливает движок: RUNNING|PAUSED -> STOPPING -> STOPPED
//
// Отменяет неисполненные ордера; в бумажном режиме принудительно
// закрывает позиции (в live закрытие остаётся оператору).
func (e *Engine) Stop(ctx context.Context) error {
	if err := e.transition(StateStopping); err != nil {
		return err
	}

	e.cancelPendingOrders(ctx)

	if e.cfg.Mode == ModePaper {
		e.closeAllPositions(ctx)
	}

	uptime := time.Since(e.startTime)
	e.bus.Publish(models.NewEvent(models.EventSystemShutdown, "trading_engine", models.PriorityCritical,
		map[string]interface{}{
			"component":      "trading_engine",
			"uptime_seconds": uptime.Seconds(),
		}))

	if err := e.connector.Close(); err != nil {
		e.logger.Warn("ошибка закрытия коннектора", zap.Error(err))
	}

	if err := e.transition(StateStopped); err != nil {
		e.setState(StateError)
		return err
	}
	e.logger.Info("торговый движок остановлен", zap.Duration("uptime", uptime))
	return nil
}

// Pause приостанавливает обработку сигналов (позиции продолжают
// отслеживаться)
func (e *Engine) Pause() error {
	return e.transition(StatePaused)
}

// Resume возобновляет обработку сигналов
func (e *Engine) Resume() error {
	e.mu.Lock()
	e.emergencyStopped = false
	e.mu.Unlock()
	return e.transition(StateRunning)
}

// State возвращает текущее состояние движка
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) transition(to State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !CanTransition(e.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.state, to)
	}
	e.logger.Info("переход состояния движка",
		zap.String("from", string(e.state)),
		zap.String("to", string(to)))
	e.state = to
	UpdateEngineState(string(to))
	return nil
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
	UpdateEngineState(string(s))
}

// resetDailyMetricsLocked сбрасывает дневные метрики на границе
// календарного дня (вызывается под локом)
func (e *Engine) resetDailyMetricsLocked() {
	today := utils.DayStart(time.Now())
	if !e.lastReset.IsZero() && !e.lastReset.Before(today) {
		return
	}
	e.lastReset = today
	e.riskMgr.SetDailyStartValue(e.portfolioValueLocked())
	e.logger.Info("дневные метрики сброшены", zap.Time("day", today))
}

// ============ Портфель ============

// portfolioValueLocked - стоимость портфеля: стартовый баланс +
// реализованный + нереализованный PNL (вызывается под локом)
func (e *Engine) portfolioValueLocked() decimal.Decimal {
	v := e.cfg.InitialBalance.Add(e.realizedPnl)
	for _, p := range e.positions {
		v = v.Add(p.UnrealizedPnl)
	}
	return v
}

// availableBalanceLocked - свободные средства: стоимость портфеля минус
// экспозиция открытых позиций по цене входа (вызывается под локом)
func (e *Engine) availableBalanceLocked() decimal.Decimal {
	v := e.portfolioValueLocked()
	for _, p := range e.positions {
		v = v.Sub(p.EntryPrice.Mul(p.Quantity))
	}
	return v
}

// PortfolioValue возвращает текущую стоимость портфеля
func (e *Engine) PortfolioValue() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.portfolioValueLocked()
}

// ============ Обработка сигналов ============

// suggestedQuantity - объем из риска на сделку: риск делится на
// оценочную дистанцию стопа и масштабируется силой сигнала
func (e *Engine) suggestedQuantity(price, strength decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	stopDistance := price.Mul(e.cfg.StopDistancePct)
	if stopDistance.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	e.mu.RLock()
	riskAmount := e.portfolioValueLocked().Mul(e.cfg.RiskPerTrade)
	e.mu.RUnlock()

	return riskAmount.Div(stopDistance).Mul(strength)
}

func (e *Engine) handleSignal(ctx context.Context, ev *models.Event) error {
	if e.State() != StateRunning {
		e.logger.Debug("сигнал пропущен: движок не в состоянии RUNNING",
			zap.String("state", string(e.State())))
		return nil
	}

	symbol := getString(ev.Data, "symbol")
	action := getString(ev.Data, "action")
	strategy := getString(ev.Data, "strategy")
	price := getDecimal(ev.Data, "price")
	strength := getDecimal(ev.Data, "strength")

	if symbol == "" || price.LessThanOrEqual(decimal.Zero) {
		e.logger.Warn("некорректный сигнал", zap.Any("data", ev.Data))
		return nil
	}

	var side models.OrderSide
	switch action {
	case string(models.SignalActionBuy):
		side = models.OrderSideBuy
	case string(models.SignalActionSell):
		side = models.OrderSideSell
	default:
		e.logger.Warn("сигнал отклонен: неизвестное действие",
			zap.String("symbol", symbol),
			zap.String("action", action))
		return nil
	}

	e.mu.Lock()
	e.signalsProcessed++
	portfolioValue := e.portfolioValueLocked()
	available := e.availableBalanceLocked()
	e.mu.Unlock()
	RecordSignal(symbol)

	quantity := e.suggestedQuantity(price, strength)
	if quantity.LessThanOrEqual(decimal.Zero) {
		e.logger.Info("сигнал отклонен: нулевой расчётный объем",
			zap.String("symbol", symbol))
		return nil
	}

	approved, reason, adjusted := e.riskMgr.ValidateOrder(
		symbol, side, quantity, price, portfolioValue, available)
	if !approved {
		e.logger.Info("сигнал отклонен риск-менеджером",
			zap.String("symbol", symbol),
			zap.String("reason", reason))
		e.bus.Publish(models.NewEvent(models.EventRiskLimitExceeded, "trading_engine", models.PriorityHigh,
			map[string]interface{}{
				"symbol": symbol,
				"reason": reason,
			}))
		return nil
	}

	order := models.NewOrder(symbol, side, models.OrderTypeMarket, adjusted, price, strategy)
	order.StopLoss, order.TakeProfit = protectiveLevels(side, price)
	order.AvgFillPrice = decimal.Zero

	e.placeOrder(ctx, order)
	return nil
}

// protectiveLevels - уровни SL/TP, зашиваемые в ордер из сигнала
func protectiveLevels(side models.OrderSide, price decimal.Decimal) (sl, tp decimal.Decimal) {
	if side == models.OrderSideBuy {
		return price.Mul(longStopLoss), price.Mul(longTakeProfit)
	}
	return price.Mul(shortStopLoss), price.Mul(shortTakeProfit)
}

// ============ Ордера ============

// placeOrder отправляет ордер на биржу и публикует OrderPlaced
//
// Ошибка размещения переводит ордер в REJECTED без повторных попыток.
// Возвращает true, если ордер принят биржей.
func (e *Engine) placeOrder(ctx context.Context, order *models.Order) bool {
	e.mu.Lock()
	e.activeOrders[order.ID] = order
	e.ordersPlaced++
	e.mu.Unlock()

	result, err := e.connector.PlaceOrder(ctx, order)
	if err != nil {
		e.setOrderStatus(order, models.OrderStatusRejected)
		e.mu.Lock()
		delete(e.activeOrders, order.ID)
		e.failedTrades++
		e.mu.Unlock()
		RecordOrder(order.Symbol, "rejected")

		e.logger.Error("ошибка размещения ордера",
			zap.String("order_id", order.ID),
			zap.String("symbol", order.Symbol),
			zap.Error(err))
		e.bus.Publish(models.NewEvent(models.EventErrorOccurred, "trading_engine", models.PriorityHigh,
			map[string]interface{}{
				"order_id": order.ID,
				"symbol":   order.Symbol,
				"error":    err.Error(),
			}))
		return false
	}

	e.setOrderStatus(order, models.OrderStatusSubmitted)
	RecordOrder(order.Symbol, "placed")
	e.logger.Info("ордер размещен",
		zap.String("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("quantity", order.Quantity.String()))

	e.bus.Publish(models.NewEvent(models.EventOrderPlaced, "trading_engine", models.PriorityNormal,
		orderData(order)))

	// Бумажный режим: синтетическое исполнение через тот же путь,
	// что и реальное (событие OrderFilled)
	if e.cfg.Mode == ModePaper {
		fillPrice := order.Price
		if result != nil && result.AvgFillPrice.GreaterThan(decimal.Zero) {
			fillPrice = result.AvgFillPrice
		}
		time.AfterFunc(e.cfg.PaperFillDelay, func() {
			e.synthesizeFill(order, fillPrice)
		})
	}
	return true
}

// synthesizeFill публикует синтетическое исполнение бумажного ордера
//
// Ордер мутируется под локом: снимки ActiveOrders и Stats копируют
// ордера конкурентно с отложенным исполнением.
func (e *Engine) synthesizeFill(order *models.Order, fillPrice decimal.Decimal) {
	e.mu.Lock()
	if _, active := e.activeOrders[order.ID]; !active {
		e.mu.Unlock()
		return
	}
	if err := order.ApplyFill(order.RemainingQuantity(), fillPrice); err != nil {
		e.mu.Unlock()
		e.logger.Error("ошибка синтетического исполнения", zap.Error(err))
		return
	}
	e.setOrderStatusLocked(order, models.OrderStatusFilled)
	data := orderData(order)
	e.mu.Unlock()

	e.bus.Publish(models.NewEvent(models.EventOrderFilled, "paper_exchange", models.PriorityNormal, data))
}

// setOrderStatus переводит статус ордера по таблице переходов
func (e *Engine) setOrderStatus(order *models.Order, to models.OrderStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setOrderStatusLocked(order, to)
}

func (e *Engine) setOrderStatusLocked(order *models.Order, to models.OrderStatus) {
	if !CanTransitionOrder(order.Status, to) {
		e.logger.Warn("недопустимый переход статуса ордера",
			zap.String("order_id", order.ID),
			zap.String("from", string(order.Status)),
			zap.String("to", string(to)))
		return
	}
	order.Status = to
	order.UpdatedAt = time.Now()
}

// cancelPendingOrders отменяет все неисполненные ордера
func (e *Engine) cancelPendingOrders(ctx context.Context) {
	e.mu.Lock()
	pending := make([]*models.Order, 0, len(e.activeOrders))
	for _, o := range e.activeOrders {
		if o.Status == models.OrderStatusPending || o.Status == models.OrderStatusSubmitted {
			pending = append(pending, o)
		}
	}
	e.mu.Unlock()

	for _, order := range pending {
		if err := e.connector.CancelOrder(ctx, order.ID); err != nil {
			e.logger.Warn("ошибка отмены ордера",
				zap.String("order_id", order.ID), zap.Error(err))
		}
		e.setOrderStatus(order, models.OrderStatusCancelled)

		e.mu.Lock()
		delete(e.activeOrders, order.ID)
		e.completedOrders = append(e.completedOrders, order)
		e.mu.Unlock()

		e.bus.Publish(models.NewEvent(models.EventOrderCancelled, "trading_engine", models.PriorityNormal,
			orderData(order)))
	}
	if len(pending) > 0 {
		e.logger.Info("неисполненные ордера отменены", zap.Int("count", len(pending)))
	}
}

// closeAllPositions отправляет закрывающие ордера по всем позициям
func (e *Engine) closeAllPositions(ctx context.Context) {
	e.mu.Lock()
	open := make([]*models.Position, 0, len(e.positions))
	for _, p := range e.positions {
		open = append(open, p)
	}
	e.mu.Unlock()

	for _, pos := range open {
		e.submitClosingOrder(ctx, pos, pos.CurrentPrice, "shutdown")
	}
	if len(open) > 0 {
		e.logger.Info("инициировано закрытие позиций", zap.Int("count", len(open)))
	}
}

// ============ Исполнения ============

func (e *Engine) handleOrderFilled(ctx context.Context, ev *models.Event) error {
	orderID := getString(ev.Data, "order_id")

	e.mu.Lock()
	order, ok := e.activeOrders[orderID]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	delete(e.activeOrders, orderID)
	e.completedOrders = append(e.completedOrders, order)
	e.successfulTrades++
	e.mu.Unlock()

	e.applyFillToPosition(order)
	e.logger.Info("ордер исполнен",
		zap.String("order_id", orderID),
		zap.String("symbol", order.Symbol),
		zap.String("avg_price", order.AvgFillPrice.String()))
	return nil
}

// signedQuantity - объем позиции для риск-менеджера: шорт со знаком минус
func signedQuantity(pos *models.Position) decimal.Decimal {
	if pos.Side == models.PositionSideShort {
		return pos.Quantity.Neg()
	}
	return pos.Quantity
}

// applyFillToPosition открывает, доливает или закрывает позицию по
// исполненному ордеру. Ключ уникальности: (символ, стратегия).
func (e *Engine) applyFillToPosition(order *models.Order) {
	key := models.PositionKey(order.Symbol, order.Strategy)
	fillPrice := order.AvgFillPrice
	if fillPrice.LessThanOrEqual(decimal.Zero) {
		fillPrice = order.Price
	}

	e.mu.Lock()
	pos, exists := e.positions[key]

	if !exists {
		side := models.PositionSideLong
		if order.Side == models.OrderSideSell {
			side = models.PositionSideShort
		}
		pos = models.NewPosition(order.Symbol, side, order.FilledQuantity, fillPrice, order.Strategy)
		pos.StopLoss = order.StopLoss
		pos.TakeProfit = order.TakeProfit
		e.positions[key] = pos
		e.mu.Unlock()

		e.riskMgr.UpdatePosition(order.Symbol, signedQuantity(pos), pos.EntryPrice, pos.CurrentPrice)
		UpdateOpenPositions(len(e.Positions()))

		e.bus.Publish(models.NewEvent(models.EventPositionOpened, "trading_engine", models.PriorityNormal,
			positionData(pos)))
		return
	}

	sameDirection := (pos.Side == models.PositionSideLong && order.Side == models.OrderSideBuy) ||
		(pos.Side == models.PositionSideShort && order.Side == models.OrderSideSell)

	if sameDirection {
		// Долив: средневзвешенная цена входа
		pos.AddFill(order.FilledQuantity, fillPrice)
		e.mu.Unlock()
		e.riskMgr.UpdatePosition(order.Symbol, signedQuantity(pos), pos.EntryPrice, pos.CurrentPrice)
		return
	}

	// Противоположное направление - закрытие (полное или частичное)
	closeQty := order.FilledQuantity
	if closeQty.GreaterThan(pos.Quantity) {
		closeQty = pos.Quantity
	}

	var realized decimal.Decimal
	if pos.Side == models.PositionSideLong {
		realized = fillPrice.Sub(pos.EntryPrice).Mul(closeQty)
	} else {
		realized = pos.EntryPrice.Sub(fillPrice).Mul(closeQty)
	}
	e.realizedPnl = e.realizedPnl.Add(realized)
	pos.RealizedPnl = pos.RealizedPnl.Add(realized)

	if closeQty.Equal(pos.Quantity) {
		delete(e.positions, key)
		delete(e.closing, key)
		pos.Quantity = decimal.Zero
		pos.UnrealizedPnl = decimal.Zero
		e.closedPositions = append(e.closedPositions, pos)
		e.mu.Unlock()

		e.riskMgr.RemovePosition(order.Symbol, realized)
		UpdateOpenPositions(len(e.Positions()))
		RecordRealizedPnl(realized)

		e.logger.Info("позиция закрыта",
			zap.String("symbol", pos.Symbol),
			zap.String("strategy", pos.Strategy),
			zap.String("realized_pnl", realized.String()))

		e.bus.Publish(models.NewEvent(models.EventPositionClosed, "trading_engine", models.PriorityNormal,
			positionData(pos)))
		return
	}

	pos.Quantity = pos.Quantity.Sub(closeQty)
	pos.UpdatePrice(fillPrice)
	// Частичное закрытие: защитные уровни снова активны
	delete(e.closing, key)
	e.mu.Unlock()

	e.riskMgr.UpdatePosition(order.Symbol, signedQuantity(pos), pos.EntryPrice, pos.CurrentPrice)
	RecordRealizedPnl(realized)
}

// ============ Цены и защитные выходы ============

func (e *Engine) handlePriceUpdate(ctx context.Context, ev *models.Event) error {
	symbol := getString(ev.Data, "symbol")
	price := getDecimal(ev.Data, "price")
	if symbol == "" || price.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	type trigger struct {
		eventType models.EventType
		pos       *models.Position
		level     decimal.Decimal
	}
	var triggers []trigger

	e.mu.Lock()
	for key, pos := range e.positions {
		if pos.Symbol != symbol {
			continue
		}
		pos.UpdatePrice(price)

		if e.closing[key] {
			continue
		}
		if hitStopLoss(pos, price) {
			triggers = append(triggers, trigger{models.EventStopLossTriggered, pos, pos.StopLoss})
			e.closing[key] = true
		} else if hitTakeProfit(pos, price) {
			triggers = append(triggers, trigger{models.EventTakeProfitTriggered, pos, pos.TakeProfit})
			e.closing[key] = true
		}
	}
	portfolioValue := e.portfolioValueLocked()
	e.mu.Unlock()

	// Риск-срезы позиций обновляются после отпускания лока движка
	e.mu.RLock()
	for _, pos := range e.positions {
		if pos.Symbol == symbol {
			e.riskMgr.UpdatePosition(pos.Symbol, signedQuantity(pos), pos.EntryPrice, pos.CurrentPrice)
		}
	}
	e.mu.RUnlock()

	for _, tr := range triggers {
		e.logger.Info("сработал защитный уровень",
			zap.String("type", string(tr.eventType)),
			zap.String("symbol", tr.pos.Symbol),
			zap.String("level", tr.level.String()),
			zap.String("price", price.String()))

		e.bus.Publish(models.NewEvent(tr.eventType, "trading_engine", models.PriorityHigh,
			map[string]interface{}{
				"position_id": tr.pos.ID,
				"symbol":      tr.pos.Symbol,
				"strategy":    tr.pos.Strategy,
				"level":       tr.level.String(),
				"price":       price.String(),
			}))
	}

	e.checkEmergencyStop(portfolioValue)
	return nil
}

func hitStopLoss(pos *models.Position, price decimal.Decimal) bool {
	if pos.StopLoss.IsZero() {
		return false
	}
	if pos.Side == models.PositionSideLong {
		return price.LessThanOrEqual(pos.StopLoss)
	}
	return price.GreaterThanOrEqual(pos.StopLoss)
}

func hitTakeProfit(pos *models.Position, price decimal.Decimal) bool {
	if pos.TakeProfit.IsZero() {
		return false
	}
	if pos.Side == models.PositionSideLong {
		return price.GreaterThanOrEqual(pos.TakeProfit)
	}
	return price.LessThanOrEqual(pos.TakeProfit)
}

// checkEmergencyStop приостанавливает торговлю при аварийных условиях
func (e *Engine) checkEmergencyStop(portfolioValue decimal.Decimal) {
	e.mu.RLock()
	already := e.emergencyStopped
	e.mu.RUnlock()
	if already || e.State() != StateRunning {
		return
	}

	stop, reason := e.riskMgr.CheckEmergencyStop(portfolioValue)
	if !stop {
		e.checkDrawdownAlert(portfolioValue)
		return
	}

	e.mu.Lock()
	e.emergencyStopped = true
	e.mu.Unlock()

	e.logger.Error("аварийная остановка торговли", zap.String("reason", reason))
	e.bus.Publish(models.NewEvent(models.EventRiskLimitExceeded, "risk_manager", models.PriorityCritical,
		map[string]interface{}{
			"emergency": true,
			"reason":    reason,
		}))

	if err := e.Pause(); err != nil {
		e.logger.Error("не удалось приостановить движок", zap.Error(err))
	}
}

// checkDrawdownAlert публикует предупреждение при приближении просадки
// к лимиту (одно событие на эпизод, защёлка сбрасывается при откате)
func (e *Engine) checkDrawdownAlert(portfolioValue decimal.Decimal) {
	limit := e.riskMgr.Limits().MaxDrawdown
	if limit.LessThanOrEqual(decimal.Zero) {
		return
	}
	threshold := limit.Mul(drawdownAlertFraction)
	drawdown := e.riskMgr.AssessPortfolioRisk(portfolioValue).CurrentDrawdown

	e.mu.Lock()
	if drawdown.LessThan(threshold) {
		e.drawdownAlerted = false
		e.mu.Unlock()
		return
	}
	if e.drawdownAlerted {
		e.mu.Unlock()
		return
	}
	e.drawdownAlerted = true
	e.mu.Unlock()

	e.logger.Warn("просадка портфеля приближается к лимиту",
		zap.String("drawdown", drawdown.String()),
		zap.String("threshold", threshold.String()),
		zap.String("limit", limit.String()))

	e.bus.Publish(models.NewEvent(models.EventDrawdownAlert, "risk_manager", models.PriorityHigh,
		map[string]interface{}{
			"drawdown":        drawdown.String(),
			"threshold":       threshold.String(),
			"limit":           limit.String(),
			"portfolio_value": portfolioValue.String(),
		}))
}

// handleProtectiveExit закрывает позицию по сработавшему SL/TP
//
// Закрывающий ордер проходит ту же риск-валидацию, что и любой другой.
func (e *Engine) handleProtectiveExit(ctx context.Context, ev *models.Event) error {
	symbol := getString(ev.Data, "symbol")
	strategy := getString(ev.Data, "strategy")
	price := getDecimal(ev.Data, "price")

	key := models.PositionKey(symbol, strategy)
	e.mu.RLock()
	pos, ok := e.positions[key]
	e.mu.RUnlock()
	if !ok {
		return nil
	}
	if price.LessThanOrEqual(decimal.Zero) {
		price = pos.CurrentPrice
	}

	e.submitClosingOrder(ctx, pos, price, string(ev.Type))
	return nil
}

// submitClosingOrder проводит закрывающий ордер через риск-валидацию
//
// Неудача (отказ валидатора или биржи) снимает пометку "закрывается":
// следующий тик цены снова взведёт защитный уровень.
func (e *Engine) submitClosingOrder(ctx context.Context, pos *models.Position, price decimal.Decimal, cause string) {
	key := models.PositionKey(pos.Symbol, pos.Strategy)

	side := models.OrderSideSell
	if pos.Side == models.PositionSideShort {
		side = models.OrderSideBuy
	}

	e.mu.RLock()
	portfolioValue := e.portfolioValueLocked()
	available := e.availableBalanceLocked()
	e.mu.RUnlock()

	approved, reason, _ := e.riskMgr.ValidateOrder(
		pos.Symbol, side, pos.Quantity, price, portfolioValue, available)
	if !approved {
		e.logger.Warn("закрывающий ордер отклонен риск-менеджером",
			zap.String("symbol", pos.Symbol),
			zap.String("cause", cause),
			zap.String("reason", reason))
		e.rearmProtectiveExit(key)
		return
	}

	// Закрытие уменьшает риск: усечение объема валидатором не
	// применяется, позиция закрывается целиком
	order := models.NewOrder(pos.Symbol, side, closingOrderType(cause), pos.Quantity, price, pos.Strategy)
	if !e.placeOrder(ctx, order) {
		e.rearmProtectiveExit(key)
	}
}

// rearmProtectiveExit снимает пометку отправленного закрытия позиции
func (e *Engine) rearmProtectiveExit(key string) {
	e.mu.Lock()
	delete(e.closing, key)
	e.mu.Unlock()
}

// closingOrderType - тип закрывающего ордера по причине закрытия
func closingOrderType(cause string) models.OrderType {
	switch cause {
	case string(models.EventStopLossTriggered):
		return models.OrderTypeStopLoss
	case string(models.EventTakeProfitTriggered):
		return models.OrderTypeTakeProfit
	default:
		return models.OrderTypeMarket
	}
}

// ============ Статистика ============

// Positions возвращает снимок открытых позиций
func (e *Engine) Positions() []*models.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*models.Position, 0, len(e.positions))
	for _, p := range e.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// ActiveOrders возвращает снимок неисполненных ордеров
func (e *Engine) ActiveOrders() []*models.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*models.Order, 0, len(e.activeOrders))
	for _, o := range e.activeOrders {
		cp := *o
		out = append(out, &cp)
	}
	return out
}

// Stats возвращает статистику работы движка
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var uptime float64
	if !e.startTime.IsZero() {
		uptime = time.Since(e.startTime).Seconds()
	}

	total := e.successfulTrades + e.failedTrades
	successRate := 0.0
	if total > 0 {
		successRate = float64(e.successfulTrades) / float64(total)
	}

	return Stats{
		State:            e.state,
		UptimeSeconds:    uptime,
		SignalsProcessed: e.signalsProcessed,
		OrdersPlaced:     e.ordersPlaced,
		SuccessfulTrades: e.successfulTrades,
		FailedTrades:     e.failedTrades,
		ActiveOrders:     len(e.activeOrders),
		ActivePositions:  len(e.positions),
		SuccessRate:      successRate,
		PortfolioValue:   e.portfolioValueLocked(),
		RealizedPnl:      e.realizedPnl,
	}
}

// ============ Вспомогательные ============

func orderData(o *models.Order) map[string]interface{} {
	return map[string]interface{}{
		"order_id":        o.ID,
		"symbol":          o.Symbol,
		"side":            string(o.Side),
		"type":            string(o.Type),
		"quantity":        o.Quantity.String(),
		"price":           o.Price.String(),
		"filled_quantity": o.FilledQuantity.String(),
		"avg_fill_price":  o.AvgFillPrice.String(),
		"status":          string(o.Status),
		"strategy":        o.Strategy,
	}
}

func positionData(p *models.Position) map[string]interface{} {
	return map[string]interface{}{
		"position_id":    p.ID,
		"symbol":         p.Symbol,
		"side":           string(p.Side),
		"quantity":       p.Quantity.String(),
		"entry_price":    p.EntryPrice.String(),
		"current_price":  p.CurrentPrice.String(),
		"unrealized_pnl": p.UnrealizedPnl.String(),
		"realized_pnl":   p.RealizedPnl.String(),
		"strategy":       p.Strategy,
	}
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getDecimal(data map[string]interface{}, key string) decimal.Decimal {
	switch v := data[key].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	case decimal.Decimal:
		return v
	default:
		return decimal.Zero
	}
}
