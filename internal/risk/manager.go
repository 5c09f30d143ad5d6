package risk

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradebot/internal/models"
)

// Параметры упрощённого критерия Келли.
// В production их заменяет фактическая статистика стратегии.
var (
	kellyWinRate = decimal.NewFromFloat(0.55)
	kellyAvgWin  = decimal.NewFromFloat(0.06)
	kellyAvgLoss = decimal.NewFromFloat(0.02)

	// Доля лимита позиции, выше которой Келли не поднимается
	kellySafetyCap = decimal.NewFromFloat(0.25)
)

// pnlHistoryDepth - глубина истории реализованного PNL (дней)
const pnlHistoryDepth = 30

// minHistoryForMetrics - минимум точек истории для VaR и Sharpe
const minHistoryForMetrics = 10

// cacheTTL - время жизни кэша портфельных метрик
const cacheTTL = 60 * time.Second

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Manager - риск-менеджер: единственный владелец риск-состояния позиций
//
// Все решения о допуске ордеров проходят через ValidateOrder. Движок
// обязан сообщать менеджеру об открытии, изменении и закрытии позиций,
// иначе лимиты считаются по устаревшим данным.
type Manager struct {
	mu     sync.RWMutex
	limits models.RiskLimits
	logger *zap.Logger

	positions         map[string]*models.PositionRisk
	pnlHistory        []decimal.Decimal
	consecutiveLosses int
	lastLossTime      time.Time
	highWaterMark     decimal.Decimal
	dailyStartValue   decimal.Decimal

	// Кэш портфельных метрик: расчёт недешёвый, а API и движок
	// спрашивают его часто
	cached   *models.PortfolioRisk
	cachedAt time.Time
}

// NewManager создает риск-менеджер с заданными лимитами
func NewManager(limits models.RiskLimits, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		limits:    limits,
		logger:    logger.Named("risk"),
		positions: make(map[string]*models.PositionRisk),
	}
}

// Limits возвращает действующие лимиты
func (m *Manager) Limits() models.RiskLimits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// ============ Валидация ордеров ============

// ValidateOrder проверяет ордер по всем лимитам
//
// Порядок проверок фиксирован: cooling-off, лимит открытых позиций,
// достаточность средств (с усадкой), лимит размера позиции (с усадкой),
// дневной лимит убытка, корреляционный лимит, критерий Келли.
//
// Возвращает (одобрен, причина, скорректированный объем). Одобренный
// объем всегда строго положителен.
func (m *Manager) ValidateOrder(
	symbol string,
	side models.OrderSide,
	quantity, price decimal.Decimal,
	portfolioValue, availableBalance decimal.Decimal,
) (bool, string, decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if quantity.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return false, "order quantity and price must be positive", decimal.Zero
	}

	// Cooling-off после серии убытков
	if m.inCoolingOff() {
		return false, "in cooling off period after consecutive losses", decimal.Zero
	}

	// Лимит открытых позиций (только для новых покупок)
	if side == models.OrderSideBuy && len(m.positions) >= m.limits.MaxOpenPositions {
		return false, "maximum open positions (" + itoa(m.limits.MaxOpenPositions) + ") reached", decimal.Zero
	}

	positionValue := quantity.Mul(price)

	// Достаточность средств: усадка до доступного баланса
	if side == models.OrderSideBuy && positionValue.GreaterThan(availableBalance) {
		adjusted := availableBalance.Div(price).RoundDown(8)
		if adjusted.LessThan(quantity.Mul(decimal.NewFromFloat(0.1))) {
			return false, "insufficient funds for meaningful position", decimal.Zero
		}
		quantity = adjusted
		positionValue = quantity.Mul(price)
	}

	// Лимит размера позиции: усадка до лимита
	if portfolioValue.GreaterThan(decimal.Zero) {
		maxPositionValue := portfolioValue.Mul(m.limits.MaxPositionSize)
		if positionValue.GreaterThan(maxPositionValue) {
			adjusted := maxPositionValue.Div(price).RoundDown(8)
			if adjusted.LessThan(quantity.Mul(decimal.NewFromFloat(0.5))) {
				return false, "position size exceeds " + pct(m.limits.MaxPositionSize) + " limit", decimal.Zero
			}
			m.logger.Warn("размер позиции усажен до лимита",
				zap.String("symbol", symbol),
				zap.String("requested", quantity.String()),
				zap.String("adjusted", adjusted.String()))
			quantity = adjusted
			positionValue = quantity.Mul(price)
		}
	}

	// Дневной лимит убытка
	dailyPnl := m.dailyPnl(portfolioValue)
	if dailyPnl.IsNegative() && m.dailyStartValue.GreaterThan(decimal.Zero) {
		lossFrac := dailyPnl.Abs().Div(m.dailyStartValue)
		if lossFrac.GreaterThanOrEqual(m.limits.MaxDailyLoss) {
			return false, "daily loss limit (" + pct(m.limits.MaxDailyLoss) + ") reached", decimal.Zero
		}
	}

	// Корреляционный лимит: экспозиция по активам одной базы
	corrRisk := m.correlationRisk(symbol, positionValue, portfolioValue)
	if corrRisk.GreaterThan(m.limits.MaxCorrelation) {
		return false, "correlation risk exceeds " + pct(m.limits.MaxCorrelation) + " limit", decimal.Zero
	}

	// Критерий Келли: финальная усадка до оптимального размера
	optimal := m.kellyQuantity(price, portfolioValue)
	if optimal.GreaterThan(decimal.Zero) && optimal.LessThan(quantity) {
		m.logger.Info("размер позиции ограничен критерием Келли",
			zap.String("symbol", symbol),
			zap.String("requested", quantity.String()),
			zap.String("optimal", optimal.String()))
		quantity = optimal
	}

	if quantity.LessThanOrEqual(decimal.Zero) {
		return false, "adjusted quantity is not positive", decimal.Zero
	}
	return true, "order validated successfully", quantity
}

// CalculateStopLossTakeProfit рассчитывает уровни защитных выходов
//
// Нулевая волатильность означает базовые проценты из лимитов. Ненулевая
// расширяет стопы множителем clamp(volatility*10, 1, 3). Тейк-профит
// подтягивается до минимального соотношения риск/прибыль.
func (m *Manager) CalculateStopLossTakeProfit(
	side models.OrderSide,
	entryPrice decimal.Decimal,
	volatility decimal.Decimal,
) (stopLoss, takeProfit decimal.Decimal) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slPct := m.limits.StopLossPct
	tpPct := m.limits.TakeProfitPct
	if volatility.GreaterThan(decimal.Zero) {
		mult := volatility.Mul(decimal.NewFromInt(10))
		if mult.LessThan(one) {
			mult = one
		}
		if mult.GreaterThan(decimal.NewFromInt(3)) {
			mult = decimal.NewFromInt(3)
		}
		slPct = slPct.Mul(mult)
		tpPct = tpPct.Mul(mult)
	}

	if side == models.OrderSideBuy {
		stopLoss = entryPrice.Mul(one.Sub(slPct))
		takeProfit = entryPrice.Mul(one.Add(tpPct))
	} else {
		stopLoss = entryPrice.Mul(one.Add(slPct))
		takeProfit = entryPrice.Mul(one.Sub(tpPct))
	}

	// Минимальное соотношение риск/прибыль
	riskDist := entryPrice.Sub(stopLoss).Abs()
	rewardDist := takeProfit.Sub(entryPrice).Abs()
	if riskDist.GreaterThan(decimal.Zero) {
		rr := rewardDist.Div(riskDist)
		if rr.LessThan(m.limits.MinRiskReward) {
			if side == models.OrderSideBuy {
				takeProfit = entryPrice.Add(riskDist.Mul(m.limits.MinRiskReward))
			} else {
				takeProfit = entryPrice.Sub(riskDist.Mul(m.limits.MinRiskReward))
			}
		}
	}
	return stopLoss, takeProfit
}

// ============ Учёт позиций ============

// UpdatePosition обновляет риск-срез позиции
//
// Size знаковый: шорт передается отрицательным объемом, тогда рост цены
// дает отрицательный нереализованный PNL.
func (m *Manager) UpdatePosition(symbol string, size, entryPrice, currentPrice decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	unrealized := currentPrice.Sub(entryPrice).Mul(size)

	riskPct := decimal.Zero
	notional := entryPrice.Mul(size).Abs()
	if notional.GreaterThan(decimal.Zero) {
		riskPct = unrealized.Div(notional).Abs()
	}

	level := models.RiskLevelLow
	switch {
	case riskPct.GreaterThanOrEqual(decimal.NewFromFloat(0.05)):
		level = models.RiskLevelCritical
	case riskPct.GreaterThanOrEqual(decimal.NewFromFloat(0.03)):
		level = models.RiskLevelHigh
	case riskPct.GreaterThanOrEqual(decimal.NewFromFloat(0.01)):
		level = models.RiskLevelMedium
	}

	m.positions[symbol] = &models.PositionRisk{
		Symbol:        symbol,
		Size:          size,
		EntryPrice:    entryPrice,
		CurrentPrice:  currentPrice,
		UnrealizedPnl: unrealized,
		RiskPercent:   riskPct,
		RiskLevel:     level,
		UpdatedAt:     time.Now(),
	}
	m.cached = nil
}

// RemovePosition снимает позицию с учёта и фиксирует результат
func (m *Manager) RemovePosition(symbol string, realizedPnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.positions, symbol)

	if realizedPnl.IsNegative() {
		m.consecutiveLosses++
		m.lastLossTime = time.Now()
	} else {
		m.consecutiveLosses = 0
	}

	m.pnlHistory = append(m.pnlHistory, realizedPnl)
	if len(m.pnlHistory) > pnlHistoryDepth {
		m.pnlHistory = m.pnlHistory[len(m.pnlHistory)-pnlHistoryDepth:]
	}
	m.cached = nil
}

// Positions возвращает снимок риск-срезов открытых позиций
func (m *Manager) Positions() []*models.PositionRisk {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.PositionRisk, 0, len(m.positions))
	for _, p := range m.positions {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ============ Портфельные метрики ============

// AssessPortfolioRisk рассчитывает агрегированный риск портфеля
//
// Результат кэшируется на 60 секунд; любое изменение позиций
// инвалидирует кэш.
func (m *Manager) AssessPortfolioRisk(portfolioValue decimal.Decimal) *models.PortfolioRisk {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && time.Since(m.cachedAt) < cacheTTL {
		return m.cached
	}

	totalExposure := decimal.Zero
	unrealized := decimal.Zero
	for _, p := range m.positions {
		totalExposure = totalExposure.Add(p.Size.Mul(p.CurrentPrice).Abs())
		unrealized = unrealized.Add(p.UnrealizedPnl)
	}

	// High water mark и текущая просадка
	if portfolioValue.GreaterThan(m.highWaterMark) {
		m.highWaterMark = portfolioValue
	}
	currentDrawdown := decimal.Zero
	if m.highWaterMark.GreaterThan(decimal.Zero) {
		currentDrawdown = m.highWaterMark.Sub(portfolioValue).Div(m.highWaterMark)
	}

	corrRisk := m.totalCorrelationRisk(portfolioValue)

	pr := &models.PortfolioRisk{
		TotalValue:        portfolioValue,
		TotalExposure:     totalExposure,
		UnrealizedPnl:     unrealized,
		DailyPnl:          m.dailyPnl(portfolioValue),
		MaxDrawdown:       m.maxDrawdownFromHistory(),
		CurrentDrawdown:   currentDrawdown,
		VaR95:             m.var95(),
		SharpeRatio:       m.sharpeRatio(),
		RiskLevel:         m.portfolioRiskLevel(currentDrawdown, len(m.positions), corrRisk),
		OpenPositions:     len(m.positions),
		CorrelationRisk:   corrRisk,
		ConsecutiveLosses: m.consecutiveLosses,
		CalculatedAt:      time.Now(),
	}

	m.cached = pr
	m.cachedAt = time.Now()
	return pr
}

// CheckEmergencyStop проверяет условия аварийной остановки торговли
//
// Остановка требуется при: просадке не ниже лимита, достижении дневного
// лимита убытка, серии убыточных сделок или критическом уровне риска.
func (m *Manager) CheckEmergencyStop(portfolioValue decimal.Decimal) (bool, string) {
	pr := m.AssessPortfolioRisk(portfolioValue)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if pr.CurrentDrawdown.GreaterThanOrEqual(m.limits.MaxDrawdown) {
		return true, "maximum drawdown (" + pct(m.limits.MaxDrawdown) + ") exceeded"
	}

	if pr.DailyPnl.IsNegative() && m.dailyStartValue.GreaterThan(decimal.Zero) {
		lossFrac := pr.DailyPnl.Abs().Div(m.dailyStartValue)
		if lossFrac.GreaterThanOrEqual(m.limits.MaxDailyLoss) {
			return true, "daily loss limit (" + pct(m.limits.MaxDailyLoss) + ") exceeded"
		}
	}

	if m.consecutiveLosses >= m.limits.MaxConsecutiveLosses {
		return true, "maximum consecutive losses (" + itoa(m.limits.MaxConsecutiveLosses) + ") reached"
	}

	if pr.RiskLevel == models.RiskLevelCritical {
		return true, "portfolio risk level is CRITICAL"
	}

	return false, "no emergency stop conditions met"
}

// SetDailyStartValue фиксирует стартовую стоимость портфеля на день
func (m *Manager) SetDailyStartValue(v decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyStartValue = v
	m.cached = nil
	m.logger.Info("стартовая стоимость дня установлена", zap.String("value", v.String()))
}

// ConsecutiveLosses возвращает текущую серию убыточных сделок
func (m *Manager) ConsecutiveLosses() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consecutiveLosses
}

// ============ Внутренние расчёты (вызываются под локом) ============

func (m *Manager) inCoolingOff() bool {
	if m.consecutiveLosses < m.limits.MaxConsecutiveLosses {
		return false
	}
	return time.Since(m.lastLossTime) < m.limits.CoolingOffPeriod
}

func (m *Manager) dailyPnl(currentValue decimal.Decimal) decimal.Decimal {
	if m.dailyStartValue.IsZero() {
		return decimal.Zero
	}
	return currentValue.Sub(m.dailyStartValue)
}

// baseAsset выделяет базовый актив символа: "BTC/USDT" -> "BTC"
func baseAsset(symbol string) string {
	if i := strings.IndexAny(symbol, "/_-"); i > 0 {
		return symbol[:i]
	}
	if len(symbol) > 3 {
		return symbol[:3]
	}
	return symbol
}

// correlationRisk считает долю портфеля в активах той же базы, что и
// новый ордер (включая его самого)
func (m *Manager) correlationRisk(symbol string, positionValue, portfolioValue decimal.Decimal) decimal.Decimal {
	if portfolioValue.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	base := baseAsset(symbol)
	exposure := positionValue
	for posSymbol, pos := range m.positions {
		if posSymbol == symbol {
			continue
		}
		if baseAsset(posSymbol) == base {
			exposure = exposure.Add(pos.Size.Mul(pos.CurrentPrice).Abs())
		}
	}
	return exposure.Div(portfolioValue)
}

// totalCorrelationRisk - максимальная доля портфеля в одной базе
func (m *Manager) totalCorrelationRisk(portfolioValue decimal.Decimal) decimal.Decimal {
	if portfolioValue.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	byBase := make(map[string]decimal.Decimal)
	for symbol, pos := range m.positions {
		base := baseAsset(symbol)
		byBase[base] = byBase[base].Add(pos.Size.Mul(pos.CurrentPrice).Abs())
	}

	maxExposure := decimal.Zero
	for _, exp := range byBase {
		if exp.GreaterThan(maxExposure) {
			maxExposure = exp
		}
	}
	return maxExposure.Div(portfolioValue)
}

// kellyQuantity - оптимальный объем по упрощённому критерию Келли
func (m *Manager) kellyQuantity(price, portfolioValue decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(decimal.Zero) || portfolioValue.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	winLossRatio := kellyAvgWin.Div(kellyAvgLoss)
	kelly := kellyWinRate.Sub(one.Sub(kellyWinRate).Div(winLossRatio))

	// Страховочный потолок: доля от лимита размера позиции
	ceiling := m.limits.MaxPositionSize.Mul(kellySafetyCap)
	if kelly.GreaterThan(ceiling) {
		kelly = ceiling
	}
	if kelly.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	return portfolioValue.Mul(kelly).Div(price)
}

func (m *Manager) maxDrawdownFromHistory() decimal.Decimal {
	cumulative := decimal.Zero
	peak := decimal.Zero
	maxDD := decimal.Zero
	for _, pnl := range m.pnlHistory {
		cumulative = cumulative.Add(pnl)
		if cumulative.GreaterThan(peak) {
			peak = cumulative
		}
		if dd := peak.Sub(cumulative); dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

// var95 - исторический VaR на уровне 95% (5-й перцентиль истории PNL)
func (m *Manager) var95() decimal.Decimal {
	if len(m.pnlHistory) < minHistoryForMetrics {
		return decimal.Zero
	}

	sorted := make([]decimal.Decimal, len(m.pnlHistory))
	copy(sorted, m.pnlHistory)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	idx := len(sorted) * 5 / 100
	return sorted[idx].Abs()
}

// sharpeRatio - упрощённый коэффициент Шарпа по дневной истории PNL
func (m *Manager) sharpeRatio() decimal.Decimal {
	n := len(m.pnlHistory)
	if n < minHistoryForMetrics {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, pnl := range m.pnlHistory {
		sum = sum.Add(pnl)
	}
	avg := sum.Div(decimal.NewFromInt(int64(n)))

	variance := decimal.Zero
	for _, pnl := range m.pnlHistory {
		d := pnl.Sub(avg)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(decimal.NewFromInt(int64(n)))

	varFloat, _ := variance.Float64()
	if varFloat <= 0 {
		return decimal.Zero
	}
	stdDev := decimal.NewFromFloat(math.Sqrt(varFloat))

	// Безрисковая ставка 2% годовых, приведённая к дню
	riskFree := decimal.NewFromFloat(0.02).Div(decimal.NewFromInt(365))
	return avg.Sub(riskFree).Div(stdDev)
}

// portfolioRiskLevel - взвешенная оценка уровня риска портфеля
func (m *Manager) portfolioRiskLevel(drawdown decimal.Decimal, openPositions int, corrRisk decimal.Decimal) models.RiskLevel {
	score := 0

	// Просадка
	switch {
	case drawdown.GreaterThan(decimal.NewFromFloat(0.10)):
		score += 3
	case drawdown.GreaterThan(decimal.NewFromFloat(0.05)):
		score += 2
	case drawdown.GreaterThan(decimal.NewFromFloat(0.02)):
		score += 1
	}

	// Концентрация позиций
	switch {
	case openPositions > 8:
		score += 2
	case openPositions > 5:
		score += 1
	}

	// Корреляция
	switch {
	case corrRisk.GreaterThan(decimal.NewFromFloat(0.25)):
		score += 2
	case corrRisk.GreaterThan(decimal.NewFromFloat(0.15)):
		score += 1
	}

	// Серия убытков
	switch {
	case m.consecutiveLosses >= 4:
		score += 2
	case m.consecutiveLosses >= 2:
		score += 1
	}

	switch {
	case score >= 6:
		return models.RiskLevelCritical
	case score >= 4:
		return models.RiskLevelHigh
	case score >= 2:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

// ============ Вспомогательные ============

func pct(frac decimal.Decimal) string {
	return frac.Mul(hundred).String() + "%"
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
