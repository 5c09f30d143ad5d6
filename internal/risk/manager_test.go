package risk

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"tradebot/internal/models"
)

func newTestManager() *Manager {
	return NewManager(models.DefaultRiskLimits(), nil)
}

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func TestValidateOrderRejectsNonPositiveQuantity(t *testing.T) {
	m := newTestManager()

	tests := []struct {
		name     string
		quantity decimal.Decimal
		price    decimal.Decimal
	}{
		{"нулевой объем", decimal.Zero, d("100")},
		{"отрицательный объем", d("-1"), d("100")},
		{"нулевая цена", d("1"), decimal.Zero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, _, adjusted := m.ValidateOrder("BTC/USDT", models.OrderSideBuy,
				tt.quantity, tt.price, d("10000"), d("10000"))
			if ok {
				t.Error("ордер не должен быть одобрен")
			}
			if !adjusted.IsZero() {
				t.Errorf("скорректированный объем должен быть 0, получено %s", adjusted)
			}
		})
	}
}

func TestValidateOrderNeverApprovesZeroAdjusted(t *testing.T) {
	m := newTestManager()

	// Любой одобренный ордер обязан иметь строго положительный объем
	ok, reason, adjusted := m.ValidateOrder("BTC/USDT", models.OrderSideBuy,
		d("0.5"), d("100"), d("10000"), d("10000"))
	if !ok {
		t.Fatalf("ордер должен быть одобрен: %s", reason)
	}
	if adjusted.LessThanOrEqual(decimal.Zero) {
		t.Errorf("одобренный объем должен быть положительным, получено %s", adjusted)
	}
}

func TestValidateOrderCoolingOff(t *testing.T) {
	m := newTestManager()

	// Серия убытков до лимита включает cooling-off
	for i := 0; i < m.Limits().MaxConsecutiveLosses; i++ {
		m.RemovePosition("BTC/USDT", d("-10"))
	}

	ok, reason, _ := m.ValidateOrder("BTC/USDT", models.OrderSideBuy,
		d("1"), d("100"), d("10000"), d("10000"))
	if ok {
		t.Fatal("ордер в период cooling-off должен быть отклонен")
	}
	if !strings.Contains(reason, "cooling off") {
		t.Errorf("причина должна упоминать cooling off, получено: %s", reason)
	}
}

func TestValidateOrderMaxOpenPositions(t *testing.T) {
	m := newTestManager()

	for i := 0; i < m.Limits().MaxOpenPositions; i++ {
		symbol := "SYM" + itoa(i) + "/USDT"
		m.UpdatePosition(symbol, d("1"), d("100"), d("100"))
	}

	ok, reason, _ := m.ValidateOrder("NEW/USDT", models.OrderSideBuy,
		d("1"), d("100"), d("100000"), d("100000"))
	if ok {
		t.Fatal("ордер сверх лимита открытых позиций должен быть отклонен")
	}
	if !strings.Contains(reason, "maximum open positions") {
		t.Errorf("неожиданная причина: %s", reason)
	}

	// SELL (закрытие) лимитом позиций не блокируется
	ok, reason, _ = m.ValidateOrder("SYM0/USDT", models.OrderSideSell,
		d("1"), d("100"), d("100000"), d("100000"))
	if !ok {
		t.Errorf("SELL не должен блокироваться лимитом позиций: %s", reason)
	}
}

func TestValidateOrderInsufficientFunds(t *testing.T) {
	m := newTestManager()

	// Доступно меньше 10% от стоимости ордера - отказ
	ok, reason, _ := m.ValidateOrder("BTC/USDT", models.OrderSideBuy,
		d("10"), d("100"), d("10000"), d("50"))
	if ok {
		t.Fatal("ордер без средств должен быть отклонен")
	}
	if !strings.Contains(reason, "insufficient funds") {
		t.Errorf("неожиданная причина: %s", reason)
	}
}

func TestValidateOrderAffordabilityShrink(t *testing.T) {
	m := newTestManager()

	// Доступно 500 из 1000: объем усаживается, ордер одобряется
	ok, reason, adjusted := m.ValidateOrder("BTC/USDT", models.OrderSideBuy,
		d("10"), d("100"), d("10000"), d("500"))
	if !ok {
		t.Fatalf("усаженный ордер должен быть одобрен: %s", reason)
	}
	if adjusted.GreaterThan(d("5")) {
		t.Errorf("объем должен быть усажен не выше 5, получено %s", adjusted)
	}
	if adjusted.LessThanOrEqual(decimal.Zero) {
		t.Errorf("одобренный объем должен быть положительным, получено %s", adjusted)
	}
}

func TestValidateOrderPositionSizeReject(t *testing.T) {
	m := newTestManager()

	// 2500 при лимите 1000 (10% от 10000): усадка до 10 - меньше половины
	// запрошенных 25 - отказ
	ok, reason, _ := m.ValidateOrder("BTC/USDT", models.OrderSideBuy,
		d("25"), d("100"), d("10000"), d("100000"))
	if ok {
		t.Fatal("ордер с усадкой ниже 50% должен быть отклонен")
	}
	if !strings.Contains(reason, "position size exceeds") {
		t.Errorf("неожиданная причина: %s", reason)
	}
}

func TestValidateOrderKellyCap(t *testing.T) {
	m := newTestManager()

	// Критерий Келли с потолком 25% от лимита позиции: 10000 * 0.1 * 0.25 =
	// 250, при цене 100 это объем 2.5
	ok, reason, adjusted := m.ValidateOrder("BTC/USDT", models.OrderSideBuy,
		d("15"), d("100"), d("10000"), d("100000"))
	if !ok {
		t.Fatalf("ордер должен быть одобрен с усадкой: %s", reason)
	}
	if !adjusted.Equal(d("2.5")) {
		t.Errorf("объем по Келли: ожидалось 2.5, получено %s", adjusted)
	}
}

func TestValidateOrderDailyLossLimit(t *testing.T) {
	m := newTestManager()
	m.SetDailyStartValue(d("10000"))

	// Дневной убыток 5% и больше блокирует новые ордера
	ok, reason, _ := m.ValidateOrder("BTC/USDT", models.OrderSideBuy,
		d("0.5"), d("100"), d("9500"), d("9500"))
	if ok {
		t.Fatal("ордер при достигнутом дневном лимите убытка должен быть отклонен")
	}
	if !strings.Contains(reason, "daily loss limit") {
		t.Errorf("неожиданная причина: %s", reason)
	}
}

func TestValidateOrderCorrelationLimit(t *testing.T) {
	m := newTestManager()

	// Существующая экспозиция по BTC: 2500 из 10000
	m.UpdatePosition("BTC/USDT", d("10"), d("250"), d("250"))

	// Новый ордер той же базы на 1000: суммарно 35% > лимита 30%
	ok, reason, _ := m.ValidateOrder("BTC/EUR", models.OrderSideBuy,
		d("4"), d("250"), d("10000"), d("100000"))
	if ok {
		t.Fatal("ордер сверх корреляционного лимита должен быть отклонен")
	}
	if !strings.Contains(reason, "correlation risk") {
		t.Errorf("неожиданная причина: %s", reason)
	}
}

func TestCalculateStopLossTakeProfit(t *testing.T) {
	m := newTestManager()

	tests := []struct {
		name   string
		side   models.OrderSide
		entry  decimal.Decimal
		vol    decimal.Decimal
		wantSL decimal.Decimal
		wantTP decimal.Decimal
	}{
		{"BUY без волатильности", models.OrderSideBuy, d("100"), decimal.Zero, d("98"), d("106")},
		{"SELL без волатильности", models.OrderSideSell, d("100"), decimal.Zero, d("102"), d("94")},
		// Множитель волатильности ограничен сверху 3
		{"BUY высокая волатильность", models.OrderSideBuy, d("100"), d("0.5"), d("94"), d("118")},
		// И снизу 1
		{"BUY низкая волатильность", models.OrderSideBuy, d("100"), d("0.01"), d("98"), d("106")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sl, tp := m.CalculateStopLossTakeProfit(tt.side, tt.entry, tt.vol)
			if !sl.Equal(tt.wantSL) {
				t.Errorf("stop loss: ожидалось %s, получено %s", tt.wantSL, sl)
			}
			if !tp.Equal(tt.wantTP) {
				t.Errorf("take profit: ожидалось %s, получено %s", tt.wantTP, tp)
			}
		})
	}
}

func TestCalculateStopLossTakeProfitRiskRewardFloor(t *testing.T) {
	limits := models.DefaultRiskLimits()
	limits.TakeProfitPct = d("0.02") // RR = 1 при стопе 2%
	m := NewManager(limits, nil)

	_, tp := m.CalculateStopLossTakeProfit(models.OrderSideBuy, d("100"), decimal.Zero)
	// Тейк-профит подтянут до RR 2.0: 100 + 2*2 = 104
	if !tp.Equal(d("104")) {
		t.Errorf("take profit должен быть подтянут до 104, получено %s", tp)
	}
}

func TestUpdatePositionRiskLevels(t *testing.T) {
	m := newTestManager()

	tests := []struct {
		name    string
		current decimal.Decimal
		want    models.RiskLevel
	}{
		{"LOW ниже 1%", d("100.5"), models.RiskLevelLow},
		{"MEDIUM от 1%", d("102"), models.RiskLevelMedium},
		{"HIGH от 3%", d("104"), models.RiskLevelHigh},
		{"CRITICAL от 5%", d("106"), models.RiskLevelCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.UpdatePosition("BTC/USDT", d("1"), d("100"), tt.current)
			positions := m.Positions()
			if len(positions) != 1 {
				t.Fatalf("ожидалась 1 позиция, получено %d", len(positions))
			}
			if positions[0].RiskLevel != tt.want {
				t.Errorf("уровень риска: ожидалось %s, получено %s", tt.want, positions[0].RiskLevel)
			}
		})
	}
}

func TestUpdatePositionShortPnlSign(t *testing.T) {
	m := newTestManager()

	// Шорт 2 по 100, цена 110: убыток 20
	m.UpdatePosition("BTC/USDT", d("-2"), d("100"), d("110"))

	positions := m.Positions()
	if len(positions) != 1 {
		t.Fatalf("ожидалась 1 позиция, получено %d", len(positions))
	}
	pos := positions[0]
	if !pos.UnrealizedPnl.Equal(d("-20")) {
		t.Errorf("PNL шорта: ожидалось -20, получено %s", pos.UnrealizedPnl)
	}
	// 10% против входа при ноционале 200
	if !pos.RiskPercent.Equal(d("0.1")) {
		t.Errorf("доля риска: ожидалось 0.1, получено %s", pos.RiskPercent)
	}
	if pos.RiskLevel != models.RiskLevelCritical {
		t.Errorf("уровень риска: ожидалось CRITICAL, получено %s", pos.RiskLevel)
	}

	// Падение цены в пользу шорта дает прибыль
	m.UpdatePosition("BTC/USDT", d("-2"), d("100"), d("95"))
	if got := m.Positions()[0].UnrealizedPnl; !got.Equal(d("10")) {
		t.Errorf("PNL шорта: ожидалось 10, получено %s", got)
	}
}

func TestRemovePositionTracksLosses(t *testing.T) {
	m := newTestManager()

	m.UpdatePosition("BTC/USDT", d("1"), d("100"), d("100"))
	m.RemovePosition("BTC/USDT", d("-10"))
	m.RemovePosition("ETH/USDT", d("-5"))

	if m.ConsecutiveLosses() != 2 {
		t.Errorf("серия убытков: ожидалось 2, получено %d", m.ConsecutiveLosses())
	}

	// Прибыльная сделка сбрасывает серию
	m.RemovePosition("LTC/USDT", d("3"))
	if m.ConsecutiveLosses() != 0 {
		t.Errorf("серия должна сброситься, получено %d", m.ConsecutiveLosses())
	}

	if len(m.Positions()) != 0 {
		t.Errorf("позиции должны быть сняты с учёта, осталось %d", len(m.Positions()))
	}
}

func TestDrawdownZeroAtNewHighWaterMark(t *testing.T) {
	m := newTestManager()

	m.AssessPortfolioRisk(d("10000"))
	m.SetDailyStartValue(d("10000")) // сбрасывает кэш

	pr := m.AssessPortfolioRisk(d("12000"))
	if !pr.CurrentDrawdown.IsZero() {
		t.Errorf("на новом максимуме просадка должна быть 0, получено %s", pr.CurrentDrawdown)
	}
}

func TestDrawdownFromHighWaterMark(t *testing.T) {
	m := newTestManager()

	m.AssessPortfolioRisk(d("10000"))
	m.SetDailyStartValue(d("10000"))

	pr := m.AssessPortfolioRisk(d("9000"))
	if !pr.CurrentDrawdown.Equal(d("0.1")) {
		t.Errorf("просадка: ожидалось 0.1, получено %s", pr.CurrentDrawdown)
	}
}

func TestEmergencyStopDailyLoss(t *testing.T) {
	m := newTestManager()
	m.SetDailyStartValue(d("10000"))

	stop, reason := m.CheckEmergencyStop(d("9400"))
	if !stop {
		t.Fatal("при дневном убытке 6% должна требоваться аварийная остановка")
	}
	if !strings.Contains(reason, "daily loss limit") {
		t.Errorf("причина должна упоминать daily loss limit, получено: %s", reason)
	}
}

func TestEmergencyStopDrawdown(t *testing.T) {
	m := newTestManager()

	m.AssessPortfolioRisk(d("10000"))
	m.SetDailyStartValue(d("8000")) // чтобы дневной убыток не сработал раньше

	stop, reason := m.CheckEmergencyStop(d("8000"))
	if !stop {
		t.Fatal("при просадке 20% должна требоваться аварийная остановка")
	}
	if !strings.Contains(reason, "drawdown") {
		t.Errorf("причина должна упоминать drawdown, получено: %s", reason)
	}
}

func TestEmergencyStopConsecutiveLosses(t *testing.T) {
	m := newTestManager()
	m.SetDailyStartValue(d("10000"))

	for i := 0; i < m.Limits().MaxConsecutiveLosses; i++ {
		m.RemovePosition("BTC/USDT", d("-1"))
	}

	stop, reason := m.CheckEmergencyStop(d("10000"))
	if !stop {
		t.Fatal("при серии убытков должна требоваться аварийная остановка")
	}
	if !strings.Contains(reason, "consecutive losses") {
		t.Errorf("причина должна упоминать consecutive losses, получено: %s", reason)
	}
}

func TestEmergencyStopClear(t *testing.T) {
	m := newTestManager()
	m.SetDailyStartValue(d("10000"))

	stop, _ := m.CheckEmergencyStop(d("10100"))
	if stop {
		t.Error("без нарушений лимитов остановка не требуется")
	}
}

func TestVar95RequiresHistory(t *testing.T) {
	m := newTestManager()
	m.SetDailyStartValue(d("10000"))

	pr := m.AssessPortfolioRisk(d("10000"))
	if !pr.VaR95.IsZero() {
		t.Errorf("VaR без истории должен быть 0, получено %s", pr.VaR95)
	}
}

func TestVar95FromHistory(t *testing.T) {
	m := newTestManager()

	// 9 прибыльных и 1 крупный убыток: 5-й перцентиль - худший результат.
	// Убыток не последний, чтобы не накапливать серию
	m.RemovePosition("BTC/USDT", d("-50"))
	for i := 0; i < 9; i++ {
		m.RemovePosition("BTC/USDT", d("10"))
	}
	m.SetDailyStartValue(d("10000"))

	pr := m.AssessPortfolioRisk(d("10000"))
	if !pr.VaR95.Equal(d("50")) {
		t.Errorf("VaR95: ожидалось 50, получено %s", pr.VaR95)
	}
	if pr.SharpeRatio.IsZero() {
		t.Error("Sharpe при достаточной истории не должен быть нулевым")
	}
}

func TestPortfolioRiskCache(t *testing.T) {
	m := newTestManager()

	first := m.AssessPortfolioRisk(d("10000"))
	second := m.AssessPortfolioRisk(d("9999"))
	if first != second {
		t.Error("повторный вызов в пределах TTL должен вернуть кэшированный результат")
	}

	// Изменение позиций инвалидирует кэш
	m.UpdatePosition("BTC/USDT", d("1"), d("100"), d("100"))
	third := m.AssessPortfolioRisk(d("10000"))
	if third == first {
		t.Error("после изменения позиций кэш должен быть сброшен")
	}
	if third.OpenPositions != 1 {
		t.Errorf("OpenPositions: ожидалось 1, получено %d", third.OpenPositions)
	}
}
