package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Метрики Prometheus для торгового движка
var (
	// EngineState - текущее состояние движка (1 для активного состояния)
	EngineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "engine",
		Name:      "state",
		Help:      "Текущее состояние торгового движка (1 = активно)",
	}, []string{"state"})

	// SignalsTotal - количество обработанных сигналов
	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "engine",
		Name:      "signals_total",
		Help:      "Количество обработанных торговых сигналов",
	}, []string{"symbol"})

	// OrdersTotal - количество ордеров по результату размещения
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "engine",
		Name:      "orders_total",
		Help:      "Количество ордеров по результату размещения",
	}, []string{"symbol", "result"})

	// OpenPositions - число открытых позиций
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "engine",
		Name:      "open_positions",
		Help:      "Число открытых позиций",
	})

	// RealizedPnlTotal - накопленный реализованный PNL
	RealizedPnlTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "engine",
		Name:      "realized_pnl_total",
		Help:      "Накопленный реализованный PNL",
	})
)

var engineStates = []string{
	string(StateStopped), string(StateStarting), string(StateRunning),
	string(StatePaused), string(StateStopping), string(StateError),
}

// UpdateEngineState выставляет gauge текущего состояния движка
func UpdateEngineState(state string) {
	for _, s := range engineStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		EngineState.WithLabelValues(s).Set(v)
	}
}

// RecordSignal фиксирует обработанный сигнал
func RecordSignal(symbol string) {
	SignalsTotal.WithLabelValues(symbol).Inc()
}

// RecordOrder фиксирует результат размещения ордера
func RecordOrder(symbol, result string) {
	OrdersTotal.WithLabelValues(symbol, result).Inc()
}

// UpdateOpenPositions обновляет число открытых позиций
func UpdateOpenPositions(n int) {
	OpenPositions.Set(float64(n))
}

// RecordRealizedPnl добавляет реализованный PNL к накопленному
func RecordRealizedPnl(pnl decimal.Decimal) {
	f, _ := pnl.Float64()
	RealizedPnlTotal.Add(f)
}
