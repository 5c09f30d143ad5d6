package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики шины событий
// ============================================================
//
// Дают наблюдаемость очередей без чтения логов:
// - глубина очередей по приоритетам и DLQ
// - счётчики опубликованных/обработанных/упавших событий
// - латентность обработчиков
// - состояние circuit breaker'ов

// ============ Счётчики событий ============

// EventsPublished - опубликованные события по типам
var EventsPublished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "eventbus",
		Name:      "events_published_total",
		Help:      "Total number of events published to the bus",
	},
	[]string{"type", "priority"},
)

// EventsProcessed - успешно обработанные события по типам
var EventsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "eventbus",
		Name:      "events_processed_total",
		Help:      "Total number of events fully processed",
	},
	[]string{"type"},
)

// EventsFailed - события, ушедшие в retry или DLQ
var EventsFailed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "eventbus",
		Name:      "events_failed_total",
		Help:      "Total number of events that failed processing",
	},
	[]string{"type"},
)

// EventsDeadLettered - события, попавшие в dead letter queue
var EventsDeadLettered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "eventbus",
		Name:      "events_dead_lettered_total",
		Help:      "Total number of events moved to the dead letter queue",
	},
	[]string{"type", "reason"}, // reason: queue_full, retries_exhausted
)

// ============ Метрики состояния ============

// QueueDepth - текущая глубина очередей по приоритетам
var QueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "eventbus",
		Name:      "queue_depth",
		Help:      "Current depth of priority queues",
	},
	[]string{"priority"},
)

// DLQDepth - текущая глубина dead letter queue
var DLQDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "eventbus",
		Name:      "dlq_depth",
		Help:      "Current depth of the dead letter queue",
	},
)

// BreakerOpenCount - обработчики с разомкнутым breaker'ом
var BreakerOpenCount = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "eventbus",
		Name:      "circuit_breakers_open",
		Help:      "Number of handlers with an open circuit breaker",
	},
)

// ============ Метрики латентности ============

// HandlerLatency - латентность вызова обработчика
var HandlerLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tradebot",
		Subsystem: "eventbus",
		Name:      "handler_latency_ms",
		Help:      "Handler invocation latency in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 500},
	},
	[]string{"handler"},
)

// ============ Вспомогательные функции ============

// RecordPublished записывает публикацию события
func RecordPublished(eventType, priority string) {
	EventsPublished.WithLabelValues(eventType, priority).Inc()
}

// RecordProcessed записывает успешную обработку события
func RecordProcessed(eventType string) {
	EventsProcessed.WithLabelValues(eventType).Inc()
}

// RecordFailed записывает неуспешную обработку события
func RecordFailed(eventType string) {
	EventsFailed.WithLabelValues(eventType).Inc()
}

// RecordDeadLettered записывает отправку события в DLQ
func RecordDeadLettered(eventType, reason string) {
	EventsDeadLettered.WithLabelValues(eventType, reason).Inc()
}

// RecordHandlerLatency записывает латентность обработчика
func RecordHandlerLatency(handler string, latencyMs float64) {
	HandlerLatency.WithLabelValues(handler).Observe(latencyMs)
}
