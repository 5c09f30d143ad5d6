package models

import "time"

// Notification представляет уведомление о событии
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`         // OPEN, CLOSE, SL, TP, RISK, EMERGENCY, ERROR, SYSTEM
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	Symbol    string                 `json:"symbol,omitempty" db:"symbol"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeOpen      = "OPEN"      // открытие позиции
	NotificationTypeClose     = "CLOSE"     // закрытие позиции
	NotificationTypeSL        = "SL"        // срабатывание Stop Loss
	NotificationTypeTP        = "TP"        // срабатывание Take Profit
	NotificationTypeRisk      = "RISK"      // превышение риск-лимита
	NotificationTypeEmergency = "EMERGENCY" // аварийная остановка торговли
	NotificationTypeError     = "ERROR"     // ошибка API/ордера
	NotificationTypeSystem    = "SYSTEM"    // запуск/остановка системы
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
