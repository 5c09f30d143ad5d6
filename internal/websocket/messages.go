package websocket

import (
	"time"

	"tradebot/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeEvent - событие шины (сигналы, ордера, позиции, цены)
	MessageTypeEvent MessageType = "event"

	// MessageTypeNotification - новое уведомление
	// Отправляется при событиях: открытие, закрытие, SL/TP, риск, ошибки
	MessageTypeNotification MessageType = "notification"

	// MessageTypePositionUpdate - обновление открытой позиции
	MessageTypePositionUpdate MessageType = "positionUpdate"

	// MessageTypeStatsUpdate - обновление статистики движка
	// Отправляется после закрытия сделки
	MessageTypeStatsUpdate MessageType = "statsUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventMessage - сообщение с событием шины
//
// Транслирует поток событий ядра на frontend: тип, приоритет,
// источник и полезную нагрузку события.
type EventMessage struct {
	BaseMessage
	Data *models.Event `json:"data"`
}

// NotificationMessage - сообщение о новом уведомлении
type NotificationMessage struct {
	BaseMessage
	Data *models.Notification `json:"data"`
}

// PositionUpdateMessage - сообщение об изменении позиции
type PositionUpdateMessage struct {
	BaseMessage
	Data *models.Position `json:"data"`
}

// StatsUpdateMessage - сообщение об обновлении статистики движка
//
// Данные передаются как interface{}, чтобы не тянуть зависимость
// на пакет движка в транспортный слой.
type StatsUpdateMessage struct {
	BaseMessage
	Data interface{} `json:"data"`
}

// ============ Фабричные функции для создания сообщений ============

// NewEventMessage создает сообщение события шины
func NewEventMessage(ev *models.Event) *EventMessage {
	return &EventMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeEvent,
			Timestamp: time.Now(),
		},
		Data: ev,
	}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNotification,
			Timestamp: time.Now(),
		},
		Data: notif,
	}
}

// NewPositionUpdateMessage создает сообщение обновления позиции
func NewPositionUpdateMessage(pos *models.Position) *PositionUpdateMessage {
	return &PositionUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypePositionUpdate,
			Timestamp: time.Now(),
		},
		Data: pos,
	}
}

// NewStatsUpdateMessage создает сообщение обновления статистики
func NewStatsUpdateMessage(stats interface{}) *StatsUpdateMessage {
	return &StatsUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeStatsUpdate,
			Timestamp: time.Now(),
		},
		Data: stats,
	}
}
