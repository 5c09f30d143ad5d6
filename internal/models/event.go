package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// json - конфигурация json-iterator, совместимая с encoding/json
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventType определяет тип события в системе
type EventType string

// Типы событий
//
// Имена стабильны: они попадают в сериализованные события (БД, WebSocket,
// replay), поэтому менять их нельзя без миграции истории.
const (
	// Торговые события
	EventSignalGenerated EventType = "SignalGenerated"
	EventOrderPlaced     EventType = "OrderPlaced"
	EventOrderFilled     EventType = "OrderFilled"
	EventOrderCancelled  EventType = "OrderCancelled"
	EventPositionOpened  EventType = "PositionOpened"
	EventPositionClosed  EventType = "PositionClosed"

	// Защитные выходы
	EventStopLossTriggered   EventType = "StopLossTriggered"
	EventTakeProfitTriggered EventType = "TakeProfitTriggered"

	// Риск-события
	EventRiskLimitExceeded EventType = "RiskLimitExceeded"
	EventDrawdownAlert     EventType = "DrawdownAlert"

	// Системные события
	EventSystemStartup  EventType = "SystemStartup"
	EventSystemShutdown EventType = "SystemShutdown"
	EventHealthCheck    EventType = "HealthCheck"
	EventErrorOccurred  EventType = "ErrorOccurred"

	// Рыночные данные
	EventPriceUpdate EventType = "PriceUpdate"
)

// EventPriority определяет приоритет события (очередь шины)
type EventPriority int

// Приоритеты событий: каждому приоритету соответствует своя очередь
const (
	PriorityLow      EventPriority = 1
	PriorityNormal   EventPriority = 2
	PriorityHigh     EventPriority = 3
	PriorityCritical EventPriority = 4
)

// String возвращает человекочитаемое имя приоритета
func (p EventPriority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(p))
	}
}

// Valid проверяет, что приоритет входит в диапазон очередей шины
func (p EventPriority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// DefaultMaxRetries - число повторных доставок события до отправки в DLQ
const DefaultMaxRetries = 3

// Event - конверт события, проходящего через шину
//
// Data несёт полезную нагрузку произвольной формы. Денежные значения
// кладутся в Data строками (decimal.String()), чтобы сериализация не
// теряла точность.
type Event struct {
	ID            string                 `json:"id"`
	Type          EventType              `json:"type"`
	Data          map[string]interface{} `json:"data"`
	Timestamp     time.Time              `json:"timestamp"`
	Priority      EventPriority          `json:"priority"`
	Source        string                 `json:"source"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	RetryCount    int                    `json:"retry_count"`
	MaxRetries    int                    `json:"max_retries"`
}

// NewEvent создает событие с новым ID и текущим временем
func NewEvent(eventType EventType, source string, priority EventPriority, data map[string]interface{}) *Event {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Data:       data,
		Timestamp:  time.Now(),
		Priority:   priority,
		Source:     source,
		MaxRetries: DefaultMaxRetries,
	}
}

// Copy возвращает копию события со свежим ID, временем и нулевым счетчиком
// повторов. Используется при replay истории: повторно проигранное событие -
// это новое событие.
func (e *Event) Copy() *Event {
	data := make(map[string]interface{}, len(e.Data))
	for k, v := range e.Data {
		data[k] = v
	}
	return &Event{
		ID:            uuid.NewString(),
		Type:          e.Type,
		Data:          data,
		Timestamp:     time.Now(),
		Priority:      e.Priority,
		Source:        e.Source,
		CorrelationID: e.CorrelationID,
		RetryCount:    0,
		MaxRetries:    e.MaxRetries,
	}
}

// Marshal сериализует событие в JSON
func (e *Event) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.ID, err)
	}
	return b, nil
}

// UnmarshalEvent десериализует событие из JSON
func UnmarshalEvent(b []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if !e.Priority.Valid() {
		return nil, fmt.Errorf("unmarshal event: invalid priority %d", e.Priority)
	}
	return &e, nil
}
