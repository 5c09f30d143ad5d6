package engine

import "tradebot/internal/models"

// State - состояние торгового движка
type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StatePaused   State = "PAUSED"
	StateStopping State = "STOPPING"
	StateError    State = "ERROR"
)

// ValidTransitions определяет допустимые переходы состояний движка
//
// В ERROR можно попасть из любого состояния при фатальной ошибке
// запуска/остановки; выход из ERROR - только ручной перезапуск.
var ValidTransitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateError},
	StateRunning:  {StatePaused, StateStopping, StateError},
	StatePaused:   {StateRunning, StateStopping, StateError},
	StateStopping: {StateStopped, StateError},
	StateError:    {StateStarting}, // только ручной перезапуск
}

// CanTransition проверяет допустимость перехода состояния движка
func CanTransition(from, to State) bool {
	if to == StateError {
		return true
	}
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsActive возвращает true если движок обрабатывает события
func IsActive(s State) bool {
	return s == StateRunning || s == StatePaused
}

// ValidOrderTransitions определяет допустимые переходы статусов ордера
var ValidOrderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending: {
		models.OrderStatusSubmitted,
		models.OrderStatusRejected, // отказ до отправки на биржу
	},
	models.OrderStatusSubmitted: {
		models.OrderStatusFilled,
		models.OrderStatusPartiallyFilled,
		models.OrderStatusCancelled,
		models.OrderStatusRejected,
		models.OrderStatusExpired,
	},
	models.OrderStatusPartiallyFilled: {
		models.OrderStatusFilled,
		models.OrderStatusCancelled,
		models.OrderStatusExpired,
	},
	// Конечные статусы переходов не имеют
	models.OrderStatusFilled:    {},
	models.OrderStatusCancelled: {},
	models.OrderStatusRejected:  {},
	models.OrderStatusExpired:   {},
}

// CanTransitionOrder проверяет допустимость перехода статуса ордера
func CanTransitionOrder(from, to models.OrderStatus) bool {
	allowed, ok := ValidOrderTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
