package eventbus

import (
	"sync"
	"time"
)

// BreakerState - состояние circuit breaker обработчика
type BreakerState string

const (
	// BreakerClosed - обработчик работает нормально
	BreakerClosed BreakerState = "CLOSED"

	// BreakerOpen - обработчик отключен после серии ошибок
	BreakerOpen BreakerState = "OPEN"

	// BreakerHalfOpen - пробный вызов после таймаута восстановления
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// Пороговые значения по умолчанию
const (
	// DefaultFailureThreshold - подряд идущих ошибок до размыкания
	DefaultFailureThreshold = 5

	// DefaultRecoveryTimeout - пауза до пробного вызова
	DefaultRecoveryTimeout = 60 * time.Second
)

// CircuitBreaker защищает шину от постоянно падающего обработчика
//
// Переходы:
//
//	CLOSED    -> OPEN       после failureThreshold подряд идущих ошибок
//	OPEN      -> HALF_OPEN  по истечении recoveryTimeout
//	HALF_OPEN -> CLOSED     при успешном пробном вызове
//	HALF_OPEN -> OPEN       при ошибке пробного вызова
//
// Один breaker на один зарегистрированный обработчик.
type CircuitBreaker struct {
	mu sync.Mutex

	state            BreakerState
	failures         int
	openedAt         time.Time
	failureThreshold int
	recoveryTimeout  time.Duration
}

// NewCircuitBreaker создает breaker в состоянии CLOSED
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	return &CircuitBreaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// Allow сообщает, можно ли вызывать обработчик
//
// В состоянии OPEN по истечении recoveryTimeout переводит breaker в
// HALF_OPEN и разрешает один пробный вызов.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if time.Since(cb.openedAt) >= cb.recoveryTimeout {
			cb.state = BreakerHalfOpen
			return true
		}
		return false
	}
	return false
}

// RecordSuccess фиксирует успешный вызов: breaker замыкается
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = BreakerClosed
}

// RecordFailure фиксирует ошибку вызова
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == BreakerHalfOpen || cb.failures >= cb.failureThreshold {
		cb.state = BreakerOpen
		cb.openedAt = time.Now()
	}
}

// State возвращает текущее состояние
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
