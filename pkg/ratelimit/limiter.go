// Package ratelimit реализует token bucket для ограничения частоты
// запросов: REST вызовы к бирже и входящие запросы к собственному API.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - token bucket: ведро наполняется с постоянной скоростью
// rate токенов/сек до емкости burst, запрос потребляет один токен.
// Burst выше rate позволяет короткие всплески, например пачку ордеров
// при одновременном закрытии позиций.
type RateLimiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter создает limiter на rate запросов в секунду с емкостью burst.
// Невалидные параметры заменяются разумными: 10 rps, burst 2x rate.
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if burst < rate {
		burst = rate
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst, // стартуем с полным ведром
		lastRefill: time.Now(),
	}
}

// refill пополняет токены по прошедшему времени, вызывается под mu
func (rl *RateLimiter) refill() {
	now := time.Now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста.
// Используется перед REST запросом к бирже: лучше подождать,
// чем получить бан за превышение лимита.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()

		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}

		waitTime := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Allow забирает токен без блокировки. Используется HTTP middleware:
// при пустом ведре запрос сразу получает 429.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens возвращает текущий запас токенов (для мониторинга)
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// Rate возвращает скорость пополнения, токенов в секунду
func (rl *RateLimiter) Rate() float64 {
	return rl.rate
}

// Burst возвращает емкость ведра
func (rl *RateLimiter) Burst() float64 {
	return rl.burst
}
