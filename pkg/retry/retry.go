// Package retry выполняет операции с повторными попытками и
// экспоненциальным backoff. Используется для запросов к бирже и
// подключения к БД при старте.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config задает стратегию повторов
//
// Задержка растет экспоненциально:
// delay = min(InitialDelay * Multiplier^attempt, MaxDelay) +- jitter.
// Jitter разносит повторы нескольких клиентов по времени.
type Config struct {
	// MaxRetries - количество попыток, включая первую.
	// 0 или меньше - повторять до отмены контекста.
	MaxRetries int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// JitterFactor - доля случайной вариации задержки, 0..1
	JitterFactor float64

	// RetryIf решает, повторять ли после данной ошибки.
	// nil - повторяются все ошибки.
	RetryIf func(error) bool

	// OnRetry вызывается перед каждым повтором, обычно для логирования
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig - 4 попытки с задержками 100ms, 200ms, 400ms
func DefaultConfig() Config {
	return Config{
		MaxRetries:   4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NetworkConfig - 4 попытки с задержками 1s, 2s, 4s.
// Для сетевых операций, где секундные паузы нормальны: ping БД
// при старте, REST запросы к бирже.
func NetworkConfig() Config {
	return Config{
		MaxRetries:   4,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

func (c *Config) applyDefaults() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
}

// delay вычисляет паузу перед попыткой attempt+1
func (c *Config) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.JitterFactor > 0 {
		d += d * c.JitterFactor * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do выполняет операцию с повторами по конфигурации.
// Возвращает nil при первом успехе, иначе последнюю ошибку.
// Отмена контекста прерывает ожидание между попытками.
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult - вариант Do для операций, возвращающих значение
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.applyDefaults()

	var lastErr error
	var zero T

	for attempt := 0; cfg.MaxRetries <= 0 || attempt < cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, ctx.Err()
		default:
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return zero, err
		}
		if cfg.MaxRetries > 0 && attempt >= cfg.MaxRetries-1 {
			break
		}

		delay := cfg.delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// RetryableError помечает ошибку признаком повторяемости
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable сообщает, имеет ли смысл повторять операцию после err.
// Ошибки без явного признака считаются повторяемыми.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}

	type temporary interface {
		Temporary() bool
	}
	var temp temporary
	if errors.As(err, &temp) {
		return temp.Temporary()
	}

	return true
}

// PermanentError - ошибка, повторять после которой бессмысленно:
// отклоненный биржей ордер не станет валидным со второй попытки
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent оборачивает err в PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// TemporaryError - ошибка, после которой повтор уместен (таймаут, обрыв сети)
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string   { return e.Err.Error() }
func (e *TemporaryError) Unwrap() error   { return e.Err }
func (e *TemporaryError) Retryable() bool { return true }
func (e *TemporaryError) Temporary() bool { return true }

// Temporary оборачивает err в TemporaryError
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return &TemporaryError{Err: err}
}
