package utils

import "time"

// DayStart возвращает начало календарного дня (00:00:00 UTC) для t
//
// Используется для сброса дневных метрик риска: граница дня считается
// в UTC, чтобы не зависеть от timezone хоста.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayEnd возвращает конец календарного дня для t
func DayEnd(t time.Time) time.Time {
	return DayStart(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// SameDay сообщает, относятся ли два времени к одному дню UTC
func SameDay(a, b time.Time) bool {
	return DayStart(a).Equal(DayStart(b))
}
