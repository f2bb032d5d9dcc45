package utils

import (
	"time"
)

// time.go - утилиты для работы со временем
//
// Используются при сопоставлении ордеров по времени (backfill ноги
// продажи) и при агрегации прибыли по периодам.

// WithinDuration проверяет, что два момента времени отстоят друг от
// друга не более чем на d.
//
// Используется при поиске уже размещённой продажи для пары:
// кандидат должен быть создан в пределах 30 минут от покупки.
func WithinDuration(a, b time.Time, d time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= d
}

// GetDayStartFrom возвращает начало дня для указанного времени в UTC
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GetDayStart возвращает начало текущего дня (00:00:00) в UTC
func GetDayStart() time.Time {
	return GetDayStartFrom(time.Now().UTC())
}

// UnixMillis возвращает текущее время в миллисекундах Unix
// (формат меток времени биржевого API)
func UnixMillis() int64 {
	return time.Now().UnixMilli()
}

// FromUnixMillis преобразует миллисекунды Unix во time.Time
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
