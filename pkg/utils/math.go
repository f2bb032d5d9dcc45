package utils

import (
	"math"
)

// math.go - математические утилиты для DCA-торговли
//
// Все функции являются чистыми (pure functions) без побочных эффектов.
// Используются ядром при расчёте размера ордера, целевой цены продажи
// и прибыли завершённого цикла.

// RoundToStep округляет значение ВНИЗ до ближайшего кратного step.
//
// Используется для цены лимитного ордера: округление вниз гарантирует,
// что цена не пересечёт реальную границу точности биржи.
//
// Примеры:
//   - RoundToStep(0.123456, 0.001) = 0.123
//   - RoundToStep(1.999, 0.01) = 1.99
func RoundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(value/step) * step
}

// RoundToStepUp округляет значение ВВЕРХ до ближайшего кратного step.
//
// Используется для объёма продажи: округление вверх гарантирует, что
// нотионал ордера не окажется ниже минимума биржи.
func RoundToStepUp(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Ceil(value/step) * step
}

// RoundToPrecision округляет значение ВНИЗ до указанного количества
// знаков после запятой.
//
// Примеры:
//   - RoundToPrecision(12.3456, 2) = 12.34
//   - RoundToPrecision(12.3456, 0) = 12.0
func RoundToPrecision(value float64, precision int) float64 {
	factor := math.Pow(10, float64(precision))
	return math.Floor(value*factor) / factor
}

// CalcSellPrice вычисляет целевую цену продажи по цене покупки и
// проценту наценки, с округлением вниз до шага цены.
//
// Формула:
//
//	sellPrice = RoundToStep(buyPrice × (1 + percentProfit/100), priceStep)
//
// Примеры:
//   - CalcSellPrice(0.10, 5, 0.0001) = 0.105
func CalcSellPrice(buyPrice, percentProfit, priceStep float64) float64 {
	return RoundToStep(buyPrice*(1+percentProfit/100), priceStep)
}

// CalcSellQuantity вычисляет минимальный объём продажи.
//
// Объём округляется вверх до qtyStep так, чтобы нотионал
// (quantity × price) был не меньше minNotional биржи.
func CalcSellQuantity(quantity, price, qtyStep, minNotional float64) float64 {
	qty := RoundToStepUp(quantity, qtyStep)
	if price <= 0 {
		return qty
	}
	for qty*price < minNotional {
		qty = RoundToStepUp(qty+qtyStep, qtyStep)
	}
	return qty
}

// CalcOrderSize вычисляет размер ордера в валюте котировки для
// динамического режима.
//
// Формула:
//
//	clamp(floor(balance/coefficient, precision), 1, maxUsing)
//
// Примеры:
//   - CalcOrderSize(1000, 10, 2, 50) = 50 (100 -> clamp до 50)
//   - CalcOrderSize(35.5, 10, 1, 50) = 3.5
//   - CalcOrderSize(5, 10, 2, 50) = 1 (0.5 -> clamp до 1)
func CalcOrderSize(balance, coefficient float64, precision int, maxUsing float64) float64 {
	if coefficient <= 0 {
		return 1
	}
	size := RoundToPrecision(balance/coefficient, precision)
	return Clamp(size, 1, maxUsing)
}

// CalcProfit вычисляет прибыль завершённого цикла.
//
// Формула:
//
//	profit = sellQty × sellPrice − buyQty × buyPrice − buyCommission
//
// Пример:
//   - CalcProfit(100, 0.10, 0.01, 100, 0.105) = 0.49
func CalcProfit(buyQty, buyPrice, buyCommission, sellQty, sellPrice float64) float64 {
	return sellQty*sellPrice - buyQty*buyPrice - buyCommission
}

// RelativeDeviation возвращает относительное отклонение remote от
// local в долях (0.01 = 1%).
//
// Используется как защита при сверке: если данные биржи отличаются от
// локальных сильнее допуска, финализация пары пропускается.
func RelativeDeviation(local, remote float64) float64 {
	if local == 0 {
		if remote == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(remote-local) / math.Abs(local)
}

// IsPriceDrop проверяет условие просадки: текущая цена опустилась не
// менее чем на percentChange процентов ниже последней цены покупки.
func IsPriceDrop(currentPrice, lastBuyPrice, percentChange float64) bool {
	if lastBuyPrice <= 0 {
		return false
	}
	return currentPrice <= lastBuyPrice*(1-percentChange/100)
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
