package models

import (
	"time"

	"dcabot/pkg/utils"
)

// OrderPair представляет один DCA-цикл: покупка и парная ей продажа.
//
// Обе ноги всегда присутствуют как структуры; у неразмещённой ноги
// пустой Order.ID. Пара с пустым BuyOrder.ID считается брошенной и
// подлежит удалению при сверке.
//
// Инварианты:
//   - CompletedAt и Profit устанавливаются строго вместе и ровно один
//     раз - когда нога продажи достигает статуса Filled;
//   - Profit = sellFilledQty*sellFillPrice - buyFilledQty*buyFillPrice - buyCommission.
type OrderPair struct {
	ID          int        `json:"id" db:"id"`
	UserID      int64      `json:"user_id" db:"user_id"`
	BuyOrder    Order      `json:"buy_order"`
	SellOrder   Order      `json:"sell_order"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Profit      *float64   `json:"profit,omitempty" db:"profit"`
}

// IsCompleted сообщает, завершён ли цикл
func (p *OrderPair) IsCompleted() bool {
	return p.CompletedAt != nil
}

// IsAbandoned - пара, чья покупка так и не была отправлена на биржу
func (p *OrderPair) IsAbandoned() bool {
	return !p.BuyOrder.IsPlaced()
}

// Complete финализирует пару: фиксирует время завершения и прибыль.
// Повторные вызовы игнорируются - поля записываются ровно один раз.
func (p *OrderPair) Complete(at time.Time, profit float64) bool {
	if p.CompletedAt != nil {
		return false
	}
	p.CompletedAt = &at
	p.Profit = &profit
	return true
}

// CalcProfit вычисляет прибыль пары по фактическим исполнениям.
// Комиссия ноги продажи обычно удерживается биржей в валюте котировки
// и уже учтена в FilledQuoteQty; комиссия покупки вычитается явно.
func (p *OrderPair) CalcProfit() float64 {
	return utils.CalcProfit(
		p.BuyOrder.FilledQty, p.BuyOrder.FillPrice(), p.BuyOrder.Commission,
		p.SellOrder.FilledQty, p.SellOrder.FillPrice())
}
