package models

import "time"

// OrderSide - сторона ордера
type OrderSide string

// OrderType - тип ордера
type OrderType string

// OrderStatus - статус ордера на бирже
type OrderStatus string

const (
	SideBuy  OrderSide = "Buy"
	SideSell OrderSide = "Sell"
)

const (
	TypeMarket OrderType = "Market"
	TypeLimit  OrderType = "Limit"
)

const (
	StatusNew      OrderStatus = "New"
	StatusFilled   OrderStatus = "Filled"
	StatusCanceled OrderStatus = "Canceled"
)

// Order представляет одну ногу торгового цикла (покупку или продажу).
//
// Пустой ID - sentinel: ордер ещё не отправлен на биржу.
// Для рыночной покупки LimitPrice заполняется только после исполнения
// как FilledQuoteQty/FilledQty (средняя цена исполнения), никогда из
// номинальной цены ордера.
type Order struct {
	ID             string      `json:"id" db:"exchange_id"`
	Symbol         string      `json:"symbol" db:"symbol"`
	Side           OrderSide   `json:"side" db:"side"`
	Type           OrderType   `json:"type" db:"type"`
	Quantity       float64     `json:"quantity" db:"quantity"` // запрошенный объём
	LimitPrice     *float64    `json:"limit_price,omitempty" db:"limit_price"`
	Status         OrderStatus `json:"status" db:"status"`
	FilledQty      float64     `json:"filled_qty" db:"filled_qty"`
	FilledQuoteQty float64     `json:"filled_quote_qty" db:"filled_quote_qty"` // объём в валюте котировки
	Commission     float64     `json:"commission" db:"commission"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// IsPlaced сообщает, был ли ордер отправлен на биржу
func (o *Order) IsPlaced() bool {
	return o.ID != ""
}

// IsOpen - ордер считается открытым пока биржа не сообщила финальный
// статус (Filled или Canceled)
func (o *Order) IsOpen() bool {
	return o.Status != StatusFilled && o.Status != StatusCanceled
}

// FillPrice возвращает фактическую цену исполнения.
//
// Для исполненного рыночного ордера - средняя цена
// FilledQuoteQty/FilledQty. Иначе - LimitPrice (0 если не задан).
func (o *Order) FillPrice() float64 {
	if o.Type == TypeMarket && o.Status == StatusFilled && o.FilledQty > 0 && o.FilledQuoteQty > 0 {
		return o.FilledQuoteQty / o.FilledQty
	}
	if o.LimitPrice != nil {
		return *o.LimitPrice
	}
	return 0
}

// SetLimitPrice устанавливает цену (хелпер для *float64)
func (o *Order) SetLimitPrice(price float64) {
	o.LimitPrice = &price
}
