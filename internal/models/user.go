package models

import "time"

// SizingMode - режим расчёта размера ордера
type SizingMode string

const (
	// SizingFixed - фиксированная сумма в валюте котировки
	SizingFixed SizingMode = "fixed"
	// SizingDynamic - balance/coefficient, с округлением вниз до
	// точности и ограничением [1, MaxUsing]
	SizingDynamic SizingMode = "dynamic"
)

// UserSettings представляет торговые настройки и учётные данные
// одного пользователя.
//
// Ядро читает все поля и записывает обратно только LastDcaBuyPrice -
// цену последней исполненной покупки, базу для расчёта просадки
// после перезапуска процесса.
type UserSettings struct {
	ID        int64  `json:"id" db:"id"`
	ChatID    int64  `json:"chat_id" db:"chat_id"`
	Symbol    string `json:"symbol" db:"symbol"` // например TRXUSDT
	Base      string `json:"base" db:"base"`     // TRX
	Quote     string `json:"quote" db:"quote"`   // USDT

	// API ключи биржи, зашифрованы AES-256-GCM, не возвращаются в JSON
	APIKey    string `json:"-" db:"api_key"`
	SecretKey string `json:"-" db:"secret_key"`

	// Режим расчёта размера ордера
	SizingMode  SizingMode `json:"sizing_mode" db:"sizing_mode"`
	FixedAmount float64    `json:"fixed_amount" db:"fixed_amount"` // для SizingFixed
	Coefficient float64    `json:"coefficient" db:"coefficient"`   // для SizingDynamic
	Precision   int        `json:"precision" db:"precision"`       // знаков после запятой при округлении
	MaxUsing    float64    `json:"max_using" db:"max_using"`       // верхняя граница динамического размера

	// Параметры стратегии
	PercentProfit      float64 `json:"percent_profit" db:"percent_profit"`             // наценка продажи, %
	PercentPriceChange float64 `json:"percent_price_change" db:"percent_price_change"` // требуемая просадка, %

	// Единственное поле, которое ядро пишет обратно
	LastDcaBuyPrice float64 `json:"last_dca_buy_price" db:"last_dca_buy_price"`

	IsAutoTradeEnabled bool      `json:"is_auto_trade_enabled" db:"is_auto_trade_enabled"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}
