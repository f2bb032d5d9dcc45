package models

import "time"

// Notification представляет уведомление о событии торгового цикла
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`         // TRADE_COMPLETED, PAIR_OPENED, STATUS, BALANCE, ERROR, RECONCILE
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	UserID    *int64                 `json:"user_id,omitempty" db:"user_id"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeTradeCompleted = "TRADE_COMPLETED" // продажа исполнена, цикл закрыт
	NotificationTypePairOpened     = "PAIR_OPENED"     // создана новая пара buy/sell
	NotificationTypeStatus         = "STATUS"          // служебное изменение статуса
	NotificationTypeBalance        = "BALANCE"         // недостаточно средств
	NotificationTypeError          = "ERROR"           // ошибка API/ордера
	NotificationTypeReconcile      = "RECONCILE"       // результат сверки с биржей
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
