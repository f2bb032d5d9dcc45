package websocket

import (
	"time"

	"dcabot/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeNotification - новая запись журнала уведомлений
	// (открытие пары, завершение цикла, нехватка баланса, ошибки)
	MessageTypeNotification MessageType = "notification"

	// MessageTypePairEvent - изменение состояния торговой пары:
	// открытие, привязка продажи, завершение цикла
	MessageTypePairEvent MessageType = "pairEvent"

	// MessageTypeBotStatus - изменение состояния ядра:
	// пользователь запущен/остановлен, количество активных
	MessageTypeBotStatus MessageType = "botStatus"
)

// BaseMessage - общая шапка всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// NotificationMessage - сообщение с записью журнала
type NotificationMessage struct {
	BaseMessage
	Data *NotificationData `json:"data"`
}

// NotificationData - полезная нагрузка уведомления
type NotificationData struct {
	ID        int                    `json:"id"`
	Type      string                 `json:"type"`     // TRADE_COMPLETED, PAIR_OPENED, STATUS, BALANCE, ERROR, RECONCILE
	Severity  string                 `json:"severity"` // info, warn, error
	UserID    *int64                 `json:"user_id,omitempty"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// PairEventMessage - сообщение об изменении пары
type PairEventMessage struct {
	BaseMessage
	UserID int64           `json:"user_id"`
	Event  string          `json:"event"` // opened, completed
	Data   *PairEventData  `json:"data"`
}

// PairEventData - снимок пары для UI
type PairEventData struct {
	PairID      int        `json:"pair_id"`
	Symbol      string     `json:"symbol"`
	BuyPrice    float64    `json:"buy_price"`
	BuyQty      float64    `json:"buy_qty"`
	SellPrice   float64    `json:"sell_price,omitempty"`
	SellQty     float64    `json:"sell_qty,omitempty"`
	Profit      *float64   `json:"profit,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// BotStatusMessage - сообщение о состоянии ядра
type BotStatusMessage struct {
	BaseMessage
	ActiveUsers int     `json:"active_users"`
	RunningIDs  []int64 `json:"running_ids,omitempty"`
}

// NewNotificationMessage создает сообщение из записи журнала
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNotification,
			Timestamp: time.Now(),
		},
		Data: &NotificationData{
			ID:        notif.ID,
			Type:      notif.Type,
			Severity:  notif.Severity,
			UserID:    notif.UserID,
			Message:   notif.Message,
			Meta:      notif.Meta,
			Timestamp: notif.Timestamp,
		},
	}
}

// NewPairEventMessage создает сообщение об изменении пары
func NewPairEventMessage(userID int64, event string, pair *models.OrderPair) *PairEventMessage {
	data := &PairEventData{
		PairID:      pair.ID,
		Symbol:      pair.BuyOrder.Symbol,
		BuyPrice:    pair.BuyOrder.FillPrice(),
		BuyQty:      pair.BuyOrder.FilledQty,
		Profit:      pair.Profit,
		CompletedAt: pair.CompletedAt,
	}
	if pair.SellOrder.IsPlaced() {
		data.SellPrice = pair.SellOrder.FillPrice()
		data.SellQty = pair.SellOrder.Quantity
	}

	return &PairEventMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypePairEvent,
			Timestamp: time.Now(),
		},
		UserID: userID,
		Event:  event,
		Data:   data,
	}
}

// NewBotStatusMessage создает сообщение о состоянии ядра
func NewBotStatusMessage(runningIDs []int64) *BotStatusMessage {
	return &BotStatusMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeBotStatus,
			Timestamp: time.Now(),
		},
		ActiveUsers: len(runningIDs),
		RunningIDs:  runningIDs,
	}
}
