package service

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dcabot/internal/models"
)

const (
	// Предупреждения о нехватке средств не чаще раза в период на
	// пользователя: ядро шлёт раз на эпизод, но эпизоды могут
	// чередоваться часто при балансе на границе
	balanceWarnInterval = 15 * time.Minute

	defaultRecentLimit = 100
	maxRecentLimit     = 500
)

// NotificationService ведёт журнал уведомлений и транслирует события
// UI-клиентам через WebSocket hub.
//
// Реализует bot.Notifier: ядро сообщает о событиях торговли, сервис
// превращает их в записи журнала и broadcast-сообщения. Ошибка записи
// в журнал логируется и не возвращается ядру - уведомления не должны
// влиять на торговлю.
type NotificationService struct {
	repo NotificationStore
	hub  Broadcaster
	bot  RunningLister
	log  *zap.Logger

	// retention - срок хранения записей журнала
	retention time.Duration

	balanceWarnMu   sync.Mutex
	lastBalanceWarn map[int64]time.Time
}

// NewNotificationService создает сервис уведомлений.
// hub может быть nil - тогда события пишутся только в журнал.
func NewNotificationService(repo NotificationStore, retention time.Duration, log *zap.Logger) *NotificationService {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &NotificationService{
		repo:            repo,
		retention:       retention,
		log:             log,
		lastBalanceWarn: make(map[int64]time.Time),
	}
}

// SetHub устанавливает WebSocket hub для broadcast.
// Вызывается после инициализации hub в main.
func (s *NotificationService) SetHub(hub Broadcaster) {
	s.hub = hub
}

// SetBotStatusSource задаёт источник списка запущенных пользователей.
// С ним каждое служебное сообщение сопровождается broadcast'ом
// актуального статуса ядра UI-клиентам.
func (s *NotificationService) SetBotStatusSource(bot RunningLister) {
	s.bot = bot
}

// TradeCompleted - продажа исполнена, цикл закрыт
func (s *NotificationService) TradeCompleted(userID int64, pair *models.OrderPair) {
	profit := 0.0
	if pair.Profit != nil {
		profit = *pair.Profit
	}

	s.publish(&models.Notification{
		Type:     models.NotificationTypeTradeCompleted,
		Severity: models.SeverityInfo,
		UserID:   &userID,
		Message:  fmt.Sprintf("%s: cycle closed, profit %.8f", pair.BuyOrder.Symbol, profit),
		Meta: map[string]interface{}{
			"pair_id": pair.ID,
			"symbol":  pair.BuyOrder.Symbol,
			"profit":  profit,
		},
	})

	if s.hub != nil {
		s.hub.BroadcastPairEvent(userID, "completed", pair)
	}
}

// PairOpened - создана новая пара buy/sell
func (s *NotificationService) PairOpened(userID int64, pair *models.OrderPair, reason string) {
	s.publish(&models.Notification{
		Type:     models.NotificationTypePairOpened,
		Severity: models.SeverityInfo,
		UserID:   &userID,
		Message:  fmt.Sprintf("%s: pair opened (%s), buy %.8f @ %.8f", pair.BuyOrder.Symbol, reason, pair.BuyOrder.FilledQty, pair.BuyOrder.FillPrice()),
		Meta: map[string]interface{}{
			"pair_id":   pair.ID,
			"symbol":    pair.BuyOrder.Symbol,
			"reason":    reason,
			"buy_price": pair.BuyOrder.FillPrice(),
			"quantity":  pair.BuyOrder.FilledQty,
		},
	})

	if s.hub != nil {
		s.hub.BroadcastPairEvent(userID, "opened", pair)
	}
}

// StatusChanged - служебное сообщение оператору. Сопровождается
// broadcast'ом текущего статуса ядра: сообщения этого типа приходят
// на старте и остановке пользователей, когда список меняется.
func (s *NotificationService) StatusChanged(userID int64, message string) {
	s.publish(&models.Notification{
		Type:     models.NotificationTypeStatus,
		Severity: models.SeverityInfo,
		UserID:   &userID,
		Message:  message,
	})

	if s.hub != nil && s.bot != nil {
		s.hub.BroadcastBotStatus(s.bot.RunningUsers())
	}
}

// InsufficientBalance - не хватает средств на покупку.
// Частота ограничена balanceWarnInterval на пользователя.
func (s *NotificationService) InsufficientBalance(userID int64, balance, required float64) {
	s.balanceWarnMu.Lock()
	last, ok := s.lastBalanceWarn[userID]
	now := time.Now()
	if ok && now.Sub(last) < balanceWarnInterval {
		s.balanceWarnMu.Unlock()
		return
	}
	s.lastBalanceWarn[userID] = now
	s.balanceWarnMu.Unlock()

	s.publish(&models.Notification{
		Type:     models.NotificationTypeBalance,
		Severity: models.SeverityWarn,
		UserID:   &userID,
		Message:  fmt.Sprintf("insufficient balance: have %.8f, need %.8f", balance, required),
		Meta: map[string]interface{}{
			"balance":  balance,
			"required": required,
		},
	})
}

// Error пишет в журнал ошибку API или ордера
func (s *NotificationService) Error(userID *int64, message string, meta map[string]interface{}) {
	s.publish(&models.Notification{
		Type:     models.NotificationTypeError,
		Severity: models.SeverityError,
		UserID:   userID,
		Message:  message,
		Meta:     meta,
	})
}

// ReconcileReport пишет в журнал результат ручной сверки
func (s *NotificationService) ReconcileReport(userID int64, message string) {
	s.publish(&models.Notification{
		Type:     models.NotificationTypeReconcile,
		Severity: models.SeverityInfo,
		UserID:   &userID,
		Message:  message,
	})
}

// Recent возвращает последние записи журнала (новые сверху)
func (s *NotificationService) Recent(limit int) ([]*models.Notification, error) {
	return s.repo.GetRecent(clampLimit(limit))
}

// RecentForUser возвращает последние записи журнала пользователя
func (s *NotificationService) RecentForUser(userID int64, limit int) ([]*models.Notification, error) {
	return s.repo.GetRecentForUser(userID, clampLimit(limit))
}

// CleanupOld удаляет записи старше срока хранения.
// Возвращает количество удалённых.
func (s *NotificationService) CleanupOld() (int64, error) {
	return s.repo.DeleteOld(time.Now().Add(-s.retention))
}

// publish пишет запись в журнал и рассылает её клиентам
func (s *NotificationService) publish(notif *models.Notification) {
	if err := s.repo.Create(notif); err != nil {
		s.log.Error("failed to persist notification",
			zap.String("type", notif.Type),
			zap.Error(err))
		// запись не сохранилась, но UI всё равно уведомляем
	}

	if s.hub != nil {
		s.hub.BroadcastNotification(notif)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	if limit > maxRecentLimit {
		return maxRecentLimit
	}
	return limit
}
