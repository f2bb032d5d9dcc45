package service

import (
	"context"
	"time"

	"dcabot/internal/models"
)

// Broadcaster - интерфейс для real-time рассылки событий UI-клиентам.
// Реализуется websocket.Hub; интерфейс разрывает циклическую
// зависимость пакетов и упрощает тестирование.
type Broadcaster interface {
	BroadcastNotification(notif *models.Notification)
	BroadcastPairEvent(userID int64, event string, pair *models.OrderPair)
	BroadcastBotStatus(runningIDs []int64)
}

// NotificationStore - журнал уведомлений (реализуется
// repository.NotificationRepository)
type NotificationStore interface {
	Create(n *models.Notification) error
	GetRecent(limit int) ([]*models.Notification, error)
	GetRecentForUser(userID int64, limit int) ([]*models.Notification, error)
	DeleteOld(before time.Time) (int64, error)
}

// PairStore - чтение торговых пар для API
// (реализуется repository.PairRepository)
type PairStore interface {
	GetByID(id int) (*models.OrderPair, error)
	GetAllForUser(userID int64) ([]*models.OrderPair, error)
	GetOpenForUser(userID int64) ([]*models.OrderPair, error)
	CountOpenForUser(userID int64) (int, error)
	SumProfitForUser(userID int64, since time.Time) (float64, error)
}

// UserStore - хранилище настроек пользователей
// (реализуется repository.UserRepository)
type UserStore interface {
	Create(user *models.UserSettings) error
	GetByID(id int64) (*models.UserSettings, error)
	GetAll() ([]*models.UserSettings, error)
	Update(user *models.UserSettings) error
	SetAutoTrade(id int64, enabled bool) error
	Delete(id int64) error
}

// BotController - управление торговым ядром (реализуется bot.Engine)
type BotController interface {
	StartUser(ctx context.Context, userID int64) error
	StopUser(userID int64)
	IsUserRunning(userID int64) bool
	RunningUsers() []int64
	TriggerReconcile(ctx context.Context, userID int64) error
}

// RunningLister - источник списка запущенных пользователей для
// broadcast статуса ядра (реализуется bot.Engine)
type RunningLister interface {
	RunningUsers() []int64
}

// ReconcileReporter - журнал результатов ручной сверки
// (реализуется NotificationService)
type ReconcileReporter interface {
	ReconcileReport(userID int64, message string)
}

// ============ Интерфейсы сервисов для API handlers ============

// UserServiceInterface - операции над пользователями для HTTP API
type UserServiceInterface interface {
	Create(ctx context.Context, input *CreateUserInput) (*models.UserSettings, error)
	Get(id int64) (*models.UserSettings, error)
	List() ([]*models.UserSettings, error)
	Update(id int64, input *UpdateUserInput) (*models.UserSettings, error)
	SetAutoTrade(ctx context.Context, id int64, enabled bool) error
	Delete(id int64) error
	IsRunning(id int64) bool
}

// PairServiceInterface - запросы торговых пар для HTTP API
type PairServiceInterface interface {
	ListForUser(userID int64, openOnly bool) ([]*models.OrderPair, error)
	GetForUser(userID int64, pairID int) (*models.OrderPair, error)
	Summary(userID int64) (*ProfitSummary, error)
	TriggerReconcile(ctx context.Context, userID int64) error
}

// NotificationServiceInterface - чтение журнала уведомлений для HTTP API
type NotificationServiceInterface interface {
	Recent(limit int) ([]*models.Notification, error)
	RecentForUser(userID int64, limit int) ([]*models.Notification, error)
}

// Проверки реализации на этапе компиляции
var (
	_ UserServiceInterface         = (*UserService)(nil)
	_ PairServiceInterface         = (*PairService)(nil)
	_ NotificationServiceInterface = (*NotificationService)(nil)
)
