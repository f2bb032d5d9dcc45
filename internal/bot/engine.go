package bot

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"dcabot/internal/config"
	"dcabot/internal/exchange"
	"dcabot/internal/models"
)

// PairStore - хранилище торговых пар (реализуется repository.PairRepository)
type PairStore interface {
	Create(pair *models.OrderPair) error
	GetByID(id int) (*models.OrderPair, error)
	GetBySellOrderID(userID int64, sellOrderID string) (*models.OrderPair, error)
	GetByBuyOrderID(userID int64, buyOrderID string) (*models.OrderPair, error)
	GetAllForUser(userID int64) ([]*models.OrderPair, error)
	GetOpenForUser(userID int64) ([]*models.OrderPair, error)
	Update(pair *models.OrderPair) error
	Delete(id int) error
}

// UserStore - настройки пользователей (реализуется repository.UserRepository).
// Ядро читает настройки и пишет обратно единственное поле -
// last_dca_buy_price.
type UserStore interface {
	GetByID(id int64) (*models.UserSettings, error)
	GetAutoTradeEnabled() ([]*models.UserSettings, error)
	UpdateLastDcaBuyPrice(id int64, price float64) error
}

// Notifier - шлюз уведомлений. Ядро сообщает о событиях, решений на
// основе уведомлений не принимается.
type Notifier interface {
	// TradeCompleted - продажа исполнена, цикл закрыт
	TradeCompleted(userID int64, pair *models.OrderPair)
	// PairOpened - создана новая пара. reason: first_purchase, price_drop, repair
	PairOpened(userID int64, pair *models.OrderPair, reason string)
	// StatusChanged - служебное сообщение оператору
	StatusChanged(userID int64, message string)
	// InsufficientBalance - не хватает средств на покупку.
	// Получатель ограничивает частоту, ядро шлёт не чаще раза на эпизод.
	InsufficientBalance(userID int64, balance, required float64)
}

// ExchangeFactory создает биржевого клиента из настроек пользователя
// (расшифровка учётных данных - забота фабрики, не ядра)
type ExchangeFactory func(user *models.UserSettings) (exchange.Exchange, error)

// Stream - user-data stream одного пользователя
type Stream interface {
	Start(ctx context.Context) error
	Close() error
}

// StreamFactory создает stream для биржевого клиента. onUpdate
// вызывается на каждое событие ордера.
type StreamFactory func(ex exchange.Exchange, onUpdate func(*exchange.OrderUpdate)) (Stream, error)

// Engine - торговое ядро: управляет жизненным циклом пользователей.
//
// На каждого активного пользователя:
// - polling торговый цикл (горутина)
// - user-data stream с обработчиком событий ордеров
// - per-user lock, сериализующий создание пар между polling и событиями
// - debounce-таймер пересоздания пары после исполнения продажи
//
// Сверка (reconcile) запускается при старте для всех пользователей,
// после каждого debounce-срабатывания и вручную через API.
type Engine struct {
	cfg *config.BotConfig
	log *zap.Logger

	pairs    PairStore
	users    UserStore
	notifier Notifier

	newExchange ExchangeFactory
	newStream   StreamFactory

	handles   map[int64]*userHandle
	handlesMu sync.RWMutex

	// baseCtx - время жизни движка. Циклы и stream'ы пользователей
	// наследуют его, а не контекст вызывающего: HTTP-запрос, запустивший
	// пользователя, завершается сразу, торговля - нет.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewEngine создает движок. newStream может быть nil - тогда ядро
// работает только на polling'е, без событийного пути.
func NewEngine(
	cfg *config.BotConfig,
	pairs PairStore,
	users UserStore,
	notifier Notifier,
	newExchange ExchangeFactory,
	newStream StreamFactory,
	log *zap.Logger,
) *Engine {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:         cfg,
		log:         log,
		pairs:       pairs,
		users:       users,
		notifier:    notifier,
		newExchange: newExchange,
		newStream:   newStream,
		handles:     make(map[int64]*userHandle),
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		shutdown:    make(chan struct{}),
	}
}

// Start выполняет стартовое восстановление: для каждого пользователя с
// включённой автоторговлей подключает биржу, прогоняет сверку и
// запускает торговый цикл с event stream'ом.
//
// Ошибка одного пользователя не мешает запуску остальных.
func (e *Engine) Start(ctx context.Context) error {
	activeUsers, err := e.users.GetAutoTradeEnabled()
	if err != nil {
		return fmt.Errorf("load active users: %w", err)
	}

	started := 0
	for _, user := range activeUsers {
		if err := e.StartUser(ctx, user.ID); err != nil {
			e.log.Error("failed to start user",
				zap.Int64("user_id", user.ID),
				zap.Error(err))
			continue
		}
		started++
	}

	e.log.Info("engine started",
		zap.Int("users_total", len(activeUsers)),
		zap.Int("users_started", started))

	return nil
}

// StartUser подключает пользователя и запускает его торговлю.
// Идемпотентен: повторный вызов для запущенного пользователя - no-op.
func (e *Engine) StartUser(ctx context.Context, userID int64) error {
	e.handlesMu.Lock()
	if _, ok := e.handles[userID]; ok {
		e.handlesMu.Unlock()
		return nil
	}
	e.handlesMu.Unlock()

	user, err := e.users.GetByID(userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}

	ex, err := e.newExchange(user)
	if err != nil {
		return fmt.Errorf("create exchange client for user %d: %w", userID, err)
	}

	handle := newUserHandle(userID, ex)

	// Цикл живёт с движком, ctx вызывающего ограничивает только
	// стартовую сверку ниже
	loopCtx, cancel := context.WithCancel(e.baseCtx)
	handle.cancel = cancel

	e.handlesMu.Lock()
	if _, ok := e.handles[userID]; ok {
		// параллельный StartUser успел раньше
		e.handlesMu.Unlock()
		cancel()
		ex.Close()
		return nil
	}
	e.handles[userID] = handle
	e.handlesMu.Unlock()

	// Стартовая сверка под lock'ом: stream и цикл ещё не запущены,
	// но manual trigger уже может прийти
	if ok := handle.tryLock(e.cfg.PairLockTimeout); ok {
		if err := e.reconcile(ctx, user, handle); err != nil {
			e.log.Warn("startup reconcile failed",
				zap.Int64("user_id", userID),
				zap.Error(err))
		}
		handle.unlock()
	}

	if e.newStream != nil {
		stream, err := e.newStream(ex, func(update *exchange.OrderUpdate) {
			e.handleOrderUpdate(userID, update)
		})
		if err != nil {
			e.log.Warn("user stream unavailable, polling only",
				zap.Int64("user_id", userID),
				zap.Error(err))
			e.notifier.StatusChanged(userID, "user data stream unavailable, polling only")
		} else if stream != nil {
			if err := stream.Start(ctx); err != nil {
				e.log.Warn("user stream start failed, polling only",
					zap.Int64("user_id", userID),
					zap.Error(err))
				e.notifier.StatusChanged(userID, "user data stream unavailable, polling only")
			} else {
				handle.stream = stream
			}
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runTradingLoop(loopCtx, handle)
	}()

	e.log.Info("user started", zap.Int64("user_id", userID))
	ActiveUsers.Inc()
	e.notifier.StatusChanged(userID, "auto trading started")

	return nil
}

// StopUser останавливает торговлю пользователя и освобождает его ресурсы
func (e *Engine) StopUser(userID int64) {
	e.handlesMu.Lock()
	handle, ok := e.handles[userID]
	if ok {
		delete(e.handles, userID)
	}
	e.handlesMu.Unlock()

	if !ok {
		return
	}

	handle.teardown()
	ActiveUsers.Dec()
	e.log.Info("user stopped", zap.Int64("user_id", userID))
	e.notifier.StatusChanged(userID, "auto trading stopped")
}

// IsUserRunning сообщает, запущена ли торговля пользователя
func (e *Engine) IsUserRunning(userID int64) bool {
	e.handlesMu.RLock()
	defer e.handlesMu.RUnlock()
	_, ok := e.handles[userID]
	return ok
}

// RunningUsers возвращает ID запущенных пользователей
func (e *Engine) RunningUsers() []int64 {
	e.handlesMu.RLock()
	defer e.handlesMu.RUnlock()

	ids := make([]int64, 0, len(e.handles))
	for id := range e.handles {
		ids = append(ids, id)
	}
	return ids
}

// TriggerReconcile запускает сверку пользователя вручную (admin API).
// Захватывает per-user lock; если lock занят дольше таймаута,
// возвращает ошибку вместо ожидания.
func (e *Engine) TriggerReconcile(ctx context.Context, userID int64) error {
	handle, ok := e.getHandle(userID)
	if !ok {
		return fmt.Errorf("user %d is not running", userID)
	}

	user, err := e.users.GetByID(userID)
	if err != nil {
		return err
	}

	if !handle.tryLock(e.cfg.PairLockTimeout) {
		RecordLockTimeout("manual_reconcile")
		return fmt.Errorf("user %d is busy, try again later", userID)
	}
	defer handle.unlock()

	return e.reconcile(ctx, user, handle)
}

// Stop останавливает всех пользователей и ждёт завершения горутин
func (e *Engine) Stop() {
	e.shutdownOnce.Do(func() {
		close(e.shutdown)
		e.baseCancel()
	})

	e.handlesMu.Lock()
	handles := make([]*userHandle, 0, len(e.handles))
	for id, handle := range e.handles {
		handles = append(handles, handle)
		delete(e.handles, id)
	}
	e.handlesMu.Unlock()

	for _, handle := range handles {
		handle.teardown()
	}

	e.wg.Wait()
	e.log.Info("engine stopped")
}

func (e *Engine) getHandle(userID int64) (*userHandle, bool) {
	e.handlesMu.RLock()
	defer e.handlesMu.RUnlock()
	handle, ok := e.handles[userID]
	return handle, ok
}
