package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"dcabot/internal/models"
	"dcabot/internal/repository"
)

var errTest = errors.New("test error")

// ============================================================
// Моки для тестов сервисного слоя
// ============================================================

type mockNotificationStore struct {
	mu      sync.Mutex
	created []*models.Notification
	nextID  int

	createErr  error
	deletedOld int64
}

func (m *mockNotificationStore) Create(n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	n.ID = m.nextID
	n.Timestamp = time.Now()
	m.created = append(m.created, n)
	return nil
}

func (m *mockNotificationStore) GetRecent(limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.created) {
		limit = len(m.created)
	}
	result := make([]*models.Notification, 0, limit)
	for i := len(m.created) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, m.created[i])
	}
	return result, nil
}

func (m *mockNotificationStore) GetRecentForUser(userID int64, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.Notification
	for i := len(m.created) - 1; i >= 0 && len(result) < limit; i-- {
		n := m.created[i]
		if n.UserID != nil && *n.UserID == userID {
			result = append(result, n)
		}
	}
	return result, nil
}

func (m *mockNotificationStore) DeleteOld(before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*models.Notification
	var deleted int64
	for _, n := range m.created {
		if n.Timestamp.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, n)
	}
	m.created = kept
	m.deletedOld = deleted
	return deleted, nil
}

func (m *mockNotificationStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created)
}

func (m *mockNotificationStore) last() *models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.created) == 0 {
		return nil
	}
	return m.created[len(m.created)-1]
}

// mockBroadcaster считает broadcast-вызовы по типам
type mockBroadcaster struct {
	mu            sync.Mutex
	notifications []*models.Notification
	pairEvents    []string
	statusCalls   int
}

func (b *mockBroadcaster) BroadcastNotification(notif *models.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifications = append(b.notifications, notif)
}

func (b *mockBroadcaster) BroadcastPairEvent(userID int64, event string, pair *models.OrderPair) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pairEvents = append(b.pairEvents, event)
}

func (b *mockBroadcaster) BroadcastBotStatus(runningIDs []int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusCalls++
}

// mockServicePairStore - пары в памяти для запросов API
type mockServicePairStore struct {
	mu    sync.Mutex
	pairs []*models.OrderPair

	profitTotal float64
	profitToday float64
}

func (m *mockServicePairStore) GetByID(id int) (*models.OrderPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pairs {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, repository.ErrPairNotFound
}

func (m *mockServicePairStore) GetAllForUser(userID int64) ([]*models.OrderPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.OrderPair
	for _, p := range m.pairs {
		if p.UserID == userID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *mockServicePairStore) GetOpenForUser(userID int64) ([]*models.OrderPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.OrderPair
	for _, p := range m.pairs {
		if p.UserID == userID && !p.IsCompleted() {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *mockServicePairStore) CountOpenForUser(userID int64) (int, error) {
	open, _ := m.GetOpenForUser(userID)
	return len(open), nil
}

func (m *mockServicePairStore) SumProfitForUser(userID int64, since time.Time) (float64, error) {
	if since.IsZero() {
		return m.profitTotal, nil
	}
	return m.profitToday, nil
}

// mockServiceUserStore - пользователи в памяти
type mockServiceUserStore struct {
	mu     sync.Mutex
	users  map[int64]*models.UserSettings
	nextID int64
}

func newMockServiceUserStore() *mockServiceUserStore {
	return &mockServiceUserStore{users: make(map[int64]*models.UserSettings)}
}

func (m *mockServiceUserStore) Create(user *models.UserSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	user.ID = m.nextID
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *mockServiceUserStore) GetByID(id int64) (*models.UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (m *mockServiceUserStore) GetAll() ([]*models.UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.UserSettings
	for _, u := range m.users {
		cp := *u
		result = append(result, &cp)
	}
	return result, nil
}

func (m *mockServiceUserStore) Update(user *models.UserSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return repository.ErrUserNotFound
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *mockServiceUserStore) SetAutoTrade(id int64, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.IsAutoTradeEnabled = enabled
	return nil
}

func (m *mockServiceUserStore) Delete(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(m.users, id)
	return nil
}

// mockBotController записывает команды ядру
type mockBotController struct {
	mu        sync.Mutex
	started   []int64
	stopped   []int64
	running   map[int64]bool
	reconcile []int64

	startErr     error
	reconcileErr error
}

func newMockBotController() *mockBotController {
	return &mockBotController{running: make(map[int64]bool)}
}

func (b *mockBotController) StartUser(ctx context.Context, userID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return b.startErr
	}
	b.started = append(b.started, userID)
	b.running[userID] = true
	return nil
}

func (b *mockBotController) StopUser(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = append(b.stopped, userID)
	delete(b.running, userID)
}

func (b *mockBotController) IsUserRunning(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running[userID]
}

func (b *mockBotController) RunningUsers() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int64, 0, len(b.running))
	for id := range b.running {
		ids = append(ids, id)
	}
	return ids
}

func (b *mockBotController) TriggerReconcile(ctx context.Context, userID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reconcileErr != nil {
		return b.reconcileErr
	}
	b.reconcile = append(b.reconcile, userID)
	return nil
}

// mockReconcileReporter собирает отчёты ручной сверки
type mockReconcileReporter struct {
	mu      sync.Mutex
	reports []string
}

func (r *mockReconcileReporter) ReconcileReport(userID int64, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, message)
}
