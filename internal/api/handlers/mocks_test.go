package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"dcabot/internal/models"
	"dcabot/internal/repository"
	"dcabot/internal/service"
)

// ============ Mock User Service ============

// MockUserService мок для service.UserServiceInterface
type MockUserService struct {
	users     map[int64]*models.UserSettings
	running   map[int64]bool
	autoTrade map[int64]bool
	createErr error
	getErr    error
	updateErr error
	deleteErr error
	toggleErr error
	nextID    int64
	mu        sync.RWMutex
}

// NewMockUserService создает новый мок сервиса пользователей
func NewMockUserService() *MockUserService {
	return &MockUserService{
		users:     make(map[int64]*models.UserSettings),
		running:   make(map[int64]bool),
		autoTrade: make(map[int64]bool),
		nextID:    1,
	}
}

func (m *MockUserService) Create(ctx context.Context, input *service.CreateUserInput) (*models.UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return nil, m.createErr
	}

	if input.Symbol == "" {
		return nil, service.ErrInvalidUserInput
	}

	user := &models.UserSettings{
		ID:                 m.nextID,
		ChatID:             input.ChatID,
		Symbol:             input.Symbol,
		Base:               input.Base,
		Quote:              input.Quote,
		SizingMode:         input.SizingMode,
		FixedAmount:        input.FixedAmount,
		PercentProfit:      input.PercentProfit,
		PercentPriceChange: input.PercentPriceChange,
		IsAutoTradeEnabled: input.IsAutoTradeEnabled,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	m.nextID++
	m.users[user.ID] = user
	if user.IsAutoTradeEnabled {
		m.running[user.ID] = true
	}
	return user, nil
}

func (m *MockUserService) Get(id int64) (*models.UserSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	user, exists := m.users[id]
	if !exists {
		return nil, repository.ErrUserNotFound
	}
	return user, nil
}

func (m *MockUserService) List() ([]*models.UserSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	result := make([]*models.UserSettings, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, u)
	}
	return result, nil
}

func (m *MockUserService) Update(id int64, input *service.UpdateUserInput) (*models.UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return nil, m.updateErr
	}

	user, exists := m.users[id]
	if !exists {
		return nil, repository.ErrUserNotFound
	}

	if input.FixedAmount != nil {
		user.FixedAmount = *input.FixedAmount
	}
	if input.PercentProfit != nil {
		user.PercentProfit = *input.PercentProfit
	}
	user.UpdatedAt = time.Now()
	return user, nil
}

func (m *MockUserService) SetAutoTrade(ctx context.Context, id int64, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.toggleErr != nil {
		return m.toggleErr
	}

	if _, exists := m.users[id]; !exists {
		return repository.ErrUserNotFound
	}

	m.autoTrade[id] = enabled
	m.running[id] = enabled
	return nil
}

func (m *MockUserService) Delete(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}

	if _, exists := m.users[id]; !exists {
		return repository.ErrUserNotFound
	}

	delete(m.users, id)
	delete(m.running, id)
	return nil
}

func (m *MockUserService) IsRunning(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.running[id]
}

// SetError устанавливает ошибку для указанной операции
func (m *MockUserService) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch operation {
	case "create":
		m.createErr = err
	case "get":
		m.getErr = err
	case "update":
		m.updateErr = err
	case "delete":
		m.deleteErr = err
	case "toggle":
		m.toggleErr = err
	}
}

// AddUser добавляет пользователя напрямую (для настройки тестов)
func (m *MockUserService) AddUser(user *models.UserSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users[user.ID] = user
	if user.ID >= m.nextID {
		m.nextID = user.ID + 1
	}
}

// ============ Mock Pair Service ============

// MockPairService мок для service.PairServiceInterface
type MockPairService struct {
	pairs        map[int64][]*models.OrderPair
	summaries    map[int64]*service.ProfitSummary
	reconciled   []int64
	listErr      error
	summaryErr   error
	reconcileErr error
	mu           sync.RWMutex
}

// NewMockPairService создает новый мок сервиса торговых пар
func NewMockPairService() *MockPairService {
	return &MockPairService{
		pairs:     make(map[int64][]*models.OrderPair),
		summaries: make(map[int64]*service.ProfitSummary),
	}
}

func (m *MockPairService) ListForUser(userID int64, openOnly bool) ([]*models.OrderPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	result := make([]*models.OrderPair, 0)
	for _, p := range m.pairs[userID] {
		if openOnly && p.IsCompleted() {
			continue
		}
		result = append(result, p)
	}
	return result, nil
}

func (m *MockPairService) GetForUser(userID int64, pairID int) (*models.OrderPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	for _, p := range m.pairs[userID] {
		if p.ID == pairID {
			return p, nil
		}
	}
	return nil, repository.ErrPairNotFound
}

func (m *MockPairService) Summary(userID int64) (*service.ProfitSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.summaryErr != nil {
		return nil, m.summaryErr
	}

	if s, exists := m.summaries[userID]; exists {
		return s, nil
	}
	return &service.ProfitSummary{UserID: userID}, nil
}

func (m *MockPairService) TriggerReconcile(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reconcileErr != nil {
		return m.reconcileErr
	}

	m.reconciled = append(m.reconciled, userID)
	return nil
}

// SetError устанавливает ошибку для указанной операции
func (m *MockPairService) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch operation {
	case "list":
		m.listErr = err
	case "summary":
		m.summaryErr = err
	case "reconcile":
		m.reconcileErr = err
	}
}

// AddPair добавляет пару напрямую (для настройки тестов)
func (m *MockPairService) AddPair(userID int64, pair *models.OrderPair) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pairs[userID] = append(m.pairs[userID], pair)
}

// SetSummary устанавливает сводку прибыли (для настройки тестов)
func (m *MockPairService) SetSummary(userID int64, summary *service.ProfitSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.summaries[userID] = summary
}

func (m *MockPairService) reconcileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.reconciled)
}

// ============ Mock Notification Service ============

// MockNotificationService мок для service.NotificationServiceInterface
type MockNotificationService struct {
	notifications []*models.Notification
	getErr        error
	nextID        int
	mu            sync.RWMutex
}

// NewMockNotificationService создает новый мок сервиса уведомлений
func NewMockNotificationService() *MockNotificationService {
	return &MockNotificationService{nextID: 1}
}

func (m *MockNotificationService) Recent(limit int) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	result := make([]*models.Notification, 0, len(m.notifications))
	result = append(result, m.notifications...)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockNotificationService) RecentForUser(userID int64, limit int) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	result := make([]*models.Notification, 0)
	for _, n := range m.notifications {
		if n.UserID != nil && *n.UserID == userID {
			result = append(result, n)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SetError устанавливает ошибку чтения
func (m *MockNotificationService) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getErr = err
}

// AddNotification добавляет уведомление напрямую (для настройки тестов)
func (m *MockNotificationService) AddNotification(userID *int64, notifType, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notifications = append(m.notifications, &models.Notification{
		ID:        m.nextID,
		Timestamp: time.Now(),
		Type:      notifType,
		Severity:  models.SeverityInfo,
		UserID:    userID,
		Message:   message,
	})
	m.nextID++
}

// ============ Mock Bot Controller ============

// MockBotController мок для service.BotController
type MockBotController struct {
	running map[int64]bool
	mu      sync.RWMutex
}

// NewMockBotController создает новый мок торгового ядра
func NewMockBotController() *MockBotController {
	return &MockBotController{running: make(map[int64]bool)}
}

func (m *MockBotController) StartUser(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running[userID] = true
	return nil
}

func (m *MockBotController) StopUser(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.running, userID)
}

func (m *MockBotController) IsUserRunning(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.running[userID]
}

func (m *MockBotController) RunningUsers() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]int64, 0, len(m.running))
	for id := range m.running {
		result = append(result, id)
	}
	return result
}

func (m *MockBotController) TriggerReconcile(ctx context.Context, userID int64) error {
	return nil
}

// ============ Helper errors for tests ============

var ErrMockService = errors.New("mock service error")

// ============ Проверяем, что моки реализуют интерфейсы ============

var _ service.UserServiceInterface = (*MockUserService)(nil)
var _ service.PairServiceInterface = (*MockPairService)(nil)
var _ service.NotificationServiceInterface = (*MockNotificationService)(nil)
var _ service.BotController = (*MockBotController)(nil)
