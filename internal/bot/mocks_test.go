package bot

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"dcabot/internal/config"
	"dcabot/internal/exchange"
	"dcabot/internal/models"
	"dcabot/internal/repository"
)

// ============================================================
// Моки для тестов ядра
// ============================================================

// mockPairStore - in-memory хранилище пар. Копирует пары на входе и
// выходе, как это делала бы БД: мутации указателя не видны хранилищу
// до явного Update.
type mockPairStore struct {
	mu      sync.Mutex
	pairs   map[int]*models.OrderPair
	nextID  int
	updates int // количество вызовов Update (для проверки идемпотентности)
	creates int
	deletes int
}

func newMockPairStore() *mockPairStore {
	return &mockPairStore{pairs: make(map[int]*models.OrderPair), nextID: 1}
}

func copyPair(p *models.OrderPair) *models.OrderPair {
	cp := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	if p.Profit != nil {
		v := *p.Profit
		cp.Profit = &v
	}
	if p.BuyOrder.LimitPrice != nil {
		v := *p.BuyOrder.LimitPrice
		cp.BuyOrder.LimitPrice = &v
	}
	if p.SellOrder.LimitPrice != nil {
		v := *p.SellOrder.LimitPrice
		cp.SellOrder.LimitPrice = &v
	}
	return &cp
}

func (s *mockPairStore) Create(pair *models.OrderPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair.ID = s.nextID
	s.nextID++
	pair.CreatedAt = time.Now()
	s.pairs[pair.ID] = copyPair(pair)
	s.creates++
	return nil
}

func (s *mockPairStore) GetByID(id int) (*models.OrderPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, ok := s.pairs[id]
	if !ok {
		return nil, repository.ErrPairNotFound
	}
	return copyPair(pair), nil
}

func (s *mockPairStore) GetBySellOrderID(userID int64, sellOrderID string) (*models.OrderPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pair := range s.pairs {
		if pair.UserID == userID && pair.SellOrder.ID == sellOrderID {
			return copyPair(pair), nil
		}
	}
	return nil, repository.ErrPairNotFound
}

func (s *mockPairStore) GetByBuyOrderID(userID int64, buyOrderID string) (*models.OrderPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pair := range s.pairs {
		if pair.UserID == userID && pair.BuyOrder.ID == buyOrderID {
			return copyPair(pair), nil
		}
	}
	return nil, repository.ErrPairNotFound
}

func (s *mockPairStore) GetAllForUser(userID int64) ([]*models.OrderPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.OrderPair
	for _, pair := range s.pairs {
		if pair.UserID == userID {
			result = append(result, copyPair(pair))
		}
	}
	return result, nil
}

func (s *mockPairStore) GetOpenForUser(userID int64) ([]*models.OrderPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.OrderPair
	for _, pair := range s.pairs {
		if pair.UserID == userID && pair.CompletedAt == nil {
			result = append(result, copyPair(pair))
		}
	}
	return result, nil
}

func (s *mockPairStore) Update(pair *models.OrderPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pairs[pair.ID]; !ok {
		return repository.ErrPairNotFound
	}
	s.pairs[pair.ID] = copyPair(pair)
	s.updates++
	return nil
}

func (s *mockPairStore) Delete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pairs[id]; !ok {
		return repository.ErrPairNotFound
	}
	delete(s.pairs, id)
	s.deletes++
	return nil
}

func (s *mockPairStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pairs)
}

func (s *mockPairStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// mockUserStore - in-memory настройки пользователей
type mockUserStore struct {
	mu            sync.Mutex
	users         map[int64]*models.UserSettings
	lastBuyWrites []float64
}

func newMockUserStore(users ...*models.UserSettings) *mockUserStore {
	s := &mockUserStore{users: make(map[int64]*models.UserSettings)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *mockUserStore) GetByID(id int64) (*models.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (s *mockUserStore) GetAutoTradeEnabled() ([]*models.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.UserSettings
	for _, u := range s.users {
		if u.IsAutoTradeEnabled {
			cp := *u
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *mockUserStore) UpdateLastDcaBuyPrice(id int64, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.LastDcaBuyPrice = price
	s.lastBuyWrites = append(s.lastBuyWrites, price)
	return nil
}

// mockNotifier считает уведомления по типам
type mockNotifier struct {
	mu                  sync.Mutex
	tradeCompleted      int
	pairOpened          int
	pairOpenedReasons   []string
	statusChanged       int
	statusMessages      []string
	insufficientBalance int
}

func (n *mockNotifier) TradeCompleted(userID int64, pair *models.OrderPair) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tradeCompleted++
}

func (n *mockNotifier) PairOpened(userID int64, pair *models.OrderPair, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pairOpened++
	n.pairOpenedReasons = append(n.pairOpenedReasons, reason)
}

func (n *mockNotifier) StatusChanged(userID int64, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statusChanged++
	n.statusMessages = append(n.statusMessages, message)
}

func (n *mockNotifier) getStatusMessages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.statusMessages))
	copy(out, n.statusMessages)
	return out
}

func (n *mockNotifier) InsufficientBalance(userID int64, balance, required float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.insufficientBalance++
}

func (n *mockNotifier) counts() (trades, pairs, balance int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tradeCompleted, n.pairOpened, n.insufficientBalance
}

// mockExchange - управляемая из теста биржа
type mockExchange struct {
	mu sync.Mutex

	balance float64
	price   float64
	info    *exchange.SymbolInfo

	orders     map[string]*exchange.Order
	openOrders []*exchange.Order
	trades     []*exchange.Trade

	placed []*exchange.OrderRequest
	nextID int

	placeErr    error
	getOrderErr error
}

func newMockExchange() *mockExchange {
	return &mockExchange{
		balance: 1000,
		price:   100,
		info: &exchange.SymbolInfo{
			Symbol:      "BTCUSDT",
			Base:        "BTC",
			Quote:       "USDT",
			QtyStep:     0.001,
			PriceStep:   0.01,
			MinQty:      0.001,
			MinNotional: 10,
		},
		orders: make(map[string]*exchange.Order),
		nextID: 1000,
	}
}

func (m *mockExchange) GetName() string { return "mock" }

func (m *mockExchange) GetBalance(ctx context.Context, asset string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

func (m *mockExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.price, nil
}

func (m *mockExchange) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.placeErr != nil {
		return nil, m.placeErr
	}

	m.nextID++
	reqCopy := *req
	m.placed = append(m.placed, &reqCopy)

	order := &exchange.Order{
		ID:        strconv.Itoa(m.nextID),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Status:    exchange.StatusNew,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	// Рыночный ордер исполняется мгновенно по текущей цене
	if req.Type == exchange.TypeMarket {
		order.Status = exchange.StatusFilled
		order.FilledQty = req.Quantity
		order.FilledQuoteQty = req.Quantity * m.price
	}

	m.orders[order.ID] = order
	return copyExchangeOrder(order), nil
}

func (m *mockExchange) GetOrder(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getOrderErr != nil {
		return nil, m.getOrderErr
	}

	order, ok := m.orders[orderID]
	if !ok {
		return nil, &exchange.ExchangeError{Exchange: "mock", Code: "-2013", Message: "Order does not exist"}
	}
	return copyExchangeOrder(order), nil
}

func (m *mockExchange) GetOpenOrders(ctx context.Context, symbol string) ([]*exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*exchange.Order, 0, len(m.openOrders))
	for _, o := range m.openOrders {
		result = append(result, copyExchangeOrder(o))
	}
	return result, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return false, nil
	}
	order.Status = exchange.StatusCanceled
	return true, nil
}

func (m *mockExchange) GetTrades(ctx context.Context, symbol, orderID string) ([]*exchange.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trades, nil
}

func (m *mockExchange) GetSymbolInfo(ctx context.Context, symbol string) (*exchange.SymbolInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info, nil
}

func (m *mockExchange) GetListenKey(ctx context.Context) (string, error) {
	return "test-listen-key", nil
}

func (m *mockExchange) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	return nil
}

func (m *mockExchange) Close() error { return nil }

// setOrder подменяет состояние ордера на "бирже"
func (m *mockExchange) setOrder(order *exchange.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = copyExchangeOrder(order)
}

func (m *mockExchange) placedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.placed)
}

func copyExchangeOrder(o *exchange.Order) *exchange.Order {
	cp := *o
	return &cp
}

// ============================================================
// Конструктор тестового движка
// ============================================================

func testBotConfig() *config.BotConfig {
	return &config.BotConfig{
		PollInterval:           10 * time.Millisecond,
		ErrorBackoff:           20 * time.Millisecond,
		DebounceQuietPeriod:    50 * time.Millisecond,
		PairLockTimeout:        100 * time.Millisecond,
		OrderTimeout:           time.Second,
		FinalizeDeviationPct:   0.01,
		BackfillMaxAge:         30 * time.Minute,
		BackfillQtyTolerance:   0.01,
		BackfillPriceTolerance: 0.005,
	}
}

func testUser() *models.UserSettings {
	return &models.UserSettings{
		ID:                 7,
		ChatID:             7,
		Symbol:             "BTCUSDT",
		Base:               "BTC",
		Quote:              "USDT",
		SizingMode:         models.SizingFixed,
		FixedAmount:        100,
		Precision:          2,
		MaxUsing:           500,
		PercentProfit:      1,
		PercentPriceChange: 2,
		IsAutoTradeEnabled: true,
	}
}

// newTestEngine собирает движок на моках и регистрирует handle
// пользователя c мок-биржей
func newTestEngine(user *models.UserSettings) (*Engine, *mockPairStore, *mockUserStore, *mockNotifier, *mockExchange, *userHandle) {
	pairs := newMockPairStore()
	users := newMockUserStore(user)
	notifier := &mockNotifier{}
	ex := newMockExchange()

	engine := NewEngine(
		testBotConfig(),
		pairs,
		users,
		notifier,
		func(u *models.UserSettings) (exchange.Exchange, error) { return ex, nil },
		nil,
		zap.NewNop(),
	)

	handle := newUserHandle(user.ID, ex)
	engine.handles[user.ID] = handle

	return engine, pairs, users, notifier, ex, handle
}
