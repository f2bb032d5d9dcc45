package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dcabot/pkg/utils"
)

// UserStreamConfig - параметры user-data stream
type UserStreamConfig struct {
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Максимальное количество попыток (0 = бесконечно)
	MaxRetries int
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Таймаут чтения: если за это время не пришло ни одного сообщения
	// и ни одного pong, соединение считается мёртвым
	ReadTimeout time.Duration
	// Интервал ping
	PingInterval time.Duration
	// Интервал продления listen key (биржа закрывает stream через час)
	KeepAliveInterval time.Duration
}

// DefaultUserStreamConfig возвращает конфигурацию по умолчанию:
// переподключение 2s, 4s, 8s, 16s; keepalive каждые 30 минут
func DefaultUserStreamConfig() UserStreamConfig {
	return UserStreamConfig{
		InitialDelay:      2 * time.Second,
		MaxDelay:          16 * time.Second,
		MaxRetries:        0,
		ConnectTimeout:    10 * time.Second,
		ReadTimeout:       60 * time.Second,
		PingInterval:      30 * time.Second,
		KeepAliveInterval: 30 * time.Minute,
	}
}

// StreamState состояние соединения
type StreamState int32

const (
	StreamDisconnected StreamState = iota
	StreamConnecting
	StreamConnected
	StreamReconnecting
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamDisconnected:
		return "disconnected"
	case StreamConnecting:
		return "connecting"
	case StreamConnected:
		return "connected"
	case StreamReconnecting:
		return "reconnecting"
	case StreamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// UserStream управляет user-data stream одного пользователя.
//
// Держит WebSocket соединение с биржей, автоматически переподключается
// при разрывах с exponential backoff и продлевает listen key по таймеру.
// При каждом переподключении запрашивается свежий listen key: после
// разрыва старый мог истечь.
//
// События executionReport разбираются в OrderUpdate и передаются в
// callback по одному, в порядке получения.
type UserStream struct {
	client *Binance
	config UserStreamConfig
	log    *zap.Logger

	onUpdate func(*OrderUpdate)

	conn   *websocket.Conn
	connMu sync.RWMutex

	listenKey   string
	listenKeyMu sync.RWMutex

	state      int32 // atomic StreamState
	retryCount int32 // atomic

	closeChan chan struct{}
	closeOnce sync.Once
}

// NewUserStream создает stream для клиента биржи
func NewUserStream(client *Binance, config UserStreamConfig, onUpdate func(*OrderUpdate), log *zap.Logger) *UserStream {
	return &UserStream{
		client:    client,
		config:    config,
		log:       log,
		onUpdate:  onUpdate,
		closeChan: make(chan struct{}),
	}
}

// State возвращает текущее состояние соединения
func (s *UserStream) State() StreamState {
	return StreamState(atomic.LoadInt32(&s.state))
}

// IsConnected проверяет, установлено ли соединение
func (s *UserStream) IsConnected() bool {
	return s.State() == StreamConnected
}

// Start запрашивает listen key, подключается и запускает горутины
// чтения и keepalive
func (s *UserStream) Start(ctx context.Context) error {
	select {
	case <-s.closeChan:
		return fmt.Errorf("stream is closed")
	default:
	}

	atomic.StoreInt32(&s.state, int32(StreamConnecting))

	if err := s.dial(ctx); err != nil {
		atomic.StoreInt32(&s.state, int32(StreamDisconnected))
		return err
	}

	atomic.StoreInt32(&s.state, int32(StreamConnected))
	atomic.StoreInt32(&s.retryCount, 0)

	go s.readPump()
	go s.pingPump()
	go s.keepAlivePump()

	s.log.Info("user stream connected")

	return nil
}

// dial получает listen key и устанавливает WebSocket соединение
func (s *UserStream) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()

	listenKey, err := s.client.GetListenKey(dialCtx)
	if err != nil {
		return fmt.Errorf("get listen key: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: s.config.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(dialCtx, s.client.StreamURL(listenKey), nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return nil
	})

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.listenKeyMu.Lock()
	s.listenKey = listenKey
	s.listenKeyMu.Unlock()

	return nil
}

// readPump читает сообщения из WebSocket и разбирает executionReport
func (s *UserStream) readPump() {
	for {
		select {
		case <-s.closeChan:
			return
		default:
		}

		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		update, ok := parseExecutionReport(message)
		if !ok {
			continue
		}

		if s.onUpdate != nil {
			s.onUpdate(update)
		}
	}
}

// pingPump отправляет ping для проверки живости соединения
func (s *UserStream) pingPump() {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeChan:
			return
		case <-ticker.C:
			if s.State() != StreamConnected {
				return
			}

			s.connMu.RLock()
			conn := s.conn
			s.connMu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.log.Warn("ping failed", zap.Error(err))
				s.handleDisconnect(err)
				return
			}
		}
	}
}

// keepAlivePump продлевает listen key по таймеру
func (s *UserStream) keepAlivePump() {
	ticker := time.NewTicker(s.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeChan:
			return
		case <-ticker.C:
			s.listenKeyMu.RLock()
			listenKey := s.listenKey
			s.listenKeyMu.RUnlock()

			if listenKey == "" {
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := s.client.KeepAliveListenKey(ctx, listenKey)
			cancel()

			if err != nil {
				s.log.Warn("listen key keepalive failed", zap.Error(err))
			}
		}
	}
}

// handleDisconnect обрабатывает разрыв соединения и запускает
// переподключение
func (s *UserStream) handleDisconnect(err error) {
	select {
	case <-s.closeChan:
		return
	default:
	}

	state := s.State()
	if state == StreamReconnecting || state == StreamClosed {
		return
	}

	atomic.StoreInt32(&s.state, int32(StreamReconnecting))

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	if err != nil {
		s.log.Warn("user stream disconnected", zap.Error(err))
	}

	go s.reconnectLoop()
}

// reconnectLoop выполняет переподключение с exponential backoff
func (s *UserStream) reconnectLoop() {
	delay := s.config.InitialDelay

	for {
		select {
		case <-s.closeChan:
			return
		default:
		}

		retryCount := atomic.AddInt32(&s.retryCount, 1)

		if s.config.MaxRetries > 0 && int(retryCount) > s.config.MaxRetries {
			s.log.Error("max reconnect attempts reached",
				zap.Int("attempts", s.config.MaxRetries))
			atomic.StoreInt32(&s.state, int32(StreamDisconnected))
			return
		}

		s.log.Info("reconnecting user stream",
			zap.Duration("delay", delay),
			zap.Int32("attempt", retryCount))

		select {
		case <-s.closeChan:
			return
		case <-time.After(delay):
		}

		if err := s.dial(context.Background()); err != nil {
			s.log.Warn("reconnect failed", zap.Error(err))

			delay *= 2
			if delay > s.config.MaxDelay {
				delay = s.config.MaxDelay
			}
			continue
		}

		atomic.StoreInt32(&s.state, int32(StreamConnected))
		atomic.StoreInt32(&s.retryCount, 0)

		go s.readPump()
		go s.pingPump()

		s.log.Info("user stream reconnected")

		return
	}
}

// Close закрывает соединение и останавливает переподключение
func (s *UserStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closeChan)
	})

	atomic.StoreInt32(&s.state, int32(StreamClosed))

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}

	return nil
}

// parseExecutionReport разбирает событие executionReport.
// Остальные события stream (outboundAccountPosition, balanceUpdate)
// ядру не нужны и пропускаются.
func parseExecutionReport(message []byte) (*OrderUpdate, bool) {
	var evt struct {
		EventType     string `json:"e"`
		EventTime     int64  `json:"E"`
		Symbol        string `json:"s"`
		Side          string `json:"S"`
		OrderType     string `json:"o"`
		OrderStatus   string `json:"X"`
		OrderID       int64  `json:"i"`
		Price         string `json:"p"`
		Quantity      string `json:"q"`
		CumQty        string `json:"z"`
		CumQuoteQty   string `json:"Z"`
		Commission    string `json:"n"`
		CommissionAst string `json:"N"`
	}

	if err := json.Unmarshal(message, &evt); err != nil {
		return nil, false
	}

	if evt.EventType != "executionReport" {
		return nil, false
	}

	price, _ := strconv.ParseFloat(evt.Price, 64)
	qty, _ := strconv.ParseFloat(evt.Quantity, 64)
	cumQty, _ := strconv.ParseFloat(evt.CumQty, 64)
	cumQuote, _ := strconv.ParseFloat(evt.CumQuoteQty, 64)
	commission, _ := strconv.ParseFloat(evt.Commission, 64)

	return &OrderUpdate{
		Symbol:         evt.Symbol,
		OrderID:        strconv.FormatInt(evt.OrderID, 10),
		Side:           evt.Side,
		Type:           evt.OrderType,
		Status:         evt.OrderStatus,
		Price:          price,
		Quantity:       qty,
		FilledQty:      cumQty,
		FilledQuoteQty: cumQuote,
		Commission:     commission,
		EventTime:      utils.FromUnixMillis(evt.EventTime),
	}, true
}
