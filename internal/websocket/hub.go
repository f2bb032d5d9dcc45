package websocket

import (
	"bytes"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"dcabot/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Буферы сериализации переиспользуются между Broadcast'ами
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями.
//
// Центральная точка рассылки событий ядра подключенным UI-клиентам:
// записи журнала уведомлений, изменения пар, статус ядра. Hub только
// транслирует - никакой торговой логики здесь нет.
//
// Использование:
//
//	hub := websocket.NewHub(log)
//	go hub.Run()
//	hub.BroadcastNotification(notif)
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	log *zap.Logger
	mu  sync.RWMutex
}

// NewHub создает новый Hub
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
}

// Run запускает главный цикл Hub. Запускать в отдельной горутине.
//
// Рассылка идёт без удержания lock'а: список клиентов копируется под
// коротким RLock, медленные клиенты (переполненный send) отключаются.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("websocket client connected", zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("websocket client disconnected", zap.Int("total", total))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.log.Warn("slow websocket clients dropped",
					zap.Int("dropped", len(toRemove)),
					zap.Int("total", total))
			}
		}
	}
}

// Broadcast сериализует сообщение и отправляет всем клиентам
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("failed to marshal broadcast message", zap.Error(err))
		jsonBufferPool.Put(buf)
		return
	}

	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	select {
	case h.broadcast <- msgCopy:
	default:
		h.log.Warn("broadcast queue full, message dropped")
	}
}

// BroadcastNotification рассылает запись журнала уведомлений
func (h *Hub) BroadcastNotification(notif *models.Notification) {
	h.Broadcast(NewNotificationMessage(notif))
}

// BroadcastPairEvent рассылает изменение торговой пары
func (h *Hub) BroadcastPairEvent(userID int64, event string, pair *models.OrderPair) {
	h.Broadcast(NewPairEventMessage(userID, event, pair))
}

// BroadcastBotStatus рассылает состояние ядра
func (h *Hub) BroadcastBotStatus(runningIDs []int64) {
	h.Broadcast(NewBotStatusMessage(runningIDs))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
