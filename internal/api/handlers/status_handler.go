package handlers

import (
	"net/http"
	"time"

	"dcabot/internal/service"
)

// ClientCounter - источник количества подключенных WebSocket клиентов.
// Реализуется websocket.Hub.
type ClientCounter interface {
	ClientCount() int
}

// StatusHandler отвечает за общее состояние бота
//
// Endpoints:
// - GET /api/v1/status - запущенные пользователи, uptime, WS клиенты
type StatusHandler struct {
	bot       service.BotController
	clients   ClientCounter
	startedAt time.Time
}

// NewStatusHandler создает новый StatusHandler.
// clients может быть nil, если WebSocket hub не поднят.
func NewStatusHandler(bot service.BotController, clients ClientCounter) *StatusHandler {
	return &StatusHandler{
		bot:       bot,
		clients:   clients,
		startedAt: time.Now(),
	}
}

// StatusResponse представляет состояние бота
type StatusResponse struct {
	RunningUsers  []int64 `json:"running_users"`
	ActiveUsers   int     `json:"active_users"`
	WSClients     int     `json:"ws_clients"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// GetStatus возвращает текущее состояние торгового ядра
//
// GET /api/v1/status
//
// HTTP коды:
// - 200 OK
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	running := h.bot.RunningUsers()
	if running == nil {
		running = []int64{}
	}

	wsClients := 0
	if h.clients != nil {
		wsClients = h.clients.ClientCount()
	}

	respondWithJSON(w, http.StatusOK, StatusResponse{
		RunningUsers:  running,
		ActiveUsers:   len(running),
		WSClients:     wsClients,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}
