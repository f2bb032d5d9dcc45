package handlers

import (
	"net/http"

	"dcabot/internal/models"
	"dcabot/internal/service"
)

// defaultNotificationLimit по умолчанию отдаем последние 100 записей
const defaultNotificationLimit = 100

// NotificationHandler отвечает за чтение журнала уведомлений
//
// Endpoints:
// - GET /api/v1/notifications - последние уведомления всех пользователей
// - GET /api/v1/notifications?limit=50 - с ограничением количества
// - GET /api/v1/users/{id}/notifications - уведомления одного пользователя
type NotificationHandler struct {
	notifications service.NotificationServiceInterface
}

// NewNotificationHandler создает новый NotificationHandler с внедрением зависимости
func NewNotificationHandler(notifications service.NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// GetNotificationsResponse представляет ответ списка уведомлений
type GetNotificationsResponse struct {
	Notifications []*models.Notification `json:"notifications"`
	Total         int                    `json:"total"`
}

// GetNotifications возвращает последние уведомления
//
// GET /api/v1/notifications
//
// Query параметры:
// - limit (int): количество записей (по умолчанию 100, максимум 500)
//
// HTTP коды:
// - 200 OK: массив уведомлений, новые первыми
// - 500 Internal Server Error: ошибка БД
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	limit := limitFromQuery(r, defaultNotificationLimit)

	notifications, err := h.notifications.Recent(limit)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, GetNotificationsResponse{
		Notifications: notifications,
		Total:         len(notifications),
	})
}

// GetUserNotifications возвращает уведомления одного пользователя
//
// GET /api/v1/users/{id}/notifications
//
// HTTP коды:
// - 200 OK
// - 400 Bad Request: невалидный id
func (h *NotificationHandler) GetUserNotifications(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := limitFromQuery(r, defaultNotificationLimit)

	notifications, err := h.notifications.RecentForUser(userID, limit)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, GetNotificationsResponse{
		Notifications: notifications,
		Total:         len(notifications),
	})
}
