package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"dcabot/internal/models"

	"github.com/gorilla/mux"
)

func newRouterWithNotificationHandler(h *NotificationHandler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/notifications", h.GetNotifications).Methods("GET")
	r.HandleFunc("/api/v1/users/{id}/notifications", h.GetUserNotifications).Methods("GET")
	return r
}

// ============ NotificationHandler Tests ============

func TestNotificationHandler_GetNotifications(t *testing.T) {
	t.Run("returns empty list when no notifications", func(t *testing.T) {
		mockSvc := NewMockNotificationService()
		router := newRouterWithNotificationHandler(NewNotificationHandler(mockSvc))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response GetNotificationsResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Total != 0 {
			t.Errorf("expected total 0, got %d", response.Total)
		}
	})

	t.Run("returns existing notifications", func(t *testing.T) {
		mockSvc := NewMockNotificationService()
		userID := int64(7)
		mockSvc.AddNotification(&userID, models.NotificationTypePairOpened, "pair opened BTCUSDT")
		mockSvc.AddNotification(&userID, models.NotificationTypeTradeCompleted, "trade completed BTCUSDT")
		mockSvc.AddNotification(nil, models.NotificationTypeError, "api error")
		router := newRouterWithNotificationHandler(NewNotificationHandler(mockSvc))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		var response GetNotificationsResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Total != 3 {
			t.Errorf("expected total 3, got %d", response.Total)
		}
	})

	t.Run("respects limit parameter", func(t *testing.T) {
		mockSvc := NewMockNotificationService()
		for i := 0; i < 10; i++ {
			mockSvc.AddNotification(nil, models.NotificationTypeStatus, "status change")
		}
		router := newRouterWithNotificationHandler(NewNotificationHandler(mockSvc))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=5", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		var response GetNotificationsResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Total != 5 {
			t.Errorf("expected total 5 (limited), got %d", response.Total)
		}
	})

	t.Run("returns 500 on service error", func(t *testing.T) {
		mockSvc := NewMockNotificationService()
		mockSvc.SetError(ErrMockService)
		router := newRouterWithNotificationHandler(NewNotificationHandler(mockSvc))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

func TestNotificationHandler_GetUserNotifications(t *testing.T) {
	t.Run("filters by user", func(t *testing.T) {
		mockSvc := NewMockNotificationService()
		userA, userB := int64(7), int64(8)
		mockSvc.AddNotification(&userA, models.NotificationTypePairOpened, "pair opened")
		mockSvc.AddNotification(&userB, models.NotificationTypePairOpened, "pair opened")
		mockSvc.AddNotification(&userA, models.NotificationTypeBalance, "insufficient balance")
		router := newRouterWithNotificationHandler(NewNotificationHandler(mockSvc))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/7/notifications", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response GetNotificationsResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Total != 2 {
			t.Errorf("expected total 2, got %d", response.Total)
		}
		for _, n := range response.Notifications {
			if n.UserID == nil || *n.UserID != 7 {
				t.Errorf("expected notifications for user 7, got %+v", n)
			}
		}
	})

	t.Run("returns 400 for invalid user id", func(t *testing.T) {
		mockSvc := NewMockNotificationService()
		router := newRouterWithNotificationHandler(NewNotificationHandler(mockSvc))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/abc/notifications", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})
}
