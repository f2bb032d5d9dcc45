package api

import (
	"net/http"

	"dcabot/internal/api/handlers"
	"dcabot/internal/api/middleware"
	"dcabot/internal/config"
	"dcabot/internal/service"
	"dcabot/internal/websocket"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	UserService         service.UserServiceInterface
	PairService         service.PairServiceInterface
	NotificationService service.NotificationServiceInterface
	Bot                 service.BotController
	Hub                 *websocket.Hub
	Security            config.SecurityConfig
	Log                 *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/  (Basic Auth администратора)
//
//	├── /users
//	│   ├── GET  / - список пользователей
//	│   ├── POST / - регистрация пользователя
//	│   ├── GET    /{id} - настройки пользователя
//	│   ├── PATCH  /{id} - обновление настроек
//	│   ├── DELETE /{id} - удаление пользователя
//	│   ├── POST /{id}/autotrade - переключение автоторговли
//	│   ├── GET  /{id}/pairs - торговые пары
//	│   ├── GET  /{id}/pairs/{pairID} - одна пара
//	│   ├── GET  /{id}/profit - сводка прибыли
//	│   ├── GET  /{id}/notifications - журнал пользователя
//	│   └── POST /{id}/reconcile - ручная сверка с биржей
//	├── /notifications GET - общий журнал
//	└── /status GET - состояние ядра
//
// /ws - WebSocket для real-time обновлений (проверка Origin)
// /metrics - Prometheus метрики
// /health - health check
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. BasicAuth (только /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logging(log))
	router.Use(mux.MiddlewareFunc(middleware.CORS))

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.BasicAuth(deps.Security.AdminUsername, deps.Security.AdminPasswordHash))

	if deps.UserService != nil {
		userHandler := handlers.NewUserHandler(deps.UserService)
		api.HandleFunc("/users", userHandler.GetUsers).Methods("GET")
		api.HandleFunc("/users", userHandler.CreateUser).Methods("POST")
		api.HandleFunc("/users/{id}", userHandler.GetUser).Methods("GET")
		api.HandleFunc("/users/{id}", userHandler.UpdateUser).Methods("PATCH")
		api.HandleFunc("/users/{id}", userHandler.DeleteUser).Methods("DELETE")
		api.HandleFunc("/users/{id}/autotrade", userHandler.SetAutoTrade).Methods("POST")
	}

	if deps.PairService != nil {
		pairHandler := handlers.NewPairHandler(deps.PairService)
		api.HandleFunc("/users/{id}/pairs", pairHandler.GetPairs).Methods("GET")
		api.HandleFunc("/users/{id}/pairs/{pairID}", pairHandler.GetPair).Methods("GET")
		api.HandleFunc("/users/{id}/profit", pairHandler.GetProfit).Methods("GET")
		api.HandleFunc("/users/{id}/reconcile", pairHandler.TriggerReconcile).Methods("POST")
	}

	if deps.NotificationService != nil {
		notificationHandler := handlers.NewNotificationHandler(deps.NotificationService)
		api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")
		api.HandleFunc("/users/{id}/notifications", notificationHandler.GetUserNotifications).Methods("GET")
	}

	if deps.Bot != nil {
		// типизированный nil *Hub не должен попасть в интерфейс
		var counter handlers.ClientCounter
		if deps.Hub != nil {
			counter = deps.Hub
		}
		statusHandler := handlers.NewStatusHandler(deps.Bot, counter)
		api.HandleFunc("/status", statusHandler.GetStatus).Methods("GET")
	}

	if deps.Hub != nil {
		router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(deps.Hub, log, w, r)
		})
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
