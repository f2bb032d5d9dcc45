package handlers

import (
	"encoding/json"
	"net/http"

	"dcabot/internal/models"
	"dcabot/internal/service"
)

// UserHandler отвечает за управление пользователями бота
//
// Endpoints:
// - GET    /api/v1/users - список пользователей
// - POST   /api/v1/users - регистрация пользователя
// - GET    /api/v1/users/{id} - настройки пользователя
// - PATCH  /api/v1/users/{id} - частичное обновление настроек
// - DELETE /api/v1/users/{id} - удаление пользователя
// - POST   /api/v1/users/{id}/autotrade - включение/выключение автоторговли
//
// API ключи принимаются открытым текстом только в теле POST/PATCH,
// шифруются в сервисном слое и никогда не возвращаются в ответах.
type UserHandler struct {
	users service.UserServiceInterface
}

// NewUserHandler создает новый UserHandler с внедрением зависимости
func NewUserHandler(users service.UserServiceInterface) *UserHandler {
	return &UserHandler{users: users}
}

// UserDTO представляет пользователя в API вместе с runtime-состоянием
type UserDTO struct {
	*models.UserSettings
	IsRunning bool `json:"is_running"`
}

func (h *UserHandler) toDTO(user *models.UserSettings) UserDTO {
	return UserDTO{
		UserSettings: user,
		IsRunning:    h.users.IsRunning(user.ID),
	}
}

// GetUsers возвращает всех зарегистрированных пользователей
//
// GET /api/v1/users
//
// HTTP коды:
// - 200 OK: массив пользователей
// - 500 Internal Server Error: ошибка БД
func (h *UserHandler) GetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List()
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	dtos := make([]UserDTO, 0, len(users))
	for _, u := range users {
		dtos = append(dtos, h.toDTO(u))
	}

	respondWithJSON(w, http.StatusOK, dtos)
}

// CreateUser регистрирует нового пользователя
//
// POST /api/v1/users
//
// Тело запроса: service.CreateUserInput (symbol, base, quote, api_key,
// secret_key, параметры стратегии). Если is_auto_trade_enabled=true,
// пользователь сразу запускается в торговом ядре.
//
// HTTP коды:
// - 201 Created: пользователь создан
// - 400 Bad Request: невалидный JSON или настройки
// - 409 Conflict: пользователь уже существует
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var input service.CreateUserInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	user, err := h.users.Create(r.Context(), &input)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, h.toDTO(user))
}

// GetUser возвращает настройки пользователя
//
// GET /api/v1/users/{id}
//
// HTTP коды:
// - 200 OK
// - 400 Bad Request: невалидный id
// - 404 Not Found: пользователь не найден
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := userIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.users.Get(id)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, h.toDTO(user))
}

// UpdateUser частично обновляет настройки пользователя
//
// PATCH /api/v1/users/{id}
//
// Тело запроса: service.UpdateUserInput, отсутствующие поля не меняются.
// Новые API ключи шифруются; работающему пользователю биржевой клиент
// пересоздается автоматически.
//
// HTTP коды:
// - 200 OK: обновленные настройки
// - 400 Bad Request: невалидные настройки
// - 404 Not Found: пользователь не найден
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := userIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var input service.UpdateUserInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	user, err := h.users.Update(id, &input)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, h.toDTO(user))
}

// DeleteUser останавливает и удаляет пользователя
//
// DELETE /api/v1/users/{id}
//
// HTTP коды:
// - 200 OK: пользователь удален
// - 404 Not Found: пользователь не найден
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := userIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.users.Delete(id); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "user deleted"})
}

// AutoTradeRequest представляет запрос переключения автоторговли
type AutoTradeRequest struct {
	Enabled bool `json:"enabled"`
}

// SetAutoTrade включает или выключает автоторговлю пользователя
//
// POST /api/v1/users/{id}/autotrade
//
// Тело запроса: {"enabled": true|false}
// Изменение сохраняется в БД и сразу синхронизируется с торговым ядром:
// запуск торгового цикла при включении, остановка при выключении.
//
// HTTP коды:
// - 200 OK: состояние переключено
// - 404 Not Found: пользователь не найден
// - 500 Internal Server Error: не удалось запустить торговый цикл
func (h *UserHandler) SetAutoTrade(w http.ResponseWriter, r *http.Request) {
	id, err := userIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req AutoTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.users.SetAutoTrade(r.Context(), id, req.Enabled); err != nil {
		respondWithServiceError(w, err)
		return
	}

	message := "auto trade disabled"
	if req.Enabled {
		message = "auto trade enabled"
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: message})
}
