package handlers

import (
	"net/http"
	"strconv"

	"dcabot/internal/service"

	"github.com/gorilla/mux"
)

// PairHandler отвечает за чтение торговых пар и ручные операции
//
// Endpoints:
// - GET  /api/v1/users/{id}/pairs - пары пользователя
// - GET  /api/v1/users/{id}/pairs?open=true - только незавершенные циклы
// - GET  /api/v1/users/{id}/pairs/{pairID} - одна пара
// - GET  /api/v1/users/{id}/profit - сводка прибыли
// - POST /api/v1/users/{id}/reconcile - ручная сверка с биржей
//
// Пары создает и закрывает только торговое ядро; API дает
// read-only доступ плюс ручной запуск сверки.
type PairHandler struct {
	pairs service.PairServiceInterface
}

// NewPairHandler создает новый PairHandler с внедрением зависимости
func NewPairHandler(pairs service.PairServiceInterface) *PairHandler {
	return &PairHandler{pairs: pairs}
}

// GetPairs возвращает торговые пары пользователя
//
// GET /api/v1/users/{id}/pairs
//
// Query параметры:
// - open (bool): true - только незавершенные циклы
//
// HTTP коды:
// - 200 OK: массив пар
// - 400 Bad Request: невалидный id
func (h *PairHandler) GetPairs(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	openOnly := r.URL.Query().Get("open") == "true"

	pairs, err := h.pairs.ListForUser(userID, openOnly)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, pairs)
}

// GetPair возвращает одну пару с проверкой владельца
//
// GET /api/v1/users/{id}/pairs/{pairID}
//
// HTTP коды:
// - 200 OK
// - 404 Not Found: пара не найдена или принадлежит другому пользователю
func (h *PairHandler) GetPair(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	pairID, err := strconv.Atoi(mux.Vars(r)["pairID"])
	if err != nil || pairID <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid pair id")
		return
	}

	pair, err := h.pairs.GetForUser(userID, pairID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, pair)
}

// GetProfit возвращает сводку прибыли пользователя
//
// GET /api/v1/users/{id}/profit
//
// Ответ: service.ProfitSummary (открытые пары, прибыль за сегодня,
// прибыль за все время)
//
// HTTP коды:
// - 200 OK
// - 500 Internal Server Error: ошибка БД
func (h *PairHandler) GetProfit(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.pairs.Summary(userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}

// TriggerReconcile запускает ручную сверку состояния пар с биржей
//
// POST /api/v1/users/{id}/reconcile
//
// Сверка выполняется синхронно под блокировкой пользователя:
// брошенные пары удаляются, исполненные продажи финализируются,
// отсутствующие sell-ордера восстанавливаются.
//
// HTTP коды:
// - 200 OK: сверка выполнена
// - 409 Conflict: пользователь не запущен или занят торговым циклом
func (h *PairHandler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.pairs.TriggerReconcile(r.Context(), userID); err != nil {
		respondWithError(w, http.StatusConflict, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "reconcile completed"})
}
