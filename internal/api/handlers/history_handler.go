package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"tradebot/internal/models"
	"tradebot/internal/repository"
	"tradebot/pkg/utils"
)

// HistoryHandler отвечает за историю торговли и журнал событий из БД
//
// Endpoints:
// - GET /api/v1/orders/history?limit=100 - завершенные ордера
// - GET /api/v1/positions/history?limit=100 - закрытые позиции
// - GET /api/v1/positions/history/pnl - суммарный реализованный PNL
// - GET /api/v1/events?type=OrderFilled&limit=100 - журнал событий
// - GET /api/v1/events/correlation/{id} - цепочка событий по correlation ID
type HistoryHandler struct {
	orderRepo    *repository.OrderRepository
	positionRepo *repository.PositionRepository
	eventRepo    *repository.EventRepository
}

// NewHistoryHandler создает новый HistoryHandler с внедрением зависимостей
func NewHistoryHandler(
	orderRepo *repository.OrderRepository,
	positionRepo *repository.PositionRepository,
	eventRepo *repository.EventRepository,
) *HistoryHandler {
	return &HistoryHandler{
		orderRepo:    orderRepo,
		positionRepo: positionRepo,
		eventRepo:    eventRepo,
	}
}

// parseLimit извлекает limit из query string с дефолтом и потолком
func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
			if limit > max {
				limit = max
			}
		}
	}
	return limit
}

// GetOrderHistory возвращает последние ордера из журнала
//
// GET /api/v1/orders/history
//
// Query параметры:
// - symbol (string): фильтр по торговой паре
// - limit (int): количество записей (по умолчанию 100, максимум 500)
func (h *HistoryHandler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100, 500)

	var (
		orders []*models.Order
		err    error
	)
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		if err := utils.ValidateSymbol(symbol); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid symbol", err.Error())
			return
		}
		orders, err = h.orderRepo.GetBySymbol(symbol, limit)
	} else {
		orders, err = h.orderRepo.GetRecent(limit)
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to get order history", err.Error())
		return
	}

	if orders == nil {
		orders = []*models.Order{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"total":  len(orders),
	})
}

// GetPositionHistory возвращает закрытые позиции из журнала
//
// GET /api/v1/positions/history
//
// Query параметры:
// - symbol (string): фильтр по торговой паре
// - limit (int): количество записей (по умолчанию 100, максимум 500)
func (h *HistoryHandler) GetPositionHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100, 500)

	var (
		positions []*models.Position
		err       error
	)
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		if err := utils.ValidateSymbol(symbol); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid symbol", err.Error())
			return
		}
		positions, err = h.positionRepo.GetBySymbol(symbol, limit)
	} else {
		positions, err = h.positionRepo.GetRecent(limit)
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to get position history", err.Error())
		return
	}

	if positions == nil {
		positions = []*models.Position{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"positions": positions,
		"total":     len(positions),
	})
}

// GetTotalRealizedPnl возвращает суммарный реализованный PNL по журналу
//
// GET /api/v1/positions/history/pnl
//
// Response 200 OK:
//
//	{"total_realized_pnl": "1234.56"}
func (h *HistoryHandler) GetTotalRealizedPnl(w http.ResponseWriter, r *http.Request) {
	total, err := h.positionRepo.TotalRealizedPnl()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to get realized pnl", err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{
		"total_realized_pnl": total.String(),
	})
}

// GetEvents возвращает журнал событий из БД
//
// GET /api/v1/events
//
// Query параметры:
// - type (string): фильтр по типу события (OrderFilled, PositionClosed, ...)
// - limit (int): количество записей (по умолчанию 100, максимум 500)
func (h *HistoryHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100, 500)

	var (
		events []*models.Event
		err    error
	)
	if eventType := r.URL.Query().Get("type"); eventType != "" {
		events, err = h.eventRepo.GetByType(models.EventType(eventType), limit)
	} else {
		events, err = h.eventRepo.GetRecent(limit)
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to get events", err.Error())
		return
	}

	if events == nil {
		events = []*models.Event{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
	})
}

// GetEventChain возвращает цепочку событий по correlation ID
//
// GET /api/v1/events/correlation/{id}
//
// События возвращаются в хронологическом порядке: от сигнала до
// закрытия позиции можно проследить весь путь сделки.
//
// HTTP коды:
// - 200 OK: цепочка найдена
// - 404 Not Found: событий с таким correlation ID нет
// - 500 Internal Server Error: ошибка сервера
func (h *HistoryHandler) GetEventChain(w http.ResponseWriter, r *http.Request) {
	correlationID := mux.Vars(r)["id"]

	events, err := h.eventRepo.GetByCorrelationID(correlationID)
	if err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			respondWithError(w, http.StatusNotFound, "no events for correlation id", correlationID)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to get event chain", err.Error())
		return
	}
	if len(events) == 0 {
		respondWithError(w, http.StatusNotFound, "no events for correlation id", correlationID)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"correlation_id": correlationID,
		"events":         events,
		"total":          len(events),
	})
}
