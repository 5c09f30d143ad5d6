package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"tradebot/internal/eventbus"
	"tradebot/internal/models"
)

// BusHandler отвечает за инспекцию шины событий
//
// Endpoints:
// - GET /api/v1/bus/stats - глубины очередей, счетчики, circuit breakers
// - GET /api/v1/bus/dead-letters - разобранные dead letters
// - GET /api/v1/bus/history?limit=100 - кольцевая история событий
// - POST /api/v1/bus/replay?types=OrderFilled,PositionClosed - переигровка истории
type BusHandler struct {
	bus *eventbus.Bus
}

// NewBusHandler создает новый BusHandler с внедрением зависимости
func NewBusHandler(bus *eventbus.Bus) *BusHandler {
	return &BusHandler{bus: bus}
}

// GetStats возвращает снимок состояния шины
//
// GET /api/v1/bus/stats
//
// Response 200 OK:
//
//	{
//	  "running": true,
//	  "queue_depths": {"LOW": 0, "NORMAL": 3, "HIGH": 0, "CRITICAL": 0},
//	  "dlq_depth": 0,
//	  "history_size": 412,
//	  "counters": {"OrderFilled": {"published": 17, "processed": 17, "failed": 0}},
//	  "handlers": [
//	    {"id": "sub-1", "name": "engine.signal", "calls": 42, "errors": 0, "breaker": "CLOSED"}
//	  ]
//	}
func (h *BusHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.bus.Stats())
}

// GetDeadLetters возвращает события, доставка которых не удалась
//
// GET /api/v1/bus/dead-letters
func (h *BusHandler) GetDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters := h.bus.DeadLetters()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"dead_letters": letters,
		"total":        len(letters),
	})
}

// GetHistory возвращает последние события из кольцевого буфера шины
//
// GET /api/v1/bus/history?limit=100
//
// Query параметры:
// - limit (int): количество последних событий (по умолчанию 100)
func (h *BusHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	history := h.bus.History()
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"events": history,
		"total":  len(history),
	})
}

// ReplayEvents переигрывает события из истории в шину
//
// POST /api/v1/bus/replay?types=OrderFilled,PositionClosed
//
// Query параметры:
// - types (string): фильтр по типам событий через запятую;
//   пустой фильтр переигрывает всю историю
//
// Response 200 OK:
//
//	{"message": "replay scheduled", "data": {"replayed": 12}}
func (h *BusHandler) ReplayEvents(w http.ResponseWriter, r *http.Request) {
	var types []models.EventType
	if typesParam := r.URL.Query().Get("types"); typesParam != "" {
		for _, part := range strings.Split(typesParam, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				types = append(types, models.EventType(trimmed))
			}
		}
	}

	replayed := h.bus.Replay(types...)
	respondWithJSON(w, http.StatusOK, SuccessResponse{
		Message: "replay scheduled",
		Data:    map[string]int{"replayed": replayed},
	})
}
