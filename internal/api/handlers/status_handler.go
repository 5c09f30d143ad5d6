package handlers

import (
	"net/http"

	"tradebot/internal/engine"
)

// StatusHandler отвечает за статус и управление торговым движком
//
// Endpoints:
// - GET /api/v1/status - текущее состояние и статистика движка
// - POST /api/v1/engine/pause - приостановить обработку сигналов
// - POST /api/v1/engine/resume - возобновить обработку сигналов
type StatusHandler struct {
	engine *engine.Engine
}

// NewStatusHandler создает новый StatusHandler с внедрением зависимости
func NewStatusHandler(eng *engine.Engine) *StatusHandler {
	return &StatusHandler{engine: eng}
}

// GetStatus возвращает снимок состояния движка
//
// GET /api/v1/status
//
// Response 200 OK:
//
//	{
//	  "state": "RUNNING",
//	  "uptime_seconds": 3600.5,
//	  "signals_processed": 42,
//	  "orders_placed": 17,
//	  "successful_trades": 12,
//	  "failed_trades": 2,
//	  "active_orders": 1,
//	  "active_positions": 3,
//	  "success_rate": 0.857,
//	  "portfolio_value": "10245.30",
//	  "realized_pnl": "245.30"
//	}
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.engine.Stats())
}

// PauseEngine приостанавливает движок
//
// POST /api/v1/engine/pause
//
// Открытые позиции и защитные уровни продолжают отслеживаться,
// новые сигналы игнорируются.
//
// HTTP коды:
// - 200 OK: движок приостановлен
// - 409 Conflict: недопустимый переход (движок не в состоянии RUNNING)
func (h *StatusHandler) PauseEngine(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Pause(); err != nil {
		respondWithError(w, http.StatusConflict, "failed to pause engine", err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "engine paused"})
}

// ResumeEngine возобновляет работу движка после паузы
//
// POST /api/v1/engine/resume
//
// Также снимает блокировку аварийной остановки, если она была.
//
// HTTP коды:
// - 200 OK: движок возобновлен
// - 409 Conflict: недопустимый переход (движок не в состоянии PAUSED)
func (h *StatusHandler) ResumeEngine(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Resume(); err != nil {
		respondWithError(w, http.StatusConflict, "failed to resume engine", err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "engine resumed"})
}

// GetPositions возвращает список открытых позиций движка
//
// GET /api/v1/positions
//
// Response 200 OK:
//
//	{
//	  "positions": [...],
//	  "total": 2
//	}
func (h *StatusHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.engine.Positions()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"positions": positions,
		"total":     len(positions),
	})
}

// GetOrders возвращает список активных ордеров движка
//
// GET /api/v1/orders
//
// Активные ордера: PENDING, SUBMITTED, PARTIALLY_FILLED.
// История завершенных ордеров доступна через /api/v1/orders/history.
func (h *StatusHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.engine.ActiveOrders()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"total":  len(orders),
	})
}
