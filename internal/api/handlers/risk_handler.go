package handlers

import (
	"net/http"

	"tradebot/internal/engine"
	"tradebot/internal/risk"
)

// RiskHandler отвечает за риск-метрики портфеля
//
// Endpoints:
// - GET /api/v1/risk - агрегированный риск-срез портфеля и лимиты
// - GET /api/v1/risk/positions - риск-срезы отдельных позиций
type RiskHandler struct {
	engine  *engine.Engine
	riskMgr *risk.Manager
}

// NewRiskHandler создает новый RiskHandler с внедрением зависимостей
func NewRiskHandler(eng *engine.Engine, riskMgr *risk.Manager) *RiskHandler {
	return &RiskHandler{engine: eng, riskMgr: riskMgr}
}

// GetRiskResponse представляет ответ риск-среза портфеля
type GetRiskResponse struct {
	Portfolio interface{} `json:"portfolio"`
	Limits    interface{} `json:"limits"`
}

// GetRisk возвращает агрегированный риск портфеля
//
// GET /api/v1/risk
//
// Метрики считаются на текущей стоимости портфеля: экспозиция,
// просадка, VaR 95%, Sharpe, корреляционный риск, уровень риска.
// Результат кешируется риск-менеджером на 60 секунд.
//
// Response 200 OK:
//
//	{
//	  "portfolio": {
//	    "total_value": "10245.30",
//	    "total_exposure": "2500.00",
//	    "current_drawdown": "0.012",
//	    "risk_level": "LOW",
//	    ...
//	  },
//	  "limits": {
//	    "max_position_size": "0.1",
//	    "max_daily_loss": "0.05",
//	    ...
//	  }
//	}
func (h *RiskHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	assessment := h.riskMgr.AssessPortfolioRisk(h.engine.PortfolioValue())
	respondWithJSON(w, http.StatusOK, GetRiskResponse{
		Portfolio: assessment,
		Limits:    h.riskMgr.Limits(),
	})
}

// GetRiskPositions возвращает риск-срезы отслеживаемых позиций
//
// GET /api/v1/risk/positions
func (h *RiskHandler) GetRiskPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.riskMgr.Positions()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"positions": positions,
		"total":     len(positions),
	})
}
