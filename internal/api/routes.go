package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tradebot/internal/api/handlers"
	"tradebot/internal/api/middleware"
	"tradebot/internal/engine"
	"tradebot/internal/eventbus"
	"tradebot/internal/repository"
	"tradebot/internal/risk"
	"tradebot/internal/websocket"
	"tradebot/pkg/ratelimit"
)

// Лимит частоты запросов к API: 100 rps с burst 200
const (
	apiRateLimit = 100
	apiRateBurst = 200
)

// Dependencies содержит все зависимости для API handlers
//
// Репозитории опциональны: при работе без БД история недоступна,
// но статус, риск и шина остаются рабочими.
type Dependencies struct {
	Engine *engine.Engine
	Risk   *risk.Manager
	Bus    *eventbus.Bus
	Hub    *websocket.Hub

	NotificationRepo *repository.NotificationRepository
	EventRepo        *repository.EventRepository
	OrderRepo        *repository.OrderRepository
	PositionRepo     *repository.PositionRepository

	// bcrypt-хеш админского токена; пустой хеш оставляет
	// управляющие эндпоинты открытыми
	AdminTokenHash string

	Logger *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── GET  /status - состояние и статистика движка
//	├── POST /engine/pause - приостановить движок
//	├── POST /engine/resume - возобновить движок
//	├── GET  /positions - открытые позиции
//	├── GET  /positions/history - закрытые позиции из журнала
//	├── GET  /positions/history/pnl - суммарный реализованный PNL
//	├── GET  /orders - активные ордера
//	├── GET  /orders/history - журнал ордеров
//	├── GET  /risk - риск-срез портфеля и лимиты
//	├── GET  /risk/positions - риск-срезы позиций
//	├── GET  /bus/stats - состояние шины событий
//	├── GET  /bus/dead-letters - недоставленные события
//	├── GET  /bus/history - кольцевая история шины
//	├── POST /bus/replay - переигровка истории
//	├── GET  /events - журнал событий из БД
//	├── GET  /events/correlation/{id} - цепочка событий сделки
//	└── /notifications/
//	    ├── GET    / - получить уведомления
//	    └── DELETE / - очистить журнал
//
// /ws/stream - WebSocket для real-time обновлений
// /metrics  - Prometheus метрики
// /health   - health check
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. RateLimit (только /api/v1)
// 5. Auth (только мутирующие эндпоинты: pause/resume, replay, очистка уведомлений)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	var logger *zap.Logger
	var adminTokenHash string
	if deps != nil {
		logger = deps.Logger
		adminTokenHash = deps.AdminTokenHash
	}
	auth := middleware.Auth(adminTokenHash)

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.RateLimit(ratelimit.NewRateLimiter(apiRateLimit, apiRateBurst)))

	// Статус и управление движком
	if deps != nil && deps.Engine != nil {
		statusHandler := handlers.NewStatusHandler(deps.Engine)
		api.HandleFunc("/status", statusHandler.GetStatus).Methods("GET")
		api.Handle("/engine/pause", auth(http.HandlerFunc(statusHandler.PauseEngine))).Methods("POST")
		api.Handle("/engine/resume", auth(http.HandlerFunc(statusHandler.ResumeEngine))).Methods("POST")
		api.HandleFunc("/positions", statusHandler.GetPositions).Methods("GET")
		api.HandleFunc("/orders", statusHandler.GetOrders).Methods("GET")
	}

	// Риск-метрики портфеля
	if deps != nil && deps.Engine != nil && deps.Risk != nil {
		riskHandler := handlers.NewRiskHandler(deps.Engine, deps.Risk)
		api.HandleFunc("/risk", riskHandler.GetRisk).Methods("GET")
		api.HandleFunc("/risk/positions", riskHandler.GetRiskPositions).Methods("GET")
	}

	// Инспекция шины событий
	if deps != nil && deps.Bus != nil {
		busHandler := handlers.NewBusHandler(deps.Bus)
		api.HandleFunc("/bus/stats", busHandler.GetStats).Methods("GET")
		api.HandleFunc("/bus/dead-letters", busHandler.GetDeadLetters).Methods("GET")
		api.HandleFunc("/bus/history", busHandler.GetHistory).Methods("GET")
		api.Handle("/bus/replay", auth(http.HandlerFunc(busHandler.ReplayEvents))).Methods("POST")
	}

	// История торговли и журнал событий
	if deps != nil && deps.OrderRepo != nil && deps.PositionRepo != nil && deps.EventRepo != nil {
		historyHandler := handlers.NewHistoryHandler(deps.OrderRepo, deps.PositionRepo, deps.EventRepo)
		api.HandleFunc("/orders/history", historyHandler.GetOrderHistory).Methods("GET")
		api.HandleFunc("/positions/history", historyHandler.GetPositionHistory).Methods("GET")
		api.HandleFunc("/positions/history/pnl", historyHandler.GetTotalRealizedPnl).Methods("GET")
		api.HandleFunc("/events", historyHandler.GetEvents).Methods("GET")
		api.HandleFunc("/events/correlation/{id}", historyHandler.GetEventChain).Methods("GET")
	}

	// Журнал уведомлений
	if deps != nil && deps.NotificationRepo != nil {
		notificationHandler := handlers.NewNotificationHandler(deps.NotificationRepo)
		api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")
		api.Handle("/notifications", auth(http.HandlerFunc(notificationHandler.ClearNotifications))).Methods("DELETE")
	}

	// WebSocket route
	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
