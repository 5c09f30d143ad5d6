package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradebot/internal/api"
	"tradebot/internal/config"
	"tradebot/internal/engine"
	"tradebot/internal/eventbus"
	"tradebot/internal/exchange"
	"tradebot/internal/models"
	"tradebot/internal/repository"
	"tradebot/internal/risk"
	"tradebot/internal/service"
	"tradebot/internal/websocket"
	"tradebot/pkg/retry"
	"tradebot/pkg/utils"

	_ "github.com/lib/pq"
)

// Торгуемые инструменты и их стартовые цены для paper режима
var paperSymbols = map[string]decimal.Decimal{
	"BTC/USDT": decimal.NewFromInt(60000),
	"ETH/USDT": decimal.NewFromInt(3000),
	"SOL/USDT": decimal.NewFromInt(150),
}

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Инициализация логирования
	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer logger.Sync()
	zl := logger.Logger

	if err := run(cfg, zl); err != nil {
		zl.Fatal("бот завершился с ошибкой", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// База данных опциональна: без неё бот работает без журналов
	var db *sql.DB
	if cfg.Database.Enabled() {
		var err error
		db, err = initDatabase(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		zl.Info("подключение к БД установлено",
			zap.String("dsn", cfg.Database.DSNWithoutPassword()))
	} else {
		zl.Warn("БД не сконфигурирована: журналы ордеров и уведомлений отключены")
	}

	// Шина событий
	bus := eventbus.NewBus(eventbus.Config{
		QueueSize:        cfg.Bus.QueueSize,
		DLQSize:          cfg.Bus.DLQSize,
		HistorySize:      cfg.Bus.HistorySize,
		Workers:          cfg.Bus.Workers,
		FailureThreshold: cfg.Bus.FailureThreshold,
		RecoveryTimeout:  cfg.Bus.RecoveryTimeout,
	}, zl)
	if err := bus.Start(); err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	defer bus.Stop()

	// Риск-менеджер: лимиты по умолчанию с переопределением из конфигурации
	limits := models.DefaultRiskLimits()
	limits.MaxPositionSize = decimal.NewFromFloat(cfg.Risk.MaxPositionSize)
	limits.MaxDailyLoss = decimal.NewFromFloat(cfg.Risk.MaxDailyLoss)
	limits.MaxDrawdown = decimal.NewFromFloat(cfg.Risk.MaxDrawdown)
	limits.MaxOpenPositions = cfg.Risk.MaxOpenPositions
	limits.MaxCorrelation = decimal.NewFromFloat(cfg.Risk.MaxCorrelation)
	limits.MaxConsecutiveLosses = cfg.Risk.MaxConsecutiveLosses
	limits.CoolingOffPeriod = cfg.Risk.CoolingOffPeriod
	riskMgr := risk.NewManager(limits, zl)

	// Коннектор биржи
	connector, err := buildConnector(cfg, zl)
	if err != nil {
		return err
	}

	// Торговый движок
	eng := engine.NewEngine(engine.Config{
		Mode:            cfg.Engine.Mode,
		RiskPerTrade:    decimal.NewFromFloat(cfg.Engine.RiskPerTrade),
		InitialBalance:  decimal.NewFromFloat(cfg.Engine.InitialBalance),
		StopDistancePct: decimal.NewFromFloat(cfg.Engine.StopDistancePct),
		PaperFillDelay:  cfg.Engine.PaperFillDelay,
	}, bus, riskMgr, connector, zl)

	// WebSocket hub: трансляция событий и уведомлений на frontend
	hub := websocket.NewHub(zl)
	go hub.Run()
	defer hub.Stop()

	bus.SubscribeAll(func(ctx context.Context, ev *models.Event) error {
		hub.BroadcastEvent(ev)
		return nil
	}, eventbus.HandlerOptions{Name: "ws.relay", Async: true})

	// Сервисы уведомлений и журнала
	var (
		notificationRepo *repository.NotificationRepository
		eventRepo        *repository.EventRepository
		orderRepo        *repository.OrderRepository
		positionRepo     *repository.PositionRepository
	)
	if db != nil {
		notificationRepo = repository.NewNotificationRepository(db)
		eventRepo = repository.NewEventRepository(db)
		orderRepo = repository.NewOrderRepository(db)
		positionRepo = repository.NewPositionRepository(db)
	}

	notifier := service.NewNotificationService(bus, notificationRepo, zl)
	notifier.SetWebSocketHub(hub)
	defer notifier.Unsubscribe()

	if eventRepo != nil {
		journal := service.NewJournalService(bus, eventRepo, zl)
		go journal.RunCleanupLoop(ctx, cfg.Journal.CleanupInterval)
		defer journal.Unsubscribe()
	}

	// Поток цен: тики коннектора публикуются в шину как PriceUpdate
	symbols := make([]string, 0, len(paperSymbols))
	for symbol := range paperSymbols {
		symbols = append(symbols, symbol)
	}
	go func() {
		err := connector.StreamPrices(ctx, symbols, func(tick *exchange.Ticker) {
			bus.Publish(models.NewEvent(models.EventPriceUpdate, connector.GetName(),
				models.PriorityLow, map[string]interface{}{
					"symbol": tick.Symbol,
					"price":  tick.LastPrice.String(),
					"bid":    tick.BidPrice.String(),
					"ask":    tick.AskPrice.String(),
				}))
		})
		if err != nil && ctx.Err() == nil {
			zl.Error("поток цен прервался", zap.Error(err))
		}
	}()

	// Запуск движка
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	// HTTP сервер
	router := api.SetupRoutes(&api.Dependencies{
		Engine:           eng,
		Risk:             riskMgr,
		Bus:              bus,
		Hub:              hub,
		NotificationRepo: notificationRepo,
		EventRepo:        eventRepo,
		OrderRepo:        orderRepo,
		PositionRepo:     positionRepo,
		AdminTokenHash:   cfg.Security.AdminTokenHash,
		Logger:           zl,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zl.Info("HTTP сервер запущен", zap.String("addr", server.Addr))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			zl.Fatal("HTTP сервер упал", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("получен сигнал остановки")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Сначала движок: отмена ордеров, закрытие позиций, SystemShutdown
	if err := eng.Stop(shutdownCtx); err != nil {
		zl.Error("ошибка остановки движка", zap.Error(err))
	}

	cancel() // останавливает поток цен и журнальный cleanup

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	connector.Close()
	exchange.CloseGlobalClient()

	zl.Info("бот остановлен")
	return nil
}

// buildConnector создает коннектор биржи по режиму работы
func buildConnector(cfg *config.Config, zl *zap.Logger) (exchange.Exchange, error) {
	switch cfg.Engine.Mode {
	case config.ModePaper:
		return exchange.NewPaperExchange(
			decimal.NewFromFloat(cfg.Engine.InitialBalance), paperSymbols, zl), nil

	case config.ModeLive:
		apiKey, secret, err := cfg.Security.ExchangeCredentials()
		if err != nil {
			return nil, err
		}
		name := strings.ToLower(os.Getenv("EXCHANGE_NAME"))
		return exchange.NewLiveExchange(name, apiKey, secret, zl)

	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Engine.Mode)
	}
}

// initDatabase создает подключение к базе данных
//
// Подключение ретраится: при старте через docker-compose БД может
// подниматься дольше бота.
func initDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	err = retry.Do(ctx, func() error {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		return db.PingContext(pingCtx)
	}, retry.NetworkConfig())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}
