package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tradebot/internal/eventbus"
	"tradebot/internal/models"
	"tradebot/internal/repository"
)

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(notif *models.Notification)
}

// NotificationService превращает события шины в уведомления
//
// Подписывается на значимые типы событий, строит человекочитаемое
// уведомление, сохраняет его в журнал и рассылает через WebSocket.
// Отсутствие репозитория или hub'а не является ошибкой: сервис
// деградирует до логирования.
type NotificationService struct {
	bus    *eventbus.Bus
	repo   *repository.NotificationRepository
	wsHub  WebSocketBroadcaster
	logger *zap.Logger

	subIDs []string
}

// NewNotificationService создает сервис и подписывает его на шину
func NewNotificationService(bus *eventbus.Bus, repo *repository.NotificationRepository, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{
		bus:    bus,
		repo:   repo,
		logger: logger.Named("notifier"),
	}
	s.subscribe()
	return s
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
//
// Вызывается после инициализации Hub в main.go.
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

func (s *NotificationService) subscribe() {
	types := []models.EventType{
		models.EventPositionOpened,
		models.EventPositionClosed,
		models.EventStopLossTriggered,
		models.EventTakeProfitTriggered,
		models.EventRiskLimitExceeded,
		models.EventDrawdownAlert,
		models.EventErrorOccurred,
		models.EventSystemStartup,
		models.EventSystemShutdown,
	}
	for _, t := range types {
		s.subIDs = append(s.subIDs, s.bus.Subscribe(t, s.handleEvent,
			eventbus.HandlerOptions{Name: "notifier." + string(t), Async: true}))
	}
}

// Unsubscribe отписывает сервис от шины
func (s *NotificationService) Unsubscribe() {
	for _, id := range s.subIDs {
		s.bus.Unsubscribe(id)
	}
	s.subIDs = nil
}

func (s *NotificationService) handleEvent(ctx context.Context, ev *models.Event) error {
	notif := buildNotification(ev)
	if notif == nil {
		return nil
	}

	s.logger.Info("уведомление",
		zap.String("type", notif.Type),
		zap.String("severity", notif.Severity),
		zap.String("message", notif.Message))

	if s.repo != nil {
		if err := s.repo.Create(notif); err != nil {
			return fmt.Errorf("save notification: %w", err)
		}
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(notif)
	}
	return nil
}

// buildNotification строит уведомление из события шины
func buildNotification(ev *models.Event) *models.Notification {
	symbol, _ := ev.Data["symbol"].(string)

	notif := &models.Notification{
		Timestamp: ev.Timestamp,
		Symbol:    symbol,
		Meta:      ev.Data,
	}

	switch ev.Type {
	case models.EventPositionOpened:
		notif.Type = models.NotificationTypeOpen
		notif.Severity = models.SeverityInfo
		notif.Message = fmt.Sprintf("🟢 Открыта позиция %s %s, объем %s по %s",
			str(ev.Data, "side"), symbol, str(ev.Data, "quantity"), str(ev.Data, "entry_price"))

	case models.EventPositionClosed:
		notif.Type = models.NotificationTypeClose
		notif.Severity = models.SeverityInfo
		notif.Message = fmt.Sprintf("🔵 Закрыта позиция %s, PNL %s",
			symbol, str(ev.Data, "realized_pnl"))

	case models.EventStopLossTriggered:
		notif.Type = models.NotificationTypeSL
		notif.Severity = models.SeverityWarn
		notif.Message = fmt.Sprintf("🛑 Stop Loss %s: цена %s пробила уровень %s",
			symbol, str(ev.Data, "price"), str(ev.Data, "level"))

	case models.EventTakeProfitTriggered:
		notif.Type = models.NotificationTypeTP
		notif.Severity = models.SeverityInfo
		notif.Message = fmt.Sprintf("🎯 Take Profit %s: цена %s достигла уровня %s",
			symbol, str(ev.Data, "price"), str(ev.Data, "level"))

	case models.EventRiskLimitExceeded:
		if emergency, _ := ev.Data["emergency"].(bool); emergency {
			notif.Type = models.NotificationTypeEmergency
			notif.Severity = models.SeverityError
			notif.Message = fmt.Sprintf("🚨 Аварийная остановка торговли: %s",
				str(ev.Data, "reason"))
		} else {
			notif.Type = models.NotificationTypeRisk
			notif.Severity = models.SeverityWarn
			notif.Message = fmt.Sprintf("⚠️ Риск-лимит %s: %s",
				symbol, str(ev.Data, "reason"))
		}

	case models.EventDrawdownAlert:
		notif.Type = models.NotificationTypeRisk
		notif.Severity = models.SeverityWarn
		notif.Message = fmt.Sprintf("📉 Просадка портфеля %s приближается к лимиту %s",
			str(ev.Data, "drawdown"), str(ev.Data, "limit"))

	case models.EventErrorOccurred:
		notif.Type = models.NotificationTypeError
		notif.Severity = models.SeverityError
		notif.Message = fmt.Sprintf("❌ Ошибка %s: %s", symbol, str(ev.Data, "error"))

	case models.EventSystemStartup:
		notif.Type = models.NotificationTypeSystem
		notif.Severity = models.SeverityInfo
		notif.Message = fmt.Sprintf("▶️ Компонент %s запущен", str(ev.Data, "component"))

	case models.EventSystemShutdown:
		notif.Type = models.NotificationTypeSystem
		notif.Severity = models.SeverityInfo
		notif.Message = fmt.Sprintf("⏹ Компонент %s остановлен", str(ev.Data, "component"))

	default:
		return nil
	}
	return notif
}

func str(data map[string]interface{}, key string) string {
	if v, ok := data[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return "?"
}
