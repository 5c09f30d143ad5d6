package service

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tradebot/internal/eventbus"
	"tradebot/internal/models"
	"tradebot/internal/repository"
)

type mockBroadcaster struct {
	mu     sync.Mutex
	notifs []*models.Notification
}

func (m *mockBroadcaster) BroadcastNotification(notif *models.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifs = append(m.notifs, notif)
}

func (m *mockBroadcaster) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifs)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestBuildNotification(t *testing.T) {
	tests := []struct {
		name         string
		event        *models.Event
		wantType     string
		wantSeverity string
		wantContains string
	}{
		{
			name: "position opened",
			event: models.NewEvent(models.EventPositionOpened, "trading_engine", models.PriorityNormal,
				map[string]interface{}{"symbol": "BTC/USDT", "side": "LONG", "quantity": "2.5", "entry_price": "50000"}),
			wantType:     models.NotificationTypeOpen,
			wantSeverity: models.SeverityInfo,
			wantContains: "BTC/USDT",
		},
		{
			name: "position closed",
			event: models.NewEvent(models.EventPositionClosed, "trading_engine", models.PriorityNormal,
				map[string]interface{}{"symbol": "BTC/USDT", "realized_pnl": "-12.5"}),
			wantType:     models.NotificationTypeClose,
			wantSeverity: models.SeverityInfo,
			wantContains: "-12.5",
		},
		{
			name: "stop loss",
			event: models.NewEvent(models.EventStopLossTriggered, "trading_engine", models.PriorityHigh,
				map[string]interface{}{"symbol": "BTC/USDT", "price": "95", "level": "97"}),
			wantType:     models.NotificationTypeSL,
			wantSeverity: models.SeverityWarn,
			wantContains: "97",
		},
		{
			name: "take profit",
			event: models.NewEvent(models.EventTakeProfitTriggered, "trading_engine", models.PriorityHigh,
				map[string]interface{}{"symbol": "BTC/USDT", "price": "107", "level": "106"}),
			wantType:     models.NotificationTypeTP,
			wantSeverity: models.SeverityInfo,
			wantContains: "106",
		},
		{
			name: "risk limit",
			event: models.NewEvent(models.EventRiskLimitExceeded, "trading_engine", models.PriorityHigh,
				map[string]interface{}{"symbol": "BTC/USDT", "reason": "correlation risk exceeds 30% limit"}),
			wantType:     models.NotificationTypeRisk,
			wantSeverity: models.SeverityWarn,
			wantContains: "correlation",
		},
		{
			name: "emergency stop",
			event: models.NewEvent(models.EventRiskLimitExceeded, "risk_manager", models.PriorityCritical,
				map[string]interface{}{"emergency": true, "reason": "maximum drawdown reached"}),
			wantType:     models.NotificationTypeEmergency,
			wantSeverity: models.SeverityError,
			wantContains: "drawdown",
		},
		{
			name: "drawdown alert",
			event: models.NewEvent(models.EventDrawdownAlert, "risk_manager", models.PriorityHigh,
				map[string]interface{}{"drawdown": "0.12", "threshold": "0.075", "limit": "0.15", "portfolio_value": "8800"}),
			wantType:     models.NotificationTypeRisk,
			wantSeverity: models.SeverityWarn,
			wantContains: "0.12",
		},
		{
			name: "error",
			event: models.NewEvent(models.EventErrorOccurred, "trading_engine", models.PriorityHigh,
				map[string]interface{}{"symbol": "BTC/USDT", "error": "connection refused"}),
			wantType:     models.NotificationTypeError,
			wantSeverity: models.SeverityError,
			wantContains: "connection refused",
		},
		{
			name: "system startup",
			event: models.NewEvent(models.EventSystemStartup, "main", models.PriorityHigh,
				map[string]interface{}{"component": "trading_engine"}),
			wantType:     models.NotificationTypeSystem,
			wantSeverity: models.SeverityInfo,
			wantContains: "trading_engine",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notif := buildNotification(tt.event)
			if notif == nil {
				t.Fatal("уведомление не построено")
			}
			if notif.Type != tt.wantType {
				t.Errorf("ожидался тип %s, получено %s", tt.wantType, notif.Type)
			}
			if notif.Severity != tt.wantSeverity {
				t.Errorf("ожидалась важность %s, получено %s", tt.wantSeverity, notif.Severity)
			}
			if !strings.Contains(notif.Message, tt.wantContains) {
				t.Errorf("сообщение %q должно содержать %q", notif.Message, tt.wantContains)
			}
		})
	}
}

func TestBuildNotification_IgnoredType(t *testing.T) {
	ev := models.NewEvent(models.EventPriceUpdate, "exchange", models.PriorityLow,
		map[string]interface{}{"symbol": "BTC/USDT", "price": "100"})
	if buildNotification(ev) != nil {
		t.Error("PriceUpdate не должен порождать уведомление")
	}
}

func TestNotificationService_BroadcastsOnEvent(t *testing.T) {
	bus := eventbus.NewBus(eventbus.Config{QueueSize: 100, Workers: 2}, nil)
	if err := bus.Start(); err != nil {
		t.Fatalf("не удалось запустить шину: %v", err)
	}
	defer bus.Stop()

	hub := &mockBroadcaster{}
	svc := NewNotificationService(bus, nil, nil)
	svc.SetWebSocketHub(hub)

	bus.Publish(models.NewEvent(models.EventPositionOpened, "trading_engine", models.PriorityNormal,
		map[string]interface{}{"symbol": "BTC/USDT", "side": "LONG", "quantity": "1", "entry_price": "100"}))

	if !waitFor(t, 2*time.Second, func() bool { return hub.count() == 1 }) {
		t.Fatal("уведомление не дошло до broadcaster")
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.notifs[0].Type != models.NotificationTypeOpen {
		t.Errorf("ожидался тип OPEN, получено %s", hub.notifs[0].Type)
	}
}

func TestNotificationService_PersistsToRepository(t *testing.T) {
	bus := eventbus.NewBus(eventbus.Config{QueueSize: 100, Workers: 2}, nil)
	if err := bus.Start(); err != nil {
		t.Fatalf("не удалось запустить шину: %v", err)
	}
	defer bus.Stop()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO notifications`).
		WithArgs(sqlmock.AnyArg(), models.NotificationTypeSL, models.SeverityWarn,
			"BTC/USDT", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	NewNotificationService(bus, repository.NewNotificationRepository(db), nil)

	bus.Publish(models.NewEvent(models.EventStopLossTriggered, "trading_engine", models.PriorityHigh,
		map[string]interface{}{"symbol": "BTC/USDT", "price": "95", "level": "97"}))

	if !waitFor(t, 2*time.Second, func() bool {
		return mock.ExpectationsWereMet() == nil
	}) {
		t.Errorf("уведомление не сохранено: %v", mock.ExpectationsWereMet())
	}
}

