package service

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tradebot/internal/eventbus"
	"tradebot/internal/models"
	"tradebot/internal/repository"
)

func TestJournalService_PersistsEvents(t *testing.T) {
	bus := eventbus.NewBus(eventbus.Config{QueueSize: 100, Workers: 2}, nil)
	if err := bus.Start(); err != nil {
		t.Fatalf("не удалось запустить шину: %v", err)
	}
	defer bus.Stop()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("не удалось создать mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO events`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	svc := NewJournalService(bus, repository.NewEventRepository(db), nil)
	defer svc.Unsubscribe()

	bus.Publish(models.NewEvent(models.EventOrderFilled, "test", models.PriorityNormal,
		map[string]interface{}{"symbol": "BTC/USDT"}))

	ok := waitFor(t, time.Second, func() bool {
		return mock.ExpectationsWereMet() == nil
	})
	if !ok {
		t.Errorf("событие не записано в журнал: %v", mock.ExpectationsWereMet())
	}
}

func TestJournalService_SkipsPriceUpdates(t *testing.T) {
	bus := eventbus.NewBus(eventbus.Config{QueueSize: 100, Workers: 2}, nil)
	if err := bus.Start(); err != nil {
		t.Fatalf("не удалось запустить шину: %v", err)
	}
	defer bus.Stop()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("не удалось создать mock: %v", err)
	}
	defer db.Close()

	// Никаких INSERT не ожидается: тиковый поток в журнал не пишется
	svc := NewJournalService(bus, repository.NewEventRepository(db), nil)
	defer svc.Unsubscribe()

	bus.Publish(models.NewEvent(models.EventPriceUpdate, "test", models.PriorityLow,
		map[string]interface{}{"symbol": "BTC/USDT", "price": "60000"}))

	time.Sleep(50 * time.Millisecond)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("неожиданный запрос к БД: %v", err)
	}
}

func TestJournalService_Cleanup(t *testing.T) {
	bus := eventbus.NewBus(eventbus.Config{QueueSize: 100, Workers: 2}, nil)
	if err := bus.Start(); err != nil {
		t.Fatalf("не удалось запустить шину: %v", err)
	}
	defer bus.Stop()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("не удалось создать mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM events WHERE created_at <`).
		WillReturnResult(sqlmock.NewResult(0, 42))

	svc := NewJournalService(bus, repository.NewEventRepository(db), nil)
	defer svc.Unsubscribe()

	deleted, err := svc.Cleanup()
	if err != nil {
		t.Fatalf("ошибка очистки: %v", err)
	}
	if deleted != 42 {
		t.Errorf("ожидалось 42 удаленных события, получено %d", deleted)
	}
}
