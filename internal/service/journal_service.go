package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tradebot/internal/eventbus"
	"tradebot/internal/models"
	"tradebot/internal/repository"
)

// defaultRetention - срок хранения журнала событий
const defaultRetention = 7 * 24 * time.Hour

// JournalService сохраняет поток событий шины в базу данных
//
// Wildcard-подписчик: пишет все типы событий кроме PriceUpdate
// (тиковый поток слишком объемен для журнала). Запись идет в async
// режиме через worker pool шины и не задерживает торговый путь.
type JournalService struct {
	bus    *eventbus.Bus
	repo   *repository.EventRepository
	logger *zap.Logger

	retention time.Duration
	subID     string
}

// NewJournalService создает сервис и подписывает его на все события
func NewJournalService(bus *eventbus.Bus, repo *repository.EventRepository, logger *zap.Logger) *JournalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &JournalService{
		bus:       bus,
		repo:      repo,
		logger:    logger.Named("journal"),
		retention: defaultRetention,
	}
	s.subID = bus.SubscribeAll(s.handleEvent,
		eventbus.HandlerOptions{Name: "journal.events", Async: true})
	return s
}

// Unsubscribe отписывает сервис от шины
func (s *JournalService) Unsubscribe() {
	s.bus.Unsubscribe(s.subID)
}

func (s *JournalService) handleEvent(ctx context.Context, ev *models.Event) error {
	if ev.Type == models.EventPriceUpdate {
		return nil
	}
	return s.repo.Save(ev)
}

// Cleanup удаляет события старше срока хранения
func (s *JournalService) Cleanup() (int64, error) {
	deleted, err := s.repo.DeleteOlderThan(time.Now().Add(-s.retention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("журнал событий очищен", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// RunCleanupLoop периодически чистит журнал до отмены контекста
func (s *JournalService) RunCleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(); err != nil {
				s.logger.Error("ошибка очистки журнала", zap.Error(err))
			}
		}
	}
}
