package repository

import (
	"database/sql"
	"errors"
	"time"

	"tradebot/internal/models"
)

// Ошибки репозитория событий
var (
	ErrEventNotFound = errors.New("event not found")
)

// EventRepository - работа с таблицей events
//
// Журнал событий шины для аудита и последующего анализа. Полезная
// нагрузка события хранится как JSON.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository создает новый экземпляр репозитория
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Save сохраняет событие в журнал
func (r *EventRepository) Save(ev *models.Event) error {
	query := `
		INSERT INTO events (id, type, priority, source, correlation_id, retry_count, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	dataJSON, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(
		query,
		ev.ID,
		string(ev.Type),
		int(ev.Priority),
		ev.Source,
		ev.CorrelationID,
		ev.RetryCount,
		dataJSON,
		ev.Timestamp,
	)
	return err
}

// GetByID возвращает событие по ID
func (r *EventRepository) GetByID(id string) (*models.Event, error) {
	query := `
		SELECT id, type, priority, source, correlation_id, retry_count, data, created_at
		FROM events
		WHERE id = $1`

	ev, err := scanEvent(r.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return ev, nil
}

// GetRecent возвращает последние N событий (новые сверху)
func (r *EventRepository) GetRecent(limit int) ([]*models.Event, error) {
	query := `
		SELECT id, type, priority, source, correlation_id, retry_count, data, created_at
		FROM events
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByType возвращает события заданного типа
func (r *EventRepository) GetByType(eventType models.EventType, limit int) ([]*models.Event, error) {
	query := `
		SELECT id, type, priority, source, correlation_id, retry_count, data, created_at
		FROM events
		WHERE type = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByCorrelationID возвращает цепочку событий одной корреляции
func (r *EventRepository) GetByCorrelationID(correlationID string) ([]*models.Event, error) {
	query := `
		SELECT id, type, priority, source, correlation_id, retry_count, data, created_at
		FROM events
		WHERE correlation_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(query, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// CountByType возвращает количество событий заданного типа
func (r *EventRepository) CountByType(eventType models.EventType) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM events WHERE type = $1`,
		string(eventType)).Scan(&count)
	return count, err
}

// Count возвращает общее количество событий в журнале
func (r *EventRepository) Count() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count)
	return count, err
}

// DeleteOlderThan удаляет события старше указанного времени
func (r *EventRepository) DeleteOlderThan(threshold time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM events WHERE created_at < $1`, threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEvent(row rowScanner) (*models.Event, error) {
	ev := &models.Event{}
	var (
		eventType string
		priority  int
		dataJSON  []byte
	)

	err := row.Scan(
		&ev.ID,
		&eventType,
		&priority,
		&ev.Source,
		&ev.CorrelationID,
		&ev.RetryCount,
		&dataJSON,
		&ev.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	ev.Type = models.EventType(eventType)
	ev.Priority = models.EventPriority(priority)
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &ev.Data); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

func scanEvents(rows *sql.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
