package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"

	"tradebot/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ошибки репозитория уведомлений
var (
	ErrNotificationNotFound = errors.New("notification not found")
)

// NotificationRepository - работа с таблицей notifications
//
// Журнал уведомлений: открытия/закрытия позиций, срабатывания защитных
// уровней, риск-события, ошибки. Поле meta хранит произвольный JSON.
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create создает новое уведомление
func (r *NotificationRepository) Create(notif *models.Notification) error {
	query := `
		INSERT INTO notifications (timestamp, type, severity, symbol, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if notif.Timestamp.IsZero() {
		notif.Timestamp = time.Now()
	}

	var metaJSON []byte
	if notif.Meta != nil {
		var err error
		metaJSON, err = json.Marshal(notif.Meta)
		if err != nil {
			return err
		}
	}

	return r.db.QueryRow(
		query,
		notif.Timestamp,
		strings.ToUpper(notif.Type),
		notif.Severity,
		notif.Symbol,
		notif.Message,
		metaJSON,
	).Scan(&notif.ID)
}

// GetByID возвращает уведомление по ID
func (r *NotificationRepository) GetByID(id int) (*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, symbol, message, meta
		FROM notifications
		WHERE id = $1`

	notif, err := scanNotification(r.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return notif, nil
}

// GetRecent возвращает последние N уведомлений (новые сверху)
func (r *NotificationRepository) GetRecent(limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, symbol, message, meta
		FROM notifications
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// GetByTypes возвращает уведомления заданных типов
func (r *NotificationRepository) GetByTypes(types []string, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, symbol, message, meta
		FROM notifications
		WHERE type = ANY($1)
		ORDER BY timestamp DESC
		LIMIT $2`

	normalized := make([]string, 0, len(types))
	for _, t := range types {
		normalized = append(normalized, strings.ToUpper(t))
	}

	rows, err := r.db.Query(query, pq.Array(normalized), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// GetBySeverity возвращает уведомления заданной важности
func (r *NotificationRepository) GetBySeverity(severity string, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, symbol, message, meta
		FROM notifications
		WHERE severity = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := r.db.Query(query, severity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// GetBySymbol возвращает уведомления по инструменту
func (r *NotificationRepository) GetBySymbol(symbol string, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, symbol, message, meta
		FROM notifications
		WHERE symbol = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := r.db.Query(query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// Count возвращает общее количество уведомлений
func (r *NotificationRepository) Count() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM notifications`).Scan(&count)
	return count, err
}

// CountByType возвращает количество уведомлений заданного типа
func (r *NotificationRepository) CountByType(notifType string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE type = $1`,
		strings.ToUpper(notifType)).Scan(&count)
	return count, err
}

// DeleteAll очищает журнал уведомлений
func (r *NotificationRepository) DeleteAll() error {
	_, err := r.db.Exec(`DELETE FROM notifications`)
	return err
}

// DeleteOlderThan удаляет уведомления старше указанного времени
func (r *NotificationRepository) DeleteOlderThan(threshold time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM notifications WHERE timestamp < $1`, threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// KeepRecent удаляет уведомления, оставляя только последние N записей
func (r *NotificationRepository) KeepRecent(keepCount int) (int64, error) {
	query := `
		DELETE FROM notifications
		WHERE id NOT IN (
			SELECT id FROM notifications
			ORDER BY timestamp DESC
			LIMIT $1
		)`

	result, err := r.db.Exec(query, keepCount)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// rowScanner абстрагирует *sql.Row и *sql.Rows для общего сканирования
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	notif := &models.Notification{}
	var metaJSON []byte

	err := row.Scan(
		&notif.ID,
		&notif.Timestamp,
		&notif.Type,
		&notif.Severity,
		&notif.Symbol,
		&notif.Message,
		&metaJSON,
	)
	if err != nil {
		return nil, err
	}

	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &notif.Meta); err != nil {
			return nil, err
		}
	}
	return notif, nil
}

func scanNotifications(rows *sql.Rows) ([]*models.Notification, error) {
	var notifs []*models.Notification
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifs = append(notifs, notif)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifs, nil
}
