package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

// PositionRepository - работа с таблицей positions
//
// Журнал закрытых позиций для расчета исторической статистики.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

const positionColumns = `id, symbol, side, quantity, entry_price, current_price,
		realized_pnl, strategy, opened_at, closed_at`

// Create сохраняет закрытую позицию в журнал
func (r *PositionRepository) Create(pos *models.Position, closedAt time.Time) error {
	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(
		query,
		pos.ID,
		pos.Symbol,
		string(pos.Side),
		pos.Quantity,
		pos.EntryPrice,
		pos.CurrentPrice,
		pos.RealizedPnl,
		pos.Strategy,
		pos.OpenedAt,
		closedAt,
	)
	return err
}

// GetByID возвращает позицию по ID
func (r *PositionRepository) GetByID(id string) (*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	pos, err := scanPosition(r.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return pos, nil
}

// GetRecent возвращает последние N закрытых позиций (новые сверху)
func (r *PositionRepository) GetRecent(limit int) ([]*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		ORDER BY closed_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

// GetBySymbol возвращает закрытые позиции по инструменту
func (r *PositionRepository) GetBySymbol(symbol string, limit int) ([]*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE symbol = $1
		ORDER BY closed_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

// TotalRealizedPnl возвращает суммарный реализованный PNL
func (r *PositionRepository) TotalRealizedPnl() (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.QueryRow(`SELECT COALESCE(SUM(realized_pnl), 0) FROM positions`).Scan(&total)
	return total, err
}

// Count возвращает количество закрытых позиций
func (r *PositionRepository) Count() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM positions`).Scan(&count)
	return count, err
}

func scanPosition(row rowScanner) (*models.Position, error) {
	pos := &models.Position{}
	var side string
	var closedAt time.Time

	err := row.Scan(
		&pos.ID,
		&pos.Symbol,
		&side,
		&pos.Quantity,
		&pos.EntryPrice,
		&pos.CurrentPrice,
		&pos.RealizedPnl,
		&pos.Strategy,
		&pos.OpenedAt,
		&closedAt,
	)
	if err != nil {
		return nil, err
	}

	pos.Side = models.PositionSide(side)
	pos.UpdatedAt = closedAt
	return pos, nil
}

func scanPositions(rows *sql.Rows) ([]*models.Position, error) {
	var positions []*models.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return positions, nil
}
