package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/models"
)

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound = errors.New("order not found")
)

// OrderRepository - работа с таблицей orders
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, symbol, side, type, status, quantity, price,
		stop_loss, take_profit, filled_quantity, avg_fill_price,
		strategy, created_at, updated_at`

// Create сохраняет новый ордер
func (r *OrderRepository) Create(order *models.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.Exec(
		query,
		order.ID,
		order.Symbol,
		string(order.Side),
		string(order.Type),
		string(order.Status),
		order.Quantity,
		order.Price,
		order.StopLoss,
		order.TakeProfit,
		order.FilledQuantity,
		order.AvgFillPrice,
		order.Strategy,
		order.CreatedAt,
		order.UpdatedAt,
	)
	return err
}

// UpdateStatus обновляет статус и состояние исполнения ордера
func (r *OrderRepository) UpdateStatus(order *models.Order) error {
	query := `
		UPDATE orders
		SET status = $1, filled_quantity = $2, avg_fill_price = $3, updated_at = $4
		WHERE id = $5`

	result, err := r.db.Exec(
		query,
		string(order.Status),
		order.FilledQuantity,
		order.AvgFillPrice,
		order.UpdatedAt,
		order.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// GetByID возвращает ордер по ID
func (r *OrderRepository) GetByID(id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// GetActive возвращает неисполненные ордера
func (r *OrderRepository) GetActive() ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status IN ('PENDING', 'SUBMITTED', 'PARTIALLY_FILLED')
		ORDER BY created_at ASC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

// GetRecent возвращает последние N ордеров (новые сверху)
func (r *OrderRepository) GetRecent(limit int) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

// GetBySymbol возвращает ордера по инструменту
func (r *OrderRepository) GetBySymbol(symbol string, limit int) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

// CountByStatus возвращает количество ордеров в заданном статусе
func (r *OrderRepository) CountByStatus(status models.OrderStatus) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM orders WHERE status = $1`,
		string(status)).Scan(&count)
	return count, err
}

// DeleteOlderThan удаляет завершенные ордера старше указанного времени
func (r *OrderRepository) DeleteOlderThan(threshold time.Time) (int64, error) {
	query := `
		DELETE FROM orders
		WHERE updated_at < $1
		  AND status IN ('FILLED', 'CANCELLED', 'REJECTED', 'EXPIRED')`

	result, err := r.db.Exec(query, threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var side, orderType, status string
	var quantity, price, stopLoss, takeProfit, filledQty, avgPrice decimal.Decimal

	err := row.Scan(
		&order.ID,
		&order.Symbol,
		&side,
		&orderType,
		&status,
		&quantity,
		&price,
		&stopLoss,
		&takeProfit,
		&filledQty,
		&avgPrice,
		&order.Strategy,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.Side = models.OrderSide(side)
	order.Type = models.OrderType(orderType)
	order.Status = models.OrderStatus(status)
	order.Quantity = quantity
	order.Price = price
	order.StopLoss = stopLoss
	order.TakeProfit = takeProfit
	order.FilledQuantity = filledQty
	order.AvgFillPrice = avgPrice
	return order, nil
}

func scanOrders(rows *sql.Rows) ([]*models.Order, error) {
	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}
