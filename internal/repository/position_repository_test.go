package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"tradebot/internal/models"
)

// ============================================================
// PositionRepository Tests
// ============================================================

func testPosition() *models.Position {
	pos := models.NewPosition("BTC/USDT", models.PositionSideLong,
		decimal.NewFromInt(1), decimal.NewFromInt(50000), "momentum")
	pos.CurrentPrice = decimal.NewFromInt(52000)
	pos.RealizedPnl = decimal.NewFromInt(2000)
	return pos
}

func positionRows(positions ...*models.Position) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "symbol", "side", "quantity", "entry_price", "current_price",
		"realized_pnl", "strategy", "opened_at", "closed_at",
	})
	for _, pos := range positions {
		rows.AddRow(pos.ID, pos.Symbol, string(pos.Side), pos.Quantity,
			pos.EntryPrice, pos.CurrentPrice, pos.RealizedPnl, pos.Strategy,
			pos.OpenedAt, time.Now())
	}
	return rows
}

func TestPositionRepositoryCreate(t *testing.T) {
	pos := testPosition()
	closedAt := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO positions`).
		WithArgs(pos.ID, "BTC/USDT", "LONG", pos.Quantity, pos.EntryPrice,
			pos.CurrentPrice, pos.RealizedPnl, "momentum", pos.OpenedAt, closedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPositionRepository(db)
	if err := repo.Create(pos, closedAt); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryGetByID(t *testing.T) {
	pos := testPosition()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM positions WHERE id = \$1`).
		WithArgs(pos.ID).
		WillReturnRows(positionRows(pos))

	repo := NewPositionRepository(db)
	got, err := repo.GetByID(pos.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Symbol != "BTC/USDT" || got.Side != models.PositionSideLong {
		t.Errorf("unexpected position: %+v", got)
	}
	if !got.RealizedPnl.Equal(pos.RealizedPnl) {
		t.Errorf("expected pnl %s, got %s", pos.RealizedPnl, got.RealizedPnl)
	}
}

func TestPositionRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM positions WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(positionRows())

	repo := NewPositionRepository(db)
	if _, err := repo.GetByID("missing"); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestPositionRepositoryGetRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM positions ORDER BY closed_at DESC`).
		WithArgs(10).
		WillReturnRows(positionRows(testPosition(), testPosition()))

	repo := NewPositionRepository(db)
	positions, err := repo.GetRecent(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 2 {
		t.Errorf("expected 2 positions, got %d", len(positions))
	}
}

func TestPositionRepositoryGetBySymbol(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM positions WHERE symbol = \$1`).
		WithArgs("ETH/USDT", 50).
		WillReturnRows(positionRows())

	repo := NewPositionRepository(db)
	positions, err := repo.GetBySymbol("ETH/USDT", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("expected no positions, got %d", len(positions))
	}
}

func TestPositionRepositoryTotalRealizedPnl(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(realized_pnl\), 0\) FROM positions`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("1234.56"))

	repo := NewPositionRepository(db)
	total, err := repo.TotalRealizedPnl()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !total.Equal(decimal.RequireFromString("1234.56")) {
		t.Errorf("expected 1234.56, got %s", total)
	}
}

func TestPositionRepositoryCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM positions`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	repo := NewPositionRepository(db)
	count, err := repo.Count()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 7 {
		t.Errorf("expected count 7, got %d", count)
	}
}
