package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tradebot/internal/repository"
)

// ============ NotificationHandler Tests ============

func notificationRows(count int) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "timestamp", "type", "severity", "symbol", "message", "meta"})
	for i := 1; i <= count; i++ {
		rows.AddRow(i, time.Now(), "OPEN", "info", "BTC/USDT", "position opened", []byte(nil))
	}
	return rows
}

func TestNotificationHandler_GetNotifications(t *testing.T) {
	t.Run("returns empty list when no notifications", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectQuery(`SELECT (.+) FROM notifications ORDER BY timestamp DESC`).
			WithArgs(100).
			WillReturnRows(notificationRows(0))

		handler := NewNotificationHandler(repository.NewNotificationRepository(db))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
		w := httptest.NewRecorder()

		handler.GetNotifications(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response GetNotificationsResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response.Total != 0 {
			t.Errorf("expected total 0, got %d", response.Total)
		}
		if response.Notifications == nil {
			t.Error("expected empty array, got null")
		}
	})

	t.Run("returns existing notifications", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectQuery(`SELECT (.+) FROM notifications ORDER BY timestamp DESC`).
			WithArgs(100).
			WillReturnRows(notificationRows(3))

		handler := NewNotificationHandler(repository.NewNotificationRepository(db))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
		w := httptest.NewRecorder()

		handler.GetNotifications(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response GetNotificationsResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response.Total != 3 {
			t.Errorf("expected total 3, got %d", response.Total)
		}
	})

	t.Run("filters by types", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectQuery(`SELECT (.+) FROM notifications WHERE type = ANY`).
			WithArgs(sqlmock.AnyArg(), 100).
			WillReturnRows(notificationRows(2))

		handler := NewNotificationHandler(repository.NewNotificationRepository(db))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?types=open,close", nil)
		w := httptest.NewRecorder()

		handler.GetNotifications(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response GetNotificationsResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response.Total != 2 {
			t.Errorf("expected total 2 (filtered), got %d", response.Total)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("caps limit at 500", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectQuery(`SELECT (.+) FROM notifications ORDER BY timestamp DESC`).
			WithArgs(500).
			WillReturnRows(notificationRows(1))

		handler := NewNotificationHandler(repository.NewNotificationRepository(db))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=9000", nil)
		w := httptest.NewRecorder()

		handler.GetNotifications(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("returns 500 on database error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectQuery(`SELECT (.+) FROM notifications`).
			WillReturnError(sqlmock.ErrCancelled)

		handler := NewNotificationHandler(repository.NewNotificationRepository(db))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
		w := httptest.NewRecorder()

		handler.GetNotifications(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

func TestNotificationHandler_ClearNotifications(t *testing.T) {
	t.Run("successfully clears notifications", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectExec(`DELETE FROM notifications`).
			WillReturnResult(sqlmock.NewResult(0, 5))

		handler := NewNotificationHandler(repository.NewNotificationRepository(db))

		req := httptest.NewRequest(http.MethodDelete, "/api/v1/notifications", nil)
		w := httptest.NewRecorder()

		handler.ClearNotifications(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response SuccessResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Message == "" {
			t.Error("expected non-empty message")
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("returns 500 on database error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectExec(`DELETE FROM notifications`).
			WillReturnError(sqlmock.ErrCancelled)

		handler := NewNotificationHandler(repository.NewNotificationRepository(db))

		req := httptest.NewRequest(http.MethodDelete, "/api/v1/notifications", nil)
		w := httptest.NewRecorder()

		handler.ClearNotifications(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}
