package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"tradebot/internal/models"
	"tradebot/internal/repository"
)

// NotificationHandler отвечает за журнал уведомлений
//
// Endpoints:
// - GET /api/v1/notifications - получение списка уведомлений
// - GET /api/v1/notifications?types=SL,TP,ERROR - с фильтрацией по типам
// - GET /api/v1/notifications?limit=50 - с ограничением количества
// - DELETE /api/v1/notifications - очистка журнала уведомлений
//
// Назначение:
// Обрабатывает запросы на получение журнала уведомлений бота,
// поддерживает фильтрацию по типам (открытие, закрытие, SL/TP, риск,
// ошибки), обеспечивает пагинацию (по умолчанию 100 записей),
// позволяет очищать историю уведомлений
type NotificationHandler struct {
	repo *repository.NotificationRepository
}

// NewNotificationHandler создает новый NotificationHandler с внедрением зависимости
func NewNotificationHandler(repo *repository.NotificationRepository) *NotificationHandler {
	return &NotificationHandler{repo: repo}
}

// GetNotificationsResponse представляет ответ списка уведомлений
type GetNotificationsResponse struct {
	Notifications []*models.Notification `json:"notifications"`
	Total         int                    `json:"total"`
}

// GetNotifications возвращает список уведомлений с фильтрацией
//
// GET /api/v1/notifications
//
// Query параметры:
// - types (string): фильтр по типам через запятую (OPEN,CLOSE,SL,TP,RISK,EMERGENCY,ERROR,SYSTEM)
// - limit (int): количество записей (по умолчанию 100, максимум 500)
//
// Примеры запросов:
// - GET /api/v1/notifications - все уведомления (последние 100)
// - GET /api/v1/notifications?types=SL,EMERGENCY,ERROR - только критические
// - GET /api/v1/notifications?types=OPEN,CLOSE&limit=20 - только сделки, 20 записей
//
// HTTP коды:
// - 200 OK: успешно, возвращает массив уведомлений
// - 500 Internal Server Error: ошибка сервера
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	typesParam := r.URL.Query().Get("types")
	limitParam := r.URL.Query().Get("limit")

	var types []string
	if typesParam != "" {
		for _, part := range strings.Split(typesParam, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				types = append(types, strings.ToUpper(trimmed))
			}
		}
	}

	limit := 100
	if limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
			if limit > 500 {
				limit = 500
			}
		}
	}

	var (
		notifications []*models.Notification
		err           error
	)
	if len(types) > 0 {
		notifications, err = h.repo.GetByTypes(types, limit)
	} else {
		notifications, err = h.repo.GetRecent(limit)
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to get notifications", err.Error())
		return
	}

	// Пустой список сериализуется как [], а не null
	if notifications == nil {
		notifications = []*models.Notification{}
	}

	respondWithJSON(w, http.StatusOK, GetNotificationsResponse{
		Notifications: notifications,
		Total:         len(notifications),
	})
}

// ClearNotifications очищает журнал уведомлений
//
// DELETE /api/v1/notifications
//
// Удаляет все уведомления из базы данных. Это действие необратимо.
//
// HTTP коды:
// - 200 OK: журнал успешно очищен
// - 500 Internal Server Error: ошибка при очистке
func (h *NotificationHandler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteAll(); err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to clear notifications", err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "notifications cleared successfully"})
}
