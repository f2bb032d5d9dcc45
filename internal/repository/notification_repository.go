package repository

import (
	"database/sql"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"dcabot/internal/models"
)

// ErrNotificationNotFound возвращается, если уведомление не найдено
var ErrNotificationNotFound = errors.New("notification not found")

// NotificationRepository - журнал уведомлений. Каждое событие, ушедшее
// через websocket-хаб, также записывается сюда для истории.
type NotificationRepository struct {
	db   *sql.DB
	json jsoniter.API
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{
		db:   db,
		json: jsoniter.ConfigCompatibleWithStandardLibrary,
	}
}

// Create сохраняет уведомление в журнале
func (r *NotificationRepository) Create(n *models.Notification) error {
	query := `
		INSERT INTO notifications (timestamp, type, severity, user_id, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	var meta []byte
	if n.Meta != nil {
		var err error
		meta, err = r.json.Marshal(n.Meta)
		if err != nil {
			return err
		}
	}

	return r.db.QueryRow(
		query,
		n.Timestamp,
		n.Type,
		n.Severity,
		nullInt64(n.UserID),
		n.Message,
		nullBytes(meta),
	).Scan(&n.ID)
}

// GetRecent возвращает последние уведомления, новые первыми
func (r *NotificationRepository) GetRecent(limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, user_id, message, meta
		FROM notifications
		ORDER BY timestamp DESC
		LIMIT $1`

	return r.queryNotifications(query, limit)
}

// GetRecentForUser возвращает последние уведомления пользователя
func (r *NotificationRepository) GetRecentForUser(userID int64, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, user_id, message, meta
		FROM notifications
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	return r.queryNotifications(query, userID, limit)
}

// DeleteOld удаляет уведомления старше указанного времени.
// Возвращает число удалённых строк.
func (r *NotificationRepository) DeleteOld(before time.Time) (int64, error) {
	query := `DELETE FROM notifications WHERE timestamp < $1`

	result, err := r.db.Exec(query, before)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (r *NotificationRepository) queryNotifications(query string, args ...interface{}) ([]*models.Notification, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var userID sql.NullInt64
		var meta []byte

		err := rows.Scan(&n.ID, &n.Timestamp, &n.Type, &n.Severity, &userID, &n.Message, &meta)
		if err != nil {
			return nil, err
		}

		if userID.Valid {
			n.UserID = &userID.Int64
		}
		if len(meta) > 0 {
			if err := r.json.Unmarshal(meta, &n.Meta); err != nil {
				return nil, err
			}
		}

		notifications = append(notifications, n)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return notifications, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
