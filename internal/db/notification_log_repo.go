package db

import (
	"context"
	"encoding/json"

	"tubenotify/internal/types"
)

// NotificationLogRepository appends to and reads the notification_logs table.
type NotificationLogRepository struct {
	db DBTX
}

func NewNotificationLogRepository(db DBTX) *NotificationLogRepository {
	return &NotificationLogRepository{db: db}
}

// Append inserts one row and fills in the generated ID and CreatedAt.
func (r *NotificationLogRepository) Append(ctx context.Context, l *types.NotificationLog) error {
	data, err := json.Marshal(l.Data)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode notification data", err)
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO notification_logs (type, title, body, data, sent_to, successful, failed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))
		 RETURNING id::text, created_at`,
		string(l.Type),
		l.Title,
		l.Body,
		data,
		l.SentTo,
		l.Successful,
		l.Failed,
		nilIfZeroTime(l.CreatedAt),
	)
	if err := row.Scan(&l.ID, &l.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append notification log", err)
	}
	return nil
}

// ListRecent returns up to limit rows, newest first.
func (r *NotificationLogRepository) ListRecent(ctx context.Context, limit int) ([]*types.NotificationLog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id::text, type, title, body, data, sent_to, successful, failed, created_at
		 FROM notification_logs
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list notification logs", err)
	}
	defer rows.Close()

	logs := make([]*types.NotificationLog, 0, limit)
	for rows.Next() {
		var (
			l       types.NotificationLog
			logType string
			data    []byte
		)
		if err := rows.Scan(&l.ID, &logType, &l.Title, &l.Body, &data, &l.SentTo, &l.Successful, &l.Failed, &l.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification log row", err)
		}
		l.Type = types.NotificationType(logType)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &l.Data); err != nil {
				return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode notification data", err)
			}
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating notification log rows", err)
	}
	return logs, nil
}
