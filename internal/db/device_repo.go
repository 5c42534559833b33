package db

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"tubenotify/internal/types"
)

// DeviceRepository stores push registrations in the devices table.
type DeviceRepository struct {
	db DBTX
}

func NewDeviceRepository(db DBTX) *DeviceRepository {
	return &DeviceRepository{db: db}
}

const deviceColumns = `id::text, expo_push_token, user_id, username, backend, platform, device_id, is_active, created_at, updated_at`

// Register upserts by push token. A known token is reactivated and its
// metadata replaced; optional fields left nil keep the stored value.
func (r *DeviceRepository) Register(ctx context.Context, reg *types.DeviceRegistration) (*types.Device, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO devices (expo_push_token, user_id, username, backend, platform, device_id, is_active)
		 VALUES ($1, $2, $3, $4, COALESCE($5, 'unknown'), $6, TRUE)
		 ON CONFLICT (expo_push_token) DO UPDATE SET
		   user_id    = COALESCE(EXCLUDED.user_id, devices.user_id),
		   username   = COALESCE(EXCLUDED.username, devices.username),
		   backend    = EXCLUDED.backend,
		   platform   = EXCLUDED.platform,
		   device_id  = COALESCE(EXCLUDED.device_id, devices.device_id),
		   is_active  = TRUE,
		   updated_at = NOW()
		 RETURNING `+deviceColumns,
		reg.ExpoPushToken,
		reg.UserID,
		reg.Username,
		reg.Backend,
		nilIfEmpty(reg.Platform),
		reg.DeviceID,
	)

	var d types.Device
	if err := scanDevice(row, &d); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to register device", err)
	}
	return &d, nil
}

// Unregister deactivates the row for token. Unknown tokens are not an error.
func (r *DeviceRepository) Unregister(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE devices SET is_active = FALSE, updated_at = NOW() WHERE expo_push_token = $1`,
		token,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to unregister device", err)
	}
	return nil
}

// ListActive returns active registrations, newest first. An empty backend
// returns devices of every backend.
func (r *DeviceRepository) ListActive(ctx context.Context, backend string) ([]*types.Device, error) {
	q := psql.Select(deviceColumns).
		From("devices").
		Where(sq.Eq{"is_active": true}).
		OrderBy("created_at DESC")
	if backend != "" {
		q = q.Where(sq.Eq{"backend": backend})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to build device query", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list devices", err)
	}
	defer rows.Close()

	var devices []*types.Device
	for rows.Next() {
		var d types.Device
		if err := scanDevice(rows, &d); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan device row", err)
		}
		devices = append(devices, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating device rows", err)
	}
	return devices, nil
}

// RemoveByTokens hard-deletes the given tokens. It is only called with tokens
// the push gateway reported as permanently invalid.
func (r *DeviceRepository) RemoveByTokens(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM devices WHERE expo_push_token = ANY($1)`,
		tokens,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to remove invalid tokens", err)
	}
	return tag.RowsAffected(), nil
}

// CountActive returns the number of active registrations across backends.
func (r *DeviceRepository) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM devices WHERE is_active`).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count devices", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner, d *types.Device) error {
	return s.Scan(
		&d.ID,
		&d.ExpoPushToken,
		&d.UserID,
		&d.Username,
		&d.Backend,
		&d.Platform,
		&d.DeviceID,
		&d.IsActive,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
}
