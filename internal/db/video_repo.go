package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"tubenotify/internal/types"
)

// VideoRepository is the notified-video ledger.
type VideoRepository struct {
	db DBTX
}

func NewVideoRepository(db DBTX) *VideoRepository {
	return &VideoRepository{db: db}
}

// SaveVideo records the first observation of a video. Existing rows are left
// untouched, including notified_at.
func (r *VideoRepository) SaveVideo(ctx context.Context, v *types.BackendVideo) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO videos (uuid, name, channel_name, published_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (uuid) DO NOTHING`,
		v.UUID,
		v.Name,
		nilIfEmpty(v.ChannelName),
		v.PublishedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save video", err)
	}
	return nil
}

// HasBeenNotified reports whether uuid has notified_at set. Unknown videos
// report false.
func (r *VideoRepository) HasBeenNotified(ctx context.Context, uuid string) (bool, error) {
	var notified bool
	err := r.db.QueryRow(ctx,
		`SELECT notified_at IS NOT NULL FROM videos WHERE uuid = $1`,
		uuid,
	).Scan(&notified)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to look up video", err)
	}
	return notified, nil
}

// MarkVideoNotified sets notified_at once; later calls keep the first stamp.
func (r *VideoRepository) MarkVideoNotified(ctx context.Context, uuid string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE videos SET notified_at = NOW() WHERE uuid = $1 AND notified_at IS NULL`,
		uuid,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark video notified", err)
	}
	return nil
}

// ListRecent returns up to limit ledger rows by publish time, newest first.
func (r *VideoRepository) ListRecent(ctx context.Context, limit int) ([]*types.Video, error) {
	rows, err := r.db.Query(ctx,
		`SELECT uuid, name, channel_name, published_at, notified_at, created_at
		 FROM videos
		 ORDER BY published_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list videos", err)
	}
	defer rows.Close()

	videos := make([]*types.Video, 0, limit)
	for rows.Next() {
		var v types.Video
		if err := rows.Scan(&v.UUID, &v.Name, &v.ChannelName, &v.PublishedAt, &v.NotifiedAt, &v.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan video row", err)
		}
		videos = append(videos, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating video rows", err)
	}
	return videos, nil
}
