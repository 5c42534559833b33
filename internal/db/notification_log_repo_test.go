package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tubenotify/internal/types"
)

func TestNotificationLogRepository_Append(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationLogRepository(db)
	ctx := context.Background()
	created := time.Now().UTC()

	entry := &types.NotificationLog{
		Type:  types.NotificationNewVideo,
		Title: "New Video Available",
		Body:  "Civil Eng: Intro",
		Data: types.PushData{
			Type:    types.NotificationNewVideo,
			VideoID: "vid-1",
			Backend: "tube.example.com",
		},
		SentTo:     3,
		Successful: 2,
		Failed:     1,
	}

	db.On("QueryRow", ctx, sqlContains("INSERT INTO notification_logs", "RETURNING id::text, created_at"),
		mock.MatchedBy(func(args []any) bool {
			var data types.PushData
			if err := json.Unmarshal(args[3].([]byte), &data); err != nil {
				return false
			}
			return args[0] == "new_video" &&
				data.VideoID == "vid-1" &&
				args[4] == 3 && args[5] == 2 && args[6] == 1 &&
				args[7].(*time.Time) == nil
		}),
	).Return(rowOf("log-1", created))

	require.NoError(t, repo.Append(ctx, entry))
	assert.Equal(t, "log-1", entry.ID)
	assert.Equal(t, created, entry.CreatedAt)
	db.AssertExpectations(t)
}

func TestNotificationLogRepository_Append_Error(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationLogRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(&mockRow{scanErr: errors.New("read only")})

	err := repo.Append(ctx, &types.NotificationLog{Type: types.NotificationAnnouncement})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestNotificationLogRepository_ListRecent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationLogRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	db.On("Query", ctx, sqlContains("ORDER BY created_at DESC", "LIMIT $1"), []any{10}).
		Return(newMockRows([][]any{
			{"log-2", "announcement", "Maintenance", "Down at 5", []byte(`{"type":"announcement"}`), 4, 4, 0, now},
			{"log-1", "new_video", "New Video Available", "Intro", []byte(`{"type":"new_video","videoId":"vid-1"}`), 1, 0, 1, now},
		}), nil)

	logs, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, types.NotificationAnnouncement, logs[0].Type)
	assert.Equal(t, "vid-1", logs[1].Data.VideoID)
	assert.Equal(t, 1, logs[1].Failed)
}
