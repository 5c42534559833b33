// Package push turns new-video and announcement events into Expo push
// messages for every active device of a backend, sends them in gateway-sized
// chunks and keeps the device registry free of dead tokens.
package push

import (
	"context"
	"log/slog"

	"tubenotify/internal/external"
	"tubenotify/internal/types"
)

// NewVideoTitle is the alert title of every new-video notification.
const NewVideoTitle = "New Video Available"

// DeviceStore is the slice of the device registry the dispatcher needs.
type DeviceStore interface {
	ListActive(ctx context.Context, backend string) ([]*types.Device, error)
	RemoveByTokens(ctx context.Context, tokens []string) (int64, error)
}

// LogStore appends notification log rows.
type LogStore interface {
	Append(ctx context.Context, l *types.NotificationLog) error
}

// Gateway sends one chunk of messages and returns a ticket per message.
type Gateway interface {
	SendChunk(ctx context.Context, msgs []external.ExpoMessage) ([]external.ExpoTicket, error)
}

type DispatcherConfig struct {
	Devices DeviceStore
	Logs    LogStore
	Gateway Gateway
	Metrics Metrics
	Logger  *slog.Logger
	// ChunkSize defaults to the gateway maximum.
	ChunkSize int
}

type Dispatcher struct {
	devices   DeviceStore
	logs      LogStore
	gateway   Gateway
	metrics   Metrics
	logger    *slog.Logger
	chunkSize int
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		devices:   cfg.Devices,
		logs:      cfg.Logs,
		gateway:   cfg.Gateway,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		chunkSize: cfg.ChunkSize,
	}
	if d.metrics == nil {
		d.metrics = NoopMetrics{}
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.chunkSize <= 0 || d.chunkSize > external.ExpoChunkSize {
		d.chunkSize = external.ExpoChunkSize
	}
	return d
}

// SendPushNotifications delivers payload to every active device of backend
// (all backends when empty).
//
// No devices, or no token with a valid shape, returns zero counts without
// contacting the gateway or writing a log row. Otherwise every chunk is sent
// in turn, each ticket is counted, tokens the gateway calls permanently
// invalid are deleted, and one log row is appended. A chunk that fails as a
// whole counts all of its tokens as failed. The returned error is non-nil only
// for registry or log persistence failures; the counts are valid either way.
func (d *Dispatcher) SendPushNotifications(ctx context.Context, payload types.PushPayload, backend string) (types.DispatchResult, error) {
	var result types.DispatchResult

	devices, err := d.devices.ListActive(ctx, backend)
	if err != nil {
		return result, err
	}
	if len(devices) == 0 {
		d.logger.InfoContext(ctx, "no active devices", "backend", backend)
		return result, nil
	}

	tokens := make([]string, 0, len(devices))
	for _, dev := range devices {
		if external.IsExpoPushToken(dev.ExpoPushToken) {
			tokens = append(tokens, dev.ExpoPushToken)
		} else {
			d.logger.WarnContext(ctx, "skipping malformed push token", "token", TruncateToken(dev.ExpoPushToken))
		}
	}
	if len(tokens) == 0 {
		d.logger.InfoContext(ctx, "no valid push tokens", "backend", backend, "devices", len(devices))
		return result, nil
	}

	msgs := make([]external.ExpoMessage, len(tokens))
	for i, tok := range tokens {
		msgs[i] = external.ExpoMessage{
			To:       tok,
			Title:    payload.Title,
			Body:     payload.Body,
			Data:     payload.Data,
			Sound:    "default",
			Priority: "high",
		}
	}

	var invalid []string
	for i, chunk := range external.ChunkMessages(msgs, d.chunkSize) {
		tickets, err := d.gateway.SendChunk(ctx, chunk)
		if err != nil {
			result.Failed += len(chunk)
			d.logger.ErrorContext(ctx, "push chunk failed",
				"chunk", i,
				"size", len(chunk),
				"error", err,
			)
			continue
		}
		for j, ticket := range tickets {
			if ticket.OK() {
				result.Successful++
				continue
			}
			result.Failed++
			if ticket.PermanentFailure() {
				invalid = append(invalid, chunk[j].To)
			}
			d.logger.DebugContext(ctx, "push ticket error",
				"token", TruncateToken(chunk[j].To),
				"error", ticket.Details.Error,
				"message", ticket.Message,
			)
		}
	}

	var pruned int64
	if len(invalid) > 0 {
		if pruned, err = d.devices.RemoveByTokens(ctx, invalid); err != nil {
			d.logger.ErrorContext(ctx, "failed to prune invalid tokens", "count", len(invalid), "error", err)
		} else {
			d.logger.InfoContext(ctx, "pruned invalid tokens", "count", pruned)
		}
	}

	d.metrics.RecordDispatch(ctx, payload.Data.Type, result, int(pruned))

	logErr := d.logs.Append(ctx, &types.NotificationLog{
		Type:       payload.Data.Type,
		Title:      payload.Title,
		Body:       payload.Body,
		Data:       payload.Data,
		SentTo:     len(tokens),
		Successful: result.Successful,
		Failed:     result.Failed,
	})
	if logErr != nil {
		d.logger.ErrorContext(ctx, "failed to append notification log", "error", logErr)
	}

	d.logger.InfoContext(ctx, "push dispatch finished",
		"type", payload.Data.Type,
		"backend", backend,
		"sent_to", len(tokens),
		"successful", result.Successful,
		"failed", result.Failed,
	)
	return result, logErr
}

// SendNewVideoNotification announces one video to the devices of its backend.
func (d *Dispatcher) SendNewVideoNotification(ctx context.Context, ev types.NewVideoEvent) (types.DispatchResult, error) {
	body := ev.VideoTitle
	if ev.ChannelName != "" {
		body = ev.ChannelName + ": " + ev.VideoTitle
	}
	return d.SendPushNotifications(ctx, types.PushPayload{
		Title: NewVideoTitle,
		Body:  body,
		Data: types.PushData{
			Type:        types.NotificationNewVideo,
			VideoID:     ev.VideoID,
			VideoTitle:  ev.VideoTitle,
			ChannelName: ev.ChannelName,
			Backend:     ev.Backend,
		},
	}, ev.Backend)
}

// SendAnnouncementNotification sends a free-form alert, optionally scoped to
// one backend.
func (d *Dispatcher) SendAnnouncementNotification(ctx context.Context, title, message, backend string) (types.DispatchResult, error) {
	return d.SendPushNotifications(ctx, types.PushPayload{
		Title: title,
		Body:  message,
		Data: types.PushData{
			Type:    types.NotificationAnnouncement,
			Backend: backend,
		},
	}, backend)
}

// TruncateToken shortens a push token for logs.
func TruncateToken(tok string) string {
	if len(tok) <= 20 {
		return tok
	}
	return tok[:20] + "..."
}
