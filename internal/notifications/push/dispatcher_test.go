package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tubenotify/internal/external"
	"tubenotify/internal/types"
)

type mockDevices struct {
	mock.Mock
}

func (m *mockDevices) ListActive(ctx context.Context, backend string) ([]*types.Device, error) {
	args := m.Called(ctx, backend)
	devs, _ := args.Get(0).([]*types.Device)
	return devs, args.Error(1)
}

func (m *mockDevices) RemoveByTokens(ctx context.Context, tokens []string) (int64, error) {
	args := m.Called(ctx, tokens)
	return int64(args.Int(0)), args.Error(1)
}

type mockLogs struct {
	mock.Mock
}

func (m *mockLogs) Append(ctx context.Context, l *types.NotificationLog) error {
	return m.Called(ctx, l).Error(0)
}

// fakeGateway answers each chunk through respond; nil respond accepts all.
type fakeGateway struct {
	chunks  [][]external.ExpoMessage
	respond func(chunk int, msgs []external.ExpoMessage) ([]external.ExpoTicket, error)
}

func (g *fakeGateway) SendChunk(_ context.Context, msgs []external.ExpoMessage) ([]external.ExpoTicket, error) {
	idx := len(g.chunks)
	g.chunks = append(g.chunks, msgs)
	if g.respond != nil {
		return g.respond(idx, msgs)
	}
	return okTickets(len(msgs)), nil
}

func okTickets(n int) []external.ExpoTicket {
	out := make([]external.ExpoTicket, n)
	for i := range out {
		out[i].Status = "ok"
	}
	return out
}

type recordedMetrics struct {
	kind   types.NotificationType
	result types.DispatchResult
	pruned int
	calls  int
}

func (r *recordedMetrics) RecordDispatch(_ context.Context, kind types.NotificationType, result types.DispatchResult, pruned int) {
	r.kind, r.result, r.pruned = kind, result, pruned
	r.calls++
}

func devicesWithTokens(tokens ...string) []*types.Device {
	out := make([]*types.Device, len(tokens))
	for i, tok := range tokens {
		out[i] = &types.Device{ID: fmt.Sprintf("d-%d", i), ExpoPushToken: tok, Backend: "tube.example.com", IsActive: true}
	}
	return out
}

func newTestDispatcher(devs *mockDevices, logs *mockLogs, gw Gateway, m Metrics) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Devices: devs,
		Logs:    logs,
		Gateway: gw,
		Metrics: m,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestSendPushNotifications_NoDevices(t *testing.T) {
	devs, logs, gw := new(mockDevices), new(mockLogs), &fakeGateway{}
	devs.On("ListActive", mock.Anything, "tube.example.com").Return(nil, nil)

	res, err := newTestDispatcher(devs, logs, gw, nil).
		SendAnnouncementNotification(context.Background(), "Hi", "there", "tube.example.com")

	require.NoError(t, err)
	assert.Equal(t, types.DispatchResult{}, res)
	assert.Empty(t, gw.chunks, "gateway must not be contacted")
	logs.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestSendPushNotifications_NoValidTokens(t *testing.T) {
	devs, logs, gw := new(mockDevices), new(mockLogs), &fakeGateway{}
	devs.On("ListActive", mock.Anything, "").Return(devicesWithTokens("garbage", "fcm:123"), nil)

	res, err := newTestDispatcher(devs, logs, gw, nil).
		SendAnnouncementNotification(context.Background(), "Hi", "there", "")

	require.NoError(t, err)
	assert.Equal(t, types.DispatchResult{}, res)
	assert.Empty(t, gw.chunks)
	logs.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestSendPushNotifications_PrunesPermanentFailures(t *testing.T) {
	devs, logs := new(mockDevices), new(mockLogs)
	devs.On("ListActive", mock.Anything, "tube.example.com").
		Return(devicesWithTokens("ExponentPushToken[a]", "ExponentPushToken[dead]", "not-a-token", "ExpoPushToken[creds]", "ExponentPushToken[rate]"), nil)
	devs.On("RemoveByTokens", mock.Anything, []string{"ExponentPushToken[dead]", "ExpoPushToken[creds]"}).Return(2, nil)

	var logged *types.NotificationLog
	logs.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		logged = args.Get(1).(*types.NotificationLog)
	}).Return(nil)

	gw := &fakeGateway{respond: func(_ int, msgs []external.ExpoMessage) ([]external.ExpoTicket, error) {
		tickets := okTickets(len(msgs))
		for i, m := range msgs {
			switch m.To {
			case "ExponentPushToken[dead]":
				tickets[i].Status = "error"
				tickets[i].Details.Error = external.ExpoErrDeviceNotRegistered
			case "ExpoPushToken[creds]":
				tickets[i].Status = "error"
				tickets[i].Details.Error = external.ExpoErrInvalidCredentials
			case "ExponentPushToken[rate]":
				tickets[i].Status = "error"
				tickets[i].Details.Error = "MessageRateExceeded"
			}
		}
		return tickets, nil
	}}
	metrics := &recordedMetrics{}

	res, err := newTestDispatcher(devs, logs, gw, metrics).SendNewVideoNotification(context.Background(), types.NewVideoEvent{
		VideoID:     "vid-1",
		VideoTitle:  "Intro",
		ChannelName: "Civil Eng",
		Backend:     "tube.example.com",
	})

	require.NoError(t, err)
	assert.Equal(t, types.DispatchResult{Successful: 1, Failed: 3}, res)
	devs.AssertExpectations(t)

	require.Len(t, gw.chunks, 1)
	require.Len(t, gw.chunks[0], 4, "malformed token is filtered before sending")
	msg := gw.chunks[0][0]
	assert.Equal(t, NewVideoTitle, msg.Title)
	assert.Equal(t, "Civil Eng: Intro", msg.Body)
	assert.Equal(t, "high", msg.Priority)
	assert.Equal(t, "default", msg.Sound)
	assert.Equal(t, types.PushData{
		Type:        types.NotificationNewVideo,
		VideoID:     "vid-1",
		VideoTitle:  "Intro",
		ChannelName: "Civil Eng",
		Backend:     "tube.example.com",
	}, msg.Data)

	require.NotNil(t, logged)
	assert.Equal(t, types.NotificationNewVideo, logged.Type)
	assert.Equal(t, 4, logged.SentTo)
	assert.Equal(t, 1, logged.Successful)
	assert.Equal(t, 3, logged.Failed)

	assert.Equal(t, 1, metrics.calls)
	assert.Equal(t, 2, metrics.pruned)
}

func TestSendPushNotifications_ChunkFailureFailsWholeChunk(t *testing.T) {
	tokens := make([]string, 230)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("ExponentPushToken[%03d]", i)
	}
	devs, logs := new(mockDevices), new(mockLogs)
	devs.On("ListActive", mock.Anything, "").Return(devicesWithTokens(tokens...), nil)
	logs.On("Append", mock.Anything, mock.MatchedBy(func(l *types.NotificationLog) bool {
		return l.SentTo == 230 && l.Successful == 130 && l.Failed == 100
	})).Return(nil)

	gw := &fakeGateway{respond: func(chunk int, msgs []external.ExpoMessage) ([]external.ExpoTicket, error) {
		if chunk == 1 {
			return nil, types.NewAppError(types.ErrCodeUpstreamPushGateway, "connection reset", nil)
		}
		return okTickets(len(msgs)), nil
	}}

	res, err := newTestDispatcher(devs, logs, gw, nil).
		SendAnnouncementNotification(context.Background(), "Maintenance", "Down at 5", "")

	require.NoError(t, err)
	assert.Equal(t, types.DispatchResult{Successful: 130, Failed: 100}, res)
	require.Len(t, gw.chunks, 3)
	assert.Len(t, gw.chunks[0], 100)
	assert.Len(t, gw.chunks[2], 30)
	devs.AssertNotCalled(t, "RemoveByTokens", mock.Anything, mock.Anything)
	logs.AssertExpectations(t)
}

func TestSendPushNotifications_ListError(t *testing.T) {
	devs, logs, gw := new(mockDevices), new(mockLogs), &fakeGateway{}
	dbErr := types.NewAppError(types.ErrCodeInternalDB, "failed to list devices", errors.New("timeout"))
	devs.On("ListActive", mock.Anything, "").Return(nil, dbErr)

	_, err := newTestDispatcher(devs, logs, gw, nil).
		SendAnnouncementNotification(context.Background(), "a", "b", "")

	assert.ErrorIs(t, err, dbErr)
	assert.Empty(t, gw.chunks)
}

func TestSendPushNotifications_LogFailureReturnedWithCounts(t *testing.T) {
	devs, logs, gw := new(mockDevices), new(mockLogs), &fakeGateway{}
	devs.On("ListActive", mock.Anything, "").Return(devicesWithTokens("ExponentPushToken[a]"), nil)
	logErr := errors.New("read-only transaction")
	logs.On("Append", mock.Anything, mock.Anything).Return(logErr)

	res, err := newTestDispatcher(devs, logs, gw, nil).
		SendAnnouncementNotification(context.Background(), "a", "b", "")

	assert.ErrorIs(t, err, logErr)
	assert.Equal(t, types.DispatchResult{Successful: 1}, res)
}

func TestSendPushNotifications_PruneFailureIsNotFatal(t *testing.T) {
	devs, logs := new(mockDevices), new(mockLogs)
	devs.On("ListActive", mock.Anything, "").Return(devicesWithTokens("ExponentPushToken[dead]"), nil)
	devs.On("RemoveByTokens", mock.Anything, mock.Anything).Return(0, errors.New("deadlock"))
	logs.On("Append", mock.Anything, mock.Anything).Return(nil)

	gw := &fakeGateway{respond: func(_ int, msgs []external.ExpoMessage) ([]external.ExpoTicket, error) {
		t := okTickets(len(msgs))
		t[0].Status = "error"
		t[0].Details.Error = external.ExpoErrDeviceNotRegistered
		return t, nil
	}}

	res, err := newTestDispatcher(devs, logs, gw, nil).
		SendAnnouncementNotification(context.Background(), "a", "b", "")

	require.NoError(t, err)
	assert.Equal(t, types.DispatchResult{Failed: 1}, res)
	logs.AssertExpectations(t)
}

func TestSendNewVideoNotification_BodyWithoutChannel(t *testing.T) {
	devs, logs, gw := new(mockDevices), new(mockLogs), &fakeGateway{}
	devs.On("ListActive", mock.Anything, "b").Return(devicesWithTokens("ExponentPushToken[a]"), nil)
	logs.On("Append", mock.Anything, mock.Anything).Return(nil)

	_, err := newTestDispatcher(devs, logs, gw, nil).SendNewVideoNotification(context.Background(), types.NewVideoEvent{
		VideoID: "v", VideoTitle: "Solo Title", Backend: "b",
	})
	require.NoError(t, err)
	assert.Equal(t, "Solo Title", gw.chunks[0][0].Body)
}

func TestTruncateToken(t *testing.T) {
	assert.Equal(t, "short", TruncateToken("short"))
	assert.Equal(t, "ExponentPushToken[ab...", TruncateToken("ExponentPushToken[abcdefgh]"))
}
