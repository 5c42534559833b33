package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubenotify/internal/types"
)

func TestIsExpoPushToken(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"ExponentPushToken[xyz]", true},
		{"ExpoPushToken[abc123]", true},
		{"2b8c7ac5-5d5b-4b0b-9e52-2a2a6a3b9d11", true},
		{"ExponentPushToken[]", false},
		{"ExponentPushToken[xyz", false},
		{"fcm:abcdef", false},
		{"", false},
		{"2b8c7ac55d5b4b0b9e522a2a6a3b9d11", false},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpoPushToken(tt.token))
		})
	}
}

func TestChunkMessages(t *testing.T) {
	msgs := make([]ExpoMessage, 250)
	chunks := ChunkMessages(msgs, ExpoChunkSize)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[1], 100)
	assert.Len(t, chunks[2], 50)

	assert.Empty(t, ChunkMessages(nil, ExpoChunkSize))
	assert.Len(t, ChunkMessages(make([]ExpoMessage, 100), ExpoChunkSize), 1)
}

func msgsFor(n int) []ExpoMessage {
	out := make([]ExpoMessage, n)
	for i := range out {
		out[i] = ExpoMessage{
			To:       fmt.Sprintf("ExponentPushToken[%d]", i),
			Title:    "New Video Available",
			Body:     "Civil Eng: Intro",
			Data:     types.PushData{Type: types.NotificationNewVideo, VideoID: "vid-1"},
			Sound:    "default",
			Priority: "high",
		}
	}
	return out
}

func newTestExpo(t *testing.T, h http.HandlerFunc, token types.SecretString) *ExpoClient {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return NewExpoClient(&http.Client{Timeout: 5 * time.Second}, ExpoConfig{URL: server.URL, AccessToken: token}, WithSleepFunc(noopSleep))
}

func decodeRequest(t *testing.T, r *http.Request) []ExpoMessage {
	t.Helper()
	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Errorf("gzip reader: %v", err)
			return nil
		}
		defer zr.Close()
		body = zr
	}
	var msgs []ExpoMessage
	if err := json.NewDecoder(body).Decode(&msgs); err != nil {
		t.Errorf("decode: %v", err)
	}
	return msgs
}

func TestSendChunk_TicketsInOrder(t *testing.T) {
	var (
		gotAuth     string
		gotEncoding string
		gotAccept   string
		gotMsgs     []ExpoMessage
	)
	client := newTestExpo(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept-Encoding")
		gotEncoding = r.Header.Get("Content-Encoding")
		gotMsgs = decodeRequest(t, r)
		w.Write([]byte(`{"data":[
			{"status":"ok","id":"t-1"},
			{"status":"error","message":"not registered","details":{"error":"DeviceNotRegistered"}}
		]}`))
	}, "expo-secret")

	tickets, err := client.SendChunk(context.Background(), msgsFor(2))
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.True(t, tickets[0].OK())
	assert.False(t, tickets[1].OK())
	assert.True(t, tickets[1].PermanentFailure())

	assert.Equal(t, "Bearer expo-secret", gotAuth)
	assert.Empty(t, gotEncoding, "small payloads are sent uncompressed")
	assert.Equal(t, "gzip", gotAccept, "only encodings the client can inflate are advertised")
	require.Len(t, gotMsgs, 2)
	assert.Equal(t, "high", gotMsgs[0].Priority)
	assert.Equal(t, "default", gotMsgs[0].Sound)
	assert.Equal(t, "vid-1", gotMsgs[1].Data.VideoID)
}

func TestSendChunk_LargePayloadGzipped(t *testing.T) {
	var gotEncoding string
	var gotCount int
	client := newTestExpo(t, func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		msgs := decodeRequest(t, r)
		gotCount = len(msgs)
		resp := struct {
			Data []ExpoTicket `json:"data"`
		}{Data: make([]ExpoTicket, len(msgs))}
		for i := range resp.Data {
			resp.Data[i].Status = "ok"
		}
		json.NewEncoder(w).Encode(resp)
	}, "")

	tickets, err := client.SendChunk(context.Background(), msgsFor(100))
	require.NoError(t, err)
	assert.Len(t, tickets, 100)
	assert.Equal(t, "gzip", gotEncoding)
	assert.Equal(t, 100, gotCount)
}

func TestSendChunk_NoAuthHeaderWithoutToken(t *testing.T) {
	var gotAuth string
	client := newTestExpo(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"data":[{"status":"ok"}]}`))
	}, "")

	_, err := client.SendChunk(context.Background(), msgsFor(1))
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestSendChunk_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `oops`},
		{"request errors", http.StatusOK, `{"errors":[{"code":"PUSH_TOO_MANY_EXPERIENCE_IDS","message":"mixed projects"}]}`},
		{"ticket count mismatch", http.StatusOK, `{"data":[{"status":"ok"}]}`},
		{"malformed json", http.StatusOK, `{"data":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestExpo(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, "")

			_, err := client.SendChunk(context.Background(), msgsFor(2))
			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, types.ErrCodeUpstreamPushGateway, appErr.Code)
		})
	}
}

func TestSendChunk_ServerErrorNotReplayed(t *testing.T) {
	var calls atomic.Int32
	client := newTestExpo(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, "")

	_, err := client.SendChunk(context.Background(), msgsFor(1))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendChunk_ThrottleRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestExpo(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data":[{"status":"ok"}]}`))
	}, "")

	tickets, err := client.SendChunk(context.Background(), msgsFor(1))
	require.NoError(t, err)
	assert.Len(t, tickets, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendChunk_RejectsOversizedChunk(t *testing.T) {
	client := NewExpoClient(http.DefaultClient, ExpoConfig{URL: "http://127.0.0.1:1"})
	_, err := client.SendChunk(context.Background(), msgsFor(101))
	require.Error(t, err)
}
