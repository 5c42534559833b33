package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"tubenotify/internal/types"
)

const (
	DefaultExpoPushURL = "https://exp.host/--/api/v2/push/send"

	// ExpoChunkSize is the most messages the gateway accepts per request.
	ExpoChunkSize = 100

	// Bodies above this size are gzip-compressed.
	expoGzipThreshold = 1024
)

// Ticket errors that mean the token will never work again.
const (
	ExpoErrDeviceNotRegistered = "DeviceNotRegistered"
	ExpoErrInvalidCredentials  = "InvalidCredentials"
)

// ExpoMessage is one entry of a push send request.
type ExpoMessage struct {
	To       string         `json:"to"`
	Title    string         `json:"title,omitempty"`
	Body     string         `json:"body"`
	Data     types.PushData `json:"data"`
	Sound    string         `json:"sound,omitempty"`
	Priority string         `json:"priority,omitempty"`
}

// ExpoTicket is the gateway's per-message answer, in request order.
type ExpoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details,omitempty"`
}

// OK reports whether the gateway accepted the message.
func (t ExpoTicket) OK() bool { return t.Status == "ok" }

// PermanentFailure reports whether the ticket says the token must be dropped.
func (t ExpoTicket) PermanentFailure() bool {
	return t.Details.Error == ExpoErrDeviceNotRegistered || t.Details.Error == ExpoErrInvalidCredentials
}

type expoSendResponse struct {
	Data   []ExpoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// IsExpoPushToken reports whether token has a shape the gateway accepts:
// ExponentPushToken[...], ExpoPushToken[...] or a bare UUID.
func IsExpoPushToken(token string) bool {
	for _, prefix := range []string{"ExponentPushToken[", "ExpoPushToken["} {
		if strings.HasPrefix(token, prefix) && strings.HasSuffix(token, "]") && len(token) > len(prefix)+1 {
			return true
		}
	}
	if len(token) != 36 {
		return false
	}
	_, err := uuid.Parse(token)
	return err == nil
}

// ChunkMessages splits msgs into consecutive slices of at most size entries.
func ChunkMessages(msgs []ExpoMessage, size int) [][]ExpoMessage {
	if size <= 0 {
		size = ExpoChunkSize
	}
	chunks := make([][]ExpoMessage, 0, (len(msgs)+size-1)/size)
	for start := 0; start < len(msgs); start += size {
		chunks = append(chunks, msgs[start:min(start+size, len(msgs))])
	}
	return chunks
}

type ExpoConfig struct {
	URL         string
	AccessToken types.SecretString
	Logger      *slog.Logger
}

// ExpoClient sends message batches to the Expo push gateway.
type ExpoClient struct {
	base   *BaseClient
	url    string
	token  types.SecretString
	logger *slog.Logger
}

func NewExpoClient(httpClient *http.Client, cfg ExpoConfig, opts ...BaseClientOption) *ExpoClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	target := cfg.URL
	if target == "" {
		target = DefaultExpoPushURL
	}

	// A replayed send can deliver twice, so only throttling is retried.
	opts = append([]BaseClientOption{WithRetryable(func(r *http.Response) bool {
		return r.StatusCode == http.StatusTooManyRequests
	})}, opts...)

	return &ExpoClient{
		base: NewBaseClient(
			httpClient,
			"expo-push",
			types.ErrCodeUpstreamPushGateway,
			RetryPolicy{MaxRetries: 2, MinWait: time.Second, MaxWait: 15 * time.Second},
			"TubeNotify/1.0",
			opts...,
		),
		url:    target,
		token:  cfg.AccessToken,
		logger: logger,
	}
}

// SendChunk posts one batch and returns one ticket per message, in order.
// Any transport failure, non-200 status, request-level error or ticket count
// mismatch is returned as an error and the caller counts the whole chunk as
// failed.
func (c *ExpoClient) SendChunk(ctx context.Context, msgs []ExpoMessage) ([]ExpoTicket, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	if len(msgs) > ExpoChunkSize {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("chunk of %d messages exceeds gateway limit of %d", len(msgs), ExpoChunkSize), nil)
	}

	payload, err := json.Marshal(msgs)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode push messages", err)
	}

	compressed := len(payload) > expoGzipThreshold
	if compressed {
		if payload, err = gzipBytes(payload); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to compress push messages", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build push request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if !c.token.IsEmpty() {
		req.Header.Set("Authorization", "Bearer "+c.token.Unmask())
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readMaybeGzip(resp)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPushGateway, "failed to read push response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(types.ErrCodeUpstreamPushGateway, "push gateway request failed",
			fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, truncateBody(body, 200)))
	}

	var out expoSendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPushGateway, "failed to decode push response", err)
	}
	if len(out.Errors) > 0 {
		return nil, types.NewAppError(types.ErrCodeUpstreamPushGateway, "push gateway rejected request",
			fmt.Errorf("%s: %s", out.Errors[0].Code, out.Errors[0].Message))
	}
	if len(out.Data) != len(msgs) {
		return nil, types.NewAppError(types.ErrCodeUpstreamPushGateway,
			fmt.Sprintf("push gateway returned %d tickets for %d messages", len(out.Data), len(msgs)), nil)
	}
	return out.Data, nil
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readMaybeGzip reads the body, inflating it when the server set
// Content-Encoding itself (the transport only does so when it asked).
func readMaybeGzip(resp *http.Response) ([]byte, error) {
	r := io.LimitReader(resp.Body, 4<<20)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return io.ReadAll(r)
}
