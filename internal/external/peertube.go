package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"tubenotify/internal/types"
)

// Maximum page size accepted by the video listing endpoint.
const maxVideoPageSize = 100

// A cached token is refreshed this long before it actually expires.
const tokenExpiryMargin = time.Minute

// PeerTubeConfig configures a PeerTubeClient. BaseURL is the API root, e.g.
// https://tube.example.com/api/v1.
type PeerTubeConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret types.SecretString
	Username     string
	Password     types.SecretString
	Logger       *slog.Logger
}

// PeerTubeClient lists videos from a PeerTube-compatible backend using a
// password-grant bearer token that it caches until shortly before expiry.
type PeerTubeClient struct {
	base   *BaseClient
	cfg    PeerTubeConfig
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func NewPeerTubeClient(httpClient *http.Client, cfg PeerTubeConfig, opts ...BaseClientOption) *PeerTubeClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := NewBaseClient(
		httpClient,
		"peertube",
		types.ErrCodeUpstreamVideoAPI,
		DefaultRetryPolicy(),
		"TubeNotify/1.0",
		opts...,
	)
	return &PeerTubeClient{
		base:   base,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AccessToken returns a valid bearer token, fetching a new one when the
// cached token is missing or within a minute of expiry. Concurrent callers
// wait for a single refresh.
func (c *PeerTubeClient) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiry.Add(-tokenExpiryMargin)) {
		return c.token, nil
	}

	if c.cfg.ClientID == "" || c.cfg.ClientSecret.IsEmpty() || c.cfg.Username == "" || c.cfg.Password.IsEmpty() {
		return "", types.NewAppError(types.ErrCodeConfigMissingCredentials, "video backend OAuth credentials are not configured", nil)
	}

	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret.Unmask())
	form.Set("grant_type", "password")
	form.Set("response_type", "code")
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password.Unmask())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/users/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamVideoAPI, "failed to read token response", err)
	}
	if resp.StatusCode != http.StatusOK {
		code, msg := types.ErrCodeUpstreamVideoAPI, "video backend token request failed"
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			code, msg = types.ErrCodeUpstreamVideoAuth, "video backend rejected the OAuth credentials"
		}
		return "", types.NewAppError(code, msg,
			fmt.Errorf("token request returned %d: %s", resp.StatusCode, truncateBody(body, 200)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamVideoAPI, "failed to decode token response", err)
	}
	if tr.AccessToken == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamVideoAPI, "token response carried no access_token", nil)
	}

	c.token = tr.AccessToken
	c.expiry = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	c.logger.DebugContext(ctx, "video backend token refreshed", "expires_at", c.expiry)
	return c.token, nil
}

// invalidateToken drops the cached token so the next call fetches a new one.
func (c *PeerTubeClient) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.expiry = time.Time{}
	c.mu.Unlock()
}

type videoListResponse struct {
	Total int             `json:"total"`
	Data  []videoResource `json:"data"`
}

type videoResource struct {
	UUID        string    `json:"uuid"`
	Name        string    `json:"name"`
	PublishedAt time.Time `json:"publishedAt"`
	Privacy     struct {
		ID int `json:"id"`
	} `json:"privacy"`
	State struct {
		ID int `json:"id"`
	} `json:"state"`
	Channel *struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"channel"`
}

// FetchLatestVideos lists up to count videos, newest first. count is clamped
// to 1..100. A 401 drops the cached token and retries once with a fresh one.
func (c *PeerTubeClient) FetchLatestVideos(ctx context.Context, count int) ([]types.BackendVideo, error) {
	count = max(1, min(count, maxVideoPageSize))

	resp, err := c.listVideos(ctx, count)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.invalidateToken()
		if resp, err = c.listVideos(ctx, count); err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, types.NewAppError(types.ErrCodeUpstreamVideoAPI, "video listing failed",
			fmt.Errorf("video listing returned %d: %s", resp.StatusCode, truncateBody(body, 200)))
	}

	var list videoListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamVideoAPI, "failed to decode video listing", err)
	}

	videos := make([]types.BackendVideo, 0, len(list.Data))
	for _, v := range list.Data {
		bv := types.BackendVideo{
			UUID:        v.UUID,
			Name:        v.Name,
			PublishedAt: v.PublishedAt,
			Privacy:     types.VideoPrivacy(v.Privacy.ID),
			State:       types.VideoState(v.State.ID),
		}
		if v.Channel != nil {
			bv.ChannelName = v.Channel.DisplayName
			if bv.ChannelName == "" {
				bv.ChannelName = v.Channel.Name
			}
		}
		videos = append(videos, bv)
	}
	return videos, nil
}

func (c *PeerTubeClient) listVideos(ctx context.Context, count int) (*http.Response, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("start", "0")
	q.Set("count", strconv.Itoa(count))
	q.Set("sort", "-publishedAt")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/videos?"+q.Encode(), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build video listing request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return c.base.Do(req)
}
