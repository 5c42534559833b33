package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"tubenotify/internal/core"
	"tubenotify/internal/scheduler"
	"tubenotify/internal/types"
)

// statsWindow is how many recent log rows and videos the stats route returns.
const statsWindow = 10

// Notifier sends admin-triggered pushes.
type Notifier interface {
	SendAnnouncementNotification(ctx context.Context, title, message, backend string) (types.DispatchResult, error)
	SendNewVideoNotification(ctx context.Context, ev types.NewVideoEvent) (types.DispatchResult, error)
}

// PollRunner runs one poll cycle on demand.
type PollRunner interface {
	RunOnce(ctx context.Context) (scheduler.CheckResult, error)
}

// DeviceLister reads the active part of the device registry.
type DeviceLister interface {
	ListActive(ctx context.Context, backend string) ([]*types.Device, error)
	CountActive(ctx context.Context) (int, error)
}

type NotificationLogReader interface {
	ListRecent(ctx context.Context, limit int) ([]*types.NotificationLog, error)
}

type VideoReader interface {
	ListRecent(ctx context.Context, limit int) ([]*types.Video, error)
}

// NotifyRequest is the body of POST /api/admin/notify.
type NotifyRequest struct {
	Title   string `json:"title" validate:"required"`
	Message string `json:"message" validate:"required"`
	Backend string `json:"backend,omitempty"`
}

// NotifyVideoRequest is the body of POST /api/admin/notify-video.
type NotifyVideoRequest struct {
	VideoID     string `json:"videoId" validate:"required"`
	VideoTitle  string `json:"videoTitle" validate:"required"`
	ChannelName string `json:"channelName,omitempty"`
	Backend     string `json:"backend,omitempty"`
}

type dispatchResponse struct {
	Success    bool `json:"success"`
	Successful int  `json:"successful"`
	Failed     int  `json:"failed"`
}

type checkVideosResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Result  scheduler.CheckResult `json:"result"`
}

type adminDevice struct {
	ID        string    `json:"id"`
	Username  *string   `json:"username"`
	Platform  string    `json:"platform"`
	Backend   string    `json:"backend"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type listDevicesResponse struct {
	Count   int           `json:"count"`
	Devices []adminDevice `json:"devices"`
}

type AdminHandlerConfig struct {
	Notifier      Notifier
	Poller        PollRunner
	Devices       DeviceLister
	Notifications NotificationLogReader
	Videos        VideoReader
	// DefaultBackend is used by notify-video when the body names none.
	DefaultBackend string
	Validator      *core.Validator
	Logger         *slog.Logger
}

// AdminHandler serves the key-protected operator routes.
type AdminHandler struct {
	notifier       Notifier
	poller         PollRunner
	devices        DeviceLister
	notifications  NotificationLogReader
	videos         VideoReader
	defaultBackend string
	validator      *core.Validator
	logger         *slog.Logger
}

func NewAdminHandler(cfg AdminHandlerConfig) *AdminHandler {
	h := &AdminHandler{
		notifier:       cfg.Notifier,
		poller:         cfg.Poller,
		devices:        cfg.Devices,
		notifications:  cfg.Notifications,
		videos:         cfg.Videos,
		defaultBackend: cfg.DefaultBackend,
		validator:      cfg.Validator,
		logger:         cfg.Logger,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.validator == nil {
		h.validator = core.NewValidator(h.logger)
	}
	return h
}

// RegisterRoutes mounts the admin routes. The caller applies the admin key check.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Post("/notify", h.Notify)
	r.Post("/notify-video", h.NotifyVideo)
	r.Post("/check-videos", h.CheckVideos)
	r.Get("/stats", h.Stats)
	r.Get("/devices", h.ListDevices)
}

// Notify handles POST /api/admin/notify: a free-form announcement to all
// devices, or to one backend's devices.
func (h *AdminHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.notifier.SendAnnouncementNotification(r.Context(), req.Title, req.Message, req.Backend)
	if err != nil {
		respondFailure(w, r, h.logger, err, "Failed to send notification")
		return
	}
	core.JSON(w, r, http.StatusOK, dispatchResponse{Success: true, Successful: res.Successful, Failed: res.Failed})
}

// NotifyVideo handles POST /api/admin/notify-video. It sends the new-video
// push without touching the ledger.
func (h *AdminHandler) NotifyVideo(w http.ResponseWriter, r *http.Request) {
	var req NotifyVideoRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	backend := req.Backend
	if backend == "" {
		backend = h.defaultBackend
	}

	res, err := h.notifier.SendNewVideoNotification(r.Context(), types.NewVideoEvent{
		VideoID:     req.VideoID,
		VideoTitle:  req.VideoTitle,
		ChannelName: req.ChannelName,
		Backend:     backend,
	})
	if err != nil {
		respondFailure(w, r, h.logger, err, "Failed to send notification")
		return
	}
	core.JSON(w, r, http.StatusOK, dispatchResponse{Success: true, Successful: res.Successful, Failed: res.Failed})
}

// CheckVideos handles POST /api/admin/check-videos by running one poll cycle
// and waiting for it. A cycle already running elsewhere yields 409.
func (h *AdminHandler) CheckVideos(w http.ResponseWriter, r *http.Request) {
	ctx := types.WithPollTrigger(r.Context(), types.TriggerAdmin)

	res, err := h.poller.RunOnce(ctx)
	if err != nil {
		respondFailure(w, r, h.logger, err, "Failed to check for new videos")
		return
	}
	core.JSON(w, r, http.StatusOK, checkVideosResponse{
		Success: true,
		Message: "Video check completed",
		Result:  res,
	})
}

// Stats handles GET /api/admin/stats. The three reads run concurrently.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var stats types.NotificationStats

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		n, err := h.devices.CountActive(ctx)
		stats.ActiveDevices = n
		return err
	})
	g.Go(func() error {
		logs, err := h.notifications.ListRecent(ctx, statsWindow)
		stats.RecentNotifications = logs
		return err
	})
	g.Go(func() error {
		videos, err := h.videos.ListRecent(ctx, statsWindow)
		stats.RecentVideos = videos
		return err
	})
	if err := g.Wait(); err != nil {
		respondFailure(w, r, h.logger, err, "Failed to get stats")
		return
	}

	if stats.RecentNotifications == nil {
		stats.RecentNotifications = []*types.NotificationLog{}
	}
	if stats.RecentVideos == nil {
		stats.RecentVideos = []*types.Video{}
	}
	core.JSON(w, r, http.StatusOK, stats)
}

// ListDevices handles GET /api/admin/devices. Push tokens are not returned.
func (h *AdminHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.ListActive(r.Context(), "")
	if err != nil {
		respondFailure(w, r, h.logger, err, "Failed to list devices")
		return
	}

	out := make([]adminDevice, len(devices))
	for i, d := range devices {
		out[i] = adminDevice{
			ID:        d.ID,
			Username:  d.Username,
			Platform:  d.Platform,
			Backend:   d.Backend,
			CreatedAt: d.CreatedAt,
			UpdatedAt: d.UpdatedAt,
		}
	}
	core.JSON(w, r, http.StatusOK, listDevicesResponse{Count: len(out), Devices: out})
}
