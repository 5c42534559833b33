package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tubenotify/internal/core"
	"tubenotify/internal/notifications/push"
	"tubenotify/internal/types"
)

// DeviceRegistry is the slice of the device repository the public routes use.
type DeviceRegistry interface {
	Register(ctx context.Context, reg *types.DeviceRegistration) (*types.Device, error)
	Unregister(ctx context.Context, token string) error
}

// RegisterDeviceRequest is the body of POST /api/devices/register.
type RegisterDeviceRequest struct {
	ExpoPushToken string  `json:"expoPushToken" validate:"required"`
	UserID        *int64  `json:"userId,omitempty"`
	Username      *string `json:"username,omitempty"`
	Backend       string  `json:"backend" validate:"required"`
	Platform      string  `json:"platform,omitempty"`
	DeviceID      *string `json:"deviceId,omitempty"`
}

// UnregisterDeviceRequest is the body of POST /api/devices/unregister.
type UnregisterDeviceRequest struct {
	ExpoPushToken string `json:"expoPushToken" validate:"required"`
}

type registeredDevice struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"createdAt"`
}

type registerDeviceResponse struct {
	Success bool             `json:"success"`
	Device  registeredDevice `json:"device"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// DeviceHandler serves the unauthenticated device registration routes.
type DeviceHandler struct {
	devices   DeviceRegistry
	validator *core.Validator
	logger    *slog.Logger
}

func NewDeviceHandler(devices DeviceRegistry, v *core.Validator, l *slog.Logger) *DeviceHandler {
	if l == nil {
		l = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(l)
	}
	return &DeviceHandler{devices: devices, validator: v, logger: l}
}

// RegisterRoutes mounts the device routes. The caller applies rate limiting.
func (h *DeviceHandler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.Register)
	r.Post("/unregister", h.Unregister)
}

// Register handles POST /api/devices/register. Re-registering a known token
// reactivates it and replaces its metadata.
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterDeviceRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	platform := req.Platform
	if platform == "" {
		platform = types.DefaultPlatform
	}

	device, err := h.devices.Register(r.Context(), &types.DeviceRegistration{
		ExpoPushToken: req.ExpoPushToken,
		UserID:        req.UserID,
		Username:      req.Username,
		Backend:       req.Backend,
		Platform:      platform,
		DeviceID:      req.DeviceID,
	})
	if err != nil {
		respondFailure(w, r, h.logger, err, "Failed to register device")
		return
	}

	h.logger.InfoContext(r.Context(), "device registered",
		"token", push.TruncateToken(req.ExpoPushToken),
		"backend", req.Backend,
		"platform", device.Platform,
	)

	core.JSON(w, r, http.StatusOK, registerDeviceResponse{
		Success: true,
		Device: registeredDevice{
			ID:        device.ID,
			Platform:  device.Platform,
			CreatedAt: device.CreatedAt,
		},
	})
}

// Unregister handles POST /api/devices/unregister. Unknown tokens succeed.
func (h *DeviceHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	var req UnregisterDeviceRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.devices.Unregister(r.Context(), req.ExpoPushToken); err != nil {
		respondFailure(w, r, h.logger, err, "Failed to unregister device")
		return
	}

	h.logger.InfoContext(r.Context(), "device unregistered", "token", push.TruncateToken(req.ExpoPushToken))
	core.JSON(w, r, http.StatusOK, successResponse{Success: true})
}
