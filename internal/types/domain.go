package types

import "time"

// Device is a push registration as stored in the device registry.
// ExpoPushToken is unique across all rows.
type Device struct {
	ID            string    `json:"id"`
	ExpoPushToken string    `json:"expoPushToken"`
	UserID        *int64    `json:"userId,omitempty"`
	Username      *string   `json:"username,omitempty"`
	Backend       string    `json:"backend"`
	Platform      string    `json:"platform"`
	DeviceID      *string   `json:"deviceId,omitempty"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// DeviceRegistration is the input of a register call. Nil optional fields
// leave the stored value untouched when the token is already known.
type DeviceRegistration struct {
	ExpoPushToken string
	UserID        *int64
	Username      *string
	Backend       string
	Platform      string
	DeviceID      *string
}

// DefaultPlatform is recorded when a client registers without a platform tag.
const DefaultPlatform = "unknown"

// Video is a ledger row. A video counts as handled iff NotifiedAt is set.
type Video struct {
	UUID        string     `json:"uuid"`
	Name        string     `json:"name"`
	ChannelName *string    `json:"channelName,omitempty"`
	PublishedAt time.Time  `json:"publishedAt"`
	NotifiedAt  *time.Time `json:"notifiedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// NotificationType distinguishes log rows and is echoed in the push data.
type NotificationType string

const (
	NotificationNewVideo     NotificationType = "new_video"
	NotificationAnnouncement NotificationType = "announcement"
)

// NotificationLog is one append-only row per dispatch attempt.
type NotificationLog struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	Title      string           `json:"title"`
	Body       string           `json:"body"`
	Data       PushData         `json:"data"`
	SentTo     int              `json:"sentTo"`
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// PushData is the free-form data object delivered alongside the alert. The
// mobile client reads Type and VideoID to deep-link into the player.
type PushData struct {
	Type        NotificationType `json:"type"`
	VideoID     string           `json:"videoId,omitempty"`
	VideoTitle  string           `json:"videoTitle,omitempty"`
	ChannelName string           `json:"channelName,omitempty"`
	Backend     string           `json:"backend,omitempty"`
}

// PushPayload is the shared content of every message in one dispatch.
type PushPayload struct {
	Title string
	Body  string
	Data  PushData
}

// DispatchResult counts per-token outcomes of one dispatch.
type DispatchResult struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// NewVideoEvent describes a video that should be announced to devices of
// one backend.
type NewVideoEvent struct {
	VideoID     string
	VideoTitle  string
	ChannelName string
	Backend     string
}

// VideoPrivacy mirrors the video backend's numeric privacy ids.
type VideoPrivacy int

const (
	PrivacyPublic            VideoPrivacy = 1
	PrivacyUnlisted          VideoPrivacy = 2
	PrivacyPrivate           VideoPrivacy = 3
	PrivacyInternal          VideoPrivacy = 4
	PrivacyPasswordProtected VideoPrivacy = 5
)

// Notifiable reports whether videos with this privacy may be announced.
// Only publicly listed and instance-internal videos qualify.
func (p VideoPrivacy) Notifiable() bool {
	return p == PrivacyPublic || p == PrivacyInternal
}

// VideoState mirrors the video backend's processing state ids.
type VideoState int

// StatePublished is the only state in which a video is playable.
const StatePublished VideoState = 1

// BackendVideo is a video as listed by the video backend.
type BackendVideo struct {
	UUID        string
	Name        string
	PublishedAt time.Time
	Privacy     VideoPrivacy
	State       VideoState
	ChannelName string
}

// NotificationStats backs the admin stats endpoint.
type NotificationStats struct {
	ActiveDevices       int                `json:"activeDevices"`
	RecentNotifications []*NotificationLog `json:"recentNotifications"`
	RecentVideos        []*Video           `json:"recentVideos"`
}
