// Package scheduler finds newly published videos on the video backend and
// hands them to the push dispatcher, on a timer and on demand.
package scheduler

import (
	"context"
	"log/slog"
	"slices"

	"tubenotify/internal/types"
)

// VideoSource lists the most recent videos, newest first.
type VideoSource interface {
	FetchLatestVideos(ctx context.Context, count int) ([]types.BackendVideo, error)
}

// Ledger records which videos have already been announced.
type Ledger interface {
	HasBeenNotified(ctx context.Context, uuid string) (bool, error)
	SaveVideo(ctx context.Context, v *types.BackendVideo) error
	MarkVideoNotified(ctx context.Context, uuid string) error
}

// Notifier announces one video.
type Notifier interface {
	SendNewVideoNotification(ctx context.Context, ev types.NewVideoEvent) (types.DispatchResult, error)
}

// CheckResult summarizes one poll cycle.
type CheckResult struct {
	Fetched    int `json:"fetched"`
	Candidates int `json:"candidates"`
	Notified   int `json:"notified"`
	Failed     int `json:"failed"`
}

type VideoPollerConfig struct {
	Source   VideoSource
	Ledger   Ledger
	Notifier Notifier
	// Backend is the host name stamped on every event and used to pick devices.
	Backend    string
	VideoCount int
	Logger     *slog.Logger
}

// VideoPoller runs the diff between the backend listing and the ledger.
type VideoPoller struct {
	source     VideoSource
	ledger     Ledger
	notifier   Notifier
	backend    string
	videoCount int
	logger     *slog.Logger
}

func NewVideoPoller(cfg VideoPollerConfig) *VideoPoller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	count := cfg.VideoCount
	if count <= 0 {
		count = 50
	}
	return &VideoPoller{
		source:     cfg.Source,
		ledger:     cfg.Ledger,
		notifier:   cfg.Notifier,
		backend:    cfg.Backend,
		videoCount: count,
		logger:     logger,
	}
}

// CheckForNewVideos lists recent videos and announces, oldest first, every
// public or internal published video the ledger has not marked yet.
//
// A listing failure aborts the cycle before the ledger is touched. Failures
// for a single video are logged and counted; the remaining videos are still
// processed. A video is marked only after its dispatch returned without
// error, so a failed dispatch is retried on the next cycle.
func (p *VideoPoller) CheckForNewVideos(ctx context.Context) (CheckResult, error) {
	var res CheckResult
	log := p.logger.With("trigger", types.GetPollTrigger(ctx), "backend", p.backend)

	videos, err := p.source.FetchLatestVideos(ctx, p.videoCount)
	if err != nil {
		log.ErrorContext(ctx, "failed to list videos", "error", err)
		return res, err
	}
	res.Fetched = len(videos)

	var candidates []types.BackendVideo
	for _, v := range videos {
		if !v.Privacy.Notifiable() || v.State != types.StatePublished {
			continue
		}
		notified, err := p.ledger.HasBeenNotified(ctx, v.UUID)
		if err != nil {
			log.ErrorContext(ctx, "ledger lookup failed", "video", v.UUID, "error", err)
			res.Failed++
			continue
		}
		if !notified {
			candidates = append(candidates, v)
		}
	}
	res.Candidates = len(candidates)
	if len(candidates) == 0 {
		log.InfoContext(ctx, "no new videos", "fetched", res.Fetched)
		return res, nil
	}

	// The listing is newest first.
	slices.Reverse(candidates)

	for i := range candidates {
		v := &candidates[i]
		vlog := log.With("video", v.UUID, "title", v.Name)

		if err := p.ledger.SaveVideo(ctx, v); err != nil {
			vlog.ErrorContext(ctx, "failed to save video", "error", err)
			res.Failed++
			continue
		}

		sent, err := p.notifier.SendNewVideoNotification(ctx, types.NewVideoEvent{
			VideoID:     v.UUID,
			VideoTitle:  v.Name,
			ChannelName: v.ChannelName,
			Backend:     p.backend,
		})
		if err != nil {
			vlog.ErrorContext(ctx, "dispatch failed", "error", err)
			res.Failed++
			continue
		}

		if err := p.ledger.MarkVideoNotified(ctx, v.UUID); err != nil {
			vlog.ErrorContext(ctx, "failed to mark video notified", "error", err)
			res.Failed++
			continue
		}
		res.Notified++
		vlog.InfoContext(ctx, "video notified", "successful", sent.Successful, "failed", sent.Failed)
	}

	log.InfoContext(ctx, "poll cycle finished",
		"fetched", res.Fetched,
		"candidates", res.Candidates,
		"notified", res.Notified,
		"failed", res.Failed,
	)
	return res, nil
}
