package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"tubenotify/internal/types"
)

// Checker runs one poll cycle.
type Checker interface {
	CheckForNewVideos(ctx context.Context) (CheckResult, error)
}

type RunnerConfig struct {
	Checker Checker
	// Lock is optional. Without it overlap is only guarded within the process.
	Lock         Lock
	Interval     time.Duration
	StartupDelay time.Duration
	// CycleTimeout bounds one cycle, independent of the caller's context.
	CycleTimeout time.Duration
	Logger       *slog.Logger
}

// Runner coordinates poll cycles from the ticker, the admin route and the
// Lambda entry point so at most one cycle runs at a time.
type Runner struct {
	checker      Checker
	lock         Lock
	interval     time.Duration
	startupDelay time.Duration
	cycleTimeout time.Duration
	logger       *slog.Logger

	group singleflight.Group
}

func NewRunner(cfg RunnerConfig) *Runner {
	r := &Runner{
		checker:      cfg.Checker,
		lock:         cfg.Lock,
		interval:     cfg.Interval,
		startupDelay: cfg.StartupDelay,
		cycleTimeout: cfg.CycleTimeout,
		logger:       cfg.Logger,
	}
	if r.interval <= 0 {
		r.interval = 5 * time.Minute
	}
	if r.cycleTimeout <= 0 {
		r.cycleTimeout = 5 * time.Minute
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// RunOnce runs a poll cycle, or joins the one already in flight in this
// process and returns its result. When another process holds the shared
// lock it returns a conflict_poll_in_progress error.
func (r *Runner) RunOnce(ctx context.Context) (CheckResult, error) {
	ch := r.group.DoChan("poll", func() (any, error) {
		// Callers that join share this cycle, so one of them going away
		// must not cancel it.
		cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cycleTimeout)
		defer cancel()
		return r.runLocked(cycleCtx)
	})

	select {
	case <-ctx.Done():
		return CheckResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return CheckResult{}, res.Err
		}
		return res.Val.(CheckResult), nil
	}
}

func (r *Runner) runLocked(ctx context.Context) (CheckResult, error) {
	if r.lock == nil {
		return r.checker.CheckForNewVideos(ctx)
	}

	release, ok, err := r.lock.TryAcquire(ctx, r.cycleTimeout)
	switch {
	case err != nil:
		r.logger.WarnContext(ctx, "poll lock unavailable, continuing without it", "error", err)
		return r.checker.CheckForNewVideos(ctx)
	case !ok:
		r.logger.InfoContext(ctx, "poll cycle already running elsewhere", "trigger", types.GetPollTrigger(ctx))
		return CheckResult{}, types.NewAppError(types.ErrCodeConflictPollInProgress, "a video check is already in progress", nil)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			r.logger.WarnContext(ctx, "failed to release poll lock", "error", err)
		}
	}()
	return r.checker.CheckForNewVideos(ctx)
}

// Start runs a first cycle after the startup delay and then one per interval
// until ctx is cancelled. Cycle errors are logged and never stop the loop.
func (r *Runner) Start(ctx context.Context) {
	r.logger.InfoContext(ctx, "video poller started",
		"interval", r.interval.String(),
		"startup_delay", r.startupDelay.String(),
	)

	startup := time.NewTimer(r.startupDelay)
	defer startup.Stop()

	select {
	case <-ctx.Done():
		r.logger.InfoContext(ctx, "video poller stopped before first run")
		return
	case <-startup.C:
		r.tick(types.WithPollTrigger(ctx, types.TriggerStartup))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "video poller stopped")
			return
		case <-ticker.C:
			r.tick(types.WithPollTrigger(ctx, types.TriggerTimer))
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	res, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "scheduled video check failed",
			"trigger", types.GetPollTrigger(ctx),
			"error", err,
			"duration", time.Since(start).String(),
		)
		return
	}
	r.logger.DebugContext(ctx, "scheduled video check done",
		"trigger", types.GetPollTrigger(ctx),
		"notified", res.Notified,
		"duration", time.Since(start).String(),
	)
}
