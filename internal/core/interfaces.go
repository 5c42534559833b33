package core

import (
	"context"

	"github.com/go-chi/chi/v5"
)

// HealthProbe defines the interface for a subsystem health check.
type HealthProbe interface {
	// Name returns a short identifier for the probe (e.g., "database").
	Name() string

	// Check should respect the context deadline and return an error if the
	// subsystem is unhealthy or unreachable.
	Check(ctx context.Context) error
}

// PingProbe adapts a ping function (pgxpool.Pool.Ping, redis Ping) to HealthProbe.
type PingProbe struct {
	ProbeName string
	Ping      func(ctx context.Context) error
}

func (p PingProbe) Name() string                    { return p.ProbeName }
func (p PingProbe) Check(ctx context.Context) error { return p.Ping(ctx) }

// RouteRegistrar mounts handler routes onto a router group. Handler packages
// provide registrars so core never imports them.
type RouteRegistrar func(r chi.Router)
