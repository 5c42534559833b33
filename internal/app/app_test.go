package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubenotify/internal/config"
	"tubenotify/internal/notifications/push"
)

func TestClose_PartialApp(t *testing.T) {
	assert.NoError(t, (&App{}).Close())
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := newRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)

	a := &App{Redis: client}
	assert.NoError(t, a.Close())
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := newRedis(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestNewMetrics_DisabledIsNoop(t *testing.T) {
	cfg := &config.Config{}
	m, err := newMetrics(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, push.NoopMetrics{}, m)
}
