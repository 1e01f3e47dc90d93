package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/shipmark-io/shipmark/internal/courier"
	"github.com/shipmark-io/shipmark/internal/platform/config"
	"github.com/shipmark-io/shipmark/internal/webhook"
)

func TestBuildCourierPollWorker(t *testing.T) {
	registry := courier.DefaultRegistry(courier.NewACSStrategy(time.Second))

	assert.Nil(t, buildCourierPollWorker(nil, registry, config.PollerConfig{Enabled: true}))

	// Run on a nil worker is a no-op so main can register it blindly.
	var w *courierPollWorker
	assert.NoError(t, w.Run(context.Background()))
}

func TestBuildReportImportWorker(t *testing.T) {
	assert.Nil(t, buildReportImportWorker(nil, config.ImporterConfig{Enabled: true}))

	var w *reportImportWorker
	assert.NoError(t, w.Run(context.Background()))
}

func TestBuildReplayCacheFallback(t *testing.T) {
	cache := buildReplayCache(context.Background(), config.RedisConfig{})
	_, ok := cache.(*webhook.MemoryReplayCache)
	assert.True(t, ok)
}

func TestBuildReplayCacheUnreachableRedisFallsBack(t *testing.T) {
	cache := buildReplayCache(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"})
	_, ok := cache.(*webhook.MemoryReplayCache)
	assert.True(t, ok)
}

func TestBuildReplayCacheRedis(t *testing.T) {
	srv := miniredis.RunT(t)

	cache := buildReplayCache(context.Background(), config.RedisConfig{Addr: srv.Addr()})
	_, ok := cache.(*webhook.RedisReplayCache)
	require.True(t, ok)

	first, err := cache.InsertIfAbsent(context.Background(), "replay:t-1:n-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := cache.InsertIfAbsent(context.Background(), "replay:t-1:n-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, second)
}
