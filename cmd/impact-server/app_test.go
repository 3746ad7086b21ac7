package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localloop/adapters/jsonfile"
	"localloop/config"
	"localloop/integrations/marketplace"
)

func TestSetupStorage(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()

	s, cleanup, err := setupStorage(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, s)
	cleanup()

	cfg.Storage.Adapter = config.AdapterFile
	cfg.Storage.File.Path = filepath.Join(t.TempDir(), "impact.json")
	s, cleanup, err = setupStorage(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &jsonfile.Store{}, s)
	cleanup()

	cfg.Storage.Adapter = "tape"
	_, _, err = setupStorage(ctx, cfg)
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("loud"))
}

func TestProvidersAssembleAWorkingHandler(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Logging.Output = "stderr"
	logger := provideLogger(cfg)

	storage, cleanupStore, err := provideStorage(ctx, cfg)
	require.NoError(t, err)
	defer cleanupStore()
	hub, board, stats := provideHub(cfg), provideBoard(cfg), provideStats(cfg)
	svc, cleanupSvc := provideService(cfg, logger, storage, hub, board, stats)
	defer cleanupSvc()

	dir := provideDirectory(cfg, storage)
	assert.IsType(t, &marketplace.MemoryDirectory{}, dir)
	d, cleanupDispatcher := provideDispatcher(cfg, logger, svc, dir)
	defer cleanupDispatcher()

	listener, err := provideListener(cfg, logger, storage, d)
	require.NoError(t, err)
	assert.Nil(t, listener)

	cfg.Triggers.FirestoreListener = true
	_, err = provideListener(cfg, logger, storage, d)
	assert.Error(t, err)

	handler := provideHandler(cfg, logger, svc, hub, d, board, stats)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	srv := provideServer(cfg, handler)
	assert.Equal(t, ":8080", srv.Addr)
}
