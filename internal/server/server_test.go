package server

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wombat2006/techdev-sub004/internal/apperr"
	"github.com/wombat2006/techdev-sub004/internal/config"
	"github.com/wombat2006/techdev-sub004/internal/model"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "wallbounce.sqlite")
	return config.Config{
		ListenAddr:              ":0",
		LogLevel:                "error",
		DBDSN:                   dsn,
		TierMinProviders:        map[string]int{"basic": 2, "premium": 3, "critical": 4},
		TierConfidenceThreshold: map[string]float64{"basic": 0.7, "premium": 0.8, "critical": 0.9},
		ApprovalTTLSeconds:      1800,
		DefaultDeadlineMS:       5000,
		MaxConcurrent:           8,
		MetricsBind:             ":0",
		VaultEnabled:            false,
		CredentialsFile:         "", // no providers registered
	}
}

func TestNewServerWithNoProvidersIsNotReady(t *testing.T) {
	srv, err := NewServer(testConfig(t))
	require.NoError(t, err)
	defer srv.Close()

	require.False(t, srv.Ready())
}

func TestAnalyzeWithNoProvidersFailsWithNoProvidersAvailable(t *testing.T) {
	srv, err := NewServer(testConfig(t))
	require.NoError(t, err)
	defer srv.Close()

	_, err = srv.Analyze(context.Background(), "req-1", model.Prompt{
		Text: "explain zero-downtime migration", TaskTier: model.TierBasic, Mode: model.ModeParallel,
		Depth: 3, MinProviders: 2, ConfidenceThreshold: 0.7,
	})
	require.Error(t, err)
	ae, ok := err.(*apperr.Error)
	require.True(t, ok)
	require.Equal(t, apperr.NoProvidersAvailable, ae.Kind)
}

func TestServerCloseReturnsNoError(t *testing.T) {
	srv, err := NewServer(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, srv.Close())
}

func TestReloadUpdatesConfig(t *testing.T) {
	srv, err := NewServer(testConfig(t))
	require.NoError(t, err)
	defer srv.Close()

	cfg := testConfig(t)
	cfg.LogLevel = "debug"
	srv.Reload(cfg)
	require.Equal(t, "debug", srv.cfg.LogLevel)
}
