package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wombat2006/techdev-sub004/internal/config"
	"github.com/wombat2006/techdev-sub004/internal/server"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}
	path := filepath.Join(t.TempDir(), "fake-cli")
	script := "#!/bin/sh\ncat >/dev/null\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestServer(t *testing.T, credsPath string) *server.Server {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "wallbounce.sqlite")
	cfg := config.Config{
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
		CredentialsFile:         credsPath,
	}
	srv, err := server.NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func writeTwoProviderCreds(t *testing.T) string {
	t.Helper()
	s1 := writeScript(t, `echo '{"content":"use blue/green deployments","input_tokens":10,"output_tokens":5}'`)
	s2 := writeScript(t, `echo '{"content":"adopt blue/green deployment with dual writes","input_tokens":10,"output_tokens":5}'`)
	creds := map[string]any{
		"providers": []map[string]any{
			{"name": "p1", "vendor": "vA", "model": "m1", "transport": "cli", "command": s1, "supported_tiers": []string{"basic", "premium", "critical"}},
			{"name": "p2", "vendor": "vB", "model": "m2", "transport": "cli", "command": s2, "supported_tiers": []string{"basic", "premium", "critical"}},
		},
	}
	path := filepath.Join(t.TempDir(), "credentials.json")
	data, err := json.Marshal(creds)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestAnalyzeHandlerMissingPromptReturns400(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}
	srv := newTestServer(t, "")
	router := NewRouter(Dependencies{Srv: srv})

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(`{"task_type":"basic"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "missing_prompt", body.Code)
}

func TestAnalyzeHandlerInvalidTaskTypeReturns400(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}
	srv := newTestServer(t, "")
	router := NewRouter(Dependencies{Srv: srv})

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze",
		strings.NewReader(`{"prompt":"hi","task_type":"legendary"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "invalid_task_type", body.Code)
}

func TestAnalyzeHandlerNoProvidersReturns500(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}
	srv := newTestServer(t, "")
	router := NewRouter(Dependencies{Srv: srv})

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze",
		strings.NewReader(`{"prompt":"explain zero-downtime migration"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "no_providers_available", body.Code)
}

func TestAnalyzeHandlerHappyPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}
	credsPath := writeTwoProviderCreds(t)
	srv := newTestServer(t, credsPath)
	router := NewRouter(Dependencies{Srv: srv})

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze",
		strings.NewReader(`{"prompt":"explain zero-downtime db migration"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body analyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Response)
	require.True(t, body.WallBounceAnalysis.TierEscalated == false || body.WallBounceAnalysis.TierEscalated == true)
	require.Len(t, body.WallBounceAnalysis.ProvidersUsed, 2)
}

func TestHealthzReportsUnhealthyWithoutProviders(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}
	srv := newTestServer(t, "")
	router := NewRouter(Dependencies{Srv: srv})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthzReportsOKWithProviders(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}
	credsPath := writeTwoProviderCreds(t)
	srv := newTestServer(t, credsPath)
	router := NewRouter(Dependencies{Srv: srv})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}
	srv := newTestServer(t, "")
	router := NewRouter(Dependencies{Srv: srv})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "wallbounce_")
}
