package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Test helpers
// =============================================================================

type mockHealthCheck struct {
	name string
	err  error
}

func (m *mockHealthCheck) Name() string { return m.name }

func (m *mockHealthCheck) Check(ctx context.Context) error { return m.err }

// =============================================================================
// 🧪 HealthHandler tests
// =============================================================================

func TestHealthHandler_HandleLiveness(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop(), "1.2.3")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	handler.HandleLiveness(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.False(t, status.Timestamp.IsZero())
}

func TestHealthHandler_HandleReadinessAllPass(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop(), "dev")
	handler.RegisterCheck(&mockHealthCheck{name: "providers"})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	handler.HandleReadiness(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	require.Contains(t, status.Checks, "providers")
	assert.Equal(t, "pass", status.Checks["providers"].Status)
}

func TestHealthHandler_HandleReadinessDegraded(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop(), "dev")
	handler.RegisterCheck(&mockHealthCheck{name: "providers"})
	handler.RegisterCheck(&mockHealthCheck{name: "upstream", err: errors.New("no active providers")})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	handler.HandleReadiness(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "pass", status.Checks["providers"].Status)
	assert.Equal(t, "fail", status.Checks["upstream"].Status)
	assert.Equal(t, "no active providers", status.Checks["upstream"].Message)
}

func TestHealthHandler_NoChecksIsHealthy(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop(), "dev")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	handler.HandleReadiness(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}
