package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerHealthzAlwaysOK(t *testing.T) {
	_, reg := NewRegistry()
	h := Handler(reg, nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
}

func TestHandlerReadyzOKWhenAllChecksPass(t *testing.T) {
	_, reg := NewRegistry()
	checks := map[string]ReadinessCheck{
		"postgres": func(ctx context.Context) error { return nil },
	}
	h := Handler(reg, checks)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
}

func TestHandlerReadyzFailsOnFailingDependency(t *testing.T) {
	_, reg := NewRegistry()
	checks := map[string]ReadinessCheck{
		"postgres": func(ctx context.Context) error { return errors.New("connection refused") },
	}
	h := Handler(reg, checks)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, 503, rec.Code)
}

func TestHandlerMetricsExposesRegisteredNames(t *testing.T) {
	r, reg := NewRegistry()
	r.QueueDepth.Set(3)
	h := Handler(reg, nil)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "taskcore_queue_depth")
}
