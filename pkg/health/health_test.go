package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/health"
)

func get(t *testing.T, e *echo.Echo, path string) (int, health.Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp health.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestReadiness(t *testing.T) {
	checker := health.NewChecker("test")
	checker.AddCheck("database", func(context.Context) error { return nil })

	e := echo.New()
	checker.RegisterRoutes(e)

	code, resp := get(t, e, "/api/v1/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, resp.Checks, "startup")

	checker.SetReady(true)
	code, resp = get(t, e, "/api/v1/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StatusHealthy, resp.Status)
	assert.Equal(t, health.StatusHealthy, resp.Checks["database"].Status)
}

func TestHealth_OptionalDependencyDegrades(t *testing.T) {
	checker := health.NewChecker("test")
	checker.AddCheck("database", func(context.Context) error { return nil })
	checker.AddOptionalCheck("kafka", func(context.Context) error { return errors.New("no brokers") })

	e := echo.New()
	checker.RegisterRoutes(e)

	code, resp := get(t, e, "/api/v1/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StatusDegraded, resp.Status)
	assert.Equal(t, "no brokers", resp.Checks["kafka"].Message)

	checker.AddCheck("redis", func(context.Context) error { return errors.New("refused") })
	code, resp = get(t, e, "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, health.StatusUnhealthy, resp.Status)
}

func TestLiveness(t *testing.T) {
	e := echo.New()
	health.NewChecker("1.2.3").RegisterRoutes(e)

	code, resp := get(t, e, "/api/v1/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1.2.3", resp.Version)
}
