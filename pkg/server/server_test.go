package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatworks/pkg/logging"
	"chatworks/pkg/monitoring"
	"chatworks/pkg/version"

	"github.com/gin-gonic/gin"
)

// One collector for the whole test binary; NewMetricsCollector registers on
// the global Prometheus registry and a second "svc" collector would panic.
func TestSetupServiceRouter(t *testing.T) {
	logger := logging.NewLogger()
	logger.SetOutput(io.Discard)
	hc := monitoring.NewHealthChecker("svc", "v1")
	hc.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{"JWT_SECRET": "set"}))
	mc := monitoring.NewMetricsCollector("svc", "v1", "abc")

	r := SetupServiceRouter(logger, "svc", hc, mc)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	do := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequestWithContext(context.Background(), "GET", path, nil)
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("registered route", func(t *testing.T) {
		w := do("/ping")
		if w.Code != http.StatusOK || w.Body.String() != "pong" {
			t.Fatalf("expected pong, got %d %q", w.Code, w.Body.String())
		}
	})

	t.Run("health aggregates checks", func(t *testing.T) {
		w := do("/health")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var health monitoring.HealthStatus
		if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
			t.Fatalf("decode health: %v", err)
		}
		if health.Status != monitoring.StatusHealthy || health.Service != "svc" {
			t.Fatalf("unexpected health payload: %+v", health)
		}
		if _, ok := health.Checks["config"]; !ok {
			t.Fatalf("expected config check in %+v", health.Checks)
		}
	})

	t.Run("version reports build info", func(t *testing.T) {
		w := do("/version")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var info version.Info
		if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
			t.Fatalf("decode version: %v", err)
		}
		if info.Version != version.Version {
			t.Fatalf("expected version %q, got %q", version.Version, info.Version)
		}
	})

	t.Run("metrics scrape", func(t *testing.T) {
		w := do("/metrics")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "svc_service_info") {
			t.Fatal("expected service-prefixed metrics in scrape output")
		}
	})
}
