package health

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticChecker struct {
	name   string
	status Status
}

func (c staticChecker) Name() string { return c.name }

func (c staticChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{
		Name:      c.name,
		Status:    c.status,
		Timestamp: time.Now(),
	}
}

func TestRegistry(t *testing.T) {
	t.Run("empty registry is healthy", func(t *testing.T) {
		report := NewRegistry().Run(context.Background())
		assert.Equal(t, StatusHealthy, report.Status)
		assert.Empty(t, report.Checks)
	})

	t.Run("aggregates to the worst status", func(t *testing.T) {
		r := NewRegistry()
		r.Register(staticChecker{"a", StatusHealthy})
		r.Register(staticChecker{"b", StatusDegraded})
		r.Register(staticChecker{"c", StatusHealthy})

		report := r.Run(context.Background())
		assert.Equal(t, StatusDegraded, report.Status)
		assert.Len(t, report.Checks, 3)
	})

	t.Run("unhealthy dominates degraded", func(t *testing.T) {
		r := NewRegistry()
		r.Register(staticChecker{"a", StatusDegraded})
		r.Register(staticChecker{"b", StatusUnhealthy})

		report := r.Run(context.Background())
		assert.Equal(t, StatusUnhealthy, report.Status)
	})
}

func TestHandler(t *testing.T) {
	t.Run("healthy report answers 200", func(t *testing.T) {
		r := NewRegistry()
		r.Register(staticChecker{"broker", StatusHealthy})

		rec := httptest.NewRecorder()
		r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

		assert.Equal(t, 200, rec.Code)

		var report Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, StatusHealthy, report.Status)
		require.Len(t, report.Checks, 1)
		assert.Equal(t, "broker", report.Checks[0].Name)
	})

	t.Run("unhealthy report answers 503", func(t *testing.T) {
		r := NewRegistry()
		r.Register(staticChecker{"broker", StatusUnhealthy})

		rec := httptest.NewRecorder()
		r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

		assert.Equal(t, 503, rec.Code)
	})
}
