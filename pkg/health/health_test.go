package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(ctx context.Context) error   { return nil }
func down(ctx context.Context) error { return errors.New("unreachable") }

func TestRun(t *testing.T) {
	tests := []struct {
		name     string
		manifest Check
		kafka    Check
		want     Status
	}{
		{"all up", up, up, StatusUp},
		{"optional down", up, down, StatusDegraded},
		{"critical down", down, up, StatusDown},
		{"both down", down, down, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.Register("manifest", true, tt.manifest)
			c.Register("kafka", false, tt.kafka)
			report := c.Run(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Components, 2)
		})
	}
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("kafka", false, down)
	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "degraded is still ready")

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "unreachable", report.Components["kafka"].Message)

	c.Register("manifest", true, down)
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiveHandler(t *testing.T) {
	c := NewChecker()
	c.Register("manifest", true, down)
	rec := httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
