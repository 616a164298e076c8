package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAreIndependentPerRegistry(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.ErrorsRecorded.WithLabelValues("web", "ERROR", "false").Inc()
	a.ErrorsRecorded.WithLabelValues("web", "ERROR", "false").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.ErrorsRecorded.WithLabelValues("web", "ERROR", "false")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ErrorsRecorded.WithLabelValues("web", "ERROR", "false")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.SyncBacklog.WithLabelValues("api").Set(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `nebula_sync_backlog_patterns{project="api"} 7`), body)
	assert.Contains(t, body, "go_goroutines")
}
