package telemetry_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopatch-dev/autopatch/internal/telemetry"
)

// The resource built in InitMetrics must carry the same schema URL as the
// SDK's default resource, otherwise the merge fails and startup aborts.
func TestInitMetrics(t *testing.T) {
	shutdown, metrics, err := telemetry.InitMetrics("test")
	require.NoError(t, err)
	require.NotNil(t, metrics)
	t.Cleanup(func() {
		require.NoError(t, shutdown(context.Background()))
	})

	require.NotNil(t, metrics.Requests)
	require.NotNil(t, metrics.ErrorCount)
	require.NotNil(t, metrics.RequestDuration)
	require.NotNil(t, metrics.JobTransitions)
	require.NotNil(t, metrics.DispatchRetries)

	metrics.Requests.Add(context.Background(), 1)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	metrics.PrometheusHandler().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
