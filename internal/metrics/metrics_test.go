package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveBeacon("beacon", OutcomeAccepted, 3*time.Millisecond)
	m.ObserveBeacon("beacon", OutcomeAccepted, time.Millisecond)
	m.ObserveBeacon("internal", "FORBIDDEN", time.Millisecond)
	m.ObserveHTTP(http.MethodPost, "/track/{trackingId}", http.StatusOK, time.Millisecond)
	m.TaskDropped("activity.trim")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.beacons.WithLabelValues("beacon", OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.beacons.WithLabelValues("internal", "FORBIDDEN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodPost, "/track/{trackingId}", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksDropped.WithLabelValues("activity.trim")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveBeacon("beacon", OutcomeBot, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `visitor_beacon_beacons_total{outcome="bot",surface="beacon"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
