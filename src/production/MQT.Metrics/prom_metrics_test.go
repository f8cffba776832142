package mqtmetrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestPromObsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPromObs(reg)

	obs.MessageReceived(mqtmodels.KindTelemetry)
	obs.MessageReceived(mqtmodels.KindTelemetry)
	obs.MessageReceived(mqtmodels.KindStatus)
	require.Equal(t, 2.0, testutil.ToFloat64(obs.received.WithLabelValues("telemetry")))
	require.Equal(t, 1.0, testutil.ToFloat64(obs.received.WithLabelValues("status")))

	obs.MessageIngested(mqtmodels.KindTelemetry, 20*time.Millisecond)
	require.Equal(t, 1.0, testutil.ToFloat64(obs.ingested.WithLabelValues("telemetry")))
	require.Equal(t, 1, testutil.CollectAndCount(obs.latency))

	obs.MessageDropped("malformed")
	obs.MessageDropped("malformed")
	obs.MessageDropped("storage")
	require.Equal(t, 2.0, testutil.ToFloat64(obs.dropped.WithLabelValues("malformed")))
	require.Equal(t, 1.0, testutil.ToFloat64(obs.dropped.WithLabelValues("storage")))

	obs.QueueDepth(3, 42)
	require.Equal(t, 42.0, testutil.ToFloat64(obs.queue.WithLabelValues("3")))
}

func TestPromObsReportRate(t *testing.T) {
	obs := NewPromObs(prometheus.NewRegistry())

	obs.ReportRate("pi-01", time.Now(), mqtmodels.DeviceMetrics{InstRateHz: ptr(2.5), EmaRateHz: ptr(1.5)})
	require.Equal(t, 2.5, testutil.ToFloat64(obs.instRate.WithLabelValues("pi-01")))
	require.Equal(t, 1.5, testutil.ToFloat64(obs.emaRate.WithLabelValues("pi-01")))

	// A missing estimate leaves the previous value in place.
	obs.ReportRate("pi-01", time.Now(), mqtmodels.DeviceMetrics{InstRateHz: ptr(4)})
	require.Equal(t, 4.0, testutil.ToFloat64(obs.instRate.WithLabelValues("pi-01")))
	require.Equal(t, 1.5, testutil.ToFloat64(obs.emaRate.WithLabelValues("pi-01")))
}

func TestPromObsDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPromObs(reg)
	require.Panics(t, func() { NewPromObs(reg) })
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewHTTPMetrics(prometheus.NewRegistry())

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/devices/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for range 3 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/devices/pi-01", nil))
		require.Equal(t, http.StatusNoContent, w.Code)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, 3.0, testutil.ToFloat64(m.requests.WithLabelValues("/api/devices/:id", "GET", "204")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("unmatched", "GET", "404")))
}
