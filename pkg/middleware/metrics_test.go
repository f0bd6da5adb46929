package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectMetric returns the first series of c whose labels include all of labels.
func collectMetric(c prometheus.Collector, labels map[string]string) *dto.Metric {
	ch := make(chan prometheus.Metric, 100)
	c.Collect(ch)
	close(ch)

	for m := range ch {
		d := &dto.Metric{}
		if err := m.Write(d); err != nil {
			continue
		}
		have := make(map[string]string, len(d.GetLabel()))
		for _, lp := range d.GetLabel() {
			have[lp.GetName()] = lp.GetValue()
		}
		match := true
		for k, v := range labels {
			if have[k] != v {
				match = false
				break
			}
		}
		if match {
			return d
		}
	}
	return nil
}

func metricsRouter(service string, h http.HandlerFunc) *chi.Mux {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics(service))
	r.Get("/api/v1/addresses/{id}", h)
	return r
}

func TestPrometheusMetrics_LabelsByRoutePattern(t *testing.T) {
	handler := metricsRouter("route-svc", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, id := range []string{"a1", "b2", "c3"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/addresses/"+id, nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	m := collectMetric(httpRequestsTotal, map[string]string{
		"service": "route-svc", "method": "GET", "path": "/api/v1/addresses/{id}", "status": "200",
	})
	require.NotNil(t, m)
	assert.Equal(t, float64(3), m.GetCounter().GetValue())

	h := collectMetric(httpRequestDuration, map[string]string{"service": "route-svc", "status": "200"})
	require.NotNil(t, h)
	assert.Equal(t, uint64(3), h.GetHistogram().GetSampleCount())
}

func TestPrometheusMetrics_StatusCapture(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable} {
		svc := "status-" + http.StatusText(code)
		handler := metricsRouter(svc, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/addresses/x", nil))

		m := collectMetric(httpRequestsTotal, map[string]string{"service": svc, "status": strconv.Itoa(code)})
		require.NotNil(t, m, "status %d should be recorded", code)
	}
}

func TestPrometheusMetrics_DefaultStatusAndInFlight(t *testing.T) {
	inFlightSeen := float64(-1)
	handler := metricsRouter("inflight-svc", func(w http.ResponseWriter, r *http.Request) {
		if m := collectMetric(httpRequestsInFlight, map[string]string{"service": "inflight-svc"}); m != nil {
			inFlightSeen = m.GetGauge().GetValue()
		}
		_, _ = w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/addresses/x", nil))

	assert.Equal(t, float64(1), inFlightSeen)
	require.NotNil(t, collectMetric(httpRequestsTotal, map[string]string{"service": "inflight-svc", "status": "200"}))
	assert.Equal(t, float64(0), collectMetric(httpRequestsInFlight, map[string]string{"service": "inflight-svc"}).GetGauge().GetValue())
}

func TestPrometheusMetrics_UnknownRoute(t *testing.T) {
	handler := PrometheusMetrics("bare-svc")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/whatever", nil))

	require.NotNil(t, collectMetric(httpRequestsTotal, map[string]string{"service": "bare-svc", "path": "unknown"}))
}
