package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CallStarted("inbound")
		m.CallEnded()
		m.Negotiated("timeout", 60)
		m.DTMF("out")
		m.HandleUp()
		m.HandleDown()
		m.Signal("initiate", "ok")
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.CallStarted("outbound")
	m.CallStarted("inbound")
	m.CallEnded()
	m.Negotiated("ready", 1.5)
	m.DTMF("in")
	m.DTMF("in")
	m.HandleUp()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.callsTotal.WithLabelValues("outbound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.negotiations.WithLabelValues("ready")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dtmfDigits.WithLabelValues("in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handles))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.CallStarted("outbound")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "jinglegw_calls_total")
}
