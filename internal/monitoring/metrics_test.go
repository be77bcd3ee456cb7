package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordHTTPRequest("GET", "/api/emails", "200", 10*time.Millisecond)
	m.RecordHTTPRequest("GET", "/api/emails", "200", 20*time.Millisecond)
	m.RecordIngest("ok", time.Millisecond)
	m.RecordIngest("error", time.Millisecond)
	m.RecordAuthDenied("mailbox", "path")
	m.RecordSMTPSession()
	m.StreamClientConnected()
	m.StreamClientConnected()
	m.StreamClientDisconnected()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/emails", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthDeniedTotal.WithLabelValues("mailbox", "path")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SMTPSessionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamClients))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("GET", "/", "200", time.Second)
		m.RecordIngest("ok", time.Second)
		m.RecordAuthDenied("guest", "tier")
		m.RecordPanic()
		m.StreamClientConnected()
	})
}

func TestMetrics_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordIngest("ok", time.Millisecond)

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mailfree_ingest_total{result="ok"} 1`)
}
