package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.RecordHandshake("accepted")
		m.RecordPresence(true)
		m.RecordFrame("new message")
		m.RecordSlowConsumer()
		m.RecordWorkerRestart("worker-1")
		m.SetWorkerUp("worker-1", true)
	})
}

func TestCollectorsAreExposed(t *testing.T) {
	m := New("worker-1")
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.RecordPresence(false)
	m.RecordFrame("private message")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.presenceChanges.WithLabelValues("offline")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `chat_frames_routed_total{event="private message",worker_id="worker-1"} 1`)
}
