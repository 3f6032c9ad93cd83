package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.RecordTurn("openai", OutcomeOK)
	m.RecordTurn("openai", OutcomeOK)
	m.RecordTurn("openai", OutcomeDegraded)
	m.RecordProviderLatency("openai", "generate", 250*time.Millisecond)
	m.RecordScan(OutcomeOK)
	m.RecordPurge(3, nil)
	m.RecordPurge(0, errors.New("disk full"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turns.WithLabelValues("openai", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues("openai", OutcomeDegraded)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.purged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.purgeRuns.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scans.WithLabelValues(OutcomeOK)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTurn("openai", OutcomeOK)
		m.RecordProviderLatency("openai", "generate", time.Second)
		m.RecordScan(OutcomeFailed)
		m.RecordPurge(1, nil)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordTurn("gemini", OutcomeOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `scanmed_chat_turns_total{outcome="ok",provider="gemini"} 1`)
}
