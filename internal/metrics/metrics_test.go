package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

func TestCounters(t *testing.T) {
	m := New("test")

	done := m.TradeStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))

	m.TradeFinished(domain.TradeReport{Status: domain.TradeStatusFailed, Side: domain.SideBuy, ErrorKind: domain.KindInsufficientBalance})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trades.WithLabelValues("failed", "BUY", domain.KindInsufficientBalance)))

	m.Submission(domain.ClassRecoverable)
	m.Submission(domain.ClassSuccess)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("retryable")))

	m.Remediation("deposit", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.remediations.WithLabelValues("deposit", "failed")))

	m.ObserveStage(domain.StagePrice, 20*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageSeconds))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New("test")
	m.Submission(domain.ClassSuccess)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_submissions_total{classification="success"} 1`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.TradeStarted()()
	m.TradeFinished(domain.TradeReport{})
	m.Submission(domain.ClassTerminal)
	m.Remediation("approval", true)
	m.ObserveStage("x", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
