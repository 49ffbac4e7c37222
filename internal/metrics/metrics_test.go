// ABOUTME: Tests for metrics recording helpers
// ABOUTME: Reads counters back through the prometheus testutil package

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordResearch(t *testing.T) {
	before := testutil.ToFloat64(researchRuns.WithLabelValues(OutcomeCompleted))
	RecordResearch(OutcomeCompleted, 2*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(researchRuns.WithLabelValues(OutcomeCompleted)))
}

func TestSessionGauge(t *testing.T) {
	before := testutil.ToFloat64(sessionsActive)
	SessionOpened()
	SessionOpened()
	SessionClosed()
	assert.Equal(t, before+1, testutil.ToFloat64(sessionsActive))
	SessionClosed()
}

func TestFrameCounters(t *testing.T) {
	before := testutil.ToFloat64(framesTotal.WithLabelValues("in", "message"))
	RecordFrameIn("message")
	RecordFrameOut("state")
	RecordFrameRejected("decode")
	assert.Equal(t, before+1, testutil.ToFloat64(framesTotal.WithLabelValues("in", "message")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordPersistenceError("append_message")
	RecordPoolWait(time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "research_gateway_persistence_errors_total"))
	assert.True(t, strings.Contains(body, "research_gateway_persistence_pool_wait_seconds"))
}
