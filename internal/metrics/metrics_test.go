package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(validations.WithLabelValues("PASS", "INFO"))
	ObserveValidation("PASS", "INFO")
	ObserveValidation("PASS", "INFO")
	assert.Equal(t, before+2, testutil.ToFloat64(validations.WithLabelValues("PASS", "INFO")))

	drops := testutil.ToFloat64(eventsDropped.WithLabelValues("validationComplete"))
	EventDropped("validationComplete")
	assert.Equal(t, drops+1, testutil.ToFloat64(eventsDropped.WithLabelValues("validationComplete")))
}

func TestSessionGauge(t *testing.T) {
	start := testutil.ToFloat64(activeSessions)
	SessionStarted()
	SessionStarted()
	SessionEnded()
	assert.Equal(t, start+1, testutil.ToFloat64(activeSessions))
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveHTTP("GET", "/rules", 200, 5*time.Millisecond)
	LogMessage("error")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "torquesign_http_responses_total"))
	assert.True(t, strings.Contains(body, "torquesign_log_messages_total"))
}
