package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenward/internal/session"
)

func TestRecorderCounts(t *testing.T) {
	r := New()

	r.DiscoveryFetched("success")
	r.DiscoveryFetched("success")
	r.TokenExchanged("refresh_token", "invalid_grant")
	r.Transition(session.StateAuthenticated, session.StateRefreshing)
	r.Retried(true)
	r.Retried(false)
	r.Retried(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.discoveryFetches.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.exchanges.WithLabelValues("refresh_token", "invalid_grant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("authenticated", "refreshing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retries.WithLabelValues("accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.retries.WithLabelValues("rejected")))
}

func TestHandlerExposesCounters(t *testing.T) {
	r := New()
	r.TokenExchanged("client_credentials", "success")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tokenward_token_exchanges_total{grant="client_credentials",outcome="success"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
