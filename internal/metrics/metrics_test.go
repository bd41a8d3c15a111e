package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	t.Run("転送試行がラベルごとに集計されること", func(t *testing.T) {
		t.Parallel()

		m := New()
		m.ObserveAttempt("orders", "fallback_cascade", "primary", OutcomeTransportFailure, 10*time.Millisecond)
		m.ObserveAttempt("users", "fallback_cascade", "secondary", OutcomeSuccess, 20*time.Millisecond)
		m.ObserveAttempt("users", "fallback_cascade", "secondary", OutcomeSuccess, 20*time.Millisecond)

		assert.InDelta(t, 1, testutil.ToFloat64(m.attemptsTotal.WithLabelValues("orders", "fallback_cascade", "primary", "transport_failure")), 0)
		assert.InDelta(t, 2, testutil.ToFloat64(m.attemptsTotal.WithLabelValues("users", "fallback_cascade", "secondary", "success")), 0)
		assert.Equal(t, 2, testutil.CollectAndCount(m.attemptDuration))
	})

	t.Run("カスケード失敗と認証拒否が集計されること", func(t *testing.T) {
		t.Parallel()

		m := New()
		m.IncCascadeExhausted("orders")
		m.IncAuthRejection("missing_token")
		m.IncAuthRejection("missing_token")

		assert.InDelta(t, 1, testutil.ToFloat64(m.cascadeExhausted.WithLabelValues("orders")), 0)
		assert.InDelta(t, 2, testutil.ToFloat64(m.authRejections.WithLabelValues("missing_token")), 0)
	})

	t.Run("Handlerがテキスト形式でメトリクスを返すこと", func(t *testing.T) {
		t.Parallel()

		m := New()
		m.IncCascadeExhausted("menu")

		w := httptest.NewRecorder()
		m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, w.Code)

		body, err := io.ReadAll(w.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `gateway_cascade_exhausted_total{route="menu"} 1`)
		assert.Contains(t, string(body), "go_goroutines")
	})
}
