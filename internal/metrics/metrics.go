// Package metrics はgatewayの転送結果をPrometheusのメトリクスとして公開する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Outcome は転送試行の結果の分類。
type Outcome string

const (
	// OutcomeSuccess はバックエンドが2xxを返したことを表す。
	OutcomeSuccess Outcome = "success"
	// OutcomeStatusFailure はバックエンドが2xx以外を返したことを表す。
	OutcomeStatusFailure Outcome = "status_failure"
	// OutcomeTransportFailure は接続失敗やタイムアウトを表す。
	OutcomeTransportFailure Outcome = "transport_failure"
)

// Metrics はgatewayのメトリクス一式。
// Serverごとに専用のレジストリを持つため、テストで複数生成しても衝突しない。
type Metrics struct {
	registry *prometheus.Registry

	attemptsTotal    *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	cascadeExhausted *prometheus.CounterVec
	authRejections   *prometheus.CounterVec
}

// New は新しいMetricsを生成し、プロセスとGoランタイムのコレクターも登録する。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forward_attempts_total",
				Help:      "Total number of forward attempts sent to backends",
			},
			[]string{"backend", "strategy", "leg", "outcome"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "forward_attempt_duration_seconds",
				Help:      "Duration of forward attempts in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend", "leg"},
		),
		cascadeExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cascade_exhausted_total",
				Help:      "Total number of cascades where both primary and secondary failed",
			},
			[]string{"route"},
		),
		authRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_rejections_total",
				Help:      "Total number of requests rejected by the auth guard",
			},
			[]string{"reason"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.attemptsTotal,
		m.attemptDuration,
		m.cascadeExhausted,
		m.authRejections,
	)
	return m
}

// ObserveAttempt は1回の転送試行を記録する。
func (m *Metrics) ObserveAttempt(backend, strategy, leg string, outcome Outcome, d time.Duration) {
	m.attemptsTotal.WithLabelValues(backend, strategy, leg, string(outcome)).Inc()
	m.attemptDuration.WithLabelValues(backend, leg).Observe(d.Seconds())
}

// IncCascadeExhausted はカスケードの両試行失敗を記録する。
func (m *Metrics) IncCascadeExhausted(route string) {
	m.cascadeExhausted.WithLabelValues(route).Inc()
}

// IncAuthRejection は認証・認可による拒否を記録する。
func (m *Metrics) IncAuthRejection(reason string) {
	m.authRejections.WithLabelValues(reason).Inc()
}

// Handler は/metrics用のHTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
