package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/foodhub/internal/metrics"
	"github.com/nao1215/foodhub/pkg/event"
)

// MetricsRecorder は転送結果のメトリクスを記録する。
type MetricsRecorder interface {
	ObserveAttempt(backend, strategy, leg string, outcome metrics.Outcome, d time.Duration)
	IncCascadeExhausted(route string)
}

// Journal は転送結果イベントを永続化する。
type Journal interface {
	Append(ctx context.Context, e *event.Event) error
}

// recorder は転送結果をログ・メトリクス・ジャーナルに記録する。
// metricsとjournalはnilなら記録しない。
type recorder struct {
	logger  *zap.Logger
	metrics MetricsRecorder
	journal Journal
}

// attempt は1回の転送試行を記録する。
func (r *recorder) attempt(ctx context.Context, m Match, in InboundRequest, leg event.Leg, a AttemptResult) {
	outcome := outcomeOf(a)
	fields := []zap.Field{
		zap.String("request_id", in.RequestID),
		zap.String("route", m.Rule.Name),
		zap.String("strategy", m.Rule.Strategy.String()),
		zap.String("leg", string(leg)),
		zap.String("backend", a.Target.Name),
		zap.String("method", in.Method),
		zap.String("path", a.ResolvedPath),
		zap.Int("status", a.Status),
		zap.Duration("duration", a.Duration),
	}

	switch {
	case outcome == metrics.OutcomeSuccess:
		r.logger.Debug("転送成功", fields...)
	case outcome == metrics.OutcomeTransportFailure || m.Rule.Strategy == FallbackCascade:
		r.logger.Warn("転送失敗", append(fields, zap.Error(a.Err))...)
	default:
		// 直接プロキシの2xx以外はバックエンドの正当な応答として扱う
		r.logger.Info("バックエンドがエラーを返却", fields...)
	}

	if r.metrics != nil {
		r.metrics.ObserveAttempt(a.Target.Name, m.Rule.Strategy.String(), string(leg), outcome, a.Duration)
	}

	eventType := event.TypeForwardSucceeded
	if !a.OK() {
		eventType = event.TypeForwardFailed
	}
	e, err := r.newEvent(eventType, m, in)
	if err != nil {
		return
	}
	e.Backend = a.Target.Name
	e.Leg = leg
	e.Path = a.ResolvedPath
	e.Status = a.Status
	e.DurationMillis = a.Duration.Milliseconds()
	if a.Err != nil {
		e.Reason = a.Err.Error()
	}
	r.append(ctx, e)
}

// exhausted はカスケードの両試行失敗を記録する。
func (r *recorder) exhausted(ctx context.Context, m Match, in InboundRequest, primary, secondary AttemptResult) {
	r.logger.Error("カスケードの全試行が失敗",
		zap.String("request_id", in.RequestID),
		zap.String("route", m.Rule.Name),
		zap.String("method", in.Method),
		zap.String("path", m.Path),
		zap.NamedError("primary_error", primary.Err),
		zap.NamedError("secondary_error", secondary.Err),
	)

	if r.metrics != nil {
		r.metrics.IncCascadeExhausted(m.Rule.Name)
	}

	e, err := r.newEvent(event.TypeCascadeExhausted, m, in)
	if err != nil {
		return
	}
	e.Path = m.Path
	e.Status = http.StatusBadGateway
	e.Reason = errors.Join(ErrCascadeExhausted, primary.Err, secondary.Err).Error()
	r.append(ctx, e)
}

func (r *recorder) newEvent(t event.Type, m Match, in InboundRequest) (*event.Event, error) {
	if r.journal == nil {
		return nil, errJournalDisabled
	}
	e, err := event.New(t, in.RequestID, m.Rule.Name)
	if err != nil {
		r.logger.Error("イベント生成に失敗", zap.Error(err))
		return nil, err
	}
	e.Method = in.Method
	return e, nil
}

// append はジャーナルへ書き込む。クライアントの切断で書き込みが中断されないようにする。
// 書き込みの失敗は応答に影響させずログにのみ残す。
func (r *recorder) append(ctx context.Context, e *event.Event) {
	if err := r.journal.Append(context.WithoutCancel(ctx), e); err != nil {
		r.logger.Error("ジャーナルへの記録に失敗",
			zap.String("request_id", e.RequestID),
			zap.String("event_type", string(e.EventType)),
			zap.Error(err),
		)
	}
}

var errJournalDisabled = errors.New("journal disabled")

// outcomeOf は試行結果をメトリクスの分類に変換する。
func outcomeOf(a AttemptResult) metrics.Outcome {
	switch {
	case a.OK():
		return metrics.OutcomeSuccess
	case a.transportFailed():
		return metrics.OutcomeTransportFailure
	default:
		return metrics.OutcomeStatusFailure
	}
}
