package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/foodhub/pkg/event"
	"github.com/nao1215/foodhub/pkg/httpclient"
)

// Forwarder はバックエンドへ1回の転送試行を行う。
type Forwarder interface {
	Forward(ctx context.Context, r httpclient.Request) (*httpclient.Response, error)
}

// InboundRequest はクライアントから受信したリクエストのうち転送に使う部分。
type InboundRequest struct {
	// Method はHTTPメソッド。
	Method string
	// RawQuery はエンコード済みのクエリ文字列。
	RawQuery string
	// Body はリクエストボディ。ボディが無い場合は空。
	Body []byte
	// Authorization は受信したAuthorizationヘッダーの値。
	Authorization string
	// ContentType は受信したContent-Typeヘッダーの値。
	ContentType string
	// RequestID はログとジャーナルに記録するリクエストID。転送はしない。
	RequestID string
}

// AttemptResult は1回の転送試行の結果。
type AttemptResult struct {
	// Target は転送先。
	Target BackendTarget
	// ResolvedPath は転送したパス。
	ResolvedPath string
	// Status はバックエンドのステータスコード。通信エラーの場合は0。
	Status int
	// Header はバックエンドのレスポンスヘッダー。
	Header http.Header
	// Body はバックエンドのレスポンスボディ。
	Body []byte
	// Err は失敗理由。ErrBackendTransportかErrBackendStatusをラップする。
	Err error
	// Duration は試行にかかった時間。
	Duration time.Duration
}

// OK は試行が2xxで成功したかを返す。
func (a AttemptResult) OK() bool {
	return a.Err == nil
}

// transportFailed は通信エラーで失敗したかを返す。
func (a AttemptResult) transportFailed() bool {
	return errors.Is(a.Err, ErrBackendTransport)
}

// Engine はルートの転送戦略を実行する。
// 状態を持たないため複数のgoroutineから同時に使用できる。
type Engine struct {
	client   Forwarder
	recorder *recorder
}

// NewEngine は新しいEngineを生成する。
func NewEngine(client Forwarder, logger *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		client:   client,
		recorder: &recorder{logger: logger},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EngineOption はEngineの設定を変更する関数。
type EngineOption func(*Engine)

// WithMetrics は転送結果をメトリクスに記録する。
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) {
		e.recorder.metrics = m
	}
}

// WithJournal は転送結果をジャーナルに記録する。
func WithJournal(j Journal) EngineOption {
	return func(e *Engine) {
		e.recorder.journal = j
	}
}

// Forward はマッチしたルートの戦略でリクエストを転送し、クライアントへ返す応答を組み立てる。
func (e *Engine) Forward(ctx context.Context, m Match, in InboundRequest) Response {
	switch m.Rule.Strategy {
	case FallbackCascade:
		return e.cascade(ctx, m, in)
	default:
		return e.directProxy(ctx, m, in)
	}
}

// directProxy はプライマリへ1回だけ転送する。
// バックエンドのステータスは2xx以外でもそのまま返し、通信エラーのみ500に変換する。
func (e *Engine) directProxy(ctx context.Context, m Match, in InboundRequest) Response {
	result := e.attempt(ctx, m.Rule.Primary, m.Path, in)
	e.recorder.attempt(ctx, m, in, event.LegPrimary, result)

	if result.transportFailed() {
		return transportFailure(result)
	}
	return passThrough(result)
}

// cascade はプライマリへ転送し、失敗した場合に限りセカンダリへ転送する。
// 2回とも失敗した場合は502を返す。
func (e *Engine) cascade(ctx context.Context, m Match, in InboundRequest) Response {
	primary := e.attempt(ctx, m.Rule.Primary, m.Path, in)
	e.recorder.attempt(ctx, m, in, event.LegPrimary, primary)
	if primary.OK() {
		return passThrough(primary)
	}

	// クライアントが既に切断している場合はセカンダリを試さない
	if err := ctx.Err(); err != nil {
		e.recorder.exhausted(ctx, m, in, primary, AttemptResult{Err: err})
		return cascadeExhausted(m.Rule)
	}

	secondary := e.attempt(ctx, *m.Rule.Secondary, m.SecondaryPath(), in)
	e.recorder.attempt(ctx, m, in, event.LegSecondary, secondary)
	if secondary.OK() {
		return passThrough(secondary)
	}

	e.recorder.exhausted(ctx, m, in, primary, secondary)
	return cascadeExhausted(m.Rule)
}

// attempt はバックエンドへ1回転送し、結果を分類する。
func (e *Engine) attempt(ctx context.Context, target BackendTarget, path string, in InboundRequest) AttemptResult {
	start := time.Now()
	resp, err := e.client.Forward(ctx, httpclient.Request{
		Method:   in.Method,
		BaseURL:  target.BaseURL,
		Path:     escapePath(path),
		RawQuery: in.RawQuery,
		Body:     in.Body,
		Header:   outboundHeader(in),
	})
	result := AttemptResult{Target: target, ResolvedPath: path, Duration: time.Since(start)}
	if err != nil {
		result.Err = fmt.Errorf("%w: %s: %w", ErrBackendTransport, target.Name, err)
		return result
	}

	result.Status = resp.Status
	result.Header = resp.Header
	result.Body = resp.Body
	if resp.Status < 200 || resp.Status > 299 {
		result.Err = fmt.Errorf("%w: %s responded with status %d", ErrBackendStatus, target.Name, resp.Status)
	}
	return result
}

// outboundHeader はバックエンドへ転送するヘッダーを組み立てる。
// Authorizationと、ボディがある場合のContent-Typeのみを転送する。
func outboundHeader(in InboundRequest) http.Header {
	h := make(http.Header, 2)
	if in.Authorization != "" {
		h.Set("Authorization", in.Authorization)
	}
	if len(in.Body) > 0 {
		contentType := in.ContentType
		if contentType == "" {
			contentType = defaultContentType
		}
		h.Set("Content-Type", contentType)
	}
	return h
}
