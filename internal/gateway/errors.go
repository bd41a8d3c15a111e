package gateway

import "errors"

var (
	// ErrUnknownBackend はレジストリに存在しないサービス名を解決しようとしたことを表す。
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrRouteNotFound はどのルートにもマッチしなかったことを表す。
	ErrRouteNotFound = errors.New("route not found")
	// ErrInvalidRoute はルート定義の不変条件が満たされていないことを表す。
	ErrInvalidRoute = errors.New("invalid route rule")
	// ErrBackendTransport は接続失敗・タイムアウト・DNS解決失敗などの通信エラーを表す。
	ErrBackendTransport = errors.New("backend transport failure")
	// ErrBackendStatus はバックエンドが2xx以外のステータスを返したことを表す。
	ErrBackendStatus = errors.New("backend status failure")
	// ErrCascadeExhausted はプライマリとセカンダリの両方が失敗したことを表す。
	ErrCascadeExhausted = errors.New("cascade exhausted")
)
