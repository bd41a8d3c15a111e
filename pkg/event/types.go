// Package event はgatewayが記録する転送結果イベントを定義する。
package event

import "time"

// Type はイベントの種類を表す。
type Type string

const (
	// TypeForwardSucceeded はバックエンドへの転送試行が成功したことを表す。
	TypeForwardSucceeded Type = "ForwardSucceeded"
	// TypeForwardFailed はバックエンドへの転送試行が失敗したことを表す。
	TypeForwardFailed Type = "ForwardFailed"
	// TypeCascadeExhausted はプライマリとセカンダリの両方が失敗したことを表す。
	TypeCascadeExhausted Type = "CascadeExhausted"
)

// Valid は定義済みのイベント種別であればtrueを返す。
func (t Type) Valid() bool {
	switch t {
	case TypeForwardSucceeded, TypeForwardFailed, TypeCascadeExhausted:
		return true
	}
	return false
}

// Leg は転送試行がカスケードのどの段階かを表す。
type Leg string

const (
	// LegPrimary は最初の（唯一の場合も含む）試行。
	LegPrimary Leg = "primary"
	// LegSecondary はフォールバック先への試行。
	LegSecondary Leg = "secondary"
)

// Event は1件の転送結果レコード。
// 一度記録されたイベントは変更されない。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// RequestID は対象リクエストのX-Request-ID。
	RequestID string `json:"request_id"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Route はマッチしたルート名。
	Route string `json:"route"`
	// Backend は転送先サービス名。CascadeExhaustedでは空。
	Backend string `json:"backend,omitempty"`
	// Leg はカスケード内の段階。
	Leg Leg `json:"leg,omitempty"`
	// Method はHTTPメソッド。
	Method string `json:"method"`
	// Path は転送先のパス。
	Path string `json:"path"`
	// Status はバックエンドまたはgatewayが返したステータスコード。通信エラー時は0。
	Status int `json:"status"`
	// Reason は失敗理由。成功時は空。
	Reason string `json:"reason,omitempty"`
	// DurationMillis は試行にかかった時間（ミリ秒）。
	DurationMillis int64 `json:"duration_ms"`
	// CreatedAt はイベントが作成された日時（UTC）。
	CreatedAt time.Time `json:"created_at"`
}
