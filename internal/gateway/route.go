package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/nao1215/foodhub/internal/config"
)

// Strategy は転送戦略。
type Strategy int

const (
	// DirectProxy は1つのバックエンドへ1回だけ転送し、応答をそのまま返す。
	DirectProxy Strategy = iota + 1
	// FallbackCascade はプライマリが失敗した場合に限りセカンダリへ転送する。
	FallbackCascade
)

// String はメトリクスのラベルやログに使う戦略名を返す。
func (s Strategy) String() string {
	switch s {
	case DirectProxy:
		return "direct_proxy"
	case FallbackCascade:
		return "fallback_cascade"
	default:
		return "unknown"
	}
}

// RouteRule はパス接頭辞から転送戦略とバックエンドへの対応。
type RouteRule struct {
	// Name はログ・メトリクス・フォールバック文言に使うルート名。
	Name string
	// PathPrefix はマッチ対象のパス接頭辞。末尾が "/" の場合はその配下のみにマッチする。
	PathPrefix string
	// Methods はマッチするHTTPメソッド。空ならすべてのメソッドにマッチする。
	Methods []string
	// Strategy は転送戦略。
	Strategy Strategy
	// Primary は最初に転送するバックエンド。
	Primary BackendTarget
	// Secondary はFallbackCascadeのときだけ使うバックエンド。
	Secondary *BackendTarget
	// FallbackPrefix はセカンダリへ転送するときに元のパスの前に付ける接頭辞。
	// 空なら "/" + Secondary.Name を使う。
	FallbackPrefix string
	// FailureMessage は両試行が失敗したときにクライアントへ返す文言。
	// 空なら既定の文言を使う。
	FailureMessage string
	// RequiresAuth は転送前にBearerトークンの検証を必須にする場合にtrue。
	RequiresAuth bool
	// RequiredRole は転送前に要求するロール。空なら検証しない。
	RequiredRole string
}

// Validate はルート定義の不変条件を検証する。
func (r RouteRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: ルート名が空です", ErrInvalidRoute)
	}
	if !strings.HasPrefix(r.PathPrefix, "/") {
		return fmt.Errorf("%w: %s のパス接頭辞は / で始まる必要があります", ErrInvalidRoute, r.Name)
	}
	if r.Primary.BaseURL == "" {
		return fmt.Errorf("%w: %s のプライマリが未設定です", ErrInvalidRoute, r.Name)
	}
	switch r.Strategy {
	case DirectProxy:
		if r.Secondary != nil {
			return fmt.Errorf("%w: %s は直接プロキシですがセカンダリが設定されています", ErrInvalidRoute, r.Name)
		}
	case FallbackCascade:
		if r.Secondary == nil || r.Secondary.BaseURL == "" {
			return fmt.Errorf("%w: %s はカスケードですがセカンダリが未設定です", ErrInvalidRoute, r.Name)
		}
	default:
		return fmt.Errorf("%w: %s の転送戦略が不正です", ErrInvalidRoute, r.Name)
	}
	return nil
}

// matchesMethod はメソッドがルートの対象かを判定する。
func (r RouteRule) matchesMethod(method string) bool {
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// matchesPath はセグメント境界を考慮して接頭辞マッチを行う。
// "/users" は "/users" と "/users/..." にマッチし、"/users-admin" にはマッチしない。
// "/users/" は "/users/..." にのみマッチする。
func (r RouteRule) matchesPath(p string) bool {
	prefix := r.PathPrefix
	if prefix == "/" {
		return true
	}
	if strings.HasSuffix(prefix, "/") {
		return len(p) > len(prefix) && strings.HasPrefix(p, prefix)
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// SecondaryPath はセカンダリへ転送するパスを返す。
// 例えばFallbackPrefixが "/users" なら "/orders/7" は "/users/orders/7" になる。
func (r RouteRule) SecondaryPath(p string) string {
	prefix := r.FallbackPrefix
	if prefix == "" && r.Secondary != nil {
		prefix = "/" + r.Secondary.Name
	}
	prefix = strings.Trim(prefix, "/")
	p = strings.TrimLeft(p, "/")
	if prefix == "" {
		return "/" + p
	}
	return "/" + prefix + "/" + p
}

// FailureText は両試行が失敗したときの文言を返す。
func (r RouteRule) FailureText() string {
	if r.FailureMessage != "" {
		return r.FailureMessage
	}
	primary := r.Primary.Name
	secondary := strings.TrimPrefix(r.SecondaryPath(strings.TrimPrefix(r.PathPrefix, "/")), "/")
	return fmt.Sprintf("Les services %s et %s sont indisponibles / Both %s and %s services are unavailable",
		primary, secondary, primary, secondary)
}

// DefaultRoutes はレジストリの4サービスに対する標準のルート表を返す。
// 同じ長さの接頭辞にマッチした場合は先に定義したルートが優先される。
func DefaultRoutes(registry *Registry) ([]RouteRule, error) {
	users, err := registry.Resolve(config.ServiceUsers)
	if err != nil {
		return nil, err
	}
	orders, err := registry.Resolve(config.ServiceOrders)
	if err != nil {
		return nil, err
	}
	menu, err := registry.Resolve(config.ServiceMenu)
	if err != nil {
		return nil, err
	}
	delivery, err := registry.Resolve(config.ServiceDelivery)
	if err != nil {
		return nil, err
	}

	return []RouteRule{
		{Name: "users-register", PathPrefix: "/users/register", Methods: []string{http.MethodPost}, Strategy: DirectProxy, Primary: users},
		{Name: "users-login", PathPrefix: "/users/login", Methods: []string{http.MethodPost}, Strategy: DirectProxy, Primary: users},
		{Name: "users-me", PathPrefix: "/users/me", Methods: []string{http.MethodGet}, Strategy: DirectProxy, Primary: users, RequiresAuth: true},
		{Name: "users-all", PathPrefix: "/users/all", Methods: []string{http.MethodGet}, Strategy: DirectProxy, Primary: users},
		{Name: "users-delete", PathPrefix: "/users/", Methods: []string{http.MethodDelete}, Strategy: DirectProxy, Primary: users, RequiresAuth: true},
		{Name: "users", PathPrefix: "/users", Strategy: DirectProxy, Primary: users},
		{Name: "orders", PathPrefix: "/orders", Strategy: FallbackCascade, Primary: orders, Secondary: &users, FallbackPrefix: "/users"},
		{Name: "menu", PathPrefix: "/menu", Strategy: FallbackCascade, Primary: menu, Secondary: &users, FallbackPrefix: "/users"},
		{Name: "delivery", PathPrefix: "/delivery", Strategy: DirectProxy, Primary: delivery},
	}, nil
}
