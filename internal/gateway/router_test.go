package gateway

import (
	"errors"
	"net/http"
	"testing"

	"github.com/nao1215/foodhub/internal/config"
)

// newDefaultRouter は標準のルート表を持つRouterを生成する。
func newDefaultRouter(t *testing.T) *Router {
	t.Helper()

	registry, err := NewRegistry(map[string]string{
		config.ServiceUsers:    "http://users:3001",
		config.ServiceOrders:   "http://orders:3002",
		config.ServiceMenu:     "http://menu:3003",
		config.ServiceDelivery: "http://delivery:3004",
	}, config.RequiredServices...)
	if err != nil {
		t.Fatalf("レジストリ生成に失敗: %v", err)
	}
	rules, err := DefaultRoutes(registry)
	if err != nil {
		t.Fatalf("ルート表生成に失敗: %v", err)
	}
	router, err := NewRouter(rules)
	if err != nil {
		t.Fatalf("Router生成に失敗: %v", err)
	}
	return router
}

// TestRouterMatch はルートの選択を検証する。
func TestRouterMatch(t *testing.T) {
	t.Parallel()

	router := newDefaultRouter(t)

	tests := []struct {
		name      string
		method    string
		path      string
		wantRule  string
		wantPath  string
		wantAuth  bool
		wantStrat Strategy
	}{
		{name: "登録はusersへ直接転送", method: http.MethodPost, path: "/users/register", wantRule: "users-register", wantPath: "/users/register", wantStrat: DirectProxy},
		{name: "ログインは認証不要", method: http.MethodPost, path: "/users/login", wantRule: "users-login", wantPath: "/users/login", wantStrat: DirectProxy},
		{name: "自分の情報は認証必須", method: http.MethodGet, path: "/users/me", wantRule: "users-me", wantPath: "/users/me", wantAuth: true, wantStrat: DirectProxy},
		{name: "ユーザー一覧", method: http.MethodGet, path: "/users/all", wantRule: "users-all", wantPath: "/users/all", wantStrat: DirectProxy},
		{name: "ユーザー削除は認証必須", method: http.MethodDelete, path: "/users/42", wantRule: "users-delete", wantPath: "/users/42", wantAuth: true, wantStrat: DirectProxy},
		{name: "その他のusersは汎用ルート", method: http.MethodPut, path: "/users/42", wantRule: "users", wantPath: "/users/42", wantStrat: DirectProxy},
		{name: "メソッドが違えば具体的なルートにはマッチしない", method: http.MethodPost, path: "/users/me", wantRule: "users", wantPath: "/users/me", wantStrat: DirectProxy},
		{name: "DELETE /users そのものは配下ではない", method: http.MethodDelete, path: "/users", wantRule: "users", wantPath: "/users", wantStrat: DirectProxy},
		{name: "ordersはカスケード", method: http.MethodGet, path: "/orders/7", wantRule: "orders", wantPath: "/orders/7", wantStrat: FallbackCascade},
		{name: "menuはカスケード", method: http.MethodPost, path: "/menu", wantRule: "menu", wantPath: "/menu", wantStrat: FallbackCascade},
		{name: "deliveryは接頭辞を保持して直接転送", method: http.MethodGet, path: "/delivery/track/9", wantRule: "delivery", wantPath: "/delivery/track/9", wantStrat: DirectProxy},
		{name: "末尾のスラッシュは保持される", method: http.MethodGet, path: "/orders/", wantRule: "orders", wantPath: "/orders/", wantStrat: FallbackCascade},
		{name: "ドットセグメントは解決してからマッチする", method: http.MethodGet, path: "/delivery/../users/me", wantRule: "users-me", wantPath: "/users/me", wantAuth: true, wantStrat: DirectProxy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, err := router.Match(tt.method, tt.path)
			if err != nil {
				t.Fatalf("予期しないエラー: %v", err)
			}
			if m.Rule.Name != tt.wantRule {
				t.Errorf("Rule.Name = %q, want %q", m.Rule.Name, tt.wantRule)
			}
			if m.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", m.Path, tt.wantPath)
			}
			if m.Rule.RequiresAuth != tt.wantAuth {
				t.Errorf("RequiresAuth = %v, want %v", m.Rule.RequiresAuth, tt.wantAuth)
			}
			if m.Rule.Strategy != tt.wantStrat {
				t.Errorf("Strategy = %v, want %v", m.Rule.Strategy, tt.wantStrat)
			}
		})
	}
}

// TestRouterMatchNotFound は未設定のパスを検証する。
func TestRouterMatchNotFound(t *testing.T) {
	t.Parallel()

	router := newDefaultRouter(t)

	for _, p := range []string{"/", "/payments", "/usersx", "/orders-archive/1", "/health-check"} {
		if _, err := router.Match(http.MethodGet, p); !errors.Is(err, ErrRouteNotFound) {
			t.Errorf("Match(%q) err = %v, want ErrRouteNotFound", p, err)
		}
	}
}

// TestRouterMatchTie は同じ長さの接頭辞では先に定義したルートが選ばれることを検証する。
func TestRouterMatchTie(t *testing.T) {
	t.Parallel()

	a := BackendTarget{Name: "a", BaseURL: "http://a"}
	b := BackendTarget{Name: "b", BaseURL: "http://b"}
	router, err := NewRouter([]RouteRule{
		{Name: "first", PathPrefix: "/x", Strategy: DirectProxy, Primary: a},
		{Name: "second", PathPrefix: "/x", Strategy: DirectProxy, Primary: b},
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	m, err := router.Match(http.MethodGet, "/x/1")
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if m.Rule.Name != "first" {
		t.Errorf("Rule.Name = %q, want %q", m.Rule.Name, "first")
	}
}

// TestRouteRuleSecondaryPath はセカンダリのパス書き換えを検証する。
func TestRouteRuleSecondaryPath(t *testing.T) {
	t.Parallel()

	users := BackendTarget{Name: "users", BaseURL: "http://users"}
	tests := []struct {
		name   string
		prefix string
		path   string
		want   string
	}{
		{name: "接頭辞を付与する", prefix: "/users", path: "/orders/7", want: "/users/orders/7"},
		{name: "接頭辞の末尾スラッシュは重複しない", prefix: "/users/", path: "/orders/7", want: "/users/orders/7"},
		{name: "先頭スラッシュの無い接頭辞も扱える", prefix: "users", path: "/menu", want: "/users/menu"},
		{name: "空ならセカンダリ名を使う", prefix: "", path: "/menu/3", want: "/users/menu/3"},
		{name: "末尾スラッシュは保持する", prefix: "/users", path: "/orders/", want: "/users/orders/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rule := RouteRule{Secondary: &users, FallbackPrefix: tt.prefix}
			if got := rule.SecondaryPath(tt.path); got != tt.want {
				t.Errorf("SecondaryPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// TestRouteRuleFailureText は両試行失敗時の文言を検証する。
func TestRouteRuleFailureText(t *testing.T) {
	t.Parallel()

	router := newDefaultRouter(t)

	tests := []struct {
		path string
		want string
	}{
		{path: "/orders", want: "Les services orders et users/orders sont indisponibles / Both orders and users/orders services are unavailable"},
		{path: "/menu", want: "Les services menu et users/menu sont indisponibles / Both menu and users/menu services are unavailable"},
	}
	for _, tt := range tests {
		m, err := router.Match(http.MethodGet, tt.path)
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if got := m.Rule.FailureText(); got != tt.want {
			t.Errorf("FailureText = %q, want %q", got, tt.want)
		}
	}

	custom := RouteRule{FailureMessage: "down"}
	if got := custom.FailureText(); got != "down" {
		t.Errorf("FailureText = %q, want %q", got, "down")
	}
}

// TestRouteRuleValidate はルート定義の検証を確認する。
func TestRouteRuleValidate(t *testing.T) {
	t.Parallel()

	primary := BackendTarget{Name: "orders", BaseURL: "http://orders"}
	secondary := BackendTarget{Name: "users", BaseURL: "http://users"}

	tests := []struct {
		name    string
		rule    RouteRule
		wantErr bool
	}{
		{name: "直接プロキシ", rule: RouteRule{Name: "r", PathPrefix: "/r", Strategy: DirectProxy, Primary: primary}},
		{name: "カスケード", rule: RouteRule{Name: "r", PathPrefix: "/r", Strategy: FallbackCascade, Primary: primary, Secondary: &secondary}},
		{name: "カスケードでセカンダリが無い", rule: RouteRule{Name: "r", PathPrefix: "/r", Strategy: FallbackCascade, Primary: primary}, wantErr: true},
		{name: "直接プロキシでセカンダリがある", rule: RouteRule{Name: "r", PathPrefix: "/r", Strategy: DirectProxy, Primary: primary, Secondary: &secondary}, wantErr: true},
		{name: "接頭辞がスラッシュで始まらない", rule: RouteRule{Name: "r", PathPrefix: "r", Strategy: DirectProxy, Primary: primary}, wantErr: true},
		{name: "戦略が未指定", rule: RouteRule{Name: "r", PathPrefix: "/r", Primary: primary}, wantErr: true},
		{name: "名前が空", rule: RouteRule{PathPrefix: "/r", Strategy: DirectProxy, Primary: primary}, wantErr: true},
		{name: "プライマリが未設定", rule: RouteRule{Name: "r", PathPrefix: "/r", Strategy: DirectProxy}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.rule.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidRoute) {
				t.Errorf("err = %v, want ErrInvalidRoute", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("予期しないエラー: %v", err)
			}
		})
	}

	if _, err := NewRouter([]RouteRule{tests[2].rule}); !errors.Is(err, ErrInvalidRoute) {
		t.Errorf("NewRouter err = %v, want ErrInvalidRoute", err)
	}
}

// TestEscapePath は転送用のパスのエンコードを検証する。
func TestEscapePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "/delivery/track/9", want: "/delivery/track/9"},
		{in: "/menu/pizza margherita", want: "/menu/pizza%20margherita"},
		{in: "/users/orders/7/", want: "/users/orders/7/"},
		{in: "/orders/a?b", want: "/orders/a%3Fb"},
	}
	for _, tt := range tests {
		if got := escapePath(tt.in); got != tt.want {
			t.Errorf("escapePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
