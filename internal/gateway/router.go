package gateway

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Match はルーティングの結果。
type Match struct {
	// Rule はマッチしたルート。
	Rule RouteRule
	// Path は復号・正規化済みの受信パス。プライマリへはこのパスを再エンコードして転送する。
	Path string
}

// SecondaryPath はセカンダリへ転送するパスを返す。
func (m Match) SecondaryPath() string {
	return m.Rule.SecondaryPath(m.Path)
}

// Router はルート表からリクエストに対応するルートを選ぶ。
type Router struct {
	rules []RouteRule
}

// NewRouter はルート表を検証してRouterを生成する。
func NewRouter(rules []RouteRule) (*Router, error) {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	copied := make([]RouteRule, len(rules))
	copy(copied, rules)
	return &Router{rules: copied}, nil
}

// Rules はルート表のコピーを返す。
func (r *Router) Rules() []RouteRule {
	rules := make([]RouteRule, len(r.rules))
	copy(rules, r.rules)
	return rules
}

// Match はメソッドとパスに最も長い接頭辞でマッチするルートを返す。
// rawPathはパーセントエンコードを復号済みのパス（url.URL.Path）を渡すこと。
func (r *Router) Match(method, rawPath string) (Match, error) {
	p := cleanPath(rawPath)

	best := -1
	for i, rule := range r.rules {
		if !rule.matchesMethod(method) || !rule.matchesPath(p) {
			continue
		}
		if best < 0 || len(rule.PathPrefix) > len(r.rules[best].PathPrefix) {
			best = i
		}
	}
	if best < 0 {
		return Match{}, fmt.Errorf("%w: %s %s", ErrRouteNotFound, method, p)
	}
	return Match{Rule: r.rules[best], Path: p}, nil
}

// escapePath は復号済みのパスを転送用にパーセントエンコードする。
func escapePath(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}

// cleanPath は "." や ".." を解決したパスを返す。末尾の "/" は保持する。
// 入力は復号済みのパスであること。
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}
