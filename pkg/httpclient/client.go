package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTimeout は試行ごとのタイムアウトの既定値。
const DefaultTimeout = 5 * time.Second

// Client はバックエンドへの転送試行を行うHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// timeout は1回の試行に許される最大時間。
	timeout time.Duration
}

// Option はClientの設定を変更する関数。
type Option func(*Client)

// WithTransport は内部で使用するRoundTripperを差し替える。
// 指定したRoundTripperもotelhttpでラップされる。
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = otelhttp.NewTransport(rt)
	}
}

// New は新しいクライアントを生成する。
// timeoutが0以下の場合はDefaultTimeoutを使用する。
func New(timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			// リダイレクトはバックエンドの応答としてそのまま呼び出し元へ返す
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout は試行ごとのタイムアウトを返す。
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Request は1回の転送試行の内容。
type Request struct {
	// Method はHTTPメソッド。
	Method string
	// BaseURL は転送先サービスのベースURL。
	BaseURL string
	// Path は転送先のパス。
	Path string
	// RawQuery はエンコード済みのクエリ文字列（?は含まない）。
	RawQuery string
	// Body はリクエストボディ。nilまたは空の場合はボディなしで送信する。
	Body []byte
	// Header は転送するヘッダー。
	Header http.Header
}

// Response はバックエンドの応答。
type Response struct {
	// Status はHTTPステータスコード。
	Status int
	// Header はレスポンスヘッダー。
	Header http.Header
	// Body はレスポンスボディ全体。
	Body []byte
}

// Forward はリクエストをバックエンドに送信し、応答を読み切って返す。
// 接続失敗・タイムアウト・DNS解決失敗などの通信エラーのみをerrorとして返し、
// ステータスコードは解釈しない。
func (c *Client) Forward(ctx context.Context, r Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := JoinURL(r.BaseURL, r.Path)
	if r.RawQuery != "" {
		target += "?" + r.RawQuery
	}

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスの読み取りに失敗: %w", err)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   respBody,
	}, nil
}

// JoinURL はベースURLとパスを区切り文字がちょうど1つになるように連結する。
func JoinURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if path == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// ErrorText は呼び出し元に返してよい通信エラーの文言を返す。
// *url.Error に含まれる内部サービスのURLは取り除く。
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return "upstream request timed out"
		}
		return urlErr.Err.Error()
	}
	return err.Error()
}
