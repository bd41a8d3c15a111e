package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/foodhub/pkg/httpclient"
	"github.com/nao1215/foodhub/pkg/middleware"
)

// defaultContentType はバックエンドがContent-Typeを返さなかった場合に使う値。
const defaultContentType = "application/json"

// MessageRouteNotFound はどのルートにもマッチしなかった場合の文言。
const MessageRouteNotFound = "Route not found"

// Envelope はgateway自身が生成するエラー応答のボディ。
type Envelope struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Response はクライアントへ返す応答。
// Envelopeが設定されている場合はそれをJSONとして返し、そうでなければBodyをそのまま返す。
type Response struct {
	// Status はHTTPステータスコード。
	Status int
	// ContentType はBodyのContent-Type。
	ContentType string
	// Body はバックエンドの応答ボディ。
	Body []byte
	// Envelope はgatewayが生成したエラー応答。
	Envelope *Envelope
}

// Write はGinコンテキストへ応答を書き込む。
func (r Response) Write(c *gin.Context) {
	if r.Envelope != nil {
		c.JSON(r.Status, r.Envelope)
		return
	}
	c.Data(r.Status, r.ContentType, r.Body)
}

// passThrough はバックエンドの応答をステータスとボディを変えずに返す。
func passThrough(a AttemptResult) Response {
	contentType := a.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	return Response{Status: a.Status, ContentType: contentType, Body: a.Body}
}

// messageResponse は {"message": ...} 形式の応答を返す。
func messageResponse(status int, message string) Response {
	return Response{Status: status, Envelope: &Envelope{Message: message}}
}

// transportFailure は直接プロキシの通信エラーを500として返す。
// エラー文言からは内部サービスのURLを取り除く。
func transportFailure(a AttemptResult) Response {
	return Response{
		Status: http.StatusInternalServerError,
		Envelope: &Envelope{
			Message: "Error forwarding request to " + a.Target.Name,
			Error:   httpclient.ErrorText(a.Err),
		},
	}
}

// cascadeExhausted はカスケードの両試行が失敗した場合の502を返す。
func cascadeExhausted(rule RouteRule) Response {
	return messageResponse(http.StatusBadGateway, rule.FailureText())
}

// routeNotFound はどのルートにもマッチしなかった場合の404を返す。
func routeNotFound() Response {
	return messageResponse(http.StatusNotFound, MessageRouteNotFound)
}

// authRejected は認証・認可エラーを応答に変換する。
func authRejected(err error) Response {
	status, message := middleware.AuthStatus(err)
	return messageResponse(status, message)
}
