package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken はAuthorizationヘッダーにBearerトークンが無いことを表す。
	ErrMissingToken = errors.New("token is required")
	// ErrInvalidToken はトークンの署名が不正、または有効期限切れであることを表す。
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrForbidden は認証済みだが必要なロールを持たないことを表す。
	ErrForbidden = errors.New("forbidden")
)

const (
	// MessageTokenRequired はトークンが無い場合にクライアントへ返す文言。
	MessageTokenRequired = "Token is required"
	// MessageInvalidToken はトークンが不正な場合にクライアントへ返す文言。
	MessageInvalidToken = "Invalid or expired token"

	// contextKeyIdentity はGinコンテキストにIdentityを格納するキー。
	contextKeyIdentity = "identity"
	// bearerPrefix はAuthorizationヘッダーのトークン接頭辞。
	bearerPrefix = "Bearer "
)

// Claims はトークンのクレーム（ペイロード）を表す。
// usersサービスが発行するトークンは subject を "id" に入れるため両方を受け付ける。
type Claims struct {
	jwt.RegisteredClaims
	// UserID はusersサービス形式のユーザーID。
	UserID string `json:"id,omitempty"`
	// Role はユーザーのロール（例: "admin", "customer"）。
	Role string `json:"role,omitempty"`
}

// Identity は検証済みの呼び出し元を表す。リクエストの処理中だけ保持される。
type Identity struct {
	// Subject はユーザーの一意識別子。
	Subject string `json:"subject"`
	// Role はユーザーのロール。
	Role string `json:"role"`
}

// GenerateJWT はIdentityからHS256で署名したトークンを生成する。
// ttlが0以下の場合は有効期限を設定しない。
func GenerateJWT(secret string, identity Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  identity.Subject,
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   "foodhub-gateway",
		},
		Role: identity.Role,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// Authenticate はAuthorizationヘッダーの値を検証し、Identityを返す。
// トークンが無ければErrMissingToken、署名不正や期限切れならErrInvalidTokenを返す。
func Authenticate(authHeader, secret string) (Identity, error) {
	tokenString, found := strings.CutPrefix(authHeader, bearerPrefix)
	tokenString = strings.TrimSpace(tokenString)
	if !found || tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{
		jwt.SigningMethodHS256.Alg(),
		jwt.SigningMethodHS384.Alg(),
		jwt.SigningMethodHS512.Alg(),
	}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	subject := claims.Subject
	if subject == "" {
		subject = claims.UserID
	}
	return Identity{Subject: subject, Role: claims.Role}, nil
}

// AuthStatus は認証・認可エラーをHTTPステータスとクライアント向け文言に変換する。
func AuthStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMissingToken):
		return http.StatusForbidden, MessageTokenRequired
	case errors.Is(err, ErrForbidden):
		var roleErr *RoleError
		if errors.As(err, &roleErr) {
			return http.StatusForbidden, roleErr.Error()
		}
		return http.StatusForbidden, "Forbidden"
	default:
		return http.StatusUnauthorized, MessageInvalidToken
	}
}

// JWTAuth はBearerトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストにIdentityを設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := Authenticate(c.GetHeader("Authorization"), secret)
		if err != nil {
			status, message := AuthStatus(err)
			c.AbortWithStatusJSON(status, gin.H{"message": message})
			return
		}
		SetIdentity(c, identity)
		c.Next()
	}
}

// RoleError は必要なロールを持たないことを表す。errors.Is(err, ErrForbidden) が成り立つ。
type RoleError struct {
	// Role は要求されたロール。
	Role string
}

// Error はクライアントへそのまま返せる文言を返す。
func (e *RoleError) Error() string {
	return "Forbidden: " + roleLabel(e.Role) + " access required"
}

// Is はErrForbiddenとの比較を可能にする。
func (e *RoleError) Is(target error) bool {
	return target == ErrForbidden
}

// CheckRole はIdentityが指定ロールを持つか検証する。
func CheckRole(identity Identity, role string) error {
	if identity.Role != role {
		return &RoleError{Role: role}
	}
	return nil
}

// RequireRole はIdentityのロールを検証するGinミドルウェアを返す。
// JWTAuthの後に適用する必要がある。
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, _ := GetIdentity(c)
		if err := CheckRole(identity, role); err != nil {
			status, message := AuthStatus(err)
			c.AbortWithStatusJSON(status, gin.H{"message": message})
			return
		}
		c.Next()
	}
}

// roleLabel はロール名を文言用に先頭大文字にする。
func roleLabel(role string) string {
	if role == "" {
		return role
	}
	return strings.ToUpper(role[:1]) + role[1:]
}

// SetIdentity はGinコンテキストにIdentityを設定する。
func SetIdentity(c *gin.Context, identity Identity) {
	c.Set(contextKeyIdentity, identity)
}

// GetIdentity はGinコンテキストからIdentityを取得する。
// JWTAuthミドルウェア等で事前に設定されている必要がある。
func GetIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return Identity{}, false
	}
	identity, ok := v.(Identity)
	return identity, ok
}
