package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/nao1215/foodhub/internal/audit"
	"github.com/nao1215/foodhub/internal/config"
	"github.com/nao1215/foodhub/internal/metrics"
	"github.com/nao1215/foodhub/pkg/httpclient"
	"github.com/nao1215/foodhub/pkg/middleware"
)

const (
	// serviceName はトレースとヘルスチェックで使うサービス名。
	serviceName = "foodhub-gateway"
	// maxBodyBytes は転送するリクエストボディの上限。
	maxBodyBytes = 10 << 20
	// readHeaderTimeout はリクエストヘッダーの読み取りタイムアウト。
	readHeaderTimeout = 10 * time.Second
)

// Server はAPI GatewayのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はgatewayの設定。
	cfg *config.Config
	// logger は構造化ロガー。
	logger *zap.Logger
	// routes はルート表。
	routes *Router
	// engine は転送戦略の実行器。
	engine *Engine
	// metrics はPrometheusのメトリクス。
	metrics *metrics.Metrics
	// journal は転送結果のジャーナル。無効な場合はnil。
	journal *audit.Store
	// writer はjournalへ非同期に書き込む。journalがnilの場合はnil。
	writer *audit.AsyncWriter
}

// Option はServerの生成時の設定を変更する関数。
type Option func(*serverOptions)

type serverOptions struct {
	rules     []RouteRule
	forwarder Forwarder
}

// WithRouteRules は標準のルート表の代わりに指定したルート表を使う。
func WithRouteRules(rules []RouteRule) Option {
	return func(o *serverOptions) {
		o.rules = rules
	}
}

// WithForwarder はバックエンドへの転送に使うクライアントを差し替える。
func WithForwarder(f Forwarder) Option {
	return func(o *serverOptions) {
		o.forwarder = f
	}
}

// NewServer は設定からGatewayサーバーを生成する。
// レジストリとルート表はここで確定し、以降は変更されない。
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	o := &serverOptions{}
	for _, opt := range opts {
		opt(o)
	}

	rules := o.rules
	if rules == nil {
		registry, err := NewRegistry(cfg.Services, config.RequiredServices...)
		if err != nil {
			return nil, fmt.Errorf("バックエンドレジストリの生成に失敗: %w", err)
		}
		if rules, err = DefaultRoutes(registry); err != nil {
			return nil, fmt.Errorf("ルート表の生成に失敗: %w", err)
		}
	}
	routes, err := NewRouter(rules)
	if err != nil {
		return nil, fmt.Errorf("ルート表の検証に失敗: %w", err)
	}

	forwarder := o.forwarder
	if forwarder == nil {
		forwarder = httpclient.New(cfg.AttemptTimeout)
	}

	m := metrics.New()
	engineOpts := []EngineOption{WithMetrics(m)}

	var (
		journal *audit.Store
		writer  *audit.AsyncWriter
	)
	if cfg.AuditDBPath != "" {
		journal, err = audit.Open(ctx, cfg.AuditDBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("ジャーナルのオープンに失敗: %w", err)
		}
		// 記録はキュー経由で行い、ディスクの遅延を転送の応答に持ち込まない
		writer = audit.NewAsyncWriter(journal, logger, cfg.AuditBufferSize)
		engineOpts = append(engineOpts, WithJournal(writer))
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		router:  router,
		cfg:     cfg,
		logger:  logger,
		routes:  routes,
		engine:  NewEngine(forwarder, logger, engineOpts...),
		metrics: m,
		journal: journal,
		writer:  writer,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close はキューに残ったイベントを書き終えてからジャーナルを閉じる。
func (s *Server) Close() error {
	if s.journal == nil {
		return nil
	}
	if err := s.writer.Close(); err != nil {
		s.logger.Error("ジャーナル書き込みの停止に失敗", zap.Error(err))
	}
	if n := s.writer.Dropped(); n > 0 {
		s.logger.Warn("キュー満杯で記録できなかったイベントがあります", zap.Int64("dropped", n))
	}
	return s.journal.Close()
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされたらグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Gatewayサービスを起動します", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("Gatewayサービスの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Gatewayサービスを停止します", zap.Duration("timeout", s.cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("グレースフルシャットダウンに失敗: %w", err)
	}
	return nil
}

// setupRoutes はルーティングを設定する。
// gateway自身のエンドポイント以外はすべてルート表による転送に回す。
func (s *Server) setupRoutes() {
	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	admin := s.router.Group("/gateway")
	admin.Use(middleware.JWTAuth(s.cfg.JWTSecret), middleware.RequireRole("admin"))
	{
		admin.GET("/events", s.handleListEvents())
	}

	s.router.NoRoute(s.handleForward())
}

// handleForward はルート表に従ってリクエストをバックエンドへ転送するハンドラを返す。
func (s *Server) handleForward() gin.HandlerFunc {
	return func(c *gin.Context) {
		// パーセントエンコードを復号したパスでマッチさせ、認証必須ルートの迂回を防ぐ
		match, err := s.routes.Match(c.Request.Method, c.Request.URL.Path)
		if err != nil {
			routeNotFound().Write(c)
			return
		}

		if match.Rule.RequiresAuth || match.Rule.RequiredRole != "" {
			identity, err := s.authorize(c.GetHeader("Authorization"), match.Rule)
			if err != nil {
				s.metrics.IncAuthRejection(rejectionReason(err))
				authRejected(err).Write(c)
				c.Abort()
				return
			}
			middleware.SetIdentity(c, identity)
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		body, err := c.GetRawData()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				messageResponse(http.StatusRequestEntityTooLarge, "Request body too large").Write(c)
				return
			}
			messageResponse(http.StatusBadRequest, "Failed to read request body").Write(c)
			return
		}

		in := InboundRequest{
			Method:        c.Request.Method,
			RawQuery:      c.Request.URL.RawQuery,
			Body:          body,
			Authorization: c.GetHeader("Authorization"),
			ContentType:   c.GetHeader("Content-Type"),
			RequestID:     middleware.GetRequestID(c),
		}
		s.engine.Forward(c.Request.Context(), match, in).Write(c)
	}
}

// authorize はルートが要求する認証とロールを検証する。
func (s *Server) authorize(authHeader string, rule RouteRule) (middleware.Identity, error) {
	identity, err := middleware.Authenticate(authHeader, s.cfg.JWTSecret)
	if err != nil {
		return middleware.Identity{}, err
	}
	if rule.RequiredRole != "" {
		if err := middleware.CheckRole(identity, rule.RequiredRole); err != nil {
			return middleware.Identity{}, err
		}
	}
	return identity, nil
}

// rejectionReason は認証エラーをメトリクスのラベルに変換する。
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, middleware.ErrMissingToken):
		return "missing_token"
	case errors.Is(err, middleware.ErrForbidden):
		return "forbidden"
	default:
		return "invalid_token"
	}
}

// handleListEvents は新しい順に転送結果イベントを返すハンドラを返す。
func (s *Server) handleListEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.journal == nil {
			c.JSON(http.StatusNotFound, gin.H{"message": "Event journal is disabled"})
			return
		}

		limit := audit.DefaultLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"message": "limit must be a positive integer"})
				return
			}
			limit = n
		}

		// キューに積まれたままのイベントも一覧に含める
		if err := s.writer.Flush(c.Request.Context()); err != nil {
			s.logger.Warn("ジャーナルのフラッシュに失敗", zap.Error(err))
		}
		events, err := s.journal.Recent(c.Request.Context(), limit)
		if err != nil {
			s.logger.Error("イベント一覧の取得に失敗", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to list events"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"events":         events,
			"count":          len(events),
			"schema_version": s.journal.SchemaVersion(),
			"dropped":        s.writer.Dropped(),
		})
	}
}
