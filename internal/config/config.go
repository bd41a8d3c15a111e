package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// サービス名。バックエンドレジストリのキーとして使用する。
const (
	ServiceUsers    = "users"
	ServiceOrders   = "orders"
	ServiceMenu     = "menu"
	ServiceDelivery = "delivery"
)

// RequiredServices は起動時にベースURLの設定が必須なサービス名。
var RequiredServices = []string{ServiceUsers, ServiceOrders, ServiceMenu, ServiceDelivery}

// 既定値。
const (
	DefaultPort            = "3000"
	DefaultAttemptTimeout  = 5 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultEnvFile         = ".env.local"
	DefaultAuditBufferSize = 1024
)

// serviceEnvKeys はサービス名と環境変数名の対応。
var serviceEnvKeys = map[string]string{
	ServiceUsers:    "USERS_SERVICE_URL",
	ServiceOrders:   "ORDERS_SERVICE_URL",
	ServiceMenu:     "MENU_SERVICE_URL",
	ServiceDelivery: "DELIVERY_SERVICE_URL",
}

// Config はgatewayの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `yaml:"port"`
	// JWTSecret はBearerトークンの署名検証に使う共有シークレット。
	JWTSecret string `yaml:"jwt_secret"`
	// Services はサービス名からベースURLへの対応。
	Services map[string]string `yaml:"services"`
	// AttemptTimeout はバックエンドへの1回の転送試行のタイムアウト。
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string `yaml:"allowed_origins"`
	// Log はログ出力の設定。
	Log LogConfig `yaml:"log"`
	// Tracing はトレース送信の設定。
	Tracing TracingConfig `yaml:"tracing"`
	// AuditDBPath は転送結果ジャーナルのSQLiteファイルパス。空なら記録しない。
	AuditDBPath string `yaml:"audit_db_path"`
	// AuditBufferSize はジャーナルへ書き込み待ちのイベントを保持するキューの長さ。
	AuditBufferSize int `yaml:"audit_buffer_size"`
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	// Level はログレベル。
	Level string `yaml:"level"`
	// Format はjsonまたはconsole。
	Format string `yaml:"format"`
}

// TracingConfig はOpenTelemetryの設定。
type TracingConfig struct {
	// Endpoint はOTLP gRPCの送信先。空なら送信しない。
	Endpoint string `yaml:"endpoint"`
	// Insecure はTLSを使わずに送信する場合にtrue。
	Insecure bool `yaml:"insecure"`
}

// Default は既定値で埋めたConfigを返す。
func Default() *Config {
	return &Config{
		Port:            DefaultPort,
		Services:        map[string]string{},
		AttemptTimeout:  DefaultAttemptTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		AuditBufferSize: DefaultAuditBufferSize,
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// LoadOptions はLoadの入力。
type LoadOptions struct {
	// File はYAML設定ファイルのパス。空なら読まない。
	File string
	// EnvFile は.envファイルのパス。存在しない場合は無視する。
	EnvFile string
	// Getenv は環境変数の取得関数。nilならos.Getenvを使う。
	Getenv func(string) string
	// Port はコマンドラインで指定されたポート。空でなければ他のすべての値より優先する。
	Port string
}

// Load は設定を読み込み、検証済みのConfigを返す。
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.File != "" {
		if err := cfg.loadYAML(opts.File); err != nil {
			return nil, err
		}
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if opts.EnvFile != "" {
		dotenv, err := godotenv.Read(opts.EnvFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf(".envファイルの読み込みに失敗: %s: %w", opts.EnvFile, err)
		}
		getenv = overlay(getenv, dotenv)
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if opts.Port != "" {
		cfg.Port = opts.Port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay は.envの値より実際の環境変数を優先する取得関数を返す。
func overlay(getenv func(string) string, dotenv map[string]string) func(string) string {
	return func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
}

// loadYAML はYAMLファイルの内容で上書きする。
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルのパースに失敗: %s: %w", path, err)
	}
	if c.Services == nil {
		c.Services = map[string]string{}
	}
	return nil
}

// applyEnv は環境変数の値で上書きする。
func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sが不正です: %q: %w", key, v, err)
		}
		*dst = d
		return nil
	}

	setString("PORT", &c.Port)
	setString("JWT_SECRET", &c.JWTSecret)
	for name, key := range serviceEnvKeys {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			c.Services[name] = v
		}
	}
	if err := setDuration("ATTEMPT_TIMEOUT", &c.AttemptTimeout); err != nil {
		return err
	}
	if err := setDuration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout); err != nil {
		return err
	}
	if v := strings.TrimSpace(getenv("CORS_ALLOWED_ORIGINS")); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.Endpoint)
	if v := strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		insecure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("OTEL_EXPORTER_OTLP_INSECUREが不正です: %q: %w", v, err)
		}
		c.Tracing.Insecure = insecure
	}
	setString("AUDIT_DB_PATH", &c.AuditDBPath)
	if v := strings.TrimSpace(getenv("AUDIT_BUFFER_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AUDIT_BUFFER_SIZEが不正です: %q: %w", v, err)
		}
		c.AuditBufferSize = n
	}
	return nil
}

// splitList はカンマ区切りの文字列を空要素を除いて分割する。
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate は設定の不備をすべてまとめて返す。
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("PORTが空です"))
	} else if p, err := strconv.Atoi(c.Port); err != nil || p < 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("PORTが不正です: %q", c.Port))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRETが設定されていません"))
	}
	for _, name := range RequiredServices {
		raw, ok := c.Services[name]
		if !ok || raw == "" {
			errs = append(errs, fmt.Errorf("%sが設定されていません", serviceEnvKeys[name]))
			continue
		}
		if err := validateBaseURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%sが不正です: %w", serviceEnvKeys[name], err))
		}
	}
	if c.AttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ATTEMPT_TIMEOUTは正の値が必要です: %s", c.AttemptTimeout))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUTは正の値が必要です: %s", c.ShutdownTimeout))
	}
	if c.AuditBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("AUDIT_BUFFER_SIZEは正の値が必要です: %d", c.AuditBufferSize))
	}

	return errors.Join(errs...)
}

// validateBaseURL はhttp/httpsの絶対URLであることを検証する。
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("スキームはhttpまたはhttpsである必要があります: %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("ホストがありません: %q", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("クエリやフラグメントは指定できません: %q", raw)
	}
	return nil
}

// Addr はリッスンアドレスを返す。
func (c *Config) Addr() string {
	return ":" + c.Port
}
