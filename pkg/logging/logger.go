// Package logging はgatewayで使用する構造化ロガー（zap）を生成する。
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format はログの出力形式を表す。
type Format string

const (
	// FormatJSON はJSON形式でログを出力する。
	FormatJSON Format = "json"
	// FormatConsole は人間が読みやすい形式でログを出力する。
	FormatConsole Format = "console"
)

// Config はロガーの設定。
type Config struct {
	// Level は出力する最小ログレベル（debug, info, warn, error）。
	Level string
	// Format はログの出力形式。
	Format Format
}

// New は設定に従ってzapロガーを生成する。
// 不正なレベルや形式が指定された場合はエラーを返す。
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		return nil, fmt.Errorf("ログレベルが不正です: %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch cfg.Format {
	case FormatJSON, "":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case FormatConsole:
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("ログ形式が不正です: %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("ロガーの生成に失敗: %w", err)
	}
	return logger, nil
}
