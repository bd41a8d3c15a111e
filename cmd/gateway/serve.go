package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nao1215/foodhub/internal/config"
	"github.com/nao1215/foodhub/internal/gateway"
	"github.com/nao1215/foodhub/pkg/logging"
	"github.com/nao1215/foodhub/pkg/telemetry"
)

// serveOptions はserveコマンドのフラグ。
type serveOptions struct {
	configFile string
	envFile    string
	port       string
}

// newServeCmd はHTTPサーバーを起動するコマンドを生成する。
func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API gateway",
		Long: `Start the API gateway.

Configuration is read from defaults, then the YAML file given by --config,
then the .env file given by --env-file, then the process environment.
--port overrides everything else.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Path to configuration file (YAML)")
	cmd.Flags().StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "Path to .env file")
	cmd.Flags().StringVarP(&opts.port, "port", "p", "", "Port to listen on (overrides PORT)")

	return cmd
}

// runServe は設定を読み込み、ctxがキャンセルされるまでgatewayを動かす。
func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, err := config.Load(config.LoadOptions{
		File:    opts.configFile,
		EnvFile: opts.envFile,
		Port:    opts.port,
	})
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: logging.Format(cfg.Log.Format)})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "foodhub-gateway",
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("トレーサーの停止に失敗", zap.Error(err))
		}
	}()

	server, err := gateway.NewServer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("Gatewayサーバーの初期化に失敗: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			logger.Warn("ジャーナルのクローズに失敗", zap.Error(err))
		}
	}()

	logger.Info("設定を読み込みました",
		zap.String("port", cfg.Port),
		zap.Any("services", cfg.Services),
		zap.Duration("attempt_timeout", cfg.AttemptTimeout),
		zap.Bool("audit", cfg.AuditDBPath != ""),
	)
	return server.Run(ctx)
}
