// Package telemetry はOpenTelemetryのトレーサープロバイダーを初期化する。
//
// エンドポイントが設定されている場合はOTLP(gRPC)でスパンを送信する。
// 未設定の場合もプロバイダーとプロパゲーターは設定されるため、
// バックエンドへのトレースコンテキスト伝播は常に有効になる。
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Config はトレース送信の設定。
type Config struct {
	// ServiceName はスパンに付与するサービス名。
	ServiceName string
	// Endpoint はOTLP gRPCエクスポーターの送信先（host:port）。空なら送信しない。
	Endpoint string
	// Insecure はTLSを使わずに送信する場合にtrue。
	Insecure bool
	// Exporter はテスト等で差し替えるためのエクスポーター。設定時はEndpointより優先する。
	Exporter sdktrace.SpanExporter
}

// ShutdownFunc はバッファ済みのスパンを送信してプロバイダーを停止する関数。
type ShutdownFunc func(context.Context) error

// Setup はプロセス全体のトレーサープロバイダーを設定する。
// 戻り値のShutdownFuncはグレースフルシャットダウン時に呼び出すこと。
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("リソースの生成に失敗: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	exporter := cfg.Exporter
	if exporter == nil && cfg.Endpoint != "" {
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("OTLPエクスポーターの生成に失敗: %w", err)
		}
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Shutdown, nil
}
