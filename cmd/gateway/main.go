// API Gatewayサービスのエントリポイント。
// Bearerトークンの検証と、ルート表に従ったバックエンドへの転送（直接プロキシと
// フォールバックカスケード）を担当する。外部からアクセス可能な唯一のサービスであり、
// セキュリティの境界線となる。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd はgatewayのルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして動作する。
func newRootCmd() *cobra.Command {
	serveCmd := newServeCmd()

	rootCmd := &cobra.Command{
		Use:           "gateway",
		Short:         "FoodHub API Gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCmd.RunE,
	}
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.AddCommand(serveCmd, newTokenCmd())
	return rootCmd
}
