// Package gateway はAPI Gatewayのルーティングとフェイルオーバー転送を実装する。
//
// リクエストごとにルート表から転送戦略を選び、直接プロキシ（1回だけ転送）か、
// プライマリ→セカンダリの2段カスケードでバックエンドへ転送する。
// バックエンドレジストリとルート表は起動時に組み立てた後は変更されないため、
// リクエスト処理の間でロックは必要ない。
package gateway
