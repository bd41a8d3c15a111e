// Package middleware はgatewayのGin HTTPサーバーで使用する共通ミドルウェアを提供する。
//
// Bearerトークンの検証（Auth Guard）、ロールによる認可、パニックリカバリ、
// CORS設定、リクエストID採番、アクセスログを含む。
package middleware
