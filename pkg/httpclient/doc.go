// Package httpclient はgatewayからバックエンドサービスへのHTTP通信を行うクライアントを提供する。
//
// 1回の呼び出しが1回の転送試行に対応する。試行ごとにタイムアウトを設け、
// 応答ステータスの解釈は呼び出し側（転送エンジン）に任せる。
package httpclient
