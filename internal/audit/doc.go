// Package audit は転送結果イベントをSQLiteに追記するジャーナルを提供する。
//
// ジャーナルは観測用であり、ルーティングやフォールバックの判断には使わない。
// 追記の失敗は呼び出し側でログに残すだけで、クライアントへの応答には影響させない。
package audit
