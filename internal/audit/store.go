package audit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/foodhub/pkg/event"
	"github.com/nao1215/foodhub/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// DefaultLimit はRecentで件数を省略した場合の取得件数。
	DefaultLimit = 50
	// MaxLimit はRecentで取得できる最大件数。
	MaxLimit = 500

	// timeLayout は作成日時の保存形式。固定長にして文字列順と時刻順を一致させる。
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Store は転送結果イベントのジャーナル。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// version は適用済みのスキーマバージョン。
	version int
}

// Open はSQLiteファイルを開き、スキーマを適用したStoreを返す。
// pathに ":memory:" を指定するとインメモリDBになる。
// ファイルのスキーマがこのバイナリより新しい場合はmigration.ErrSchemaTooNewを返す。
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// SQLiteへの書き込みは直列化する
	db.SetMaxOpenConns(1)

	result, err := migration.Run(ctx, db, migrationsFS, "migrations", logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: path=%s: %w", path, err)
	}
	logger.Info("ジャーナルを開きました",
		zap.String("path", path),
		zap.Int("schema_version", result.Version),
		zap.Ints("applied", result.Applied),
	)
	return &Store{db: db, version: result.Version}, nil
}

// SchemaVersion は適用済みのスキーマバージョンを返す。
func (s *Store) SchemaVersion() int {
	return s.version
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Append はイベントを1件追記する。
func (s *Store) Append(ctx context.Context, e *event.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forward_events
			(id, request_id, event_type, route, backend, leg, method, path, status, reason, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequestID, string(e.EventType), e.Route, e.Backend, string(e.Leg),
		e.Method, e.Path, e.Status, e.Reason, e.DurationMillis, e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("イベントの追記に失敗: id=%s: %w", e.ID, err)
	}
	return nil
}

// Recent は新しい順にイベントを返す。
// limitが0以下ならDefaultLimit、MaxLimitを超える場合はMaxLimitに丸める。
func (s *Store) Recent(ctx context.Context, limit int) ([]event.Event, error) {
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, event_type, route, backend, leg, method, path, status, reason, duration_ms, created_at
		FROM forward_events
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]event.Event, 0, limit)
	for rows.Next() {
		var (
			e         event.Event
			eventType string
			leg       string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &eventType, &e.Route, &e.Backend, &leg,
			&e.Method, &e.Path, &e.Status, &e.Reason, &e.DurationMillis, &createdAt); err != nil {
			return nil, fmt.Errorf("イベントの読み取りに失敗: %w", err)
		}
		e.EventType = event.Type(eventType)
		e.Leg = event.Leg(leg)
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("作成日時のパースに失敗: %q: %w", createdAt, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
