// Package migration はSQLiteデータベースのマイグレーションを管理する。
// fs.FSからSQLファイルを読み込み、バージョン管理テーブルで適用状態を追跡する。
//
// ファイル名は 000001_description.up.sql 形式とし、数字部分をバージョンとして扱う。
// データベースに適用済みのバージョンがバイナリの知る最新バージョンを超えている場合、
// 古いバイナリで新しいスキーマを扱わないよう適用を拒否する。
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrSchemaTooNew はデータベースのスキーマがバイナリの知るバージョンより新しい場合のエラー。
	ErrSchemaTooNew = errors.New("データベースのスキーマが新しすぎます")
	// ErrDuplicateVersion は同じバージョンのマイグレーションファイルが複数ある場合のエラー。
	ErrDuplicateVersion = errors.New("マイグレーションのバージョンが重複しています")
	// ErrNoMigrations はディレクトリに適用対象のファイルが1つも無い場合のエラー。
	ErrNoMigrations = errors.New("マイグレーションファイルがありません")
)

// Result はRunの実行結果。
type Result struct {
	// Version は実行後にデータベースへ適用されている最新バージョン。
	Version int
	// Latest はマイグレーションファイルの最新バージョン。
	Latest int
	// Applied は今回新たに適用したバージョン。
	Applied []int
}

// Run はマイグレーションファイルを順序通りに適用する。
// 未適用のマイグレーションのみ実行し、適用済みのものはスキップする。
// 適用済みのバージョンがファイルの最新より新しい場合はErrSchemaTooNewを返し、何も適用しない。
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, dir string, logger *zap.Logger) (*Result, error) {
	migrations, err := collectMigrations(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("マイグレーションファイルの収集に失敗: %w", err)
	}
	latest := migrations[len(migrations)-1].version

	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}
	if current := maxVersion(applied); current > latest {
		return nil, fmt.Errorf("%w: database=%06d binary=%06d", ErrSchemaTooNew, current, latest)
	}

	result := &Result{Latest: latest}
	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		if err := applyMigration(ctx, db, fsys, m); err != nil {
			return nil, fmt.Errorf("マイグレーション %06d の適用に失敗: %w", m.version, err)
		}
		applied[m.version] = true
		result.Applied = append(result.Applied, m.version)
		logger.Info("マイグレーションを適用しました",
			zap.Int("version", m.version),
			zap.String("name", m.name),
		)
	}
	result.Version = maxVersion(applied)

	return result, nil
}

// Version はデータベースに適用済みの最新バージョンを返す。
// バージョン管理テーブルが無い場合は0を返す。
func Version(ctx context.Context, db *sql.DB) (int, error) {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'",
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("バージョン管理テーブルの確認に失敗: %w", err)
	}

	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}
	return int(v.Int64), nil
}

type migrationFile struct {
	version int
	name    string
	path    string
}

// ensureMigrationsTable はバージョン管理テーブルを作成する。
func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)
	`)
	return err
}

// appliedVersions は適用済みのマイグレーションバージョンを取得する。
func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func maxVersion(applied map[int]bool) int {
	current := 0
	for v := range applied {
		current = max(current, v)
	}
	return current
}

// collectMigrations はディレクトリからup.sqlファイルを収集してバージョン順に並べる。
func collectMigrations(fsys fs.FS, dir string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var migrations []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}

		version, name, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			continue
		}
		v, err := strconv.Atoi(version)
		if err != nil || v <= 0 {
			continue
		}

		migrations = append(migrations, migrationFile{
			version: v,
			name:    strings.TrimSuffix(name, ".up.sql"),
			path:    path.Join(dir, entry.Name()),
		})
	}
	if len(migrations) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMigrations, dir)
	}

	slices.SortFunc(migrations, func(a, b migrationFile) int {
		return a.version - b.version
	})
	for i := 1; i < len(migrations); i++ {
		if migrations[i].version == migrations[i-1].version {
			return nil, fmt.Errorf("%w: %06d", ErrDuplicateVersion, migrations[i].version)
		}
	}

	return migrations, nil
}

// applyMigration は1つのマイグレーションをトランザクション内で適用する。
func applyMigration(ctx context.Context, db *sql.DB, fsys fs.FS, m migrationFile) error {
	content, err := fs.ReadFile(fsys, m.path)
	if err != nil {
		return fmt.Errorf("ファイル読み込みに失敗: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("SQL実行に失敗: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("バージョン記録に失敗: %w", err)
	}

	return tx.Commit()
}
