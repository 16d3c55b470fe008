// Package database はリモートテーブルストアの接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// databaseURLはOpenと同じ形式（postgres:// または sqlite://）を指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	if _, err := DialectOf(databaseURL); err != nil {
		return nil, err
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// MigrationResult はマイグレーション前後のスキーマバージョン。
// Beforeが0の場合は未適用のデータベースだったことを示す。
type MigrationResult struct {
	Before uint
	After  uint
}

// Applied はこの実行で1つ以上のマイグレーションが適用されたかどうかを返す。
func (r MigrationResult) Applied() bool {
	return r.After != r.Before
}

// ErrDirtySchema は前回のマイグレーションが途中で失敗し、手動での修復が必要な状態を示す。
var ErrDirtySchema = errors.New("database schema is dirty")

// RunMigrations はすべての未適用マイグレーションを適用し、前後のバージョンを返す。
// すでに最新の場合はエラーなしで返る。dirty状態のスキーマには何も適用しない。
func RunMigrations(databaseURL string) (MigrationResult, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	before, err := schemaVersion(m)
	if err != nil {
		return MigrationResult{}, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationResult{Before: before}, fmt.Errorf("failed to run migrations: %w", err)
	}

	after, err := schemaVersion(m)
	if err != nil {
		return MigrationResult{Before: before}, err
	}
	return MigrationResult{Before: before, After: after}, nil
}

// schemaVersion は現在のスキーマバージョンを返す。未適用の場合は0。
func schemaVersion(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return v, fmt.Errorf("%w at version %d", ErrDirtySchema, v)
	}
	return v, nil
}
