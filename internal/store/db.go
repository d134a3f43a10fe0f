// Package store はリレーショナルDBへのアクセス（接続、マイグレーション、各リポジトリ）を提供します。
// SQLite（modernc.org/sqlite）と PostgreSQL（lib/pq）の両方に対応し、SQL は ? で書いて Rebind します。
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound は対象の行が存在しない場合に返されます。
var ErrNotFound = errors.New("store: not found")

//go:embed migrations
var migrationFS embed.FS

func init() {
	// modernc のドライバー名 "sqlite" は sqlx の既定表に無いので ? を使うよう登録する
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Open はドライバー名と DSN から DB を開き、疎通を確認します。
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite は書き込みが直列なので接続は1本に絞る
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}
	return db, nil
}

// Migrate は埋め込みのマイグレーションを最新まで適用します。
func Migrate(db *sqlx.DB) error {
	driverName := db.DriverName()
	src, err := iofs.New(migrationFS, "migrations/"+driverName)
	if err != nil {
		return fmt.Errorf("failed to load migrations for %s: %w", driverName, err)
	}
	defer src.Close()

	var target database.Driver
	switch driverName {
	case "sqlite":
		target, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	case "postgres":
		target, err = postgres.WithInstance(db.DB, &postgres.Config{})
	default:
		return fmt.Errorf("unsupported driver: %s", driverName)
	}
	if err != nil {
		return fmt.Errorf("failed to prepare migration driver: %w", err)
	}

	// m.Close() は db 自体も閉じてしまうので呼ばない
	m, err := migrate.NewWithInstance("iofs", src, driverName, target)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
