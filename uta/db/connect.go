// Package db opens the embedded libsql result database and keeps its schema
// current with goose migrations compiled into the binary.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config holds the embedded database settings.
type Config struct {
	Path string // path to the .db file
}

// Open connects to the libsql file at cfg.Path, creating its directory when
// needed, and applies pending migrations.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL", cfg.Path)
	logger.Debug().Str("dsn", dsn).Msg("connecting to embedded libsql")

	conn, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("libsql connectivity check failed: %w", err)
	}
	if err := Migrate(ctx, conn, logger); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Migrate applies every embedded migration not yet recorded in conn.
func Migrate(ctx context.Context, conn *sql.DB, logger zerolog.Logger) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectTurso, conn, fsys)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}
	for _, r := range results {
		logger.Info().
			Int64("version", r.Source.Version).
			Dur("duration", r.Duration).
			Msg("applied migration")
	}
	return nil
}
