// Package migrations applies the embedded registry schema.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avocado-data/avocado/internal/platform/db"
)

//go:embed sql/*.up.sql
var files embed.FS

const versionTable = `CREATE TABLE IF NOT EXISTS avocado_schema_migrations (
	version    VARCHAR(100) PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// ErrBadName indicates a migration file without a version prefix.
var ErrBadName = errors.New("migrations: file name must be <version>_<name>.up.sql")

// Migration is one embedded schema step.
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// List returns the embedded migrations ordered by version.
func List() ([]Migration, error) {
	return list(files)
}

func list(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "sql/*.up.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]Migration, 0, len(names))
	for _, name := range names {
		base := strings.TrimSuffix(path.Base(name), ".up.sql")
		version, label, ok := strings.Cut(base, "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("%w: %s", ErrBadName, name)
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: version, Name: label, SQL: string(body)})
	}
	return out, nil
}

// Up applies pending migrations, each in its own transaction together with
// its version row. It returns the versions applied by this call.
func Up(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pending, err := List()
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, versionTable); err != nil {
		return nil, fmt.Errorf("migrations: version table: %w", err)
	}
	var applied []string
	for _, m := range pending {
		var done bool
		err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM avocado_schema_migrations WHERE version = $1)`,
				m.Version).Scan(&done); err != nil {
				return err
			}
			if done {
				return nil
			}
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO avocado_schema_migrations (version) VALUES ($1)`, m.Version)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("migrations: apply %s_%s: %w", m.Version, m.Name, err)
		}
		if done {
			continue
		}
		logger.Info("migration applied", slog.String("version", m.Version), slog.String("name", m.Name))
		applied = append(applied, m.Version)
	}
	return applied, nil
}
