// Package migrations applies the embedded DDL for the document catalog.
// Scripts live under sql/ as NNNNNN_name.up.sql / .down.sql pairs and run
// inside one transaction each, recorded in querychat_schema_migrations.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const versionTable = "querychat_schema_migrations"

var scriptNamePattern = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)

type Runner struct {
	fsys   fs.FS
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{fsys: embeddedFS, logger: logger}
}

// scriptPair is one versioned migration with both directions loaded.
type scriptPair struct {
	Version int64
	UpSQL   string
	DownSQL string
}

// Up applies pending migrations in version order. steps caps how many run;
// zero means all.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	pairs, err := readScripts(r.fsys)
	if err != nil {
		return 0, err
	}
	if err := ensureVersionTable(ctx, db); err != nil {
		return 0, err
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}

	appliedSet := make(map[int64]struct{}, len(applied))
	for _, version := range applied {
		appliedSet[version] = struct{}{}
	}

	runCount := 0
	for _, pair := range pairs {
		if _, ok := appliedSet[pair.Version]; ok {
			continue
		}
		if steps > 0 && runCount >= steps {
			break
		}
		if err := runScript(ctx, db, pair.Version, pair.UpSQL, "up"); err != nil {
			return runCount, err
		}
		r.logger.InfoContext(ctx, "migration_applied", slog.Int64("version", pair.Version))
		runCount++
	}
	return runCount, nil
}

// Down rolls back the most recently applied migrations. steps defaults to
// one; rolling back everything must be asked for explicitly.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}

	pairs, err := readScripts(r.fsys)
	if err != nil {
		return 0, err
	}
	if err := ensureVersionTable(ctx, db); err != nil {
		return 0, err
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}

	lookup := make(map[int64]scriptPair, len(pairs))
	for _, pair := range pairs {
		lookup[pair.Version] = pair
	}

	runCount := 0
	for i := len(applied) - 1; i >= 0 && runCount < steps; i-- {
		version := applied[i]
		pair, ok := lookup[version]
		if !ok {
			return runCount, fmt.Errorf("version %d is recorded as applied but has no script", version)
		}
		if err := runScript(ctx, db, version, pair.DownSQL, "down"); err != nil {
			return runCount, err
		}
		r.logger.InfoContext(ctx, "migration_rolled_back", slog.Int64("version", version))
		runCount++
	}
	return runCount, nil
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	query := `
CREATE TABLE IF NOT EXISTS ` + versionTable + ` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure version table: %w", err)
	}
	return nil
}

// runScript executes one direction of a migration and updates the version
// table inside the same transaction.
func runScript(ctx context.Context, db *sql.DB, version int64, script, direction string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("run %s script for version %d: %w", direction, version, err)
	}
	var mark string
	if direction == "up" {
		mark = `INSERT INTO ` + versionTable + ` (version) VALUES ($1)`
	} else {
		mark = `DELETE FROM ` + versionTable + ` WHERE version = $1`
	}
	if _, err := tx.ExecContext(ctx, mark, version); err != nil {
		return fmt.Errorf("record version %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit version %d: %w", version, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM `+versionTable+` ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read versions: %w", err)
	}
	return versions, nil
}

// readScripts loads and pairs the up/down scripts, sorted by version. A
// version missing either direction is an error so a half-written migration
// never ships.
func readScripts(fsys fs.FS) ([]scriptPair, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read script dir: %w", err)
	}

	byVersion := map[int64]scriptPair{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := scriptNamePattern.FindStringSubmatch(path.Base(entry.Name()))
		if len(matches) != 3 {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version of %q: %w", entry.Name(), err)
		}

		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read script %q: %w", entry.Name(), err)
		}

		pair := byVersion[version]
		pair.Version = version
		if matches[2] == "up" {
			pair.UpSQL = string(script)
		} else {
			pair.DownSQL = string(script)
		}
		byVersion[version] = pair
	}

	versions := make([]int64, 0, len(byVersion))
	for version := range byVersion {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	pairs := make([]scriptPair, 0, len(versions))
	for _, version := range versions {
		pair := byVersion[version]
		if strings.TrimSpace(pair.UpSQL) == "" {
			return nil, fmt.Errorf("version %d has no up script", version)
		}
		if strings.TrimSpace(pair.DownSQL) == "" {
			return nil, fmt.Errorf("version %d has no down script", version)
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}
