// Package migrate applies versioned SQL migrations, read from a file system
// such as an embed.FS, to a SQLite database.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrBadMigration indicates a migration directory that cannot be applied.
	ErrBadMigration = errors.New("migrate: bad migration set")
	// ErrTarget indicates a rollback target outside the applied versions.
	ErrTarget = errors.New("migrate: invalid target version")
)

// 001_create_profiles.up.sql, 001_create_profiles.down.sql
var fileName = regexp.MustCompile(`^(\d+)_(.+)\.(up|down)\.sql$`)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Migration is one schema step. Down may be empty for steps that cannot be
// reverted.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Migrator tracks applied versions in its own table, one row per version.
type Migrator struct {
	db         *sql.DB
	table      string
	migrations []Migration
	logger     *zap.SugaredLogger
}

// New reads every migration in dir of fsys. Versions must be unique and each
// must have an up file. logger may be nil.
func New(db *sql.DB, fsys fs.FS, dir, table string, logger *zap.SugaredLogger) (*Migrator, error) {
	if table == "" {
		table = "schema_migrations"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("table name %q: %w", table, ErrBadMigration)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	migrations, err := Load(fsys, dir)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, table: table, migrations: migrations, logger: logger}, nil
}

// Load parses the migrations in dir of fsys, in version order. Files that do
// not follow the NNN_name.up.sql / NNN_name.down.sql pattern are ignored.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory %s: %w", dir, err)
	}

	byVersion := make(map[int]*Migration)
	for _, e := range entries {
		parts := fileName.FindStringSubmatch(e.Name())
		if e.IsDir() || parts == nil {
			continue
		}
		version, _ := strconv.Atoi(parts[1])
		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", e.Name(), err)
		}
		name := strings.ReplaceAll(parts[2], "_", " ")

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("version %d is both %q and %q: %w", version, m.Name, name, ErrBadMigration)
		}
		if parts[3] == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if strings.TrimSpace(m.Up) == "" {
			return nil, fmt.Errorf("version %d (%s) has no up migration: %w", m.Version, m.Name, ErrBadMigration)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+m.table+` (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", m.table, err)
	}
	return nil
}

// Version returns the highest applied version, 0 for a fresh database.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	var v int
	if err := m.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM `+m.table).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// Pending returns the migrations above the current version.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	v, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	i := sort.Search(len(m.migrations), func(i int) bool { return m.migrations[i].Version > v })
	return m.migrations[i:], nil
}

// Up applies every pending migration and returns how many were applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return 0, err
	}
	for i, mig := range pending {
		err := m.apply(ctx, mig.Up, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO `+m.table+` (version, name) VALUES (?, ?)`, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return i, fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		m.logger.Infow("applied migration", "table", m.table, "version", mig.Version, "name", mig.Name)
	}
	return len(pending), nil
}

// Down reverts applied migrations, newest first, until target is the current
// version.
func (m *Migrator) Down(ctx context.Context, target int) error {
	v, err := m.Version(ctx)
	if err != nil {
		return err
	}
	if target < 0 || target >= v {
		return fmt.Errorf("cannot roll back from %d to %d: %w", v, target, ErrTarget)
	}

	for i := len(m.migrations) - 1; i >= 0; i-- {
		mig := m.migrations[i]
		if mig.Version <= target || mig.Version > v {
			continue
		}
		if strings.TrimSpace(mig.Down) == "" {
			return fmt.Errorf("migration %d (%s) cannot be reverted: %w", mig.Version, mig.Name, ErrBadMigration)
		}
		err := m.apply(ctx, mig.Down, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM `+m.table+` WHERE version = ?`, mig.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("revert %d (%s): %w", mig.Version, mig.Name, err)
		}
		m.logger.Infow("reverted migration", "table", m.table, "version", mig.Version, "name", mig.Name)
	}
	return nil
}

// apply runs stmt and the bookkeeping in one transaction.
func (m *Migrator) apply(ctx context.Context, stmt string, record func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return err
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}
