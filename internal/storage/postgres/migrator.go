package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	migrationsDir     = "sql/migrations"
	migrationLockKey  = int64(20260301)
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	embeddedMigrations embed.FS

	migrationFileRe = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

type direction string

const (
	directionUp   direction = "up"
	directionDown direction = "down"
)

type migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

func (m migration) body(d direction) string {
	if d == directionUp {
		return m.Up
	}
	return m.Down
}

// MigrationStatus - состояние схемы: последняя применённая версия и счётчики.
type MigrationStatus struct {
	Version int64
	Applied int
	Pending int
}

// Migrator применяет встроенные SQL-миграции под advisory lock, каждая в своей транзакции.
type Migrator struct {
	db     *sql.DB
	fsys   fs.FS
	logger *log.Entry
}

// NewMigrator создаёт мигратор со встроенным набором миграций.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{
		db:     db,
		fsys:   embeddedMigrations,
		logger: log.WithField("component", "migrator"),
	}
}

// Up применяет pending-миграции; steps=0 означает "все".
func (m *Migrator) Up(ctx context.Context, steps int) error {
	return m.run(ctx, directionUp, steps)
}

// Down откатывает последние миграции; steps<=0 трактуется как 1 шаг.
func (m *Migrator) Down(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return m.run(ctx, directionDown, steps)
}

// Status возвращает текущую версию схемы и число применённых/ожидающих миграций.
func (m *Migrator) Status(ctx context.Context) (MigrationStatus, error) {
	if m == nil || m.db == nil {
		return MigrationStatus{}, errors.New("migrator is not initialized")
	}
	all, err := loadMigrations(m.fsys)
	if err != nil {
		return MigrationStatus{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if _, err := m.db.ExecContext(queryCtx, migrationTableDDL); err != nil {
		return MigrationStatus{}, fmt.Errorf("ensure migration table: %w", err)
	}

	var st MigrationStatus
	if err := m.db.QueryRowContext(queryCtx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`,
	).Scan(&st.Version, &st.Applied); err != nil {
		return MigrationStatus{}, fmt.Errorf("query migration status: %w", err)
	}
	st.Pending = max(len(all)-st.Applied, 0)
	return st, nil
}

func (m *Migrator) run(ctx context.Context, d direction, steps int) error {
	if m == nil || m.db == nil {
		return errors.New("migrator is not initialized")
	}
	if d != directionUp && d != directionDown {
		return fmt.Errorf("unsupported migration direction: %s", d)
	}

	all, err := loadMigrations(m.fsys)
	if err != nil {
		return err
	}

	return m.withLock(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		plan, err := planSteps(all, applied, d, steps)
		if err != nil {
			return err
		}
		for _, mig := range plan {
			if err := runStep(ctx, conn, mig, d); err != nil {
				return err
			}
			m.logger.WithFields(log.Fields{
				"version":   mig.Version,
				"name":      mig.Name,
				"direction": d,
			}).Info("migration applied")
		}
		return nil
	})
}

// withLock выполняет fn на выделенном соединении под pg_advisory_lock,
// чтобы параллельные инстансы не применяли миграции одновременно.
func (m *Migrator) withLock(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

// planSteps выбирает миграции для применения: для up - неприменённые по
// возрастанию, для down - применённые по убыванию.
func planSteps(all []migration, applied map[int64]bool, d direction, steps int) ([]migration, error) {
	var plan []migration
	if d == directionUp {
		for _, mig := range all {
			if !applied[mig.Version] {
				plan = append(plan, mig)
			}
		}
	} else {
		known := make(map[int64]migration, len(all))
		for _, mig := range all {
			known[mig.Version] = mig
		}
		versions := make([]int64, 0, len(applied))
		for v := range applied {
			versions = append(versions, v)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
		for _, v := range versions {
			mig, ok := known[v]
			if !ok {
				return nil, fmt.Errorf("cannot rollback unknown migration version %d", v)
			}
			plan = append(plan, mig)
		}
	}

	if steps > 0 && len(plan) > steps {
		plan = plan[:steps]
	}
	return plan, nil
}

func runStep(ctx context.Context, conn *sql.Conn, mig migration, d direction) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s %d): %w", d, mig.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, mig.body(d)); err != nil {
		return fmt.Errorf("execute %s migration %d_%s: %w", d, mig.Version, mig.Name, err)
	}

	record := `DELETE FROM schema_migrations WHERE version = $1`
	args := []any{mig.Version}
	if d == directionUp {
		record = `INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, $3)`
		args = append(args, mig.Name, time.Now().UTC())
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record %s migration %d_%s: %w", d, mig.Version, mig.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %d_%s: %w", d, mig.Version, mig.Name, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		out[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return out, nil
}

// loadMigrations собирает пары up/down из fsys, отсортированные по версии.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, path.Join(migrationsDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		parts := migrationFileRe.FindStringSubmatch(base)
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		mig, ok := byVersion[version]
		if !ok {
			mig = &migration{Version: version, Name: parts[2]}
			byVersion[version] = mig
		} else if mig.Name != parts[2] {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, mig.Name, parts[2])
		}

		slot := &mig.Up
		if direction(parts[3]) == directionDown {
			slot = &mig.Down
		}
		if *slot != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", parts[3], version)
		}
		*slot = body
	}

	out := make([]migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.Up == "" || mig.Down == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", mig.Version, mig.Name)
		}
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
