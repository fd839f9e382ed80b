package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/logger"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// migration is one embedded NNN_name.sql file.
type migration struct {
	version string
	file    string
}

// Migrate applies every embedded migration not yet listed in schema_migrations.
// A nil logger keeps it silent.
func Migrate(db *sql.DB, log *zap.SugaredLogger) error {
	log = logger.OrNop(log)

	all, err := embeddedMigrations()
	if err != nil {
		return err
	}
	applied, err := appliedVersions(db)
	if err != nil {
		return err
	}

	var ran int
	for _, m := range all {
		if applied[m.version] {
			log.Debugw("Audit migration already applied", logger.FieldFile, m.file)
			continue
		}
		log.Infow("Applying audit migration", logger.FieldFile, m.file)
		if err := apply(db, m); err != nil {
			return err
		}
		ran++
	}

	log.Debugw("Audit schema up to date", logger.FieldCount, ran, logger.FieldTotalCount, len(all))
	return nil
}

// embeddedMigrations returns the migration files ordered by version.
func embeddedMigrations() ([]migration, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list audit migrations")
	}

	var out []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, errors.Newf("migration %s is not named NNN_description.sql", name)
		}
		out = append(out, migration{version: version, file: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// appliedVersions reads schema_migrations. A database without the table has nothing applied.
func appliedVersions(db *sql.DB) (map[string]bool, error) {
	var tables int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'").Scan(&tables)
	if err != nil {
		return nil, errors.Wrap(err, "failed to inspect audit schema")
	}
	applied := map[string]bool{}
	if tables == 0 {
		return applied, nil
	}

	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read applied migrations")
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "failed to scan migration version")
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// apply runs m and records it in one transaction. Migration 000 creates schema_migrations
// and then records itself.
func apply(db *sql.DB, m migration) error {
	body, err := migrations.ReadFile(path.Join(migrationsDir, m.file))
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", m.file)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "failed to begin %s", m.file)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(body)); err != nil {
		return errors.Wrapf(err, "failed to execute %s", m.file)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		return errors.Wrapf(err, "failed to record %s", m.file)
	}
	return errors.Wrapf(tx.Commit(), "failed to commit %s", m.file)
}
