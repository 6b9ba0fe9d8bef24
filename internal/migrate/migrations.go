// Package migrate applies the embedded schema revisions for the analytics
// store: the decision-cycle fact table, the append-only analytics event log
// and the daily metric snapshots. Revisions are numbered .sql files; applied
// ones are recorded by filename so a restart never re-runs them.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"time"
)

//go:embed sql/*.sql
var schemaFS embed.FS

const ledgerTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
);`

// Migrate brings the database up to the newest embedded revision. Each
// revision runs in its own transaction, so a failing one leaves every earlier
// revision applied and recorded.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(ledgerTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := appliedRevisions(db)
	if err != nil {
		return err
	}
	names, err := revisionNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		if applied[name] {
			continue
		}
		if err := applyRevision(db, name); err != nil {
			return err
		}
	}
	return nil
}

// revisionNames lists the embedded .sql files in apply order. The zero-padded
// numeric prefix makes lexical order the revision order.
func revisionNames() ([]string, error) {
	entries, err := schemaFS.ReadDir("sql")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func appliedRevisions(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query(`SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func applyRevision(db *sql.DB, name string) error {
	src, err := schemaFS.ReadFile("sql/" + name)
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(string(src)); err != nil {
		return fmt.Errorf("apply %s: %w", name, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations(name, applied_at) VALUES (?, ?)`,
		name, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record %s: %w", name, err)
	}
	return tx.Commit()
}
