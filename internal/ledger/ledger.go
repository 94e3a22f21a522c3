// SPDX-License-Identifier: Apache-2.0

// Package ledger keeps the SQLite record of imported experiments and of the
// accessions minted for projects the archive does not know yet.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gemaraproj/hca2mtab/internal/accession"
)

// Entry is one imported (project, technology) pair.
type Entry struct {
	ProjectUUID string
	Accession   string
	Technology  string
	Bundles     int
	Title       string
	ImportedAt  time.Time
}

// Ledger wraps the SQLite database connection.
type Ledger struct {
	conn *sql.DB
}

// Open opens (or creates) the ledger at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; minting reads and writes in a single transaction
	conn.SetMaxOpenConns(1)

	l := &Ledger{conn: conn}
	if err := l.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.conn.Close()
}

func (l *Ledger) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS imports (
			project_uuid TEXT NOT NULL,
			accession TEXT NOT NULL,
			technology TEXT NOT NULL,
			bundles INTEGER NOT NULL DEFAULT 0,
			title TEXT NOT NULL DEFAULT '',
			imported_at TEXT NOT NULL,
			PRIMARY KEY (project_uuid, technology)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_imports_accession ON imports(accession)`,
		`CREATE TABLE IF NOT EXISTS accessions (
			project_uuid TEXT PRIMARY KEY,
			accession TEXT NOT NULL UNIQUE,
			minted_at TEXT NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := l.conn.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Record stores e, replacing an earlier import of the same project and technology.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.ImportedAt.IsZero() {
		e.ImportedAt = time.Now()
	}
	_, err := l.conn.ExecContext(ctx,
		`INSERT INTO imports (project_uuid, accession, technology, bundles, title, imported_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (project_uuid, technology) DO UPDATE SET
		   accession = excluded.accession,
		   bundles = excluded.bundles,
		   title = excluded.title,
		   imported_at = excluded.imported_at`,
		e.ProjectUUID, e.Accession, e.Technology, e.Bundles, e.Title, e.ImportedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record import of %s: %w", e.ProjectUUID, err)
	}
	return nil
}

// Imported reports whether any technology of projectUUID was imported.
func (l *Ledger) Imported(ctx context.Context, projectUUID string) (bool, error) {
	var n int
	err := l.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM imports WHERE project_uuid = ?`, projectUUID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query imports: %w", err)
	}
	return n > 0, nil
}

// Entries returns every import, ordered by accession and technology.
func (l *Ledger) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := l.conn.QueryContext(ctx,
		`SELECT project_uuid, accession, technology, bundles, title, imported_at
		 FROM imports ORDER BY accession, technology`)
	if err != nil {
		return nil, fmt.Errorf("query imports: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			at string
		)
		if err := rows.Scan(&e.ProjectUUID, &e.Accession, &e.Technology, &e.Bundles, &e.Title, &at); err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		if e.ImportedAt, err = time.Parse(time.RFC3339, at); err != nil {
			return nil, fmt.Errorf("parse imported_at %q: %w", at, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AccessionFor returns the accession the ledger holds for projectUUID: a minted
// one first, else the accession of an earlier import.
func (l *Ledger) AccessionFor(ctx context.Context, projectUUID string) (string, bool, error) {
	for _, q := range []string{
		`SELECT accession FROM accessions WHERE project_uuid = ?`,
		`SELECT accession FROM imports WHERE project_uuid = ? ORDER BY imported_at DESC LIMIT 1`,
	} {
		var acc string
		err := l.conn.QueryRowContext(ctx, q, projectUUID).Scan(&acc)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("query accession of %s: %w", projectUUID, err)
		}
		return acc, true, nil
	}
	return "", false, nil
}

// Mint assigns the next candidate accession to projectUUID, or returns the one
// it already holds. Candidates in taken, such as experiments found in the
// output directory, count as used even when the ledger never recorded them.
func (l *Ledger) Mint(ctx context.Context, projectUUID string, taken ...string) (string, error) {
	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin mint: %w", err)
	}
	defer tx.Rollback()

	var acc string
	err = tx.QueryRowContext(ctx, `SELECT accession FROM accessions WHERE project_uuid = ?`, projectUUID).Scan(&acc)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("query accession of %s: %w", projectUUID, err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT accession FROM accessions UNION SELECT accession FROM imports`)
	if err != nil {
		return "", fmt.Errorf("query accessions: %w", err)
	}
	existing := append([]string(nil), taken...)
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			rows.Close()
			return "", fmt.Errorf("scan accession: %w", err)
		}
		existing = append(existing, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("query accessions: %w", err)
	}

	acc = accession.NextCandidate(existing)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accessions (project_uuid, accession, minted_at) VALUES (?, ?, ?)`,
		projectUUID, acc, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return "", fmt.Errorf("store accession of %s: %w", projectUUID, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit mint: %w", err)
	}
	return acc, nil
}
