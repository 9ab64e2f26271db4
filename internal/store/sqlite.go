package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const createCredentialsTable = `CREATE TABLE IF NOT EXISTS credentials (
	username      TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL
)`

// SQLiteBackend persists credentials in a SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite db")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite db")
	}
	if _, err := db.Exec(createCredentialsTable); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create credentials table")
	}
	return &SQLiteBackend{db: db}, nil
}

// Load implements Backend.
func (b *SQLiteBackend) Load(ctx context.Context) ([]Credential, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT username, password_hash FROM credentials ORDER BY rowid`)
	if err != nil {
		return nil, errors.Wrap(err, "query credentials")
	}
	defer func() { _ = rows.Close() }()

	var records []Credential
	for rows.Next() {
		var rec Credential
		if err := rows.Scan(&rec.Username, &rec.PasswordHash); err != nil {
			return nil, errors.Wrap(err, "scan credential")
		}
		if rec.Valid() {
			records = append(records, rec)
		}
	}
	return records, errors.Wrap(rows.Err(), "iterate credentials")
}

// Append implements Backend.
func (b *SQLiteBackend) Append(ctx context.Context, c Credential) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO credentials (username, password_hash) VALUES (?, ?)`,
		c.Username, c.PasswordHash)
	if isConstraintViolation(err) {
		return ErrAlreadyExists
	}
	return errors.Wrap(err, "insert credential")
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func isConstraintViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
