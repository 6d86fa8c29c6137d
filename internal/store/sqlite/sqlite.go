// Package sqlite implements store.Store on a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/realmkit/relayd/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	key_hash   TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS key_bans (
	key_hash   TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS addr_bans (
	addr       TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateUser(ctx context.Context, id int32, name, keyHash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, key_hash) VALUES (?, ?, ?)`, id, name, keyHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UserByID(ctx context.Context, id int32) (*store.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, key_hash, created_at FROM users WHERE id = ?`, id)

	var u store.User
	if err := row.Scan(&u.ID, &u.Name, &u.KeyHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) Users(ctx context.Context) ([]store.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, key_hash, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []store.User
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.ID, &u.Name, &u.KeyHash, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) MaxUserID(ctx context.Context) (int32, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM users`)
	var id int32
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("select max user id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) AddKeyBan(ctx context.Context, keyHash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO key_bans (key_hash) VALUES (?)`, keyHash)
	if err != nil {
		return fmt.Errorf("insert key ban: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveKeyBan(ctx context.Context, keyHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM key_bans WHERE key_hash = ?`, keyHash)
	if err != nil {
		return fmt.Errorf("delete key ban: %w", err)
	}
	return nil
}

func (s *SQLiteStore) KeyBans(ctx context.Context) ([]string, error) {
	return s.selectStrings(ctx, `SELECT key_hash FROM key_bans ORDER BY created_at`)
}

func (s *SQLiteStore) AddAddrBan(ctx context.Context, addr string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO addr_bans (addr) VALUES (?)`, addr)
	if err != nil {
		return fmt.Errorf("insert addr ban: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveAddrBan(ctx context.Context, addr string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM addr_bans WHERE addr = ?`, addr)
	if err != nil {
		return fmt.Errorf("delete addr ban: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddrBans(ctx context.Context) ([]string, error) {
	return s.selectStrings(ctx, `SELECT addr FROM addr_bans ORDER BY created_at`)
}

func (s *SQLiteStore) selectStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
