package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/deskhive/chat-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	display_name  TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'member',
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS moderation (
	kind TEXT NOT NULL,
	ref  TEXT NOT NULL,
	PRIMARY KEY (kind, ref)
);
`

// Moderation set kinds persisted in the moderation table.
const (
	kindBlocked = "blocked"
	kindMuted   = "muted"
	kindPinned  = "pinned"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and applies the
// schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new account row.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *store.User) error {
	query := `
		INSERT INTO users (id, username, display_name, password_hash, role)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, u.ID, u.Username, u.DisplayName, u.PasswordHash, u.Role); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByUsername looks up an account by its login name.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, display_name, password_hash, role, created_at
		FROM users WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

// GetUserByID looks up an account by id.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, username, display_name, password_hash, role, created_at
		FROM users WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// LoadModeration reads the persisted blocked/muted/pinned sets.
func (s *SQLiteStore) LoadModeration(ctx context.Context) (blocked, muted, pinned []string, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, ref FROM moderation`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("query moderation: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, ref string
		if err := rows.Scan(&kind, &ref); err != nil {
			return nil, nil, nil, fmt.Errorf("scan moderation row: %w", err)
		}
		switch kind {
		case kindBlocked:
			blocked = append(blocked, ref)
		case kindMuted:
			muted = append(muted, ref)
		case kindPinned:
			pinned = append(pinned, ref)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate moderation rows: %w", err)
	}
	return blocked, muted, pinned, nil
}

// SaveModeration replaces the persisted moderation sets in one transaction.
func (s *SQLiteStore) SaveModeration(ctx context.Context, blocked, muted, pinned []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM moderation`); err != nil {
		return fmt.Errorf("clear moderation: %w", err)
	}

	insert := func(kind string, refs []string) error {
		for _, ref := range refs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO moderation (kind, ref) VALUES (?, ?)`, kind, ref); err != nil {
				return fmt.Errorf("insert %s %s: %w", kind, ref, err)
			}
		}
		return nil
	}
	if err := insert(kindBlocked, blocked); err != nil {
		return err
	}
	if err := insert(kindMuted, muted); err != nil {
		return err
	}
	if err := insert(kindPinned, pinned); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit moderation: %w", err)
	}
	return nil
}
