// Package userstore holds user credentials. Passwords are stored as salted
// SHA-256 digests and verified with a constant-time compare; the plaintext
// never touches disk.
package userstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var (
	ErrExists          = errors.New("user already exists")
	ErrNotFound        = errors.New("user not found")
	ErrInvalidPassword = errors.New("invalid password")
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id       TEXT NOT NULL UNIQUE,
	password_salt TEXT NOT NULL,
	password_hash TEXT NOT NULL
);
`

// User is the public view of an account; credentials are never exposed.
type User struct {
	ID     int64  `db:"id" json:"id"`
	UserID string `db:"user_id" json:"user_id"`
}

type Store struct {
	db *sqlx.DB
}

func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Register creates a new user. Duplicate user ids fail with ErrExists.
func (s *Store) Register(ctx context.Context, userID, password string) error {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	digest := hashPassword(salt, password)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, password_salt, password_hash) VALUES (?, ?, ?)`,
		userID, hex.EncodeToString(salt), hex.EncodeToString(digest),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Verify checks a password against the stored digest. It distinguishes an
// unknown user from a wrong password so callers can map the two to different
// responses.
func (s *Store) Verify(ctx context.Context, userID, password string) error {
	var saltHex, hashHex string
	err := s.db.QueryRowxContext(ctx,
		`SELECT password_salt, password_hash FROM users WHERE user_id = ?`, userID,
	).Scan(&saltHex, &hashHex)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return fmt.Errorf("decode salt: %w", err)
	}
	stored, err := hex.DecodeString(hashHex)
	if err != nil {
		return fmt.Errorf("decode hash: %w", err)
	}
	if subtle.ConstantTimeCompare(hashPassword(salt, password), stored) != 1 {
		return ErrInvalidPassword
	}
	return nil
}

// List returns all users ordered by id.
func (s *Store) List(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.db.SelectContext(ctx, &users,
		`SELECT id, user_id FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func hashPassword(salt []byte, password string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(password))
	return h.Sum(nil)
}
