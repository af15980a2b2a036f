// Package store provides persistent server state backed by an embedded SQLite
// database. It owns the database lifecycle and exposes a minimal API used by
// the rest of the server.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// UserType distinguishes regular users from administrators.
type UserType int

const (
	User UserType = iota
	Administrator
)

// defaultAdminUsername/Password match the bootstrap account created when a
// fresh database has no users.
const (
	defaultAdminUsername = "admin"
	defaultAdminPassword = "admin_pass"
)

// migrations holds the ordered list of DDL/DML statements that bring the
// schema up to date. Index i corresponds to version i+1.
var migrations = []string{
	// v1 — users
	`CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		user_type     INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		last_login    TEXT
	)`,
	// v2 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Store wraps a SQLite database and exposes server-state operations.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path, applies any pending
// migrations, and seeds a default administrator account if the users table
// is empty. Use ":memory:" for ephemeral in-process storage (tests).
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Allow multiple read connections but serialise writes.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	// Enable WAL mode for concurrent readers.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		log.Printf("[store] WAL mode: %v (non-fatal)", err)
	}
	// Busy timeout to avoid SQLITE_BUSY on concurrent access.
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Printf("[store] busy_timeout: %v (non-fatal)", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.seedDefaultAdmin(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed admin: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema_migrations table (if absent) and applies any
// migrations whose version number exceeds the current maximum.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		log.Printf("[store] applied migration v%d", v)
	}
	return nil
}

// seedDefaultAdmin creates the bootstrap "admin" account if the users table
// is empty, matching the original client's first-boot behavior.
func (s *Store) seedDefaultAdmin() error {
	n, err := s.UserCount()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	sum := sha256.Sum256([]byte(defaultAdminPassword))
	hash := hex.EncodeToString(sum[:])
	if err := s.RegisterUser(defaultAdminUsername, hash, Administrator); err != nil {
		return err
	}
	log.Printf("[store] no users found, created default admin account")
	return nil
}

// Credential is a user row as stored in the database.
type Credential struct {
	ID           int64
	Username     string
	PasswordHash string
	UserType     UserType
	CreatedAt    string
	LastLogin    sql.NullString
}

// RegisterUser inserts a new user row. passwordHash is the hex-encoded
// SHA-256 digest of the password, as supplied by the caller; it is stored
// as given.
// Returns an error if the username already exists.
func (s *Store) RegisterUser(username, passwordHash string, userType UserType) error {
	_, err := s.db.Exec(
		`INSERT INTO users(username, password_hash, user_type, created_at) VALUES(?, ?, ?, ?)`,
		username, passwordHash, int(userType), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Authenticate looks up username and compares passwordHash against the
// stored hash. On success it stamps last_login and returns the credential.
// ok is false if the user does not exist or the hash does not match.
func (s *Store) Authenticate(username, passwordHash string) (cred Credential, ok bool, err error) {
	cred, found, err := s.GetUser(username)
	if err != nil || !found {
		return Credential{}, false, err
	}
	if cred.PasswordHash != passwordHash {
		return Credential{}, false, nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.Exec(
		`UPDATE users SET last_login = ? WHERE username = ?`,
		now, username,
	)
	if err != nil {
		return Credential{}, false, err
	}
	cred.LastLogin = sql.NullString{String: now, Valid: true}
	return cred, true, nil
}

// GetUser returns the credential row for username. found is false if no such
// user exists.
func (s *Store) GetUser(username string) (cred Credential, found bool, err error) {
	var c Credential
	var userType int
	err = s.db.QueryRow(
		`SELECT id, username, password_hash, user_type, created_at, last_login FROM users WHERE username = ?`,
		username,
	).Scan(&c.ID, &c.Username, &c.PasswordHash, &userType, &c.CreatedAt, &c.LastLogin)
	if err == sql.ErrNoRows {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, err
	}
	c.UserType = UserType(userType)
	return c, true, nil
}

// UserExists reports whether username has a row in the users table.
func (s *Store) UserExists(username string) (bool, error) {
	_, found, err := s.GetUser(username)
	return found, err
}

// SetUserType updates the user_type of an existing user. Returns
// sql.ErrNoRows if the username does not exist.
func (s *Store) SetUserType(username string, userType UserType) error {
	res, err := s.db.Exec(`UPDATE users SET user_type = ? WHERE username = ?`, int(userType), username)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetAllUsers returns every username, ordered alphabetically.
func (s *Store) GetAllUsers() ([]string, error) {
	rows, err := s.db.Query(`SELECT username FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UserCount returns the number of registered users.
func (s *Store) UserCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// Optimize runs PRAGMA optimize for SQLite query planner statistics.
func (s *Store) Optimize() error {
	_, err := s.db.Exec(`PRAGMA optimize`)
	return err
}

// Backup creates a copy of the database at the given path using SQLite's
// VACUUM INTO statement.
func (s *Store) Backup(destPath string) error {
	_, err := s.db.Exec(`VACUUM INTO ?`, destPath)
	return err
}
