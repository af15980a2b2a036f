package store

import (
	"database/sql"
	"testing"
)

// newMemStore opens an in-memory SQLite database, runs migrations, and returns
// the store. The database is discarded when the test process exits.
func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsApplied verifies that after opening a fresh database every
// migration has been recorded in schema_migrations.
func TestMigrationsApplied(t *testing.T) {
	s := newMemStore(t)

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d migrations recorded, got %d", len(migrations), count)
	}
}

// TestMigrationsIdempotent verifies that calling migrate a second time does
// not re-apply migrations.
func TestMigrationsIdempotent(t *testing.T) {
	s := newMemStore(t)

	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d rows after second migrate, got %d", len(migrations), count)
	}
}

// TestSeedDefaultAdmin verifies a fresh database gets a bootstrap admin.
func TestSeedDefaultAdmin(t *testing.T) {
	s := newMemStore(t)

	n, err := s.UserCount()
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 seeded user, got %d", n)
	}

	cred, found, err := s.GetUser("admin")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !found {
		t.Fatal("expected default admin user to exist")
	}
	if cred.UserType != Administrator {
		t.Errorf("expected Administrator, got %v", cred.UserType)
	}
}

// TestSeedDefaultAdminSkippedWhenUsersExist verifies that seeding does not
// run a second time.
func TestSeedDefaultAdminSkippedWhenUsersExist(t *testing.T) {
	s := newMemStore(t)

	if err := s.RegisterUser("alice", "somehash", User); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if err := s.seedDefaultAdmin(); err != nil {
		t.Fatalf("seedDefaultAdmin: %v", err)
	}

	n, err := s.UserCount()
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 users (admin + alice), got %d", n)
	}
}

// TestRegisterAndAuthenticate verifies the register/authenticate contract.
func TestRegisterAndAuthenticate(t *testing.T) {
	s := newMemStore(t)

	if err := s.RegisterUser("bob", "hash-of-bobs-password", User); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	cred, ok, err := s.Authenticate("bob", "hash-of-bobs-password")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !ok {
		t.Fatal("expected successful authentication")
	}
	if cred.Username != "bob" {
		t.Errorf("expected username %q, got %q", "bob", cred.Username)
	}
	if !cred.LastLogin.Valid {
		t.Error("expected last_login to be stamped after successful auth")
	}
}

// TestAuthenticateWrongPassword verifies that a mismatched hash is rejected.
func TestAuthenticateWrongPassword(t *testing.T) {
	s := newMemStore(t)

	if err := s.RegisterUser("carol", "correct-hash", User); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	_, ok, err := s.Authenticate("carol", "wrong-hash")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ok {
		t.Fatal("expected authentication to fail for wrong password hash")
	}
}

// TestAuthenticateUnknownUser verifies that authenticating a nonexistent user
// fails without error.
func TestAuthenticateUnknownUser(t *testing.T) {
	s := newMemStore(t)

	_, ok, err := s.Authenticate("nobody", "whatever")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ok {
		t.Fatal("expected authentication to fail for unknown user")
	}
}

// TestRegisterDuplicateUsername verifies that re-registering an existing
// username is rejected.
func TestRegisterDuplicateUsername(t *testing.T) {
	s := newMemStore(t)

	if err := s.RegisterUser("dave", "hash1", User); err != nil {
		t.Fatalf("first RegisterUser: %v", err)
	}
	if err := s.RegisterUser("dave", "hash2", User); err == nil {
		t.Fatal("expected error for duplicate username, got nil")
	}
}

// TestUserExists verifies the UserExists helper.
func TestUserExists(t *testing.T) {
	s := newMemStore(t)

	if ok, _ := s.UserExists("erin"); ok {
		t.Fatal("expected erin not to exist yet")
	}
	s.RegisterUser("erin", "hash", User)
	if ok, _ := s.UserExists("erin"); !ok {
		t.Fatal("expected erin to exist after registration")
	}
}

// TestSetUserType verifies promotion of a user to Administrator.
func TestSetUserType(t *testing.T) {
	s := newMemStore(t)

	s.RegisterUser("frank", "hash", User)
	if err := s.SetUserType("frank", Administrator); err != nil {
		t.Fatalf("SetUserType: %v", err)
	}

	cred, found, err := s.GetUser("frank")
	if err != nil || !found {
		t.Fatalf("GetUser: found=%v err=%v", found, err)
	}
	if cred.UserType != Administrator {
		t.Errorf("expected Administrator, got %v", cred.UserType)
	}
}

// TestSetUserTypeNotFound verifies that promoting a missing user returns
// sql.ErrNoRows.
func TestSetUserTypeNotFound(t *testing.T) {
	s := newMemStore(t)

	err := s.SetUserType("ghost", Administrator)
	if err != sql.ErrNoRows {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

// TestGetAllUsers verifies alphabetical ordering of usernames, including the
// seeded admin.
func TestGetAllUsers(t *testing.T) {
	s := newMemStore(t)

	s.RegisterUser("zara", "hash", User)
	s.RegisterUser("mike", "hash", User)

	names, err := s.GetAllUsers()
	if err != nil {
		t.Fatalf("GetAllUsers: %v", err)
	}
	want := []string{"admin", "mike", "zara"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("index %d: expected %q, got %q", i, n, names[i])
		}
	}
}

// TestUserCount verifies the UserCount helper accounts for the seeded admin.
func TestUserCount(t *testing.T) {
	s := newMemStore(t)

	n, err := s.UserCount()
	if err != nil || n != 1 {
		t.Fatalf("expected 1 (seeded admin), got %d err=%v", n, err)
	}

	s.RegisterUser("henry", "hash", User)

	n, err = s.UserCount()
	if err != nil || n != 2 {
		t.Fatalf("expected 2, got %d err=%v", n, err)
	}
}
