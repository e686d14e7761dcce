package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"
)

// openVaultDB opens a migrated vault database file under t.TempDir with the
// same pragmas the service uses.
func openVaultDB(t *testing.T) *DB {
	t.Helper()
	return openVaultDBAt(t, filepath.Join(t.TempDir(), "vault.db"))
}

// openVaultDBAt opens path, applying migrations if needed. The connections
// are closed when the test ends.
func openVaultDBAt(t *testing.T, path string) *DB {
	t.Helper()

	db, err := NewDB(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunMigrations(db.Writer))
	return db
}

// newCredentialRepo returns a credential repo over a fresh database. Its
// clock starts at testNow.
func newCredentialRepo(t *testing.T) (*CredentialRepo, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(testNow)
	return NewCredentialRepo(openVaultDB(t), clk), clk
}

// newAuditRepo returns an audit repo and the database behind it, so tests
// can poke at the table directly.
func newAuditRepo(t *testing.T) (*AuditRepo, *DB) {
	t.Helper()
	db := openVaultDB(t)
	return NewAuditRepo(db), db
}
