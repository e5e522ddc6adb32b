package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tablevault/core"
	"tablevault/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "admins.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestLoadSeedFile tests parsing and validation of the seed file
func TestLoadSeedFile(t *testing.T) {
	seeds, err := LoadSeedFile(writeSeed(t, `
admins:
  - email: root@example.com
    name: Root
    password: s3cret-pass
  - email: ops@example.com
`))
	require.NoError(t, err)
	require.Len(t, seeds.Admins, 2)
	assert.Equal(t, "Root", seeds.Admins[0].Name)

	_, err = LoadSeedFile(writeSeed(t, "admins:\n  - email: not-an-email\n"))
	assert.Error(t, err)

	_, err = LoadSeedFile(writeSeed(t, "admins:\n  - email: a@example.com\n    password: x\n    password_hash: y\n"))
	assert.Error(t, err)

	_, err = LoadSeedFile(writeSeed(t, "admins: [unterminated"))
	assert.Error(t, err)

	_, err = LoadSeedFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// TestSeedAdmins tests creation, idempotency and backup copies
func TestSeedAdmins(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t).Sugar()
	store := storage.NewMemoryStore()
	backup := storage.NewMemoryBackup()

	seeds := &SeedFile{Admins: []AdminSeed{
		{Email: " Root@Example.com ", Name: "Root", Password: "correct horse"},
		{Email: "ops@example.com"},
	}}

	n, err := SeedAdmins(ctx, store, backup, seeds, bcrypt.MinCost, logger)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	root, err := store.GetUserByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.True(t, root.IsAdmin)
	assert.Equal(t, "root@example.com", root.Email)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(root.PasswordHash), []byte("correct horse")))

	ops, err := store.GetUserByEmail(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, ops.PasswordHash)

	count, err := backup.Count(ctx, storage.CollectionUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	var copied core.User
	require.NoError(t, backup.Load(ctx, storage.CollectionUsers, root.ID, &copied))
	assert.Equal(t, root.PasswordHash, copied.PasswordHash)

	// A second run changes nothing
	n, err = SeedAdmins(ctx, store, backup, seeds, bcrypt.MinCost, logger)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// TestSeedAdmins_PasswordHash tests that a precomputed hash is stored as is
func TestSeedAdmins_PasswordHash(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)

	n, err := SeedAdmins(ctx, store, nil, &SeedFile{Admins: []AdminSeed{
		{Email: "hash@example.com", PasswordHash: string(hash)},
	}}, bcrypt.MinCost, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	u, err := store.GetUserByEmail(ctx, "hash@example.com")
	require.NoError(t, err)
	assert.Equal(t, string(hash), u.PasswordHash)
}

// TestSeedAdmins_Nil tests that a nil seed file is a no-op
func TestSeedAdmins_Nil(t *testing.T) {
	n, err := SeedAdmins(context.Background(), storage.NewMemoryStore(), nil, nil, bcrypt.MinCost, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Zero(t, n)
}
