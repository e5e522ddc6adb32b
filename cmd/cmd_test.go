package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tablevault/codec"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCmd executes the root command with args and returns its output.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// TestRootCmd_Subcommands tests that every subcommand is registered
func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "keygen")
	assert.Contains(t, names, "seed-admins")
}

// TestKeygen_JSON tests that generated keys are usable by the codec
func TestKeygen_JSON(t *testing.T) {
	out, err := runCmd(t, "keygen", "--json", "--jwt")
	require.NoError(t, err)

	var keys generatedKeys
	require.NoError(t, json.Unmarshal([]byte(out), &keys))
	assert.Len(t, keys.EncryptionKey, 64)
	assert.GreaterOrEqual(t, len(keys.JWTSecret), 32)

	key, err := codec.ParseKey(keys.EncryptionKey)
	require.NoError(t, err)
	assert.Len(t, key, codec.KeySize)
}

// TestKeygen_Quiet tests that quiet mode prints only the key
func TestKeygen_Quiet(t *testing.T) {
	out, err := runCmd(t, "keygen", "--quiet", "--no-color")
	require.NoError(t, err)
	assert.Len(t, strings.TrimSpace(out), 64)
}

// TestValidateFilePath tests traversal rejection
func TestValidateFilePath(t *testing.T) {
	chdir(t, t.TempDir())

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative file", "admins.yaml", false},
		{"nested file", "seeds/admins.yaml", false},
		{"parent traversal", "../admins.yaml", true},
		{"encoded traversal", "%2e%2e/admins.yaml", true},
		{"absolute outside", "/etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFilePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestSeedAdmins_Command tests seeding against the in-memory stores
func TestSeedAdmins_Command(t *testing.T) {
	chdir(t, t.TempDir())
	require.NoError(t, os.WriteFile("config.yaml", []byte(`
primary:
  driver: memory
backup:
  driver: memory
auth:
  jwt_secret: k9Vq2LmZ8xR4tB7nW1cY6pH3jD5fG0sAq
  bcrypt_cost: 4
encryption:
  key: cli wiring key
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(".", "admins.yaml"), []byte(`
admins:
  - email: root@example.com
    password: correct horse battery
`), 0o600))

	out, err := runCmd(t, "seed-admins", "--config", "config.yaml", "--file", "admins.yaml", "--json")
	require.NoError(t, err)

	var res seedResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.Created)
}

// TestSeedAdmins_NoFile tests that a missing seed file is reported
func TestSeedAdmins_NoFile(t *testing.T) {
	chdir(t, t.TempDir())
	require.NoError(t, os.WriteFile("config.yaml", []byte(`
primary:
  driver: memory
backup:
  driver: memory
auth:
  jwt_secret: k9Vq2LmZ8xR4tB7nW1cY6pH3jD5fG0sAq
encryption:
  key: cli wiring key
`), 0o600))

	_, err := runCmd(t, "seed-admins", "--config", "config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no seed file")
}
