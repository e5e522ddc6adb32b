package bootstrap

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// EnsureDataDirectory creates the directory holding the SQLite backup file
// and checks that it is writable. It is a no-op for in-memory paths.
func EnsureDataDirectory(sqlitePath string, sugar *zap.SugaredLogger) error {
	if sqlitePath == "" || sqlitePath == ":memory:" {
		return nil
	}

	absPath, err := filepath.Abs(filepath.Dir(sqlitePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path for %s: %w", sqlitePath, err)
	}

	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w\n"+
			"  Remediation: Ensure the parent directory exists and is writable\n"+
			"  For Docker: Check volume mount permissions", absPath, err)
	}

	testFile := filepath.Join(absPath, ".tablevault_write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("directory %s is not writable: %w\n"+
			"  Remediation: Check file system permissions\n"+
			"  For Docker: Ensure volume is mounted with write access", absPath, err)
	}
	_ = os.Remove(testFile)

	sugar.Infow("Data directory ready", "path", absPath)
	return nil
}

// GenerateSecurePassword generates a cryptographically secure random password.
func GenerateSecurePassword(length int) (string, error) {
	if length < 16 {
		length = 16
	}

	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	password := base64.URLEncoding.EncodeToString(bytes)
	if len(password) > length {
		password = password[:length]
	}
	return password, nil
}

// ClassifyConnectionError turns a MongoDB connection failure into an
// operator-facing message. uri credentials are never echoed.
func ClassifyConnectionError(err error, uri string) string {
	if err == nil {
		return ""
	}
	addr := redactURI(uri)
	errStr := err.Error()

	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || containsIgnoreCase(errStr, "server selection timeout") {
		return fmt.Sprintf("Connection to MongoDB at %s timed out.\n"+
			"  Possible causes:\n"+
			"  - MongoDB is starting up (wait and retry)\n"+
			"  - Network latency or firewall blocking the connection\n"+
			"  Remediation:\n"+
			"  - Check if MongoDB is running: docker ps | grep mongo\n"+
			"  - Verify the host in mongodb.uri", addr)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || containsIgnoreCase(errStr, "connection refused") {
		return fmt.Sprintf("Connection refused by MongoDB at %s.\n"+
			"  This usually means MongoDB is not running.\n"+
			"  Remediation:\n"+
			"  - Start MongoDB: docker compose up -d mongo\n"+
			"  - Verify the address is correct in config.yaml", addr)
	}

	if containsIgnoreCase(errStr, "no such host") || containsIgnoreCase(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in MongoDB address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Check DNS configuration", addr)
	}

	if containsIgnoreCase(errStr, "authentication") || containsIgnoreCase(errStr, "auth error") {
		return fmt.Sprintf("Authentication failed for MongoDB at %s.\n"+
			"  Remediation:\n"+
			"  - Verify the credentials in mongodb.uri\n"+
			"  - Check TABLEVAULT_MONGODB_URI", addr)
	}

	return fmt.Sprintf("Failed to connect to MongoDB at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure MongoDB is running and accessible\n"+
		"  - Check config.yaml mongodb.uri setting", addr, err)
}

// ClassifySQLiteError provides specific error messages based on the type of SQLite failure.
func ClassifySQLiteError(err error, dbPath string) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()
	absPath, _ := filepath.Abs(dbPath)
	parentDir := filepath.Dir(absPath)

	switch {
	case containsIgnoreCase(errStr, "permission denied") || containsIgnoreCase(errStr, "access denied"):
		return fmt.Sprintf("Permission denied accessing SQLite backup at %s.\n"+
			"  Remediation:\n"+
			"  - Check file permissions: ls -la %s\n"+
			"  - For Docker: Ensure volume is mounted with proper user permissions",
			absPath, parentDir)
	case containsIgnoreCase(errStr, "database is locked") || containsIgnoreCase(errStr, "SQLITE_BUSY"):
		return fmt.Sprintf("SQLite backup at %s is locked by another process.\n"+
			"  Remediation:\n"+
			"  - Check for another running tablevault instance\n"+
			"  - Check for lock files: ls -la %s*", absPath, absPath)
	case containsIgnoreCase(errStr, "disk full") || containsIgnoreCase(errStr, "no space") || containsIgnoreCase(errStr, "SQLITE_FULL"):
		return fmt.Sprintf("Disk full - cannot write to SQLite backup at %s.\n"+
			"  Remediation:\n"+
			"  - Check available disk space: df -h %s", absPath, parentDir)
	case containsIgnoreCase(errStr, "corrupt") || containsIgnoreCase(errStr, "malformed"):
		return fmt.Sprintf("SQLite backup at %s appears to be corrupted.\n"+
			"  CRITICAL: Copy the file before attempting recovery!\n"+
			"  - Check integrity: sqlite3 %s \"PRAGMA integrity_check;\"", absPath, absPath)
	case containsIgnoreCase(errStr, "read-only"):
		return fmt.Sprintf("SQLite backup location is on a read-only file system: %s.\n"+
			"  Remediation:\n"+
			"  - Move the backup via TABLEVAULT_BACKUP_SQLITE_PATH", absPath)
	}

	return fmt.Sprintf("Failed to initialize SQLite backup at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure the directory %s exists and is writable", absPath, err, parentDir)
}

// redactURI drops the userinfo part of a connection string.
func redactURI(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	return scheme + "://" + rest
}

// containsIgnoreCase checks if a string contains a substring (case-insensitive).
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
