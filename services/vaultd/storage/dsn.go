package storage

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Connection pragmas, applied by the driver to every pooled connection.
var pragmas = []string{"foreign_keys(1)", "busy_timeout(5000)"}

func dsnQuery(mode string, extra ...string) string {
	q := url.Values{"mode": {mode}, "_pragma": append(append([]string{}, pragmas...), extra...)}
	return q.Encode()
}

// FileDSN resolves path to an absolute on-disk SQLite DSN, creating the
// parent directory when missing.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve audit database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return "", fmt.Errorf("create audit database directory: %w", err)
	}
	return "file:" + abs + "?" + dsnQuery("rwc", "journal_mode(WAL)"), nil
}

// MemoryDSN names a shared-cache in-memory database, isolated by name.
func MemoryDSN(name string) string {
	safe := strings.NewReplacer("/", "_", " ", "_", "?", "_", "&", "_").Replace(name)
	return "file:" + safe + "?cache=shared&" + dsnQuery("memory")
}
