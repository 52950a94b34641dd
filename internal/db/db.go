package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const dbName = "fleetsim.db"

// EnsureWorkspace creates the workspace data directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(workspace, ".fleetsim")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open opens the workspace database, creating the data directory on
// first use. Foreign keys are enforced and writers wait on a busy
// database instead of failing immediately.
func Open(workspace string) (*sql.DB, error) {
	dir, err := EnsureWorkspace(workspace)
	if err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", filepath.Join(dir, dbName))
	return sql.Open("sqlite", dsn)
}

// Path reports where the workspace database lives.
func Path(workspace string) string {
	return filepath.Join(workspace, ".fleetsim", dbName)
}
