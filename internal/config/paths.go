package config

import (
	"os"
	"path/filepath"
)

const dirName = ".wingchat"

// Dir returns ~/.wingchat.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, dirName), nil
}

// DBPath is the sqlite file holding client state under dir.
func DBPath(dir string) string {
	return filepath.Join(dir, "wingchat.db")
}

// EnsureDir creates dir if needed.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
