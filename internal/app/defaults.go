package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns the invocation-local paths vault/sandman need
// beyond the loaded Config, checking an environment variable first.
//
//   - VAULT_LOG_DIR: per-invocation log directory (default: ~/.local/state/vault/log)
func GetDefaults() (map[string]string, error) {
	logDir, err := getLogDir()
	if err != nil {
		return nil, err
	}
	return map[string]string{"log_dir": logDir}, nil
}

func getLogDir() (string, error) {
	if dir := os.Getenv("VAULT_LOG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "vault", "log"), nil
}
