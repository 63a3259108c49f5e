package server

import (
	"fmt"
	"os"
	"path/filepath"
)

// getXDGStateHome returns $XDG_STATE_HOME/<app>, falling back to
// ~/.local/state/<app>, and creates it.
func getXDGStateHome(app string) (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		base = filepath.Join(home, ".local", "state")
	}

	dir := filepath.Join(base, app)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}
