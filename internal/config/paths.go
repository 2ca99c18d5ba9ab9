package config

import (
	"os"
	"path/filepath"
)

// DefaultListenAddr is used when WHATSGATE_ADDR is not set.
const DefaultListenAddr = "127.0.0.1:8330"

// InstancePaths contains all paths used by a whatsgate instance.
type InstancePaths struct {
	Home        string // Instance home directory
	UsersDB     string // SQLite user store path
	SessionsDir string // Per-user WhatsApp credential directories
	Logs        string // Logs directory
}

// GetInstancePaths returns the directory layout for the instance.
func GetInstancePaths() InstancePaths {
	home := GetWhatsgateHome()

	return InstancePaths{
		Home:        home,
		UsersDB:     filepath.Join(home, "users.db"),
		SessionsDir: filepath.Join(home, "sessions"),
		Logs:        filepath.Join(home, "logs"),
	}
}

// GetWhatsgateHome returns the root data directory. WHATSGATE_HOME overrides
// the default of ~/.whatsgate.
func GetWhatsgateHome() string {
	if custom := os.Getenv("WHATSGATE_HOME"); custom != "" {
		return custom
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".whatsgate"
	}
	return filepath.Join(homeDir, ".whatsgate")
}

// ListenAddr returns the HTTP listen address, honouring WHATSGATE_ADDR.
func ListenAddr() string {
	if addr := os.Getenv("WHATSGATE_ADDR"); addr != "" {
		return addr
	}
	return DefaultListenAddr
}

// UserSessionDir returns the credential storage directory for one user.
// The adapter persists its durable pairing artifacts beneath it.
func UserSessionDir(paths InstancePaths, userID string) string {
	return filepath.Join(paths.SessionsDir, "user_"+userID)
}

// EnsureInstanceDirs creates the instance directory tree if missing.
func EnsureInstanceDirs() (InstancePaths, error) {
	paths := GetInstancePaths()

	for _, dir := range []string{paths.Home, paths.SessionsDir, paths.Logs} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return paths, err
		}
	}

	return paths, nil
}
