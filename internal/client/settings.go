package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sadirul/whatsgate/internal/config"
)

const settingsFile = "cli.json"

// Settings is the CLI's persisted daemon connection: where to reach it and
// the credentials from the last login.
type Settings struct {
	BaseURL   string    `json:"base_url"`
	Email     string    `json:"email,omitempty"`
	Token     string    `json:"token,omitempty"`
	APIKey    string    `json:"api_key,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SettingsPath returns the CLI settings file location under the instance
// home.
func SettingsPath() string {
	return filepath.Join(config.GetWhatsgateHome(), settingsFile)
}

// LoadSettings reads the persisted CLI settings. A missing file yields
// zero settings, not an error.
func LoadSettings() (Settings, error) {
	raw, err := os.ReadFile(SettingsPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("client: read settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return Settings{}, fmt.Errorf("client: parse settings: %w", err)
	}
	return settings, nil
}

// SaveSettings persists the CLI settings with owner-only permissions; the
// file holds the session token and API key.
func SaveSettings(settings Settings) error {
	settings.UpdatedAt = time.Now().UTC()

	raw, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("client: encode settings: %w", err)
	}

	path := SettingsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("client: create settings dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("client: write settings: %w", err)
	}
	return nil
}
