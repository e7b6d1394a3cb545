// Package config provides configuration management for scp-explorer.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

const appDirName = "scp-explorer"

// ConfigDirectory returns the per-user configuration directory.
//
// Locations:
//   - Windows: %APPDATA%\scp-explorer
//   - Unix: ~/.config/scp-explorer
func ConfigDirectory() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", errors.New("neither APPDATA nor USERPROFILE environment variable set")
			}
			appData = filepath.Join(userProfile, "AppData", "Roaming")
		}
		return filepath.Join(appData, appDirName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appDirName), nil
}

// DefaultConfigPath returns the path of config.ini.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.ini"), nil
}

// DefaultProfilesPath returns the path of the saved connection store.
func DefaultProfilesPath() (string, error) {
	dir, err := ConfigDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "connections.yaml"), nil
}

// LogDirectory returns the log directory.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\scp-explorer\logs
//   - Unix: ~/.config/scp-explorer/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "scp-explorer-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, appDirName, "logs")
	}

	dir, err := ConfigDirectory()
	if err != nil {
		return filepath.Join(os.TempDir(), "scp-explorer-logs")
	}
	return filepath.Join(dir, "logs")
}
