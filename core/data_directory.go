package core

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the application name used in data directory paths.
const AppName = "sdbridge"

// DataDirEnv overrides the data directory when set.
const DataDirEnv = "SDBRIDGE_DATA_DIR"

// GetDataDirectory returns where sdgen keeps its history database and
// default output folder. It does not create the directory.
//
//   - $SDBRIDGE_DATA_DIR when set
//   - Windows: %APPDATA%\sdbridge
//   - elsewhere: ~/.sdbridge
func GetDataDirectory() string {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return dir
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, AppName)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "." + AppName
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "AppData", "Roaming", AppName)
	}
	return filepath.Join(home, "."+AppName)
}

// GetDataFilePath returns the full path for a file within the data directory.
func GetDataFilePath(elem ...string) string {
	return filepath.Join(append([]string{GetDataDirectory()}, elem...)...)
}

// EnsureDataDirectory creates the data directory (0700) if needed.
func EnsureDataDirectory() (string, error) {
	dir := GetDataDirectory()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}
