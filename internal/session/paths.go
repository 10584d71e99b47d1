package session

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory when set.
const HomeEnv = "LIVECHAT_HOME"

// BaseDir returns $LIVECHAT_HOME or ~/.livechat.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".livechat")
}

// Dir returns the profile-specific directory.
func Dir(profile string) string {
	return filepath.Join(BaseDir(), "profiles", profile)
}

// SocketPath returns the chatd health socket for a profile.
func SocketPath(profile string) string {
	return filepath.Join(Dir(profile), "chatd.sock")
}

// DBPath returns the profile's SQLite database.
func DBPath(profile string) string {
	return filepath.Join(Dir(profile), "livechat.db")
}

// LogDir returns the log directory for a profile.
func LogDir(profile string) string {
	return filepath.Join(Dir(profile), "logs")
}

// LogPath returns the log file for the named binary.
func LogPath(profile, binary string) string {
	return filepath.Join(LogDir(profile), binary+".log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree.
func EnsureDir(profile string) error {
	for _, d := range []string{Dir(profile), LogDir(profile)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
