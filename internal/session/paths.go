// Package session lays out the daemon's data directory and validates the
// bridge session id.
package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.crmchat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".crmchat")
}

// ConfigPath returns the config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnvPath returns the optional .env file read before CRMCHAT_* variables.
func EnvPath() string {
	return filepath.Join(BaseDir(), ".env")
}

// Layout is the set of files under one data directory.
type Layout struct {
	Dir string
}

// NewLayout returns the layout rooted at dir, or at BaseDir when dir is empty.
func NewLayout(dir string) Layout {
	if dir == "" {
		dir = BaseDir()
	}
	return Layout{Dir: dir}
}

// DBPath returns the message store path.
func (l Layout) DBPath() string {
	return filepath.Join(l.Dir, "crmchat.db")
}

// LockPath returns the lock file guarding the store.
func (l Layout) LockPath() string {
	return filepath.Join(l.Dir, "LOCK")
}

// SocketPath returns the daemon's health socket.
func (l Layout) SocketPath() string {
	return filepath.Join(l.Dir, "crmchatd.sock")
}

// LogDir returns the log directory.
func (l Layout) LogDir() string {
	return filepath.Join(l.Dir, "logs")
}

// LogPath returns the daemon log file path.
func (l Layout) LogPath() string {
	return filepath.Join(l.LogDir(), "crmchatd.log")
}

// ConsoleLogPath returns the terminal console's log file path.
func (l Layout) ConsoleLogPath() string {
	return filepath.Join(l.LogDir(), "crmchat.log")
}

// Ensure creates the directory tree with owner-only permissions.
func (l Layout) Ensure() error {
	for _, d := range []string{l.Dir, l.LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
