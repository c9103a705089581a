package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
)

// Install registers fcpd as a system service.
type Install struct{}

func (i *Install) Run(logger *slog.Logger) error { return install(logger) }

// Uninstall removes the fcpd system service.
type Uninstall struct{}

func (u *Uninstall) Run(logger *slog.Logger) error { return uninstall(logger) }

func currentExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Abs(exe)
}
