package config

import (
	_ "embed"
	"errors"
	"io"
	"os"
	"path/filepath"
)

//go:embed default.yml
var defaultYAML []byte

// DefaultYAML is the commented starter config.
func DefaultYAML() []byte { return append([]byte(nil), defaultYAML...) }

// EnsureUserConfig returns dataDir/config.yml, creating it from defaultPath
// (or the built-in default when defaultPath is empty or missing).
func EnsureUserConfig(dataDir string, defaultPath string) (string, error) {
	userPath := filepath.Join(dataDir, "config.yml")

	_, err := os.Stat(userPath)
	if err == nil {
		return userPath, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", err
	}

	src, err := os.Open(defaultPath)
	if err != nil {
		if defaultPath != "" && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		return userPath, os.WriteFile(userPath, defaultYAML, 0o600)
	}
	defer src.Close()

	dst, err := os.OpenFile(userPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return userPath, nil
}
