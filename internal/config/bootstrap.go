package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// EnsureUserConfig makes sure the data dir holds a config.yml, seeding it
// from the shipped default on first run. Returns the path of the user copy.
func EnsureUserConfig(dataDir, defaultPath string) (string, error) {
	dst := filepath.Join(dataDir, "config.yml")

	switch _, err := os.Stat(dst); {
	case err == nil:
		return dst, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", err
	}

	if err := copyFile(defaultPath, dst); err != nil {
		return "", fmt.Errorf("seed config from %s: %w", defaultPath, err)
	}
	return dst, nil
}

func copyFile(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(to)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
