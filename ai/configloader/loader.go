// Package configloader loads optional YAML overrides (prompts, filters) from
// the configuration directory.
package configloader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader is a unified configuration loader for YAML files under baseDir.
type Loader struct {
	baseDir string
}

// NewLoader creates a new configuration loader.
func NewLoader(baseDir string) *Loader {
	return &Loader{baseDir: baseDir}
}

// Load loads a single YAML file and unmarshals it into target.
func (l *Loader) Load(subPath string, target any) error {
	data, err := l.readFile(subPath)
	if err != nil {
		return fmt.Errorf("read file %s: %w", subPath, err)
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("unmarshal YAML %s: %w", subPath, err)
	}
	return nil
}

// LoadOptional is Load for files that may be absent. It reports whether the
// file was found; a missing file is not an error.
func (l *Loader) LoadOptional(subPath string, target any) (bool, error) {
	err := l.Load(subPath, target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// readFile tries to read file from path relative to baseDir,
// then falls back to the executable directory for packaged builds.
func (l *Loader) readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.baseDir, path))
	if err == nil || filepath.IsAbs(l.baseDir) {
		return data, err
	}

	execPath, execErr := os.Executable()
	if execErr != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(filepath.Dir(execPath), l.baseDir, path))
}
