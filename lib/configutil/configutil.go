// Package configutil loads json5 configuration files with optional
// machine-local overrides layered on top.
package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// readLayer unmarshals one file into dst and reports whether the file
// carried any content. A missing or empty file is not an error.
func readLayer(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json5.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}
	return true, nil
}

// localPath derives the machine-local override path for a config file,
// so journals.json5 pairs with journals.local.json5.
func localPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// ReadConfig loads path and, when present, merges the .local sibling
// over it. Returns os.ErrNotExist when neither file exists.
func ReadConfig[T any](path string) (T, error) {
	var config T

	found, err := readLayer(path, &config)
	if err != nil {
		return config, err
	}

	override := localPath(path)
	var local T
	foundLocal, err := readLayer(override, &local)
	if err != nil {
		return config, err
	}
	if foundLocal {
		if err := mergo.Merge(&config, local, mergo.WithOverride); err != nil {
			return config, fmt.Errorf("merging %s: %w", override, err)
		}
		slog.Info("applied local config overrides", "path", override)
	}

	if !found && !foundLocal {
		return config, os.ErrNotExist
	}
	return config, nil
}

// ReadRecursively walks from the working directory toward the
// filesystem root and returns the first config matching name.
func ReadRecursively[T any](name string) (T, error) {
	var zero T

	dir, err := os.Getwd()
	if err != nil {
		return zero, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(dir, name))
		if err == nil {
			return config, nil
		}
		if !os.IsNotExist(err) {
			return zero, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return zero, os.ErrNotExist
		}
		dir = parent
	}
}
