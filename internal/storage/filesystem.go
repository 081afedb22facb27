/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// FS implements ObjectStore on the local filesystem under a root
// directory.
type FS struct {
	rootDir string
	logger  zerolog.Logger
}

var _ ObjectStore = (*FS)(nil)

// NewFS creates a filesystem-backed artifact store rooted at rootDir.
func NewFS(rootDir string, logger zerolog.Logger) *FS {
	return &FS{
		rootDir: rootDir,
		logger:  logger.With().Str("component", "storage").Logger(),
	}
}

// Put writes an artifact, creating parent directories as needed.
func (f *FS) Put(ctx context.Context, key string, data []byte) error {
	fullPath, err := f.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}

	f.logger.Debug().
		Str("path", fullPath).
		Int("bytes", len(data)).
		Msg("artifact stored")
	return nil
}

// Get reads a previously stored artifact.
func (f *FS) Get(ctx context.Context, key string) ([]byte, error) {
	fullPath, err := f.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// resolve joins the key with the root, rejecting keys that would
// escape it.
func (f *FS) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("artifact key is empty")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact key %q escapes storage root", key)
	}
	return filepath.Join(f.rootDir, clean), nil
}
