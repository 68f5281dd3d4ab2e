package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	unnamedFile = "UnnamedFile"

	// maxNameAttempts bounds the numeric suffix search in Create.
	maxNameAttempts = 10000
)

// LocalStorage implements Directory on top of a local filesystem directory
type LocalStorage struct {
	basePath string
}

var _ Directory = (*LocalStorage)(nil)

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	// Ensure the base directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Error().Err(err).Str("path", basePath).Msg("failed to create storage directory")
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	log.Info().Str("path", basePath).Msg("local storage initialized")
	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// BasePath returns the directory files are written to
func (ls *LocalStorage) BasePath() string {
	return ls.basePath
}

// Create opens a new file named after name. On collision a numeric suffix is
// appended to the stem: report.pdf, report_1.pdf, report_2.pdf and so on.
func (ls *LocalStorage) Create(ctx context.Context, name string) (*os.File, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	default:
	}

	stem, ext := splitName(name)
	for count := 0; count < maxNameAttempts; count++ {
		candidate := stem + ext
		if count > 0 {
			candidate = stem + "_" + strconv.Itoa(count) + ext
		}

		fullPath := filepath.Join(ls.basePath, candidate)
		file, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("path", fullPath).Msg("failed to create file")
			return nil, "", fmt.Errorf("failed to create file: %w", err)
		}

		log.Debug().Str("name", name).Str("path", fullPath).Msg("file created")
		return file, fullPath, nil
	}

	return nil, "", fmt.Errorf("failed to create file: no free name for %q", name)
}

// Delete removes a file from the directory
func (ls *LocalStorage) Delete(ctx context.Context, path string) error {
	startTime := time.Now()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("file already deleted or does not exist")
			return nil
		}
		log.Error().Err(err).Str("path", path).Msg("failed to delete file")
		return fmt.Errorf("failed to delete file: %w", err)
	}

	log.Info().
		Str("path", path).
		Dur("duration", time.Since(startTime)).
		Msg("file deleted successfully")

	return nil
}

// Usage counts the regular files directly inside the directory
func (ls *LocalStorage) Usage(ctx context.Context) (Usage, error) {
	select {
	case <-ctx.Done():
		return Usage{}, ctx.Err()
	default:
	}

	entries, err := os.ReadDir(ls.basePath)
	if err != nil {
		log.Error().Err(err).Str("path", ls.basePath).Msg("failed to read storage directory")
		return Usage{}, fmt.Errorf("failed to read storage directory: %w", err)
	}

	var usage Usage
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}
		usage.Files++
		usage.TotalBytes += info.Size()
	}

	return usage, nil
}

// splitName reduces name to its last path element and splits it into stem and
// extension. Dot files keep their whole name as the stem.
func splitName(name string) (string, string) {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if base == "/" || base == "." || base == "" {
		return unnamedFile, ""
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		return base, ""
	}
	return stem, ext
}
