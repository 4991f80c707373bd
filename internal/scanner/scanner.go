package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"photo-squeeze/internal/config"

	"github.com/sirupsen/logrus"
)

// FileInfo describes a candidate image found by the scanner.
type FileInfo struct {
	Path      string
	Size      int64
	Extension string
}

// Scanner enumerates image files below a root directory.
type Scanner struct {
	config *config.Config
	logger *logrus.Logger
}

// NewScanner returns a Scanner matching cfg's supported extensions. cfg must
// have been validated so its extensions are normalized.
func NewScanner(cfg *config.Config, logger *logrus.Logger) *Scanner {
	return &Scanner{config: cfg, logger: logger}
}

// FindImages returns image files under root in lexical traversal order:
// entries of each directory are visited sorted by name, so files with
// different extensions are interleaved rather than grouped. Extensions match
// case-insensitively. Without recursive only the direct children of root
// are considered.
func (s *Scanner) FindImages(root string, recursive bool) ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			s.logger.Warnf("Error accessing path %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(d.Name()))
		if !s.config.IsImageExtension(ext) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.logger.Warnf("Could not stat %s: %v", path, err)
			return nil
		}

		files = append(files, FileInfo{
			Path:      path,
			Size:      info.Size(),
			Extension: ext,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	return files, nil
}

// ResolveDirectory expands ~ and environment variables, makes path absolute
// and checks that it names an existing directory.
func ResolveDirectory(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("directory is required")
	}

	expanded := os.ExpandEnv(path)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		expanded = filepath.Join(home, expanded[1:])
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("directory does not exist: %s", abs)
		}
		return "", fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", abs)
	}

	return abs, nil
}
