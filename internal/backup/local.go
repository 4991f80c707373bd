package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalBackup writes originals next to the source file, or mirrored under a directory.
type LocalBackup struct {
	dir    string
	suffix string
}

// NewLocalBackup returns a LocalBackup. With an empty dir the backup is
// written beside the original as <path><suffix>.
func NewLocalBackup(dir, suffix string) *LocalBackup {
	return &LocalBackup{dir: dir, suffix: suffix}
}

// Store writes data to the backup location unless a backup already exists there.
func (b *LocalBackup) Store(ctx context.Context, path string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst, err := b.location(path)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return dst, nil
		}
		return "", fmt.Errorf("create backup file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("write backup file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("sync backup file: %w", err)
	}
	return dst, f.Close()
}

func (b *LocalBackup) location(path string) (string, error) {
	if b.dir == "" {
		return path + b.suffix, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	// Mirror the absolute path so files with the same name in different
	// directories cannot collide.
	rel := strings.TrimPrefix(abs, filepath.VolumeName(abs))
	rel = strings.TrimLeft(rel, string(filepath.Separator))
	return filepath.Join(b.dir, rel+b.suffix), nil
}
