package backup

import (
	"context"
	"fmt"

	"photo-squeeze/internal/config"
)

// Backup stores a copy of an original file before it is overwritten.
// Implementations keep the first copy they see for a path: re-running the
// tool over already compressed files must not replace the real original.
type Backup interface {
	// Store saves data as the backup of path and returns where it went.
	Store(ctx context.Context, path string, data []byte) (string, error)
}

// New returns the backend selected by cfg, or nil when backups are disabled.
func New(ctx context.Context, cfg config.BackupConfig) (Backup, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Backend {
	case "local":
		return NewLocalBackup(cfg.Directory, cfg.Suffix), nil
	case "s3":
		b, err := NewS3Backup(ctx, cfg.Bucket, cfg.Prefix)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown backup backend: %s", cfg.Backend)
	}
}
