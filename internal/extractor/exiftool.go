package extractor

import (
	"fmt"
	"sync"

	"github.com/barasher/go-exiftool"
	"github.com/sirupsen/logrus"
)

// PreservedTags are the descriptive tags copied back after a re-encode.
// Structural tags (dimensions, orientation, thumbnails) are left to the encoder.
var PreservedTags = []string{
	"Make",
	"Model",
	"LensModel",
	"DateTimeOriginal",
	"CreateDate",
	"OffsetTimeOriginal",
	"Artist",
	"Copyright",
	"ImageDescription",
	"UserComment",
	"GPSLatitude",
	"GPSLatitudeRef",
	"GPSLongitude",
	"GPSLongitudeRef",
	"GPSAltitude",
	"GPSAltitudeRef",
}

// ExiftoolCopier preserves metadata through a long-lived exiftool process.
type ExiftoolCopier struct {
	logger *logrus.Logger
	et     *exiftool.Exiftool
	mutex  sync.Mutex
}

// NewExiftoolCopier starts exiftool; it fails when the binary is not installed.
func NewExiftoolCopier(logger *logrus.Logger) (*ExiftoolCopier, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	return &ExiftoolCopier{logger: logger, et: et}, nil
}

// Snapshot captures PreservedTags from path.
func (c *ExiftoolCopier) Snapshot(path string) (Snapshot, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	files := c.et.ExtractMetadata(path)
	if len(files) == 0 {
		return nil, fmt.Errorf("exiftool returned no metadata for %s", path)
	}
	if files[0].Err != nil {
		return nil, fmt.Errorf("exiftool extract: %w", files[0].Err)
	}

	return filterTags(files[0].Fields), nil
}

// Restore writes snap into path. An empty snapshot is a no-op.
func (c *ExiftoolCopier) Restore(path string, snap Snapshot) error {
	if len(snap) == 0 {
		return nil
	}

	fm := exiftool.FileMetadata{
		File:   path,
		Fields: make(map[string]interface{}, len(snap)),
	}
	for k, v := range snap {
		fm.Fields[k] = v
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	fms := []exiftool.FileMetadata{fm}
	c.et.WriteMetadata(fms)
	if fms[0].Err != nil {
		return fmt.Errorf("exiftool write: %w", fms[0].Err)
	}

	c.logger.Debugf("Restored %d metadata tags on %s", len(snap), path)
	return nil
}

// Close stops the exiftool process.
func (c *ExiftoolCopier) Close() error {
	return c.et.Close()
}

func filterTags(fields map[string]interface{}) Snapshot {
	snap := make(Snapshot)
	for _, tag := range PreservedTags {
		val, ok := fields[tag]
		if !ok || val == nil {
			continue
		}
		s := fmt.Sprint(val)
		if s == "" {
			continue
		}
		snap[tag] = s
	}
	return snap
}
