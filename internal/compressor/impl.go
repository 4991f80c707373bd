package compressor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	// Decoders for the inputs imaging does not register itself
	_ "golang.org/x/image/webp"

	"photo-squeeze/internal/backup"
	"photo-squeeze/internal/extractor"
	"photo-squeeze/internal/logger"

	"github.com/sirupsen/logrus"
)

// DefaultCompressor runs the quality/resize search and rewrites files in place.
type DefaultCompressor struct {
	logger      *logrus.Logger
	locks       *pathLocks
	orientation extractor.OrientationReader
	metadata    extractor.MetadataCopier
	backup      backup.Backup
}

// NewDefaultCompressor creates a new DefaultCompressor instance. Any of
// orientation, metadata and keeper may be nil to switch that step off.
func NewDefaultCompressor(
	log *logrus.Logger,
	orientation extractor.OrientationReader,
	metadata extractor.MetadataCopier,
	keeper backup.Backup,
) *DefaultCompressor {
	return &DefaultCompressor{
		logger:      log,
		locks:       newPathLocks(),
		orientation: orientation,
		metadata:    metadata,
		backup:      keeper,
	}
}

// Compress searches for an encoding of req.Path that fits req.TargetSize
// and overwrites the file with it.
func (c *DefaultCompressor) Compress(ctx context.Context, req Request) Result {
	res := Result{
		Path:      req.Path,
		StartedAt: time.Now(),
	}
	log := logger.WithFileOperation(c.logger, req.Path, "compress")

	unlock := c.locks.lock(req.Path)
	defer unlock()

	info, err := os.Stat(req.Path)
	if err != nil {
		return c.fail(log, res, fmt.Errorf("stat: %w", err))
	}
	res.OriginalSize = info.Size()

	if err := req.Validate(); err != nil {
		return c.fail(log, res, fmt.Errorf("invalid request: %w", err))
	}

	data, err := os.ReadFile(req.Path)
	if err != nil {
		return c.fail(log, res, fmt.Errorf("read: %w", err))
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return c.fail(log, res, fmt.Errorf("decode: %w", err))
	}
	res.SourceFormat = strings.ToUpper(format)

	if c.orientation != nil {
		o, err := c.orientation.ReadOrientation(data)
		if err != nil {
			log.Warnf("Ignoring unreadable orientation: %v", err)
		} else if o.NeedsTransform() {
			log.Debugf("Applying EXIF orientation: %s", o)
			src = o.Apply(src)
		}
	}

	w := newWorkingImage(src)
	res.OriginalWidth, res.OriginalHeight = w.width, w.height

	out, note, err := c.search(log, w, req, &res)
	if err != nil {
		return c.fail(log, res, err)
	}
	res.Quality, res.Width, res.Height = w.quality, w.width, w.height

	var snap extractor.Snapshot
	if c.metadata != nil {
		snap, err = c.metadata.Snapshot(req.Path)
		if err != nil {
			log.Warnf("Metadata will not be preserved: %v", err)
		}
	}

	if c.backup != nil {
		loc, err := c.backup.Store(ctx, req.Path, data)
		if err != nil {
			return c.fail(log, res, fmt.Errorf("backup: %w", err))
		}
		res.BackupLocation = loc
		log.Debugf("Original backed up to %s", loc)
	}

	if err := os.WriteFile(req.Path, out, info.Mode().Perm()); err != nil {
		return c.fail(log, res, fmt.Errorf("write: %w", err))
	}

	if len(snap) > 0 {
		if err := c.metadata.Restore(req.Path, snap); err != nil {
			log.Warnf("Metadata restore failed: %v", err)
		}
	}

	res.FinalSize = int64(len(out))
	if finalInfo, err := os.Stat(req.Path); err == nil {
		res.FinalSize = finalInfo.Size()
	} else {
		log.Warnf("Could not re-read final size, using encoded length: %v", err)
	}
	res.Succeeded = res.FinalSize <= req.TargetSize
	res.Note = finalNote(note, res.Succeeded, res.FinalSize, res.SourceFormat)
	res.FinishedAt = time.Now()

	log.WithFields(logrus.Fields{
		"original_size": res.OriginalSize,
		"final_size":    res.FinalSize,
		"quality":       res.Quality,
		"width":         res.Width,
		"height":        res.Height,
		"attempts":      len(res.Attempts),
		"succeeded":     res.Succeeded,
	}).Info("Image compressed")

	return res
}

// search encodes w until a buffer fits the target or neither quality nor
// dimensions can go lower. The returned buffer is the last one encoded.
func (c *DefaultCompressor) search(log *logrus.Entry, w *workingImage, req Request, res *Result) ([]byte, string, error) {
	for {
		buf, err := w.encode()
		if err != nil {
			return nil, "", fmt.Errorf("encode at quality %d (%dx%d): %w", w.quality, w.width, w.height, err)
		}
		size := int64(len(buf))
		res.Attempts = append(res.Attempts, Attempt{
			Quality: w.quality,
			Width:   w.width,
			Height:  w.height,
			Size:    size,
		})
		log.Debugf("Encoded %dx%d at quality %d: %d bytes", w.width, w.height, w.quality, size)

		if size <= req.TargetSize {
			return buf, "", nil
		}

		if w.quality > req.MinQuality {
			w.quality = max(req.MinQuality, w.quality-req.QualityStep)
			continue
		}

		width, height := w.shrunk(req.ResizeStep)
		if width == w.width && height == w.height {
			return buf, NoteCannotCompress, nil
		}

		w.resize(width, height)
		// Restore headroom for another round of quality reduction at the smaller size
		w.quality = min(MaxQuality, max(req.MinQuality, w.quality))
	}
}

// fail builds the result for the unrecoverable tier: nothing was written.
func (c *DefaultCompressor) fail(log *logrus.Entry, res Result, err error) Result {
	res.FinalSize = res.OriginalSize
	res.Succeeded = false
	res.Note = fmt.Sprintf(noteFailedFmt, err)
	res.Error = err
	res.FinishedAt = time.Now()
	log.Errorf("Compression error: %v", err)
	return res
}

// finalNote applies the note precedence: the first note set wins and the
// format conversion note only fills an empty slot.
func finalNote(note string, succeeded bool, finalSize int64, sourceFormat string) string {
	if !succeeded && note == "" {
		note = NoteBestEffort
	}
	if succeeded && note != "" {
		note = fmt.Sprintf(noteFinalSizeFmt, note, finalSize)
	}
	if note == "" && sourceFormat != OutputFormat {
		note = fmt.Sprintf(noteConvertedFmt, sourceFormat)
	}
	return note
}
