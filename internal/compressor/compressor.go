package compressor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// MaxQuality is the quality every search starts from and returns to after a resize.
	MaxQuality = 95
	// OutputFormat is the single format every image is re-encoded to.
	OutputFormat = "JPEG"
)

// Notes attached to results. Only the first applicable note is kept, with
// the format conversion note lowest in priority.
const (
	NoteCannotCompress = "cannot compress further: minimum size and quality reached"
	NoteBestEffort     = "best effort, still over target size"
	noteFinalSizeFmt   = "%s (final size %d bytes)"
	noteConvertedFmt   = "original format %s converted to " + OutputFormat
	noteFailedFmt      = "compression failed: %v"
	NoteCancelled      = "skipped: run cancelled"
)

// Request defines the parameters for compressing one image.
type Request struct {
	Path        string
	TargetSize  int64
	MinQuality  int
	QualityStep int
	ResizeStep  float64
}

// Validate reports parameters the search loop cannot terminate with.
func (r Request) Validate() error {
	if r.Path == "" {
		return errors.New("path is required")
	}
	if r.TargetSize < 1 {
		return fmt.Errorf("target size must be positive: %d", r.TargetSize)
	}
	if r.MinQuality < 1 || r.MinQuality > 100 {
		return fmt.Errorf("min quality must be between 1 and 100: %d", r.MinQuality)
	}
	if r.QualityStep < 1 {
		return fmt.Errorf("quality step must be at least 1: %d", r.QualityStep)
	}
	if !(r.ResizeStep > 0 && r.ResizeStep < 1) {
		return fmt.Errorf("resize step must be between 0 and 1 (exclusive): %v", r.ResizeStep)
	}
	return nil
}

// Attempt records one encode of the search loop.
type Attempt struct {
	Quality int   `json:"quality"`
	Width   int   `json:"width"`
	Height  int   `json:"height"`
	Size    int64 `json:"size"`
}

// Result describes the outcome of compressing a single file.
type Result struct {
	Path         string `json:"path"`
	OriginalSize int64  `json:"original_size"`
	FinalSize    int64  `json:"final_size"`
	Succeeded    bool   `json:"succeeded"`
	Note         string `json:"note,omitempty"`

	SourceFormat   string    `json:"source_format,omitempty"`
	Quality        int       `json:"quality,omitempty"`
	OriginalWidth  int       `json:"original_width,omitempty"`
	OriginalHeight int       `json:"original_height,omitempty"`
	Width          int       `json:"width,omitempty"`
	Height         int       `json:"height,omitempty"`
	Attempts       []Attempt `json:"attempts,omitempty"`
	BackupLocation string    `json:"backup_location,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Error          error     `json:"-"`
}

// Resized reports whether the final encoding is smaller than the decoded original.
func (r Result) Resized() bool {
	return r.Width != r.OriginalWidth || r.Height != r.OriginalHeight
}

// Converted reports whether the source was re-encoded from another format.
func (r Result) Converted() bool {
	return r.SourceFormat != "" && r.SourceFormat != OutputFormat
}

// CancelledResult is the record for a file a cancelled run never started.
func CancelledResult(path string, originalSize int64) Result {
	now := time.Now()
	return Result{
		Path:         path,
		OriginalSize: originalSize,
		FinalSize:    originalSize,
		Note:         NoteCancelled,
		StartedAt:    now,
		FinishedAt:   now,
		Error:        context.Canceled,
	}
}

// Compressor compresses one image in place to fit under a target size.
type Compressor interface {
	// Compress never fails outright: problems are reported on the result.
	Compress(ctx context.Context, req Request) Result
}
