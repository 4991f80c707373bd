package statistics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"photo-squeeze/internal/compressor"
	"photo-squeeze/internal/report"
)

// Statistics contains all statistics for a compression run.
type Statistics struct {
	TotalFilesFound     int64
	TotalFilesProcessed int64
	FilesSucceeded      int64
	FilesNotMet         int64
	FilesWithErrors     int64
	FilesResized        int64
	FilesConverted      int64
	FilesSkipped        int64
	FilesUnchanged      int64

	BytesBefore   int64
	BytesAfter    int64
	EncodeAttempt int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64
	SavedRatio     float64

	Errors []StatError

	mutex sync.RWMutex

	FileTypeStats map[string]int64
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string    `json:"file_path"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy of the counters, safe to serialize.
type Snapshot struct {
	TotalFilesFound     int64            `json:"total_files_found"`
	TotalFilesProcessed int64            `json:"total_files_processed"`
	FilesSucceeded      int64            `json:"files_succeeded"`
	FilesNotMet         int64            `json:"files_not_met"`
	FilesWithErrors     int64            `json:"files_with_errors"`
	FilesResized        int64            `json:"files_resized"`
	FilesConverted      int64            `json:"files_converted"`
	FilesSkipped        int64            `json:"files_skipped"`
	FilesUnchanged      int64            `json:"files_unchanged"`
	BytesBefore         int64            `json:"bytes_before"`
	BytesAfter          int64            `json:"bytes_after"`
	EncodeAttempts      int64            `json:"encode_attempts"`
	Duration            string           `json:"duration"`
	FilesPerSecond      float64          `json:"files_per_second"`
	SavedRatio          float64          `json:"saved_ratio"`
	FileTypes           map[string]int64 `json:"file_types"`
	Errors              []StatError      `json:"errors"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:     time.Now(),
		FileTypeStats: make(map[string]int64),
		Errors:        make([]StatError, 0),
	}
}

// IncrementFilesFound increases the count of found files by 1.
func (s *Statistics) IncrementFilesFound() {
	atomic.AddInt64(&s.TotalFilesFound, 1)
}

// IncrementFileType increases the count for a specific file type by 1.
func (s *Statistics) IncrementFileType(fileType string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FileTypeStats[fileType]++
}

// RecordResult folds one compression result into the counters.
func (s *Statistics) RecordResult(res compressor.Result) {
	if res.Note == compressor.NoteCancelled {
		atomic.AddInt64(&s.FilesSkipped, 1)
		return
	}

	atomic.AddInt64(&s.TotalFilesProcessed, 1)
	atomic.AddInt64(&s.BytesBefore, res.OriginalSize)
	atomic.AddInt64(&s.BytesAfter, res.FinalSize)
	atomic.AddInt64(&s.EncodeAttempt, int64(len(res.Attempts)))

	switch {
	case res.Error != nil:
		atomic.AddInt64(&s.FilesWithErrors, 1)
		s.AddError(res.Path, "compress", res.Error.Error())
	case res.Succeeded:
		atomic.AddInt64(&s.FilesSucceeded, 1)
	default:
		atomic.AddInt64(&s.FilesNotMet, 1)
	}

	if res.Error != nil {
		return
	}
	if res.Resized() {
		atomic.AddInt64(&s.FilesResized, 1)
	}
	if res.Converted() {
		atomic.AddInt64(&s.FilesConverted, 1)
	}
	if len(res.Attempts) == 1 && res.Succeeded && !res.Converted() {
		atomic.AddInt64(&s.FilesUnchanged, 1)
	}
	if res.SourceFormat != "" {
		s.IncrementFileType(res.SourceFormat)
	}
}

// Finalize calculates duration, throughput and the overall saving ratio.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	totalProcessed := atomic.LoadInt64(&s.TotalFilesProcessed)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(totalProcessed) / s.Duration.Seconds()
	}

	before := atomic.LoadInt64(&s.BytesBefore)
	if before > 0 {
		s.SavedRatio = 1 - float64(atomic.LoadInt64(&s.BytesAfter))/float64(before)
	}
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Snapshot copies the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	types := make(map[string]int64, len(s.FileTypeStats))
	for k, v := range s.FileTypeStats {
		types[k] = v
	}
	errs := make([]StatError, len(s.Errors))
	copy(errs, s.Errors)

	return Snapshot{
		TotalFilesFound:     atomic.LoadInt64(&s.TotalFilesFound),
		TotalFilesProcessed: atomic.LoadInt64(&s.TotalFilesProcessed),
		FilesSucceeded:      atomic.LoadInt64(&s.FilesSucceeded),
		FilesNotMet:         atomic.LoadInt64(&s.FilesNotMet),
		FilesWithErrors:     atomic.LoadInt64(&s.FilesWithErrors),
		FilesResized:        atomic.LoadInt64(&s.FilesResized),
		FilesConverted:      atomic.LoadInt64(&s.FilesConverted),
		FilesSkipped:        atomic.LoadInt64(&s.FilesSkipped),
		FilesUnchanged:      atomic.LoadInt64(&s.FilesUnchanged),
		BytesBefore:         atomic.LoadInt64(&s.BytesBefore),
		BytesAfter:          atomic.LoadInt64(&s.BytesAfter),
		EncodeAttempts:      atomic.LoadInt64(&s.EncodeAttempt),
		Duration:            s.Duration.String(),
		FilesPerSecond:      s.FilesPerSecond,
		SavedRatio:          s.SavedRatio,
		FileTypes:           types,
		Errors:              errs,
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return fmt.Sprintf(`Photo Squeeze Statistics Summary:

Files:
		Total Found: %d
		Total Processed: %d
		Target Met: %d
		Target Not Met: %d
		Errors: %d
		Skipped: %d
		Already Under Target: %d
		Resized: %d
		Converted To JPEG: %d

Size:
		Before: %s
		After: %s
		Saved: %.1f%%

Performance:
		Duration: %v
		Files/Second: %.2f
		Encode Attempts: %d`,
		atomic.LoadInt64(&s.TotalFilesFound),
		atomic.LoadInt64(&s.TotalFilesProcessed),
		atomic.LoadInt64(&s.FilesSucceeded),
		atomic.LoadInt64(&s.FilesNotMet),
		atomic.LoadInt64(&s.FilesWithErrors),
		atomic.LoadInt64(&s.FilesSkipped),
		atomic.LoadInt64(&s.FilesUnchanged),
		atomic.LoadInt64(&s.FilesResized),
		atomic.LoadInt64(&s.FilesConverted),
		report.FormatSize(atomic.LoadInt64(&s.BytesBefore)),
		report.FormatSize(atomic.LoadInt64(&s.BytesAfter)),
		s.SavedRatio*100,
		s.Duration,
		s.FilesPerSecond,
		atomic.LoadInt64(&s.EncodeAttempt))
}

// GetFileTypeBreakdown returns a formatted breakdown of source formats.
func (s *Statistics) GetFileTypeBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FileTypeStats) == 0 {
		return "No file type statistics available"
	}

	fileTypes := make([]string, 0, len(s.FileTypeStats))
	for fileType := range s.FileTypeStats {
		fileTypes = append(fileTypes, fileType)
	}
	sort.Strings(fileTypes)

	result := "File Type Breakdown:\n"
	for _, fileType := range fileTypes {
		result += fmt.Sprintf("  %s: %d\n", fileType, s.FileTypeStats[fileType])
	}
	return result
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// GetTotalFilesProcessed returns the total number of files processed.
func (s *Statistics) GetTotalFilesProcessed() int64 {
	return atomic.LoadInt64(&s.TotalFilesProcessed)
}

// GetFilesWithErrors returns the total number of files with errors.
func (s *Statistics) GetFilesWithErrors() int64 {
	return atomic.LoadInt64(&s.FilesWithErrors)
}

// GetDuration returns the total duration of the operation.
func (s *Statistics) GetDuration() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Duration
}
