package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"photo-squeeze/internal/compressor"
	"photo-squeeze/internal/config"
	"photo-squeeze/internal/report"
	"photo-squeeze/internal/scanner"
	"photo-squeeze/internal/statistics"

	"github.com/sirupsen/logrus"
)

// LogHookFunc receives human-readable progress lines, e.g. for a WebSocket feed.
type LogHookFunc func(level, message string)

// ResultHookFunc is called once per finished file with its traversal index.
type ResultHookFunc func(index, total int, res compressor.Result)

// Processor drives the compressor over every image below a directory.
type Processor struct {
	config     *config.Config
	logger     *logrus.Logger
	stats      *statistics.Statistics
	scanner    *scanner.Scanner
	compressor compressor.Compressor
	workers    int

	logHook    LogHookFunc
	resultHook ResultHookFunc
}

// Candidate is an image the scanner found, as reported by Scan.
type Candidate struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	Extension   string `json:"extension"`
	UnderTarget bool   `json:"under_target"`
}

type job struct {
	index int
	file  scanner.FileInfo
}

// NewProcessor returns a new Processor.
func NewProcessor(
	cfg *config.Config,
	logger *logrus.Logger,
	stats *statistics.Statistics,
	comp compressor.Compressor,
) *Processor {
	return NewProcessorWithLogHook(cfg, logger, stats, comp, nil)
}

// NewProcessorWithLogHook forwards progress lines to logHook as well as the logger.
func NewProcessorWithLogHook(
	cfg *config.Config,
	logger *logrus.Logger,
	stats *statistics.Statistics,
	comp compressor.Compressor,
	logHook LogHookFunc,
) *Processor {
	workers := cfg.Performance.WorkerThreads
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		config:     cfg,
		logger:     logger,
		stats:      stats,
		scanner:    scanner.NewScanner(cfg, logger),
		compressor: comp,
		workers:    workers,
		logHook:    logHook,
	}
}

// OnResult registers a callback invoked as each file finishes.
func (p *Processor) OnResult(hook ResultHookFunc) {
	p.resultHook = hook
}

// Request builds the compression request for path from the configuration.
func (p *Processor) Request(path string) compressor.Request {
	return compressor.Request{
		Path:        path,
		TargetSize:  p.config.TargetBytes(),
		MinQuality:  p.config.Compression.MinQuality,
		QualityStep: p.config.Compression.QualityStep,
		ResizeStep:  p.config.Compression.ResizeStep,
	}
}

// Run compresses every image below root and returns one result per file
// in traversal order. Once ctx is cancelled no new file is started; files
// that never started get a cancelled result and Run returns ctx.Err()
// alongside the complete result list.
func (p *Processor) Run(ctx context.Context, root string) ([]compressor.Result, error) {
	p.logger.Info("Starting compression run")
	p.stats.StartTime = time.Now()

	files, err := p.discoverFiles(root)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	if len(files) == 0 {
		p.logger.Info("No images found to compress")
		p.stats.Finalize()
		return []compressor.Result{}, nil
	}

	p.logger.Infof("Found %d images to process with %d workers", len(files), p.workers)

	results := p.processFiles(ctx, files)

	p.stats.Finalize()
	p.logger.WithFields(logrus.Fields{
		"files":    len(results),
		"duration": p.stats.GetDuration().String(),
	}).Info("Compression run completed")

	return results, ctx.Err()
}

// Scan lists the images Run would process without touching them.
func (p *Processor) Scan(root string) ([]Candidate, error) {
	files, err := p.scanner.FindImages(root, p.config.Recursive)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	target := p.config.TargetBytes()
	candidates := make([]Candidate, 0, len(files))
	for _, f := range files {
		candidates = append(candidates, Candidate{
			Path:        f.Path,
			Size:        f.Size,
			Extension:   f.Extension,
			UnderTarget: f.Size <= target,
		})
	}
	return candidates, nil
}

// discoverFiles finds all images below root.
func (p *Processor) discoverFiles(root string) ([]scanner.FileInfo, error) {
	files, err := p.scanner.FindImages(root, p.config.Recursive)
	if err != nil {
		return nil, err
	}
	for range files {
		p.stats.IncrementFilesFound()
	}
	return files, nil
}

// processFiles fans files out to the worker pool and collects results by index.
func (p *Processor) processFiles(ctx context.Context, files []scanner.FileInfo) []compressor.Result {
	results := make([]compressor.Result, len(files))
	jobs := make(chan job, len(files))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, jobs, results, len(files))
		}()
	}

	for i, file := range files {
		jobs <- job{index: i, file: file}
	}
	close(jobs)

	wg.Wait()
	return results
}

// worker processes jobs from the channel. Each index is written by exactly one worker.
func (p *Processor) worker(ctx context.Context, jobs <-chan job, results []compressor.Result, total int) {
	for j := range jobs {
		var res compressor.Result
		if ctx.Err() != nil {
			res = compressor.CancelledResult(j.file.Path, j.file.Size)
		} else {
			p.logger.Debugf("Processing file: %s", j.file.Path)
			res = p.compressor.Compress(ctx, p.Request(j.file.Path))
		}

		results[j.index] = res
		p.stats.RecordResult(res)
		p.emit(res)
		if p.resultHook != nil {
			p.resultHook(j.index, total, res)
		}
	}
}

// emit forwards a one-line description of res to the log hook.
func (p *Processor) emit(res compressor.Result) {
	if p.logHook == nil {
		return
	}
	level := "info"
	switch {
	case res.Note == compressor.NoteCancelled:
		level = "warning"
	case res.Error != nil:
		level = "error"
	case !res.Succeeded:
		level = "warning"
	}
	p.logHook(level, report.Line(res))
}
