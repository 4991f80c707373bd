package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"photo-squeeze/internal/backup"
	"photo-squeeze/internal/compressor"
	"photo-squeeze/internal/config"
	"photo-squeeze/internal/extractor"
	"photo-squeeze/internal/logger"
	"photo-squeeze/internal/processor"
	"photo-squeeze/internal/report"
	"photo-squeeze/internal/scanner"
	"photo-squeeze/internal/statistics"
	"photo-squeeze/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	cfgFile          string
	verbose          bool
	quiet            bool
	targetMB         float64
	noRecursive      bool
	minQuality       int
	qualityStep      int
	resizeStep       float64
	workers          int
	backupBackend    string
	preserveMetadata bool
	noAutoOrient     bool
	port             int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "photo-squeeze [directory]",
	Short: "Compress images in a directory to fit under a target size",
	Long: `photo-squeeze rewrites every image in a directory tree as a JPEG no
larger than a target size. Quality is lowered step by step first; when the
minimum quality is reached the image is scaled down and the search repeats.

Features:
- JPEG, PNG, WebP and BMP inputs, always written back as JPEG in place
- Recursive or single-level directory traversal
- Optional backup of originals (local file or S3)
- Optional preservation of camera metadata via exiftool
- Parallel workers, structured logging and run statistics`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args)
	},
}

// scanCmd lists candidate images without modifying them.
var scanCmd = &cobra.Command{
	Use:   "scan [directory]",
	Short: "List images that would be compressed without touching them",
	Long: `Scan the specified directory and list every image the compressor
would process, with its size and whether it is already under the target.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, args)
	},
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and WebSocket progress feed",
	Long: `Starts a web server exposing compression runs over a JSON API under
/api and streaming per-file progress on /ws.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	registerFlags(rootCmd.PersistentFlags())

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(serveCmd)
}

// registerFlags binds the shared options to flags, resetting them to their defaults.
func registerFlags(flags *pflag.FlagSet) {
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	flags.BoolVar(&verbose, "verbose", false, "enable verbose logging")
	flags.BoolVar(&quiet, "quiet", false, "suppress non-error output")

	flags.Float64Var(&targetMB, "target", 1.0, "target size in MB")
	flags.BoolVar(&noRecursive, "no-recursive", false, "only process the top-level directory")
	flags.IntVar(&minQuality, "min-quality", 30, "lowest JPEG quality to try")
	flags.IntVar(&qualityStep, "quality-step", 5, "quality decrement per attempt")
	flags.Float64Var(&resizeStep, "resize-step", 0.9, "scale factor applied when quality alone is not enough")
	flags.IntVar(&workers, "workers", 1, "number of files compressed in parallel")
	flags.StringVar(&backupBackend, "backup", "", "back up originals before overwriting (local, s3)")
	flags.BoolVar(&preserveMetadata, "preserve-metadata", false, "copy camera metadata to the output with exiftool")
	flags.BoolVar(&noAutoOrient, "no-auto-orient", false, "do not apply the EXIF orientation before encoding")
}

// runCompress executes a compression run and prints the report.
func runCompress(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags(), args)
	if err != nil {
		return err
	}

	log := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comp, cleanup, err := buildCompressor(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	stats := statistics.NewStatistics()
	proc := processor.NewProcessor(cfg, log, stats, comp)

	results, err := proc.Run(ctx, cfg.SourceDirectory)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("compression failed: %w", err)
	}

	if err := report.Write(os.Stdout, results, cfg.TargetBytes()); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if !quiet {
		writeSummary(os.Stderr, stats, verbose)
	}

	return nil
}

// writeSummary prints run statistics, adding the per-format breakdown when verbose.
func writeSummary(w io.Writer, stats *statistics.Statistics, verbose bool) {
	fmt.Fprintln(w, "\n"+stats.GetSummary())
	if verbose {
		fmt.Fprintln(w, "\n"+strings.TrimSuffix(stats.GetFileTypeBreakdown(), "\n"))
	}
	if stats.GetFilesWithErrors() > 0 {
		fmt.Fprintln(w, "\n"+stats.GetErrorSummary())
	}
}

// runScan lists the candidates and whether each already fits.
func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags(), args)
	if err != nil {
		return err
	}

	log := setupLogger(cfg)
	proc := processor.NewProcessor(cfg, log, statistics.NewStatistics(), nil)

	candidates, err := proc.Scan(cfg.SourceDirectory)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	fmt.Printf("target size: %s\n", report.FormatSize(cfg.TargetBytes()))
	over := 0
	for _, c := range candidates {
		status := "under target"
		if !c.UnderTarget {
			status = "over target"
			over++
		}
		fmt.Printf("%s: %s | %s\n", status, c.Path, report.FormatSize(c.Size))
	}

	if !quiet {
		fmt.Fprintf(os.Stderr, "\nFound %d images, %d over target\n", len(candidates), over)
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if err := applyFlags(cfg, cmd.Flags()); err != nil {
		return err
	}

	log := setupLogger(cfg)

	comp, cleanup, err := buildCompressor(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	server := web.NewServer(cfg, log, comp)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	fmt.Printf("photo-squeeze API listening on http://localhost:%d/api\n", port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed to start: %w", err)
	case <-sigChan:
	}
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// loadConfig loads configuration, applies CLI overrides and resolves the directory.
func loadConfig(flags *pflag.FlagSet, args []string) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := applyFlags(cfg, flags); err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.SourceDirectory = args[0]
	}

	dir, err := scanner.ResolveDirectory(cfg.SourceDirectory)
	if err != nil {
		return nil, err
	}
	cfg.SourceDirectory = dir

	return cfg, nil
}

// applyFlags copies explicitly set flags over the configuration and revalidates it.
func applyFlags(cfg *config.Config, flags *pflag.FlagSet) error {
	if flags.Changed("target") {
		cfg.Compression.TargetMB = targetMB
	}
	if flags.Changed("no-recursive") {
		cfg.Recursive = !noRecursive
	}
	if flags.Changed("min-quality") {
		cfg.Compression.MinQuality = minQuality
	}
	if flags.Changed("quality-step") {
		cfg.Compression.QualityStep = qualityStep
	}
	if flags.Changed("resize-step") {
		cfg.Compression.ResizeStep = resizeStep
	}
	if flags.Changed("workers") {
		cfg.Performance.WorkerThreads = workers
	}
	if flags.Changed("backup") {
		cfg.Backup.Enabled = backupBackend != ""
		cfg.Backup.Backend = backupBackend
	}
	if flags.Changed("preserve-metadata") {
		cfg.Metadata.Preserve = preserveMetadata
	}
	if flags.Changed("no-auto-orient") {
		cfg.Compression.AutoOrient = !noAutoOrient
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

// buildCompressor wires the optional orientation, metadata and backup steps.
func buildCompressor(ctx context.Context, cfg *config.Config, log *logrus.Logger) (compressor.Compressor, func(), error) {
	cleanup := func() {}

	var orientation extractor.OrientationReader
	if cfg.Compression.AutoOrient {
		orientation = extractor.NewEXIFExtractor(log)
	}

	var metadata extractor.MetadataCopier
	if cfg.Metadata.Preserve {
		copier, err := extractor.NewExiftoolCopier(log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start exiftool: %w", err)
		}
		metadata = copier
		cleanup = func() {
			if err := copier.Close(); err != nil {
				log.Warnf("Failed to stop exiftool: %v", err)
			}
		}
	}

	keeper, err := backup.New(ctx, cfg.Backup)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to set up %s backup: %w", cfg.Backup.Backend, err)
	}

	return compressor.NewDefaultCompressor(log, orientation, metadata, keeper), cleanup, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logger, using stderr: %v\n", err)
		log = logrus.New()
		log.SetOutput(os.Stderr)
		log.SetLevel(logrus.WarnLevel)
	}

	return log
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
