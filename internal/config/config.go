package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	SourceDirectory     string            `mapstructure:"source_directory"`
	Recursive           bool              `mapstructure:"recursive"`
	SupportedExtensions []string          `mapstructure:"supported_extensions"`
	Compression         CompressionConfig `mapstructure:"compression"`
	Performance         PerformanceConfig `mapstructure:"performance"`
	Backup              BackupConfig      `mapstructure:"backup"`
	Metadata            MetadataConfig    `mapstructure:"metadata"`
	Logging             LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig contains the quality/resize search settings
type CompressionConfig struct {
	TargetMB    float64 `mapstructure:"target_mb"`
	MinQuality  int     `mapstructure:"min_quality"`
	QualityStep int     `mapstructure:"quality_step"`
	ResizeStep  float64 `mapstructure:"resize_step"`
	AutoOrient  bool    `mapstructure:"auto_orient"`
}

// PerformanceConfig contains performance tuning settings
type PerformanceConfig struct {
	WorkerThreads int `mapstructure:"worker_threads"`
}

// BackupConfig controls copies of originals taken before they are overwritten
type BackupConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"` // local, s3
	Directory string `mapstructure:"directory"`
	Suffix    string `mapstructure:"suffix"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// MetadataConfig contains EXIF handling settings
type MetadataConfig struct {
	Preserve bool `mapstructure:"preserve"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultExtensions lists the image extensions picked up by the scanner.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp"}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Recursive:           true,
		SupportedExtensions: append([]string(nil), DefaultExtensions...),
		Compression: CompressionConfig{
			TargetMB:    1.0,
			MinQuality:  30,
			QualityStep: 5,
			ResizeStep:  0.9,
			AutoOrient:  true,
		},
		Performance: PerformanceConfig{
			WorkerThreads: 1,
		},
		Backup: BackupConfig{
			Enabled: false,
			Backend: "local",
			Suffix:  ".orig",
		},
		Metadata: MetadataConfig{
			Preserve: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "photo-squeeze.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.photo-squeeze")
		v.AddConfigPath("/etc/photo-squeeze")
	}

	// Environment variables only resolve keys viper already knows about
	setDefaults(v, config)
	v.SetEnvPrefix("PHOTO_SQUEEZE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	// mapstructure decodes lists into the existing slice element by element,
	// so a shorter user list would keep the tail of the defaults.
	config.SupportedExtensions = nil
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("source_directory", c.SourceDirectory)
	v.SetDefault("recursive", c.Recursive)
	v.SetDefault("supported_extensions", c.SupportedExtensions)
	v.SetDefault("compression.target_mb", c.Compression.TargetMB)
	v.SetDefault("compression.min_quality", c.Compression.MinQuality)
	v.SetDefault("compression.quality_step", c.Compression.QualityStep)
	v.SetDefault("compression.resize_step", c.Compression.ResizeStep)
	v.SetDefault("compression.auto_orient", c.Compression.AutoOrient)
	v.SetDefault("performance.worker_threads", c.Performance.WorkerThreads)
	v.SetDefault("backup.enabled", c.Backup.Enabled)
	v.SetDefault("backup.backend", c.Backup.Backend)
	v.SetDefault("backup.directory", c.Backup.Directory)
	v.SetDefault("backup.suffix", c.Backup.Suffix)
	v.SetDefault("backup.bucket", c.Backup.Bucket)
	v.SetDefault("backup.prefix", c.Backup.Prefix)
	v.SetDefault("metadata.preserve", c.Metadata.Preserve)
	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Compression.TargetMB <= 0 {
		return fmt.Errorf("compression.target_mb must be positive: %v", c.Compression.TargetMB)
	}
	if c.TargetBytes() < 1 {
		return fmt.Errorf("compression.target_mb is below one byte: %v", c.Compression.TargetMB)
	}
	if c.Compression.MinQuality < 1 || c.Compression.MinQuality > 100 {
		return fmt.Errorf("compression.min_quality must be between 1 and 100: %d", c.Compression.MinQuality)
	}
	if c.Compression.QualityStep < 1 {
		return fmt.Errorf("compression.quality_step must be at least 1: %d", c.Compression.QualityStep)
	}
	if c.Compression.ResizeStep <= 0 || c.Compression.ResizeStep >= 1 {
		return fmt.Errorf("compression.resize_step must be between 0 and 1 (exclusive): %v", c.Compression.ResizeStep)
	}

	c.SupportedExtensions = normalizeExtensions(c.SupportedExtensions)
	if len(c.SupportedExtensions) == 0 {
		c.SupportedExtensions = append([]string(nil), DefaultExtensions...)
	}

	if c.Performance.WorkerThreads <= 0 {
		c.Performance.WorkerThreads = 1
	}

	if c.Backup.Enabled {
		switch c.Backup.Backend {
		case "local":
			if c.Backup.Directory == "" && c.Backup.Suffix == "" {
				return fmt.Errorf("backup.suffix is required when backup.directory is empty")
			}
		case "s3":
			if c.Backup.Bucket == "" {
				return fmt.Errorf("backup.bucket is required for the s3 backend")
			}
		default:
			return fmt.Errorf("invalid backup.backend: %s (valid: local, s3)", c.Backup.Backend)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// TargetBytes converts the configured megabyte target to bytes, rounding down.
func (c *Config) TargetBytes() int64 {
	return MegabytesToBytes(c.Compression.TargetMB)
}

// MegabytesToBytes converts binary megabytes to a whole number of bytes.
func MegabytesToBytes(mb float64) int64 {
	return int64(math.Floor(mb * 1024 * 1024))
}

// IsImageExtension checks if the extension is for a supported image file
func (c *Config) IsImageExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supportedExt := range c.SupportedExtensions {
		if ext == supportedExt {
			return true
		}
	}
	return false
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}
	return normalized
}
