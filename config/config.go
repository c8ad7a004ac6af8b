// Package config manages application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ytzim/internal/retry"
)

// Config holds all settings of a scraper run.
type Config struct {
	// APIKey is the YouTube Data API v3 key.
	APIKey string `json:"api_key"`

	// Kind is the collection kind: "channel", "user" or "playlist".
	Kind string `json:"type"`
	// ID is a channel id, a username or comma separated playlist ids.
	ID string `json:"id"`

	// Language is the ISO 639-3 language of the archive.
	Language string `json:"language"`
	// Output is the directory receiving the archive.
	Output string `json:"output"`
	// BuildDir holds the archive tree and cache (default: <output>/build).
	BuildDir string `json:"build_dir"`
	// ZimFile is the archive file name (default: <name>_<YYYY-MM>.zim).
	ZimFile string `json:"zim_file"`

	// Format is the video container: "mp4" or "webm".
	Format string `json:"format"`
	// LowQuality recompresses downloaded videos.
	LowQuality bool `json:"low_quality"`
	// AllSubtitles includes auto-generated subtitles in every language.
	AllSubtitles bool `json:"all_subtitles"`
	// ExternalDownloader is passed to yt-dlp (e.g. "aria2c").
	ExternalDownloader string `json:"external_downloader"`
	SkipDownload       bool   `json:"skip_download"`
	NoZim              bool   `json:"no_zim"`
	KeepBuildDir       bool   `json:"keep_build_dir"`

	// Branding overrides. Images are local paths or http(s) URLs.
	Profile        string   `json:"profile"`
	Banner         string   `json:"banner"`
	MainColor      string   `json:"main_color"`
	SecondaryColor string   `json:"secondary_color"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Creator        string   `json:"creator"`
	Publisher      string   `json:"publisher"`
	Name           string   `json:"name"`
	Tags           []string `json:"tags"`

	// External tools
	YtdlpPath       string `json:"ytdlp_path"`
	FFmpegPath      string `json:"ffmpeg_path"`
	ZimwriterfsPath string `json:"zimwriterfs_path"`

	// MaxRetries is the maximum number of retries for failed API calls
	MaxRetries int `json:"max_retries"`
	// InitialBackoff is the initial backoff duration for retries
	InitialBackoff time.Duration `json:"initial_backoff"`
	// MaxBackoff is the maximum backoff duration for retries
	MaxBackoff time.Duration `json:"max_backoff"`
	// BackoffMultiplier is the multiplier for exponential backoff (must be > 1)
	BackoffMultiplier float64 `json:"backoff_multiplier"`

	// RequestsPerSecond paces API calls.
	RequestsPerSecond float64 `json:"requests_per_second"`
	// Concurrency bounds parallel author lookups and download groups.
	Concurrency int `json:"concurrency"`

	Debug bool `json:"debug"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		Language:          "eng",
		Output:            "output",
		Format:            "mp4",
		YtdlpPath:         "yt-dlp",
		FFmpegPath:        "ffmpeg",
		ZimwriterfsPath:   "zimwriterfs",
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		RequestsPerSecond: 5,
		Concurrency:       4,
	}
}

// Load loads configuration from environment variables, config file, and applies defaults.
// Priority: env vars > config file > defaults. Validation is left to the caller,
// which may still apply command line flags.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Config file is optional
	if err := cfg.loadFromFile(configPaths()); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load config file: %w", err)
	}

	cfg.loadFromEnv()
	return cfg, nil
}

func configPaths() []string {
	if p := os.Getenv("YTZIM_CONFIG"); p != "" {
		return []string{p}
	}
	return []string{
		"ytzim.json",
		filepath.Join(os.Getenv("HOME"), ".config", "ytzim", "ytzim.json"),
	}
}

// loadFromFile loads the first existing file of paths.
func (c *Config) loadFromFile(paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}

	return os.ErrNotExist
}

// loadFromEnv overrides config with environment variables.
func (c *Config) loadFromEnv() {
	strs := map[string]*string{
		"YTZIM_API_KEY":          &c.APIKey,
		"YTZIM_LANGUAGE":         &c.Language,
		"YTZIM_OUTPUT":           &c.Output,
		"YTZIM_BUILD_DIR":        &c.BuildDir,
		"YTZIM_FORMAT":           &c.Format,
		"YTZIM_YTDLP_PATH":       &c.YtdlpPath,
		"YTZIM_FFMPEG_PATH":      &c.FFmpegPath,
		"YTZIM_ZIMWRITERFS_PATH": &c.ZimwriterfsPath,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("YTZIM_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv("YTZIM_INITIAL_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.InitialBackoff = d
		}
	}
	if v := os.Getenv("YTZIM_MAX_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.MaxBackoff = d
		}
	}
	if v := os.Getenv("YTZIM_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("YTZIM_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Concurrency = n
		}
	}
	if v := os.Getenv("YTZIM_DEBUG"); v != "" {
		c.Debug = v == "true" || v == "1"
	}
}

// Validate checks that configuration values are valid and consistent.
// It returns an error if any configuration value is invalid.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	switch strings.ToLower(c.Kind) {
	case "channel", "user", "playlist":
	default:
		return fmt.Errorf("type must be channel, user or playlist, got %q", c.Kind)
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if c.Format != "mp4" && c.Format != "webm" {
		return fmt.Errorf("format must be mp4 or webm, got %q", c.Format)
	}
	if c.Language == "" {
		return fmt.Errorf("language is required")
	}
	if c.Output == "" {
		return fmt.Errorf("output is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive")
	}
	if c.MaxBackoff <= 0 {
		return fmt.Errorf("max_backoff must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must be >= initial_backoff")
	}
	if c.BackoffMultiplier <= 1 {
		return fmt.Errorf("backoff_multiplier must be > 1")
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	return nil
}

// ResolvedBuildDir returns BuildDir, or <output>/build when unset.
func (c *Config) ResolvedBuildDir() string {
	if c.BuildDir != "" {
		return c.BuildDir
	}
	return filepath.Join(c.Output, "build")
}

// Retry returns the retry policy of API calls.
func (c *Config) Retry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = c.MaxRetries
	cfg.InitialBackoff = c.InitialBackoff
	cfg.MaxBackoff = c.MaxBackoff
	cfg.Multiplier = c.BackoffMultiplier
	return cfg
}
