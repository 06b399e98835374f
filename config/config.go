package config

import (
	"fmt"
	"net/url"
	"time"
)

// Crawl modes.
const (
	ModeSequential = "sequential"
	ModeConcurrent = "concurrent"
)

// Config holds crawler configuration.
type Config struct {
	Site               string
	StartURL           string
	SchemaFile         string
	MaxPages           int
	Mode               string // sequential or concurrent
	Workers            int
	Delay              time.Duration
	RandomDelay        time.Duration
	MinInterval        time.Duration
	Timeout            time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	RetryBackoffMax    time.Duration
	TolerateFailures   bool
	Stream             bool
	OutputFile         string
	OutputFormat       string // csv, json, or dual
	PipelineBufferSize int
	BatchSize          int
	DedupeField        string
	DedupeMaxSize      int
	UserAgent          string
	Verbose            bool
	RespectRobotsTxt   bool
	MetricsAddr        string
}

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	return &Config{
		Site:               "books",
		StartURL:           "https://books.toscrape.com/",
		MaxPages:           50,
		Mode:               ModeSequential,
		Workers:            8,
		Delay:              0,
		RandomDelay:        0,
		MinInterval:        0,
		Timeout:            10 * time.Second,
		MaxRetries:         2,
		RetryBackoff:       200 * time.Millisecond,
		RetryBackoffMax:    2 * time.Second,
		TolerateFailures:   false,
		OutputFile:         "output/records.csv",
		OutputFormat:       "csv",
		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeField:        "",
		DedupeMaxSize:      100000,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Verbose:            false,
		RespectRobotsTxt:   false,
		MetricsAddr:        "",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.Site == "" && c.SchemaFile == "" {
		return fmt.Errorf("either a site preset or a schema file is required")
	}
	if c.StartURL == "" {
		return fmt.Errorf("start URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.StartURL)
	if err != nil {
		return fmt.Errorf("invalid start URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("start URL must include a host")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("start URL scheme must be http or https")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Mode != ModeSequential && c.Mode != ModeConcurrent {
		return fmt.Errorf("mode must be %s or %s", ModeSequential, ModeConcurrent)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("min interval cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.Stream && c.Mode == ModeConcurrent {
		return fmt.Errorf("stream output is only available in %s mode", ModeSequential)
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeField != "" && c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive when a dedupe field is set")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}
