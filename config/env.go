package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvBool parses key with strconv.ParseBool.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// ApplyEnv overrides cfg with any PAGECRAWL_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if v, ok := EnvString("PAGECRAWL_SITE"); ok {
		cfg.Site = v
	}
	if v, ok := EnvString("PAGECRAWL_START_URL"); ok {
		cfg.StartURL = v
	}
	if v, ok := EnvString("PAGECRAWL_SCHEMA"); ok {
		cfg.SchemaFile = v
	}
	if v, ok := EnvString("PAGECRAWL_MODE"); ok {
		cfg.Mode = strings.ToLower(v)
	}
	if v, ok := EnvString("PAGECRAWL_OUTPUT"); ok {
		cfg.OutputFile = v
	}
	if v, ok := EnvString("PAGECRAWL_FORMAT"); ok {
		cfg.OutputFormat = strings.ToLower(v)
	}
	if v, ok := EnvString("PAGECRAWL_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := EnvString("PAGECRAWL_DEDUPE_FIELD"); ok {
		cfg.DedupeField = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PAGECRAWL_PAGES", &cfg.MaxPages},
		{"PAGECRAWL_WORKERS", &cfg.Workers},
		{"PAGECRAWL_MAX_RETRIES", &cfg.MaxRetries},
		{"PAGECRAWL_BATCH_SIZE", &cfg.BatchSize},
	}
	for _, e := range ints {
		v, ok, err := EnvInt(e.key)
		if err != nil {
			return err
		}
		if ok {
			*e.dst = v
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PAGECRAWL_TIMEOUT", &cfg.Timeout},
		{"PAGECRAWL_DELAY", &cfg.Delay},
		{"PAGECRAWL_MIN_INTERVAL", &cfg.MinInterval},
	}
	for _, e := range durations {
		v, ok, err := EnvDuration(e.key)
		if err != nil {
			return err
		}
		if ok {
			*e.dst = v
		}
	}

	if v, ok, err := EnvBool("PAGECRAWL_TOLERATE_FAILURES"); err != nil {
		return err
	} else if ok {
		cfg.TolerateFailures = v
	}
	if v, ok, err := EnvBool("PAGECRAWL_VERBOSE"); err != nil {
		return err
	} else if ok {
		cfg.Verbose = v
	}
	return nil
}
