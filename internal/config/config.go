// Package config loads cloudsize settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rossigee/cloudsize/internal/retry"
	"github.com/sirupsen/logrus"
)

const (
	DefaultDBPath           = "/ifs/stub_file_list.db"
	DefaultPAPIHost         = "127.0.0.1"
	DefaultPAPIPort         = "8080"
	DefaultPAPITimeout      = 600 * time.Second
	DefaultRetries          = 5
	DefaultRetryDelay       = 2 * time.Second
	DefaultPageSize         = 100000
	DefaultFilenameEncoding = "iso-8859-15"
	DefaultListenAddr       = "127.0.0.1:8089"
)

// Config holds runtime settings for both update and search modes
type Config struct {
	DBPath string

	PAPIHost     string
	PAPIPort     string
	PAPIUser     string
	PAPIPassword string
	PAPICACert   string
	PAPITimeout  time.Duration
	Retry        retry.Config

	PageSize         int
	FilenameEncoding string

	MetricsFile string
	SnapshotURL string
	ListenAddr  string
	LogLevel    logrus.Level
}

// Load reads the configuration from environment variables, falling back to defaults
func Load() *Config {
	cfg := &Config{
		DBPath:           getenv("CLOUDSIZE_DB_PATH", DefaultDBPath),
		PAPIHost:         getenv("CLOUDSIZE_PAPI_HOST", DefaultPAPIHost),
		PAPIPort:         getenv("CLOUDSIZE_PAPI_PORT", DefaultPAPIPort),
		PAPIUser:         os.Getenv("CLOUDSIZE_PAPI_USER"),
		PAPIPassword:     os.Getenv("CLOUDSIZE_PAPI_PASSWORD"),
		PAPICACert:       os.Getenv("CLOUDSIZE_PAPI_CA_CERT"),
		PAPITimeout:      parseDuration(os.Getenv("CLOUDSIZE_PAPI_TIMEOUT"), DefaultPAPITimeout),
		PageSize:         parsePositiveInt(os.Getenv("CLOUDSIZE_PAGE_SIZE"), DefaultPageSize),
		FilenameEncoding: getenv("CLOUDSIZE_FILENAME_ENCODING", DefaultFilenameEncoding),
		MetricsFile:      os.Getenv("CLOUDSIZE_METRICS_FILE"),
		SnapshotURL:      os.Getenv("CLOUDSIZE_SNAPSHOT_URL"),
		ListenAddr:       getenv("CLOUDSIZE_LISTEN", DefaultListenAddr),
		LogLevel:         parseLevel(os.Getenv("CLOUDSIZE_LOG_LEVEL")),
	}

	cfg.Retry = parsePAPIRetryConfig(
		os.Getenv("CLOUDSIZE_PAPI_RETRY_ATTEMPTS"),
		os.Getenv("CLOUDSIZE_PAPI_RETRY_BACKOFF_MS"),
	)

	return cfg
}

// HasCredentials reports whether the management API credentials came from the environment
func (c *Config) HasCredentials() bool {
	return c.PAPIUser != "" && c.PAPIPassword != ""
}

// PAPIBaseURL returns the management API root
func (c *Config) PAPIBaseURL() string {
	return "https://" + c.PAPIHost + ":" + c.PAPIPort
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parsePAPIRetryConfig parses the retry budget; retries counts attempts after the first one
func parsePAPIRetryConfig(retriesStr, backoffStr string) retry.Config {
	retries := DefaultRetries
	delays := []time.Duration{DefaultRetryDelay}

	if retriesStr != "" {
		if n, err := strconv.Atoi(retriesStr); err == nil && n >= 0 {
			retries = n
		}
	}

	if backoffStr != "" {
		var parsedDelays []time.Duration
		for _, delayStr := range strings.Split(backoffStr, ",") {
			if ms, err := strconv.Atoi(strings.TrimSpace(delayStr)); err == nil && ms > 0 {
				parsedDelays = append(parsedDelays, time.Duration(ms)*time.Millisecond)
			}
		}
		if len(parsedDelays) > 0 {
			delays = parsedDelays
		}
	}

	return retry.Config{
		MaxAttempts: retries + 1,
		Delays:      delays,
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	// bare numbers are seconds
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func parsePositiveInt(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return fallback
}

func parseLevel(s string) logrus.Level {
	if s == "" {
		return logrus.InfoLevel
	}
	lvl, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
