package cloudfetch

import (
	"fmt"
	"strconv"
	"time"

	"cloudeng.io/cmdutil"
)

// Config is the parsed, typed form of the flat string configuration
// surface the driver's session layer hands this package.
type Config struct {
	ParallelDownloads     int
	PrefetchCount         int
	MemoryBufferSizeBytes int64
	Timeout               time.Duration
	MaxRetries            int
	RetryDelay            time.Duration
	MaxURLRefreshAttempts int
	URLExpirationBuffer   time.Duration
	LZ4Enabled            bool
}

func defaultConfig() Config {
	return Config{
		ParallelDownloads:     3,
		PrefetchCount:         2,
		MemoryBufferSizeBytes: 200 << 20,
		Timeout:               5 * time.Minute,
		MaxRetries:            3,
		RetryDelay:            500 * time.Millisecond,
		MaxURLRefreshAttempts: 3,
		URLExpirationBuffer:   60 * time.Second,
		LZ4Enabled:            true,
	}
}

// queueCapacity is the bounded pending-queue capacity derived from
// PrefetchCount.
func (c Config) queueCapacity() int { return 2 * c.PrefetchCount }

// Validate rejects configurations the rest of the package can't safely
// run with. A prefetch count of zero is rejected here rather than left to
// manifest as a zero-capacity, permanently-blocking queue later.
func (c Config) Validate() error {
	if c.PrefetchCount <= 0 {
		return fmt.Errorf("%w: cloudfetch.prefetch_count must be > 0, got %d", ErrInvalidConfiguration, c.PrefetchCount)
	}
	if c.ParallelDownloads <= 0 {
		return fmt.Errorf("%w: cloudfetch.parallel_downloads must be > 0, got %d", ErrInvalidConfiguration, c.ParallelDownloads)
	}
	return nil
}

// ParseConfig parses the flat string configuration map recognized by the
// driver. Unknown keys are ignored. Every recognized key must parse as a
// positive integer (or, for lz4_enabled, a boolean) -- any parse failure
// fails fast rather than silently falling back to a default.
func ParseConfig(raw map[string]string) (Config, error) {
	cfg := defaultConfig()
	for key, value := range raw {
		var err error
		switch key {
		case "cloudfetch.parallel_downloads":
			cfg.ParallelDownloads, err = parsePositiveInt(key, value)
		case "cloudfetch.prefetch_count":
			cfg.PrefetchCount, err = parsePositiveInt(key, value)
		case "cloudfetch.memory_buffer_size_mb":
			var n int
			if n, err = parsePositiveInt(key, value); err == nil {
				cfg.MemoryBufferSizeBytes = int64(n) << 20
			}
		case "cloudfetch.timeout_minutes":
			var n int
			if n, err = parsePositiveInt(key, value); err == nil {
				cfg.Timeout = time.Duration(n) * time.Minute
			}
		case "cloudfetch.max_retries":
			cfg.MaxRetries, err = parsePositiveInt(key, value)
		case "cloudfetch.retry_delay_ms":
			var n int
			if n, err = parsePositiveInt(key, value); err == nil {
				cfg.RetryDelay = time.Duration(n) * time.Millisecond
			}
		case "cloudfetch.max_url_refresh_attempts":
			cfg.MaxURLRefreshAttempts, err = parsePositiveInt(key, value)
		case "cloudfetch.url_expiration_buffer_seconds":
			var n int
			if n, err = parsePositiveInt(key, value); err == nil {
				cfg.URLExpirationBuffer = time.Duration(n) * time.Second
			}
		case "cloudfetch.lz4_enabled":
			cfg.LZ4Enabled, err = strconv.ParseBool(value)
			if err != nil {
				err = fmt.Errorf("%w: %s: %q is not a boolean: %v", ErrInvalidConfiguration, key, value, err)
			}
		default:
			// unrecognized keys are ignored.
		}
		if err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parsePositiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q is not an integer: %v", ErrInvalidConfiguration, key, value, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %d", ErrInvalidConfiguration, key, n)
	}
	return n, nil
}

// LoadConfigFile reads a YAML file of "key: value" pairs using the same
// config-loading helper the rest of the pack relies on, flattens values to
// strings, and parses them with ParseConfig's fail-fast rules.
func LoadConfigFile(path string) (Config, error) {
	var raw map[string]any
	if err := cmdutil.ParseYAMLConfigFile(path, &raw); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	flat := make(map[string]string, len(raw))
	for k, v := range raw {
		flat[k] = fmt.Sprintf("%v", v)
	}
	return ParseConfig(flat)
}

// NewLogger builds the driver's logger by delegating entirely to
// cmdutil's own slog-handler-selection logic rather than duplicating it.
func NewLogger(level int, file, format string, sourceCode bool) (*cmdutil.Logger, error) {
	lc := cmdutil.LoggingConfig{Level: level, File: file, Format: format, SourceCode: sourceCode}
	return lc.NewLogger()
}
