// Package config loads the buildwatch daemon configuration from environment
// variables, an optional YAML file, and .env files, in that order of
// increasing precedence for the environment (env always wins over file values).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	bwerrors "git.home.luguber.info/inful/buildwatch/internal/errors"
)

// QueueBackend selects the queue client implementation.
type QueueBackend string

const (
	QueueBackendNATS   QueueBackend = "nats"
	QueueBackendMemory QueueBackend = "memory"
)

// StoreBackend selects the durable key-value backend.
type StoreBackend string

const (
	StoreBackendNATS   StoreBackend = "nats"
	StoreBackendSQLite StoreBackend = "sqlite"
)

// Config holds every tunable of the daemon. All durations and counts are plain
// scalars; there is deliberately no nested schema. The YAML file is decoded
// through fileConfig below, never into this struct directly.
type Config struct {
	// Timeouts and cadence
	CompileTimeout time.Duration
	QueueTimeout   time.Duration
	PollInterval   time.Duration
	HTTPTimeout    time.Duration

	// Backpressure
	QueueDepthThreshold int
	QueueRetryPeriod    time.Duration
	QueueWarnAfter      time.Duration

	// Maintenance
	CleanupPeriod  time.Duration
	CleanupTimeout time.Duration
	SyncTimeout    time.Duration

	// Status store and health
	StatusTTL       time.Duration
	LivenessWindow  time.Duration
	MaintStaleAfter time.Duration

	// External endpoints
	CatalogURL   string
	KeymapURL    string
	ErrorLogURL  string
	ErrorPageURL string
	WebhookURL   string

	// Notification gates
	MsgOnGoodCompile    bool
	MsgOnBadCompile     bool
	MsgOnPassCompletion bool
	MsgOnCleanupSuccess bool
	MsgOnCleanupFail    bool
	MsgOnSyncFail       bool
	ErrorLogNag         bool

	// Backends
	Queue      QueueBackend
	Store      StoreBackend
	NATSURL    string
	SQLitePath string

	// Process
	ListenAddr string
	LogLevel   LogLevel
	LogFormat  LogFormat
}

// Defaults returns the configuration with every knob at its default value.
// The defaults mirror the long-running production deployment of the loop.
func Defaults() *Config {
	return &Config{
		CompileTimeout: 10 * time.Minute,
		QueueTimeout:   time.Hour,
		PollInterval:   2 * time.Second,
		HTTPTimeout:    5 * time.Second,

		QueueDepthThreshold: 1,
		QueueRetryPeriod:    10 * time.Minute,
		QueueWarnAfter:      30 * time.Minute,

		CleanupPeriod:  15 * time.Minute,
		CleanupTimeout: 5 * time.Minute,
		SyncTimeout:    10 * time.Minute,

		StatusTTL:       7 * 24 * time.Hour,
		LivenessWindow:  30 * time.Minute,
		MaintStaleAfter: time.Hour,

		CatalogURL:   "https://keyboards.qmk.fm/v1",
		KeymapURL:    "https://raw.githubusercontent.com/qmk/qmk_configurator/master/public/keymaps",
		ErrorLogURL:  "http://api.qmk.fm/v1/keyboards/error_log",
		ErrorPageURL: "https://yanfali.github.io/qmk_error_page/",

		MsgOnGoodCompile:    true,
		MsgOnBadCompile:     true,
		MsgOnPassCompletion: true,
		MsgOnCleanupSuccess: true,
		MsgOnCleanupFail:    true,
		MsgOnSyncFail:       true,
		ErrorLogNag:         true,

		Queue:      QueueBackendNATS,
		Store:      StoreBackendNATS,
		NATSURL:    "nats://127.0.0.1:4222",
		SQLitePath: "./buildwatch.db",

		ListenAddr: ":5000",
		LogLevel:   LogLevelInfo,
		LogFormat:  LogFormatText,
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if it exists), then environment overrides. An empty path skips the
// file stage entirely.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	cfg := Defaults()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fileConfig mirrors Config for YAML decoding. Durations are strings so the
// file accepts Go syntax ("10m") or bare seconds, like the environment
// overlay; pointers distinguish an absent knob from its zero value.
type fileConfig struct {
	CompileTimeout string `yaml:"compile_timeout"`
	QueueTimeout   string `yaml:"queue_timeout"`
	PollInterval   string `yaml:"poll_interval"`
	HTTPTimeout    string `yaml:"http_timeout"`

	QueueDepthThreshold *int   `yaml:"queue_depth_threshold"`
	QueueRetryPeriod    string `yaml:"queue_retry_period"`
	QueueWarnAfter      string `yaml:"queue_warn_after"`

	CleanupPeriod  string `yaml:"cleanup_period"`
	CleanupTimeout string `yaml:"cleanup_timeout"`
	SyncTimeout    string `yaml:"sync_timeout"`

	StatusTTL       string `yaml:"status_ttl"`
	LivenessWindow  string `yaml:"liveness_window"`
	MaintStaleAfter string `yaml:"maint_stale_after"`

	CatalogURL   string `yaml:"catalog_url"`
	KeymapURL    string `yaml:"keymap_url"`
	ErrorLogURL  string `yaml:"error_log_url"`
	ErrorPageURL string `yaml:"error_page_url"`
	WebhookURL   string `yaml:"webhook_url"`

	MsgOnGoodCompile    *bool `yaml:"msg_on_good_compile"`
	MsgOnBadCompile     *bool `yaml:"msg_on_bad_compile"`
	MsgOnPassCompletion *bool `yaml:"msg_on_pass_completion"`
	MsgOnCleanupSuccess *bool `yaml:"msg_on_cleanup_success"`
	MsgOnCleanupFail    *bool `yaml:"msg_on_cleanup_fail"`
	MsgOnSyncFail       *bool `yaml:"msg_on_sync_fail"`
	ErrorLogNag         *bool `yaml:"error_log_nag"`

	Queue      string `yaml:"queue"`
	Store      string `yaml:"store"`
	NATSURL    string `yaml:"nats_url"`
	SQLitePath string `yaml:"sqlite_path"`

	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return bwerrors.Wrap(err, bwerrors.CategoryConfig, bwerrors.SeverityFatal, "read config file").
			WithContext("path", path)
	}

	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return bwerrors.Wrap(err, bwerrors.CategoryConfig, bwerrors.SeverityFatal, "parse config file").
			WithContext("path", path)
	}

	for _, field := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"compile_timeout", f.CompileTimeout, &c.CompileTimeout},
		{"queue_timeout", f.QueueTimeout, &c.QueueTimeout},
		{"poll_interval", f.PollInterval, &c.PollInterval},
		{"http_timeout", f.HTTPTimeout, &c.HTTPTimeout},
		{"queue_retry_period", f.QueueRetryPeriod, &c.QueueRetryPeriod},
		{"queue_warn_after", f.QueueWarnAfter, &c.QueueWarnAfter},
		{"cleanup_period", f.CleanupPeriod, &c.CleanupPeriod},
		{"cleanup_timeout", f.CleanupTimeout, &c.CleanupTimeout},
		{"sync_timeout", f.SyncTimeout, &c.SyncTimeout},
		{"status_ttl", f.StatusTTL, &c.StatusTTL},
		{"liveness_window", f.LivenessWindow, &c.LivenessWindow},
		{"maint_stale_after", f.MaintStaleAfter, &c.MaintStaleAfter},
	} {
		if field.raw == "" {
			continue
		}
		if err := parseDuration(field.raw, field.dst); err != nil {
			return bwerrors.ValidationFailed(field.name, "unparseable duration").
				WithContext("value", field.raw)
		}
	}

	if f.QueueDepthThreshold != nil {
		c.QueueDepthThreshold = *f.QueueDepthThreshold
	}

	applyString(f.CatalogURL, &c.CatalogURL)
	applyString(f.KeymapURL, &c.KeymapURL)
	applyString(f.ErrorLogURL, &c.ErrorLogURL)
	applyString(f.ErrorPageURL, &c.ErrorPageURL)
	applyString(f.WebhookURL, &c.WebhookURL)
	applyString(f.NATSURL, &c.NATSURL)
	applyString(f.SQLitePath, &c.SQLitePath)
	applyString(f.ListenAddr, &c.ListenAddr)

	applyBool(f.MsgOnGoodCompile, &c.MsgOnGoodCompile)
	applyBool(f.MsgOnBadCompile, &c.MsgOnBadCompile)
	applyBool(f.MsgOnPassCompletion, &c.MsgOnPassCompletion)
	applyBool(f.MsgOnCleanupSuccess, &c.MsgOnCleanupSuccess)
	applyBool(f.MsgOnCleanupFail, &c.MsgOnCleanupFail)
	applyBool(f.MsgOnSyncFail, &c.MsgOnSyncFail)
	applyBool(f.ErrorLogNag, &c.ErrorLogNag)

	if f.Queue != "" {
		c.Queue = QueueBackend(f.Queue)
	}
	if f.Store != "" {
		c.Store = StoreBackend(f.Store)
	}
	if f.LogLevel != "" {
		c.LogLevel = NormalizeLogLevel(f.LogLevel)
	}
	if f.LogFormat != "" {
		c.LogFormat = NormalizeLogFormat(f.LogFormat)
	}
	return nil
}

func applyString(raw string, dst *string) {
	if raw != "" {
		*dst = raw
	}
}

func applyBool(raw *bool, dst *bool) {
	if raw != nil {
		*dst = *raw
	}
}

// Validate rejects configurations the control loop cannot run with.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return bwerrors.ValidationFailed("poll_interval", "must be positive")
	}
	if c.CompileTimeout <= 0 {
		return bwerrors.ValidationFailed("compile_timeout", "must be positive")
	}
	if c.QueueDepthThreshold < 0 {
		return bwerrors.ValidationFailed("queue_depth_threshold", "must be non-negative")
	}
	if c.StatusTTL <= 0 {
		return bwerrors.ValidationFailed("status_ttl", "must be positive")
	}
	if c.LivenessWindow <= 0 {
		return bwerrors.ValidationFailed("liveness_window", "must be positive")
	}
	switch c.Queue {
	case QueueBackendNATS, QueueBackendMemory:
	default:
		return bwerrors.ValidationFailed("queue", fmt.Sprintf("unknown backend %q", c.Queue))
	}
	switch c.Store {
	case StoreBackendNATS, StoreBackendSQLite:
	default:
		return bwerrors.ValidationFailed("store", fmt.Sprintf("unknown backend %q", c.Store))
	}
	return nil
}
