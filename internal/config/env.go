package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// loadEnvFiles loads .env/.env.local into the process environment. Existing
// process environment variables are not overwritten, so real env always wins.
func loadEnvFiles() {
	for _, envPath := range []string{".env", ".env.local"} {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err != nil {
			slog.Warn("Failed to load env file", "path", envPath, "error", err)
			continue
		}
		slog.Debug("Loaded environment variables", "path", envPath)
		return
	}
}

// applyEnv overlays BW_* environment variables onto the configuration.
func (c *Config) applyEnv() {
	envDuration("BW_COMPILE_TIMEOUT", &c.CompileTimeout)
	envDuration("BW_QUEUE_TIMEOUT", &c.QueueTimeout)
	envDuration("BW_POLL_INTERVAL", &c.PollInterval)
	envDuration("BW_HTTP_TIMEOUT", &c.HTTPTimeout)

	envInt("BW_QUEUE_DEPTH_THRESHOLD", &c.QueueDepthThreshold)
	envDuration("BW_QUEUE_RETRY_PERIOD", &c.QueueRetryPeriod)
	envDuration("BW_QUEUE_WARN_AFTER", &c.QueueWarnAfter)

	envDuration("BW_CLEANUP_PERIOD", &c.CleanupPeriod)
	envDuration("BW_CLEANUP_TIMEOUT", &c.CleanupTimeout)
	envDuration("BW_SYNC_TIMEOUT", &c.SyncTimeout)

	envDuration("BW_STATUS_TTL", &c.StatusTTL)
	envDuration("BW_LIVENESS_WINDOW", &c.LivenessWindow)
	envDuration("BW_MAINT_STALE_AFTER", &c.MaintStaleAfter)

	envString("BW_CATALOG_URL", &c.CatalogURL)
	envString("BW_KEYMAP_URL", &c.KeymapURL)
	envString("BW_ERROR_LOG_URL", &c.ErrorLogURL)
	envString("BW_ERROR_PAGE_URL", &c.ErrorPageURL)
	envString("BW_WEBHOOK_URL", &c.WebhookURL)

	envBool("BW_MSG_ON_GOOD_COMPILE", &c.MsgOnGoodCompile)
	envBool("BW_MSG_ON_BAD_COMPILE", &c.MsgOnBadCompile)
	envBool("BW_MSG_ON_PASS_COMPLETION", &c.MsgOnPassCompletion)
	envBool("BW_MSG_ON_CLEANUP_SUCCESS", &c.MsgOnCleanupSuccess)
	envBool("BW_MSG_ON_CLEANUP_FAIL", &c.MsgOnCleanupFail)
	envBool("BW_MSG_ON_SYNC_FAIL", &c.MsgOnSyncFail)
	envBool("BW_ERROR_LOG_NAG", &c.ErrorLogNag)

	if v := os.Getenv("BW_QUEUE"); v != "" {
		c.Queue = QueueBackend(v)
	}
	if v := os.Getenv("BW_STORE"); v != "" {
		c.Store = StoreBackend(v)
	}
	envString("BW_NATS_URL", &c.NATSURL)
	envString("BW_SQLITE_PATH", &c.SQLitePath)

	envString("BW_LISTEN_ADDR", &c.ListenAddr)
	if v := os.Getenv("BW_LOG_LEVEL"); v != "" {
		c.LogLevel = NormalizeLogLevel(v)
	}
	if v := os.Getenv("BW_LOG_FORMAT"); v != "" {
		c.LogFormat = NormalizeLogFormat(v)
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring non-integer environment value", "key", key, "value", v)
		return
	}
	*dst = n
}

// envDuration accepts Go duration syntax ("10m") and, for compatibility with
// the previous deployment's plain-seconds values, bare integers.
func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if err := parseDuration(v, dst); err != nil {
		slog.Warn("Ignoring unparseable duration", "key", key, "value", v)
	}
}

// parseDuration reads Go duration syntax or a bare-seconds integer.
func parseDuration(raw string, dst *time.Duration) error {
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return err
	}
	*dst = time.Duration(n) * time.Second
	return nil
}

func envBool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	switch v {
	case "yes", "true", "1", "on":
		*dst = true
	case "no", "false", "0", "off":
		*dst = false
	default:
		slog.Warn("Ignoring non-boolean environment value", "key", key, "value", v)
	}
}
