package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	require.Equal(t, 10*time.Minute, cfg.CompileTimeout)
	require.Equal(t, time.Hour, cfg.QueueTimeout)
	require.Equal(t, 2*time.Second, cfg.PollInterval)
	require.Equal(t, 1, cfg.QueueDepthThreshold)
	require.Equal(t, 7*24*time.Hour, cfg.StatusTTL)
	require.Equal(t, ":5000", cfg.ListenAddr)
	require.Equal(t, QueueBackendNATS, cfg.Queue)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BW_COMPILE_TIMEOUT", "20m")
	t.Setenv("BW_QUEUE_TIMEOUT", "3600") // bare seconds, legacy form
	t.Setenv("BW_QUEUE_DEPTH_THRESHOLD", "4")
	t.Setenv("BW_MSG_ON_GOOD_COMPILE", "no")
	t.Setenv("BW_QUEUE", "memory")
	t.Setenv("BW_LISTEN_ADDR", ":8080")
	t.Setenv("BW_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 20*time.Minute, cfg.CompileTimeout)
	require.Equal(t, time.Hour, cfg.QueueTimeout)
	require.Equal(t, 4, cfg.QueueDepthThreshold)
	require.False(t, cfg.MsgOnGoodCompile)
	require.Equal(t, QueueBackendMemory, cfg.Queue)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, LogLevelDebug, cfg.LogLevel)
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buildwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"compile_timeout: 5m\npoll_interval: 1s\nwebhook_url: https://example.invalid/hook\n",
	), 0o644))

	t.Setenv("BW_COMPILE_TIMEOUT", "7m")

	cfg, err := Load(path)
	require.NoError(t, err)
	// Env beats file, file beats defaults.
	require.Equal(t, 7*time.Minute, cfg.CompileTimeout)
	require.Equal(t, time.Second, cfg.PollInterval)
	require.Equal(t, "https://example.invalid/hook", cfg.WebhookURL)
	require.Equal(t, time.Hour, cfg.QueueTimeout)
}

func TestApplyFile_FieldForms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buildwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"queue_timeout: 1800\n"+ // bare seconds, legacy form
			"queue_depth_threshold: 0\n"+
			"msg_on_bad_compile: false\n"+
			"store: sqlite\n"+
			"log_format: json\n",
	), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, cfg.QueueTimeout)
	// Explicit zeros and falses in the file override non-zero defaults.
	require.Equal(t, 0, cfg.QueueDepthThreshold)
	require.False(t, cfg.MsgOnBadCompile)
	require.True(t, cfg.MsgOnGoodCompile)
	require.Equal(t, StoreBackendSQLite, cfg.Store)
	require.Equal(t, LogFormatJSON, cfg.LogFormat)
}

func TestApplyFile_RejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buildwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compile_timeout: soon\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, Defaults().CompileTimeout, cfg.CompileTimeout)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"negative compile timeout", func(c *Config) { c.CompileTimeout = -time.Second }},
		{"negative depth threshold", func(c *Config) { c.QueueDepthThreshold = -1 }},
		{"zero status ttl", func(c *Config) { c.StatusTTL = 0 }},
		{"unknown queue backend", func(c *Config) { c.Queue = "redis" }},
		{"unknown store backend", func(c *Config) { c.Store = "etcd" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestEnvDuration_IgnoresGarbage(t *testing.T) {
	t.Setenv("BW_POLL_INTERVAL", "soon")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.PollInterval)
}
