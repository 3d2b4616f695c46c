package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postflow/internal/publish"
)

// clearEnv blanks every variable Load reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range credentialEnv {
		t.Setenv(env, "")
	}
	for _, key := range []string{
		"SERVER_ADDR", "SERVER_DEBUG", "LOG_LEVEL", "LOG_FORMAT", "QUEUE_BACKEND", "QUEUE_PATH",
		"SCHEDULER_PROCESS_INTERVAL", "SCHEDULER_PROCESS_CRON", "SCHEDULER_TICK", "SCHEDULER_STOP_TIMEOUT",
		"PUBLISHER_ENDPOINT", "PUBLISHER_TIMEOUT",
		"CREDENTIALS_API_KEY", "CREDENTIALS_API_SECRET", "CREDENTIALS_ACCESS_TOKEN", "CREDENTIALS_ACCESS_SECRET",
	} {
		t.Setenv(EnvPrefix+"_"+key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "postflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.False(t, cfg.Server.Debug)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "file", cfg.Queue.Backend)
	assert.Equal(t, "post_schedule.json", cfg.Queue.Path)
	assert.Equal(t, time.Minute, cfg.Scheduler.ProcessInterval)
	assert.Equal(t, time.Second, cfg.Scheduler.Tick)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.StopTimeout)
	assert.Equal(t, publish.DefaultEndpoint, cfg.Publisher.Endpoint)
	assert.Equal(t, publish.DefaultTimeout, cfg.Publisher.Timeout)
	assert.False(t, cfg.Credentials.Complete())
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTFLOW_SERVER_ADDR", "127.0.0.1:9090")
	t.Setenv("POSTFLOW_LOG_LEVEL", "debug")
	t.Setenv("POSTFLOW_QUEUE_BACKEND", "sqlite")
	t.Setenv("POSTFLOW_QUEUE_PATH", "/var/lib/postflow/queue.db")
	t.Setenv("POSTFLOW_SCHEDULER_PROCESS_INTERVAL", "30s")
	t.Setenv("POSTFLOW_PUBLISHER_TIMEOUT", "3s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.Queue.Backend)
	assert.Equal(t, "/var/lib/postflow/queue.db", cfg.Queue.Path)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.ProcessInterval)
	assert.Equal(t, 3*time.Second, cfg.Publisher.Timeout)
}

func TestLoadCredentials(t *testing.T) {
	t.Run("conventional names", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TWITTER_API_KEY", "k")
		t.Setenv("TWITTER_API_SECRET", "s")
		t.Setenv("TWITTER_ACCESS_TOKEN", "t")
		t.Setenv("TWITTER_ACCESS_SECRET", "as")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, publish.Credentials{APIKey: "k", APISecret: "s", AccessToken: "t", AccessSecret: "as"}, cfg.Credentials)
		assert.True(t, cfg.Credentials.Complete())
	})

	t.Run("three of four is incomplete", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TWITTER_API_KEY", "k")
		t.Setenv("TWITTER_API_SECRET", "s")
		t.Setenv("TWITTER_ACCESS_TOKEN", "t")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.False(t, cfg.Credentials.Complete())
		assert.Equal(t, publish.ModeSimulated, publish.New(cfg.Credentials, publish.Options{}).Mode())
	})

	t.Run("prefixed names", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("POSTFLOW_CREDENTIALS_API_KEY", "pk")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "pk", cfg.Credentials.APIKey)
	})
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  addr: ":7070"
  debug: true
log:
  format: json
queue:
  backend: sqlite
  path: queue.db
scheduler:
  process_cron: "*/5 * * * *"
credentials:
  api_key: file-key
`)
	t.Setenv("POSTFLOW_SERVER_ADDR", ":9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr, "environment takes precedence over the file")
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "sqlite", cfg.Queue.Backend)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.ProcessCron)
	assert.Equal(t, "file-key", cfg.Credentials.APIKey)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"POSTFLOW_QUEUE_BACKEND": "redis"}},
		{"unknown log level", map[string]string{"POSTFLOW_LOG_LEVEL": "chatty"}},
		{"interval below one second", map[string]string{"POSTFLOW_SCHEDULER_PROCESS_INTERVAL": "500ms"}},
		{"bad cron", map[string]string{"POSTFLOW_SCHEDULER_PROCESS_CRON": "every day"}},
		{"bad endpoint", map[string]string{"POSTFLOW_PUBLISHER_ENDPOINT": "not a url"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "configuration validation failed")
		})
	}
}
