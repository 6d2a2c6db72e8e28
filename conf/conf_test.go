package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/classhub/internal/authz"
	"github.com/looplj/classhub/internal/notify"
	"github.com/looplj/classhub/internal/pkg/xcache"
)

const sample = `
server:
  stop_timeout: 30s
db:
  dialect: postgres
  dsn: postgres://classhub@localhost/classhub
  max_open_conns: 20
notify:
  sinks: [store, log]
  async: false
authz:
  rules:
    - key: teams:join
      expression: attrs.classStatus == "active"
    - key: stages:rollback
      expression: actor.role == "admin"
      disabled: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "classhub", cfg.Server.Name)
	assert.Equal(t, 10*time.Second, cfg.Server.StopTimeout)
	assert.Equal(t, "sqlite", cfg.DB.Dialect)
	assert.True(t, cfg.DB.AutoMigrate)
	assert.Equal(t, xcache.ModeMemory, cfg.Cache.Mode)
	assert.Equal(t, []string{notify.SinkStore}, cfg.Notify.Sinks)
	assert.True(t, cfg.Notify.Async)
	assert.Equal(t, int64(8), cfg.Notify.Concurrency)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Authz.Rules)
}

func TestLoadFile_File(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Server.StopTimeout)
	assert.Equal(t, "postgres", cfg.DB.Dialect)
	assert.Equal(t, 20, cfg.DB.MaxOpenConns)
	assert.Equal(t, []string{notify.SinkStore, notify.SinkLog}, cfg.Notify.Sinks)
	assert.False(t, cfg.Notify.Async)

	assert.Equal(t, []authz.RuleConfig{
		{Key: "teams:join", Expression: `attrs.classStatus == "active"`},
		{Key: "stages:rollback", Expression: `actor.role == "admin"`, Disabled: true},
	}, cfg.Authz.Rules)

	// Keys the file leaves out keep their defaults.
	assert.Equal(t, "json", cfg.Log.Encoding)
}

func TestLoadFile_Env(t *testing.T) {
	t.Setenv("CLASSHUB_DB_DSN", "file:env.db")
	t.Setenv("CLASSHUB_NOTIFY_SINKS", "store,redis")
	t.Setenv("CLASSHUB_LOG_LEVEL", "debug")

	cfg, err := LoadFile(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "file:env.db", cfg.DB.DSN)
	assert.Equal(t, []string{notify.SinkStore, notify.SinkRedis}, cfg.Notify.Sinks)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ConfigFileEnv(t *testing.T) {
	t.Setenv(ConfigFileEnv, writeConfig(t, "db:\n  dialect: postgres\n"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DB.Dialect)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)

	_, err = LoadFile(writeConfig(t, "db: [unclosed"))
	require.Error(t, err)
}
