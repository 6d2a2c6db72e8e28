package conf

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/looplj/classhub/internal/audit"
	"github.com/looplj/classhub/internal/authz"
	"github.com/looplj/classhub/internal/blob"
	"github.com/looplj/classhub/internal/log"
	"github.com/looplj/classhub/internal/metrics"
	"github.com/looplj/classhub/internal/notify"
	"github.com/looplj/classhub/internal/pkg/xcache"
	"github.com/looplj/classhub/internal/pkg/xredis"
	"github.com/looplj/classhub/internal/server"
	"github.com/looplj/classhub/internal/server/db"
)

// EnvPrefix prefixes every environment override, e.g. CLASSHUB_DB_DSN.
const EnvPrefix = "CLASSHUB"

// ConfigFileEnv names an explicit config file.
const ConfigFileEnv = EnvPrefix + "_CONFIG"

type Config struct {
	fx.Out `yaml:"-" json:"-"`

	Server  server.Config  `conf:"server" yaml:"server" json:"server"`
	Log     log.Config     `conf:"log" yaml:"log" json:"log"`
	DB      db.Config      `conf:"db" yaml:"db" json:"db"`
	Cache   xcache.Config  `conf:"cache" yaml:"cache" json:"cache"`
	Redis   xredis.Config  `conf:"redis" yaml:"redis" json:"redis"`
	Notify  notify.Config  `conf:"notify" yaml:"notify" json:"notify"`
	Blob    blob.Config    `conf:"blob" yaml:"blob" json:"blob"`
	Metrics metrics.Config `conf:"metrics" yaml:"metrics" json:"metrics"`
	Authz   authz.Config   `conf:"authz" yaml:"authz" json:"authz"`
	Audit   audit.Config   `conf:"audit" yaml:"audit" json:"audit"`
}

// Load reads config.yml from the working directory, ./conf or /etc/classhub,
// or the file named by CLASSHUB_CONFIG. A missing file is not an error.
func Load() (Config, error) {
	return LoadFile(os.Getenv(ConfigFileEnv))
}

// LoadFile is Load with an explicit config file; an empty path searches the defaults.
func LoadFile(path string) (Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("./conf")
		v.AddConfigPath("/etc/classhub/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config

	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "conf"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every leaf key so that environment overrides apply
// even when the config file omits the key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "classhub")
	v.SetDefault("server.stop_timeout", 10*time.Second)
	v.SetDefault("server.debug", false)

	v.SetDefault("log.name", "classhub")
	v.SetDefault("log.debug", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.output", "stdio")
	v.SetDefault("log.file.path", "logs/classhub.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 10)
	v.SetDefault("log.file.local_time", true)

	v.SetDefault("db.dialect", "sqlite")
	v.SetDefault("db.dsn", "file:classhub.db")
	v.SetDefault("db.debug", false)
	v.SetDefault("db.max_open_conns", 0)
	v.SetDefault("db.max_idle_conns", 0)
	v.SetDefault("db.conn_max_lifetime", time.Duration(0))
	v.SetDefault("db.auto_migrate", true)

	v.SetDefault("cache.mode", xcache.ModeMemory)
	v.SetDefault("cache.memory.expiration", 5*time.Minute)
	v.SetDefault("cache.memory.cleanup_interval", 10*time.Minute)
	v.SetDefault("cache.redis_expiration", 30*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls", false)
	v.SetDefault("redis.tls_insecure_skip_verify", false)

	v.SetDefault("notify.sinks", []string{notify.SinkStore})
	v.SetDefault("notify.async", true)
	v.SetDefault("notify.concurrency", 8)
	v.SetDefault("notify.timeout", 5*time.Second)
	v.SetDefault("notify.redis_prefix", "classhub:notifications")
	v.SetDefault("notify.redis_max_len", 200)

	v.SetDefault("blob.backend", blob.BackendOS)
	v.SetDefault("blob.root", "data/uploads")
	v.SetDefault("blob.max_size", 50<<20)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.exporter", "stdout")
	v.SetDefault("metrics.interval", time.Minute)

	v.SetDefault("audit.default_page_size", audit.DefaultPageSize)
	v.SetDefault("audit.max_page_size", audit.MaxPageSize)
}
