package db

import "time"

type Config struct {
	// Dialect is sqlite or postgres.
	Dialect string `conf:"dialect" yaml:"dialect" json:"dialect"`
	DSN     string `conf:"dsn" yaml:"dsn" json:"dsn"`
	Debug   bool   `conf:"debug" yaml:"debug" json:"debug"`

	// MaxOpenConns is ignored for sqlite, which always runs on one connection.
	MaxOpenConns    int           `conf:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `conf:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `conf:"conn_max_lifetime" yaml:"conn_max_lifetime" json:"conn_max_lifetime"`

	// AutoMigrate applies pending migrations when the store is opened.
	AutoMigrate bool `conf:"auto_migrate" yaml:"auto_migrate" json:"auto_migrate"`
}
