package server

import (
	"time"
)

type Config struct {
	Name string `conf:"name" yaml:"name" json:"name"`

	// StopTimeout bounds the graceful stop of the application graph.
	StopTimeout time.Duration `conf:"stop_timeout" yaml:"stop_timeout" json:"stop_timeout"`

	Debug bool `conf:"debug" yaml:"debug" json:"debug"`
}
