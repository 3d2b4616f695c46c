// Package config loads postflow settings from defaults, an optional YAML
// file and the environment, in increasing order of precedence.
package config

import (
	"time"

	"postflow/internal/publish"
)

type Config struct {
	Server      ServerConfig        `mapstructure:"server"`
	Log         LogConfig           `mapstructure:"log"`
	Queue       QueueConfig         `mapstructure:"queue"`
	Scheduler   SchedulerConfig     `mapstructure:"scheduler"`
	Publisher   PublisherConfig     `mapstructure:"publisher"`
	Credentials publish.Credentials `mapstructure:"credentials"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
	// Debug mounts the pprof handlers under /debug/pprof.
	Debug bool `mapstructure:"debug"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=console json"`
}

type QueueConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=file sqlite"`
	Path    string `mapstructure:"path" validate:"required"`
}

type SchedulerConfig struct {
	// ProcessInterval is how often due posts are processed. Ignored when
	// ProcessCron is set.
	ProcessInterval time.Duration `mapstructure:"process_interval" validate:"min=1s"`
	ProcessCron     string        `mapstructure:"process_cron"`
	Tick            time.Duration `mapstructure:"tick" validate:"min=10ms"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout" validate:"min=0"`
}

type PublisherConfig struct {
	Endpoint string        `mapstructure:"endpoint" validate:"required,url"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"min=100ms"`
}
