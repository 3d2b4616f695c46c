package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"postflow/internal/publish"
)

const EnvPrefix = "POSTFLOW"

// credentialEnv maps credential keys to the conventional variable names.
// The POSTFLOW_CREDENTIALS_* form is accepted as well.
var credentialEnv = map[string]string{
	"credentials.api_key":       "TWITTER_API_KEY",
	"credentials.api_secret":    "TWITTER_API_SECRET",
	"credentials.access_token":  "TWITTER_ACCESS_TOKEN",
	"credentials.access_secret": "TWITTER_ACCESS_SECRET",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.debug", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("queue.backend", "file")
	v.SetDefault("queue.path", "post_schedule.json")
	v.SetDefault("scheduler.process_interval", time.Minute)
	v.SetDefault("scheduler.process_cron", "")
	v.SetDefault("scheduler.tick", time.Second)
	v.SetDefault("scheduler.stop_timeout", 5*time.Second)
	v.SetDefault("publisher.endpoint", publish.DefaultEndpoint)
	v.SetDefault("publisher.timeout", publish.DefaultTimeout)
	for key := range credentialEnv {
		v.SetDefault(key, "")
	}
}

// Load reads configuration. When path is empty a postflow.yaml in the
// working directory is used if present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("postflow")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range credentialEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("error binding environment variable %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if c.Scheduler.ProcessCron != "" {
		if _, err := cron.ParseStandard(c.Scheduler.ProcessCron); err != nil {
			return fmt.Errorf("configuration validation failed: scheduler.process_cron: %w", err)
		}
	}
	return nil
}
