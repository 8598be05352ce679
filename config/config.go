package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/draftmill/draftmill/errors"
)

// Config is the full daemon configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Timer    TimerConfig    `mapstructure:"timer"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Publish  PublishConfig  `mapstructure:"publish"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type QueueConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

type TimerConfig struct {
	MaxDelaySeconds int `mapstructure:"max_delay_seconds"`
}

// MaxDelay returns the timer clamp as a duration.
func (c TimerConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySeconds) * time.Second
}

// PipelineConfig points at the external content-generation service.
type PipelineConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout returns the per-generation request timeout as a duration.
func (c PipelineConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type PublishConfig struct {
	MinWordCount      int     `mapstructure:"min_word_count"`
	MinImageCount     int     `mapstructure:"min_image_count"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	WebhookURL        string  `mapstructure:"webhook_url"`
}

type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "draftmill.db")

	v.SetDefault("queue.max_concurrent", 2)

	v.SetDefault("timer.max_delay_seconds", 21600) // 6h clamp on one timer sleep

	v.SetDefault("pipeline.url", "http://localhost:8085/generate")
	v.SetDefault("pipeline.timeout_seconds", 1800)

	v.SetDefault("publish.min_word_count", 500)
	v.SetDefault("publish.min_image_count", 1)
	v.SetDefault("publish.requests_per_minute", 10)
	v.SetDefault("publish.webhook_url", "")

	v.SetDefault("log.json", false)
}

// Load reads configuration from defaults, an optional config file, and
// DRAFTMILL_-prefixed environment variables, in increasing precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("DRAFTMILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper loads configuration from a provided Viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}
