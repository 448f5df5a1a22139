package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`

	GitHub   GitHubConfig   `mapstructure:"github"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Firehose FirehoseConfig `mapstructure:"firehose"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Workers  WorkersConfig  `mapstructure:"workers"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	EventCleanup string `mapstructure:"event_cleanup"`
	RequeueSweep string `mapstructure:"requeue_sweep"`
}

type GitHubConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ScannerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	PageLimit int           `mapstructure:"page_limit"`
	MaxPages  int           `mapstructure:"max_pages"`
	Resume    bool          `mapstructure:"resume"`
}

type FirehoseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type PipelineConfig struct {
	// ShedDepth is the queue depth above which normal-priority jobs are
	// admitted but no longer auto-dispatched.
	ShedDepth      int           `mapstructure:"shed_depth"`
	EventRetention time.Duration `mapstructure:"event_retention"`
}

type WorkersConfig struct {
	Count        int           `mapstructure:"count"`
	QueueDepth   int           `mapstructure:"queue_depth"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
	MaxHighBurst int           `mapstructure:"max_high_burst"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.event_cleanup", "@every 1h")
	v.SetDefault("cron.requeue_sweep", "@every 30s")

	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.timeout", "15s")

	v.SetDefault("scanner.enabled", true)
	v.SetDefault("scanner.interval", "10m")
	v.SetDefault("scanner.page_limit", 50)
	v.SetDefault("scanner.max_pages", 3)
	v.SetDefault("scanner.resume", true)

	v.SetDefault("firehose.enabled", false)
	v.SetDefault("firehose.url", "")

	v.SetDefault("pipeline.shed_depth", 64)
	v.SetDefault("pipeline.event_retention", "720h")

	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.queue_depth", 128)
	v.SetDefault("workers.job_timeout", "2m")
	v.SetDefault("workers.max_high_burst", 4)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
