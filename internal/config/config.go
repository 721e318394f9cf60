package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PIPEJOB_DATABASE_DSN.
const EnvPrefix = "PIPEJOB"

type Config struct {
	Database struct {
		Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Redis struct {
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Worker struct {
		Concurrency int `mapstructure:"concurrency"`
		// Location is the execution location this process serves.
		Location string `mapstructure:"location"`
		// Queues maps every execution location of the deployment to the
		// asynq priority of its queue.
		Queues map[string]int `mapstructure:"queues"`
	} `mapstructure:"worker"`

	Pipeline struct {
		Definitions   string `mapstructure:"definitions"`
		Root          string `mapstructure:"root"`
		ToolsDir      string `mapstructure:"tools_dir"`
		LogDir        string `mapstructure:"log_dir"`
		WorkDirRoot   string `mapstructure:"work_dir_root"`
		KeepWorkDirs  bool   `mapstructure:"keep_work_dirs"`
		JoinBarrier   string `mapstructure:"join_barrier"` // "db" or "redis"
		ProgressLines int    `mapstructure:"progress_lines"`
	} `mapstructure:"pipeline"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // "text" or "json"
	} `mapstructure:"log"`

	Server struct {
		Addr string `mapstructure:"addr"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "pipejob.db")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.location", "local")
	v.SetDefault("worker.queues", map[string]int{"local": 1})
	v.SetDefault("pipeline.definitions", "pipelines.yaml")
	v.SetDefault("pipeline.root", ".")
	v.SetDefault("pipeline.tools_dir", "")
	v.SetDefault("pipeline.log_dir", "")
	v.SetDefault("pipeline.work_dir_root", "")
	v.SetDefault("pipeline.keep_work_dirs", false)
	v.SetDefault("pipeline.join_barrier", "db")
	v.SetDefault("pipeline.progress_lines", 10000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.addr", "")
	v.SetDefault("server.port", 8080)
}

// LoadConfig reads path, or config.yaml from the working directory when path
// is empty, layering PIPEJOB_ environment variables and defaults underneath.
// A missing default config file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	return &config, nil
}

// ListenAddr is the address the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Addr, c.Server.Port)
}

// Distributed reports whether jobs are dispatched through Redis rather than
// run in this process only.
func (c *Config) Distributed() bool {
	return c.Redis.Address != ""
}
