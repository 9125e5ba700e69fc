// config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBPath        string `mapstructure:"db_path"`
	WebTimeout    int    `mapstructure:"web_timeout"`
	HeadlessMode  bool   `mapstructure:"headless_mode"`
	HTTPAddr      string `mapstructure:"http_addr"`
	Storage       string `mapstructure:"storage"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	LogLevel      string `mapstructure:"log_level"`
	Workers       int    `mapstructure:"workers"`
	QueueSize     int    `mapstructure:"queue_size"`
	MaxRetries    int    `mapstructure:"max_retries"`
	UserAgent     string `mapstructure:"user_agent"`
	ChromePath    string `mapstructure:"chrome_path"`
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "automation_tasks.db")
	v.SetDefault("web_timeout", 30)
	v.SetDefault("headless_mode", true)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("storage", "sqlite")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("workers", 1)
	v.SetDefault("queue_size", 100)
	v.SetDefault("max_retries", 3)
	v.SetDefault("user_agent", defaultUserAgent)
	v.SetDefault("chrome_path", "")
}

// 加载顺序：默认值 < 配置文件 < 环境变量。
// cfgFile 为空时在当前目录找 webauto.yaml，找不到只用默认值和环境变量。
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("webauto")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage {
	case "sqlite", "memory", "bolt", "redis":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage)
	}
	if c.WebTimeout <= 0 {
		return fmt.Errorf("web_timeout must be positive, got %d", c.WebTimeout)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be >= 1, got %d", c.QueueSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	return nil
}

// WEB_TIMEOUT 以秒为单位
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.WebTimeout) * time.Second
}
