package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config — вся конфигурация сервиса. Загружается из yaml + env (HOTSPOTD_*).
type Config struct {
	Server   Server   `mapstructure:"server"`
	Logging  Logging  `mapstructure:"logging"`
	Database Database `mapstructure:"database"`
	Mikrotik Mikrotik `mapstructure:"mikrotik"`
}

type Server struct {
	Address  string `mapstructure:"address"`
	HTTPPort string `mapstructure:"http_port"`
}

type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" | "json"
	File   string `mapstructure:"file"`
}

type Database struct {
	Driver string `mapstructure:"driver"` // "mysql" | "postgres" | "sqlite" | "" (без БД)
	DSN    string `mapstructure:"dsn"`
}

// Mikrotik — параметры подключения к роутерам.
type Mikrotik struct {
	// DialTimeoutSec — таймаут одной попытки подключения (на стратегию).
	DialTimeoutSec int `mapstructure:"dial_timeout_sec"`
	// TLSSkipVerify — роутеры почти всегда с self-signed сертификатом.
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`
}

func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.http_port", "8080")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("mikrotik.dial_timeout_sec", 10)
	v.SetDefault("mikrotik.tls_skip_verify", true)

	v.SetEnvPrefix("hotspotd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// допустимые границы таймаута: 1..30 секунд
	if cfg.Mikrotik.DialTimeoutSec < 1 {
		cfg.Mikrotik.DialTimeoutSec = 1
	}
	if cfg.Mikrotik.DialTimeoutSec > 30 {
		cfg.Mikrotik.DialTimeoutSec = 30
	}
	return &cfg, nil
}
