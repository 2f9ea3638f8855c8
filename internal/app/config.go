package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/ashcz/coinwatch/internal/database"
	"github.com/ashcz/coinwatch/internal/markets/coingecko"
	"github.com/ashcz/coinwatch/internal/posts"
)

// Config represents the runtime configuration for the coinwatch backend.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	CoinGecko  CoinGeckoConfig  `mapstructure:"coingecko"`
	Posts      PostsConfig      `mapstructure:"posts"`
	Markets    MarketsConfig    `mapstructure:"markets"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CoinGeckoConfig holds the market data source settings.
type CoinGeckoConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
	PerPage int           `mapstructure:"per_page"`
}

// PostsConfig holds the post feed source settings.
type PostsConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MarketsConfig tunes snapshot retention.
type MarketsConfig struct {
	Retention RetentionConfig `mapstructure:"retention"`
}

// RetentionConfig controls the background snapshot pruner.
type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	MaxAge   time.Duration `mapstructure:"max_age"`
	Schedule string        `mapstructure:"schedule"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DatabaseSettings adapts the database section for the database package.
func (c DatabaseConfig) DatabaseSettings() database.Config {
	return database.Config{
		Driver: c.Driver,
		Path:   c.Path,
		DSN:    c.DSN,
		Postgres: database.AuthConfig{
			Host:     c.Postgres.Host,
			Port:     c.Postgres.Port,
			Database: c.Postgres.Database,
			Username: c.Postgres.Username,
			Password: c.Postgres.Password,
		},
		MySQL: database.AuthConfig{
			Host:     c.MySQL.Host,
			Port:     c.MySQL.Port,
			Database: c.MySQL.Database,
			Username: c.MySQL.Username,
			Password: c.MySQL.Password,
		},
	}
}

// ClientConfig adapts the coingecko section for the API client.
func (c CoinGeckoConfig) ClientConfig() coingecko.Config {
	return coingecko.Config{
		BaseURL: c.BaseURL,
		APIKey:  c.APIKey,
		Timeout: c.Timeout,
		PerPage: c.PerPage,
	}
}

// ClientConfig adapts the posts section for the feed client.
func (c PostsConfig) ClientConfig() posts.Config {
	return posts.Config{
		BaseURL: c.BaseURL,
		Timeout: c.Timeout,
	}
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("COINWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/coinwatch.sqlite")

	v.SetDefault("coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("coingecko.api_key", "")
	v.SetDefault("coingecko.timeout", "10s")
	v.SetDefault("coingecko.per_page", 100)

	v.SetDefault("posts.base_url", "https://jsonplaceholder.typicode.com")
	v.SetDefault("posts.timeout", "10s")

	v.SetDefault("markets.retention.enabled", true)
	v.SetDefault("markets.retention.max_age", "168h") // 7 days
	v.SetDefault("markets.retention.schedule", "@hourly")

	v.SetDefault("monitoring.prometheus.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
