package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	MongoURI string `mapstructure:"mongo_uri" yaml:"mongo_uri"`
	MongoDB  string `mapstructure:"mongo_db" yaml:"mongo_db"`
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`

	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`

	PresenceTTL time.Duration `mapstructure:"presence_ttl" yaml:"presence_ttl"`

	RateLimitMax    int           `mapstructure:"rate_limit_max" yaml:"rate_limit_max"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window" yaml:"rate_limit_window"`

	HistoryLimit    int `mapstructure:"history_limit" yaml:"history_limit"`
	HistoryMaxLimit int `mapstructure:"history_max_limit" yaml:"history_max_limit"`
	MessageMaxLen   int `mapstructure:"message_max_len" yaml:"message_max_len"`
	UsernameMaxLen  int `mapstructure:"username_max_len" yaml:"username_max_len"`

	// ConnMessageLimit is a per-connection backstop applied before the
	// shared Redis limiter, messages per minute. Zero disables it.
	ConnMessageLimit int `mapstructure:"conn_message_limit" yaml:"conn_message_limit"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8000",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",

		MongoDB:  "chatdb",
		RedisURL: "redis://localhost:6379",

		CacheSize: 50,
		CacheTTL:  24 * time.Hour,

		PresenceTTL: 30 * time.Second,

		RateLimitMax:    30,
		RateLimitWindow: time.Minute,

		HistoryLimit:    20,
		HistoryMaxLimit: 100,
		MessageMaxLen:   1000,
		UsernameMaxLen:  50,

		ConnMessageLimit: 120,

		JWTIssuer:   "chatwave",
		JWTAudience: "chatwave-clients",

		AllowedOrigins: []string{"*"},
	}
}

// Validate checks that settings without a usable default are present.
func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return errMissing("mongo_uri")
	}
	if c.JWTSecret == "" {
		return errMissing("jwt_secret")
	}
	return nil
}

type errMissing string

func (e errMissing) Error() string {
	return "config: " + string(e) + " is required"
}
