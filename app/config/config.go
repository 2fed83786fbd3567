package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment         EnvironmentConfig
	Server              ServerConfig
	Database            DatabaseConfig
	DatabaseConnections DatabaseConnectionsConfig
	Redis               RedisConfig
	JWT                 JWTConfig
	Encryption          EncryptionConfig
	RateLimit           RateLimitConfig
	Reconnect           ReconnectConfig
	Suggest             SuggestConfig
	Tracing             TracingConfig
}

type EnvironmentConfig struct {
	Current string
}

type ServerConfig struct {
	Port         string
	CookieSecure bool
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type DatabaseConnectionsConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey string
}

// EncryptionConfig carries the shared message key: 32 hex characters.
type EncryptionConfig struct {
	Key string
}

type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

type ReconnectConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	RetryDelay  time.Duration
}

type SuggestConfig struct {
	URL     string
	Timeout time.Duration
}

type TracingConfig struct {
	Enabled     bool
	JaegerURL   string
	ServiceName string
}

func LoadConfig() (config Config, err error) {
	viper.SetConfigName("app")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return config, err
		}
	}

	viper.AutomaticEnv()

	viper.SetDefault("environment.current", "development")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "securechat")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("databaseconnections.maxopen", 25)
	viper.SetDefault("databaseconnections.maxidle", 10)
	viper.SetDefault("databaseconnections.maxlifetime", 5*time.Minute)
	viper.SetDefault("databaseconnections.maxidletime", 2*time.Minute)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secretkey", "your_default_secret_change_in_production")
	viper.SetDefault("encryption.key", "")
	viper.SetDefault("ratelimit.maxrequests", 100)
	viper.SetDefault("ratelimit.window", time.Minute)
	viper.SetDefault("reconnect.maxattempts", 5)
	viper.SetDefault("reconnect.basedelay", time.Second)
	viper.SetDefault("reconnect.maxdelay", 5*time.Second)
	viper.SetDefault("reconnect.retrydelay", time.Second)
	viper.SetDefault("suggest.url", "")
	viper.SetDefault("suggest.timeout", 5*time.Second)
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.jaegerurl", "http://localhost:14268/api/traces")
	viper.SetDefault("tracing.servicename", "securechat")

	err = viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config.JWT.SecretKey == "your_default_secret_change_in_production" {
		log.Println("WARNING: Using default JWT secret key. This is insecure for production.")
	}

	return config, nil
}
