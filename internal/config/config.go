package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTesting     Environment = "testing"
)

func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvProduction, EnvTesting:
		return true
	}
	return false
}

type Config struct {
	Server     Server
	Database   Database
	OAuth      OAuth
	Vault      Vault
	Federation Federation
	RateLimit  RateLimit
	Cache      Cache
	BaseURL    string
}

type Server struct {
	Port           int
	Environment    Environment
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
}

func (s Server) IsProduction() bool {
	return s.Environment == EnvProduction
}

// GetBaseURL returns the configured base URL or constructs one from server config
func (c Config) GetBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}

	scheme := "http"
	if c.Server.IsProduction() {
		scheme = "https"
	}
	return fmt.Sprintf("%s://localhost:%d", scheme, c.Server.Port)
}

type Database struct {
	URL             string
	MaxOpenConns    int32
	MaxIdleConns    int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type OAuth struct {
	// SigningKeyPEM holds the RS256 private key in PKCS#8 PEM form.
	// Required in production; a throwaway key is generated in development.
	SigningKeyPEM string
	SigningKeyID  string
	TokenTTL      time.Duration
	AuthCodeTTL   time.Duration
}

type Vault struct {
	// MasterKey is the secret all tenant encryption keys are derived from.
	MasterKey string
}

type Federation struct {
	Issuer   string
	JWKSURL  string
	Audience string
}

type RateLimit struct {
	Enabled        bool
	OAuthRequests  int
	APIRequests    int
	PublicRequests int
	WindowDuration time.Duration
}

type Cache struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	DefaultTTL    time.Duration
	ClientTTL     time.Duration
}

// Load loads configuration from the environment with proper error handling
func Load() (Config, error) {
	var config Config
	var err error

	config.Server.Port, err = getEnvIntSafe("SERVER_PORT", 8080, false)
	if err != nil {
		return config, fmt.Errorf("server port config error: %w", err)
	}

	config.Server.Environment, err = getEnvEnvironmentSafe("SERVER_ENVIRONMENT", EnvDevelopment, false)
	if err != nil {
		return config, fmt.Errorf("server environment config error: %w", err)
	}

	config.Server.WriteTimeout, err = getEnvDurationSafe("SERVER_WRITE_TIMEOUT", 15*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("server write timeout config error: %w", err)
	}

	config.Server.ReadTimeout, err = getEnvDurationSafe("SERVER_READ_TIMEOUT", 15*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("server read timeout config error: %w", err)
	}

	config.Server.IdleTimeout, err = getEnvDurationSafe("SERVER_IDLE_TIMEOUT", 60*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("server idle timeout config error: %w", err)
	}

	config.Server.MaxHeaderBytes, err = getEnvIntSafe("SERVER_MAX_HEADER_BYTES", 1<<20, false)
	if err != nil {
		return config, fmt.Errorf("server max header bytes config error: %w", err)
	}

	config.Database.URL, err = getEnvStringSafe("DB_URL", "", true)
	if err != nil {
		return config, fmt.Errorf("database URL config error: %w", err)
	}

	config.Database.MaxOpenConns, err = getEnvInt32Safe("DB_MAX_OPEN_CONNS", 25, false)
	if err != nil {
		return config, fmt.Errorf("database max open conns config error: %w", err)
	}

	config.Database.MaxIdleConns, err = getEnvInt32Safe("DB_MAX_IDLE_CONNS", 5, false)
	if err != nil {
		return config, fmt.Errorf("database max idle conns config error: %w", err)
	}

	config.Database.ConnMaxLifetime, err = getEnvDurationSafe("DB_CONN_MAX_LIFETIME", 5*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("database conn max lifetime config error: %w", err)
	}

	config.Database.ConnMaxIdleTime, err = getEnvDurationSafe("DB_CONN_MAX_IDLE_TIME", 5*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("database conn max idle time config error: %w", err)
	}

	config.OAuth.SigningKeyPEM, err = getEnvStringSafe("SIGNING_KEY", "", false)
	if err != nil {
		return config, fmt.Errorf("signing key config error: %w", err)
	}

	config.OAuth.SigningKeyID, err = getEnvStringSafe("SIGNING_KEY_ID", "authd-key-1", false)
	if err != nil {
		return config, fmt.Errorf("signing key ID config error: %w", err)
	}

	config.OAuth.TokenTTL, err = getEnvDurationSafe("TOKEN_TTL", 720*time.Hour, false)
	if err != nil {
		return config, fmt.Errorf("token TTL config error: %w", err)
	}

	config.OAuth.AuthCodeTTL, err = getEnvDurationSafe("AUTH_CODE_TTL", 10*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("auth code TTL config error: %w", err)
	}

	config.Vault.MasterKey, err = getEnvStringSafe("VAULT_MASTER_KEY", "", true)
	if err != nil {
		return config, fmt.Errorf("vault master key config error: %w", err)
	}

	config.Federation.Issuer, err = getEnvStringSafe("FEDERATED_ISSUER", "", false)
	if err != nil {
		return config, fmt.Errorf("federated issuer config error: %w", err)
	}

	config.Federation.JWKSURL, err = getEnvStringSafe("FEDERATED_JWKS_URL", "", false)
	if err != nil {
		return config, fmt.Errorf("federated JWKS URL config error: %w", err)
	}

	config.Federation.Audience, err = getEnvStringSafe("FEDERATED_AUDIENCE", "", false)
	if err != nil {
		return config, fmt.Errorf("federated audience config error: %w", err)
	}

	config.RateLimit.Enabled, err = getEnvBoolSafe("RATE_LIMIT_ENABLED", true, false)
	if err != nil {
		return config, fmt.Errorf("rate limit enabled config error: %w", err)
	}

	config.RateLimit.OAuthRequests, err = getEnvIntSafe("RATE_LIMIT_OAUTH_REQUESTS", 10, false)
	if err != nil {
		return config, fmt.Errorf("rate limit OAuth requests config error: %w", err)
	}

	config.RateLimit.APIRequests, err = getEnvIntSafe("RATE_LIMIT_API_REQUESTS", 100, false)
	if err != nil {
		return config, fmt.Errorf("rate limit API requests config error: %w", err)
	}

	config.RateLimit.PublicRequests, err = getEnvIntSafe("RATE_LIMIT_PUBLIC_REQUESTS", 60, false)
	if err != nil {
		return config, fmt.Errorf("rate limit public requests config error: %w", err)
	}

	config.RateLimit.WindowDuration, err = getEnvDurationSafe("RATE_LIMIT_WINDOW_DURATION", time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("rate limit window duration config error: %w", err)
	}

	config.Cache.Enabled, err = getEnvBoolSafe("CACHE_ENABLED", true, false)
	if err != nil {
		return config, fmt.Errorf("cache enabled config error: %w", err)
	}

	config.Cache.RedisAddr, err = getEnvStringSafe("REDIS_ADDR", "localhost:6379", false)
	if err != nil {
		return config, fmt.Errorf("Redis address config error: %w", err)
	}

	config.Cache.RedisPassword, err = getEnvStringSafe("REDIS_PASSWORD", "", false)
	if err != nil {
		return config, fmt.Errorf("Redis password config error: %w", err)
	}

	config.Cache.RedisDB, err = getEnvIntSafe("REDIS_DB", 0, false)
	if err != nil {
		return config, fmt.Errorf("Redis DB config error: %w", err)
	}

	config.Cache.RedisPoolSize, err = getEnvIntSafe("REDIS_POOL_SIZE", 10, false)
	if err != nil {
		return config, fmt.Errorf("Redis pool size config error: %w", err)
	}

	config.Cache.DefaultTTL, err = getEnvDurationSafe("CACHE_DEFAULT_TTL", 5*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("cache default TTL config error: %w", err)
	}

	config.Cache.ClientTTL, err = getEnvDurationSafe("CACHE_CLIENT_TTL", 30*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("cache client TTL config error: %w", err)
	}

	config.BaseURL, err = getEnvStringSafe("BASE_URL", "", false)
	if err != nil {
		return config, fmt.Errorf("base URL config error: %w", err)
	}

	return config, nil
}

func getEnvStringSafe(key, defaultValue string, required bool) (string, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return "", fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	return value, nil
}

func getEnvIntSafe(key string, defaultValue int, required bool) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return 0, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}
	return value, nil
}

func getEnvInt32Safe(key string, defaultValue int32, required bool) (int32, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return 0, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := strconv.ParseInt(valueStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}
	return int32(value), nil
}

func getEnvDurationSafe(key string, defaultValue time.Duration, required bool) (time.Duration, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return 0, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be a valid duration: %w", key, err)
	}
	return value, nil
}

func getEnvBoolSafe(key string, defaultValue bool, required bool) (bool, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return false, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("environment variable %s must be a valid boolean: %w", key, err)
	}
	return value, nil
}

func getEnvEnvironmentSafe(key string, defaultValue Environment, required bool) (Environment, error) {
	env, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return "", fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	envValue := Environment(env)
	if !envValue.IsValid() {
		return "", fmt.Errorf("environment variable %s has invalid value: %s", key, env)
	}
	return envValue, nil
}
