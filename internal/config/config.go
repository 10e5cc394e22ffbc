package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server           ServerConfig
	DynamoDB         DynamoDBConfig
	Redis            RedisConfig
	JWT              JWTConfig
	OTP              OTPConfig
	ClientOrigin     string
	Production       bool
	RevokeAllOnReuse bool
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type OTPConfig struct {
	Provider         string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioVerifySID  string
	RequestTimeout   time.Duration
	CodeLength       int
	CodeExpiry       time.Duration
	MaxAttempts      int
}

const (
	ProviderTwilio    = "twilio"
	ProviderSimulator = "simulator"
)

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "PinMapAuth"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			AccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
			RefreshSecret: getEnv("JWT_REFRESH_SECRET", ""),
			AccessTTL:     time.Duration(getEnvAsInt("ACCESS_TOKEN_TTL", 180)) * time.Second,
			RefreshTTL:    time.Duration(getEnvAsInt("REFRESH_TOKEN_TTL", 604800)) * time.Second,
		},
		OTP: OTPConfig{
			Provider:         getEnv("OTP_PROVIDER", ProviderSimulator),
			TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			TwilioVerifySID:  getEnv("TWILIO_VERIFY_SERVICE_SID", ""),
			RequestTimeout:   getEnvAsDuration("OTP_REQUEST_TIMEOUT", 10*time.Second),
			CodeLength:       getEnvAsInt("OTP_LENGTH", 6),
			CodeExpiry:       getEnvAsDuration("OTP_EXPIRY", 10*time.Minute),
			MaxAttempts:      getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
		},
		ClientOrigin:     getEnv("CLIENT_URL", "http://localhost:3000"),
		Production:       getEnv("APP_ENV", "development") == "production",
		RevokeAllOnReuse: getEnvAsBool("REVOKE_ALL_ON_REUSE", true),
	}

	if cfg.JWT.AccessSecret == "" || cfg.JWT.RefreshSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET environment variables are required")
	}

	if len(cfg.JWT.AccessSecret) < 32 || len(cfg.JWT.RefreshSecret) < 32 {
		return nil, fmt.Errorf("JWT secrets must be at least 32 bytes (256 bits)")
	}

	if cfg.JWT.AccessSecret == cfg.JWT.RefreshSecret {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must be distinct")
	}

	switch cfg.OTP.Provider {
	case ProviderSimulator:
	case ProviderTwilio:
		if cfg.OTP.TwilioAccountSID == "" || cfg.OTP.TwilioAuthToken == "" || cfg.OTP.TwilioVerifySID == "" {
			return nil, fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_VERIFY_SERVICE_SID are required when OTP_PROVIDER=twilio")
		}
	default:
		return nil, fmt.Errorf("unknown OTP_PROVIDER %q", cfg.OTP.Provider)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
