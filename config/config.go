package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// This function will Load the ENVIORNMENT VARIABLES from .env if GO_ENV variable is not set
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		err := godotenv.Load()
		if err != nil {
			return err
		}
	}

	return nil
}

type EnviornmentVariable struct {
	// All variables
	GO_ENV       string
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string
	PORT         int
	// JWT Configuration (tokens are issued by the auth service, we only verify them)
	JWT_SECRET string
	JWT_ISSUER string
	// Redis Configuration
	REDIS_URL       string
	REDIS_NAMESPACE string
	// DigitalOcean Configuration
	DO_SPACES_ACCESS_KEY   string
	DO_SPACES_SECRET_KEY   string
	DO_SPACES_BUCKET       string
	DO_SPACES_REGION       string
	DO_SPACES_ENDPOINT     string
	DO_SPACES_CDN_ENDPOINT string
	MODEL_ACCESS_KEY       string
	INFERENCE_BASE_URL     string
	INFERENCE_MODEL        string
	// Completion service limits
	COMPLETION_TIMEOUT time.Duration
	COMPLETION_RPS     float64
	COMPLETION_BURST   int
	// Pipeline tuning
	PIPELINE_MAX_CONCURRENT int
	PIPELINE_STALE_AFTER    time.Duration
	CHAPTER_DELAY           time.Duration
	STATUS_CACHE_TTL        time.Duration
	CRON_ENABLED            bool
	ALLOWED_ORIGINS         string
}

func Get() (*EnviornmentVariable, error) {

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		port = 8080
	}

	// Database defaults
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}

	dbPort := os.Getenv("DB_PORT")
	if dbPort == "" {
		dbPort = "5432"
	}

	dbSSLMode := os.Getenv("DB_SSL_MODE")
	if dbSSLMode == "" {
		dbSSLMode = "disable"
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000,http://localhost:3001"
	}

	envVariables := &EnviornmentVariable{
		GO_ENV:       os.Getenv("GO_ENV"),
		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      dbHost,
		DB_PORT:      dbPort,
		DB_SSL_MODE:  dbSSLMode,
		PORT:         port,
		// JWT
		JWT_SECRET: os.Getenv("JWT_SECRET"),
		JWT_ISSUER: getString("JWT_ISSUER", "study-textbook-api"),
		// Redis
		REDIS_URL:       redisURL,
		REDIS_NAMESPACE: getString("REDIS_NAMESPACE", "study-textbook:"),
		// DigitalOcean
		DO_SPACES_ACCESS_KEY:   os.Getenv("DO_SPACES_ACCESS_KEY"),
		DO_SPACES_SECRET_KEY:   os.Getenv("DO_SPACES_SECRET_KEY"),
		DO_SPACES_BUCKET:       os.Getenv("DO_SPACES_BUCKET"),
		DO_SPACES_REGION:       os.Getenv("DO_SPACES_REGION"),
		DO_SPACES_ENDPOINT:     os.Getenv("DO_SPACES_ENDPOINT"),
		DO_SPACES_CDN_ENDPOINT: os.Getenv("DO_SPACES_CDN_ENDPOINT"),
		MODEL_ACCESS_KEY:       os.Getenv("MODEL_ACCESS_KEY"),
		INFERENCE_BASE_URL:     getString("INFERENCE_BASE_URL", "https://inference.do-ai.run/v1"),
		INFERENCE_MODEL:        getString("INFERENCE_MODEL", "openai-gpt-oss-120b"),
		// Completion limits
		COMPLETION_TIMEOUT: getDuration("COMPLETION_TIMEOUT", 30*time.Second),
		COMPLETION_RPS:     getFloat("COMPLETION_RPS", 1),
		COMPLETION_BURST:   getInt("COMPLETION_BURST", 3),
		// Pipeline
		PIPELINE_MAX_CONCURRENT: getInt("PIPELINE_MAX_CONCURRENT", 4),
		PIPELINE_STALE_AFTER:    getDuration("PIPELINE_STALE_AFTER", 10*time.Minute),
		CHAPTER_DELAY:           getDuration("CHAPTER_DELAY", 2*time.Second),
		STATUS_CACHE_TTL:        getDuration("STATUS_CACHE_TTL", 2*time.Second),
		CRON_ENABLED:            os.Getenv("CRON_ENABLED") != "false", // Default to enabled
		ALLOWED_ORIGINS:         allowedOrigins,
	}

	return envVariables, nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// getDuration accepts Go duration strings ("30s", "2m") and falls back on anything else
func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
