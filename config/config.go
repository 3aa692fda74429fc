package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// Config is the process configuration, read from .env and the environment.
type Config struct {
	Env           string `validate:"required"`
	Port          string `validate:"required,numeric"`
	StoreBackend  string `validate:"oneof=mongo memory"`
	MongoURI      string `validate:"required_if=StoreBackend mongo"`
	DBName        string `validate:"required"`
	RedisAddr     string
	RedisPassword string
	RedisDB       int    `validate:"gte=0,lte=15"`
	ServiceAPIKey string `validate:"required_unless=Env development"`
	CORSOrigins   string

	CommissionFanoutLimit int `validate:"gte=1,lte=5"`
	AccrualWorkers        int `validate:"gte=1,lte=64"`
	AccrualScheduleDay    int `validate:"gte=1,lte=28"`

	LogFormat string `validate:"oneof=json text"`
	LogLevel  string `validate:"required"`
}

// IsDevelopment reports whether the process runs with ENV=development or dev.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "dev"
}

// Load reads .env when present, then the environment, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	env := orDefault(getenv("ENV"), "production")
	if env == "dev" {
		env = "development"
	}
	mongoURI := getenv("MONGO_URI")
	if mongoURI == "" {
		mongoURI = getenv("MONGODB_URI")
	}
	if mongoURI == "" && env == "development" {
		mongoURI = "mongodb://localhost:27017/?replicaSet=rs0"
	}

	defaultFormat := "json"
	if env == "development" {
		defaultFormat = "text"
	}

	cfg := &Config{
		Env:           env,
		Port:          orDefault(getenv("PORT"), "8080"),
		StoreBackend:  strings.ToLower(orDefault(getenv("STORE_BACKEND"), BackendMongo)),
		MongoURI:      mongoURI,
		DBName:        orDefault(getenv("DB_NAME"), "mlm_ledger"),
		RedisAddr:     getenv("REDIS_ADDR"),
		RedisPassword: getenv("REDIS_PASSWORD"),
		ServiceAPIKey: getenv("SERVICE_API_KEY"),
		CORSOrigins:   getenv("CORS_ALLOWED_ORIGINS"),
		LogFormat:     strings.ToLower(orDefault(getenv("LOG_FORMAT"), defaultFormat)),
		LogLevel:      strings.ToLower(orDefault(getenv("LOG_LEVEL"), "info")),
	}

	var err error
	if cfg.RedisDB, err = intOr(getenv, "REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.CommissionFanoutLimit, err = intOr(getenv, "COMMISSION_FANOUT_LIMIT", 5); err != nil {
		return nil, err
	}
	if cfg.AccrualWorkers, err = intOr(getenv, "ACCRUAL_WORKERS", 8); err != nil {
		return nil, err
	}
	if cfg.AccrualScheduleDay, err = intOr(getenv, "ACCRUAL_SCHEDULE_DAY", 1); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid configuration: LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger from LOG_FORMAT and LOG_LEVEL.
func NewLogger(cfg *Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intOr(getenv func(string) string, key string, def int) (int, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid configuration: %s=%q is not an integer", key, raw)
	}
	return n, nil
}
