// Package config centraliza o carregamento de configurações da aplicação.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/JeanGrijp/auth-rate-limiter/internal/core/domain"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	RateLimiter RateLimiterConfig
	Log         LogConfig
	Admin       AdminConfig
}

type ServerConfig struct {
	Port string
}

type StorageConfig struct {
	Type  string
	Redis RedisConfig
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level string
	JSON  bool
}

// AdminConfig protege as rotas de operador; Token vazio desliga essas rotas.
type AdminConfig struct {
	Token string
}

type RateLimiterConfig struct {
	Rules map[domain.ActionType]domain.ActionRule
	// SweepInterval zero mantém apenas a limpeza oportunista feita a cada Check.
	SweepInterval time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	server := ServerConfig{Port: getEnv("SERVER_PORT", "8080")}

	storageType := strings.ToLower(getEnv("STORAGE_TYPE", "memory"))

	redisConfig, err := buildRedisConfig()
	if err != nil {
		return Config{}, err
	}

	rateLimiterConfig, err := buildRateLimiterConfig()
	if err != nil {
		return Config{}, err
	}

	logJSON, err := strconv.ParseBool(getEnv("LOG_JSON", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid LOG_JSON: %w", err)
	}

	return Config{
		Server: server,
		Storage: StorageConfig{
			Type:  storageType,
			Redis: redisConfig,
		},
		RateLimiter: rateLimiterConfig,
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			JSON:  logJSON,
		},
		Admin: AdminConfig{Token: os.Getenv("ADMIN_TOKEN")},
	}, nil
}

func buildRedisConfig() (RedisConfig, error) {
	host := getEnv("REDIS_HOST", "localhost")
	port, err := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}
	db, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	return RedisConfig{
		Host:     host,
		Port:     port,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}, nil
}

func buildRateLimiterConfig() (RateLimiterConfig, error) {
	sweepSeconds, err := strconv.Atoi(getEnv("RATE_LIMIT_SWEEP_INTERVAL_SECONDS", "0"))
	if err != nil {
		return RateLimiterConfig{}, fmt.Errorf("invalid RATE_LIMIT_SWEEP_INTERVAL_SECONDS: %w", err)
	}

	rules := domain.DefaultRules()
	for _, action := range domain.Actions() {
		rule, err := buildActionRule(action, rules[action])
		if err != nil {
			return RateLimiterConfig{}, err
		}
		rules[action] = rule
	}

	return RateLimiterConfig{
		Rules:         rules,
		SweepInterval: time.Duration(sweepSeconds) * time.Second,
	}, nil
}

// buildActionRule aplica RATE_LIMIT_<ACTION>_* sobre a regra padrão da ação.
func buildActionRule(action domain.ActionType, rule domain.ActionRule) (domain.ActionRule, error) {
	prefix := "RATE_LIMIT_" + string(action) + "_"

	if raw := os.Getenv(prefix + "MAX_ATTEMPTS"); strings.TrimSpace(raw) != "" {
		maxAttempts, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return domain.ActionRule{}, fmt.Errorf("invalid %sMAX_ATTEMPTS: %w", prefix, err)
		}
		rule.MaxAttempts = maxAttempts
	}

	if raw := os.Getenv(prefix + "WINDOW_SECONDS"); strings.TrimSpace(raw) != "" {
		windowSeconds, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return domain.ActionRule{}, fmt.Errorf("invalid %sWINDOW_SECONDS: %w", prefix, err)
		}
		rule.Window = time.Duration(windowSeconds) * time.Second
	}

	if raw := os.Getenv(prefix + "BLOCK_DURATION_MINUTES"); strings.TrimSpace(raw) != "" {
		blockMinutes, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return domain.ActionRule{}, fmt.Errorf("invalid %sBLOCK_DURATION_MINUTES: %w", prefix, err)
		}
		rule.BlockDuration = time.Duration(blockMinutes) * time.Minute
	}

	if err := rule.Validate(); err != nil {
		return domain.ActionRule{}, fmt.Errorf("action %s: %w", action, err)
	}
	return rule, nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
