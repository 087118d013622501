// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries gateway runtime settings. Environment variables win over
// the optional YAML file, which wins over defaults.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`

	CallTimeout time.Duration `yaml:"call_timeout"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
	BreakerCoolDown         time.Duration `yaml:"breaker_cool_down"`

	AdminJWTSecret string `yaml:"admin_jwt_secret"`

	DatabaseURLSecretARN string `yaml:"database_url_secret_arn"`
	AWSRegion            string `yaml:"aws_region"`
}

// LoadConfig assembles configuration from defaults, the YAML file named
// by GATEWAY_CONFIG_FILE if set, and environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:                    "8080",
		CallTimeout:             30 * time.Second,
		RateLimitPerMinute:      100,
		BreakerFailureThreshold: 5,
		BreakerCoolDown:         30 * time.Second,
	}

	if path := os.Getenv("GATEWAY_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.AdminJWTSecret = getEnv("ADMIN_JWT_SECRET", cfg.AdminJWTSecret)
	cfg.DatabaseURLSecretARN = getEnv("DATABASE_URL_SECRET_ARN", cfg.DatabaseURLSecretARN)
	cfg.AWSRegion = getEnv("AWS_REGION", cfg.AWSRegion)

	if v := os.Getenv("CALL_TIMEOUT_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CALL_TIMEOUT_SECONDS: %w", err)
		}
		cfg.CallTimeout = time.Duration(seconds) * time.Second
	}
	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %w", err)
		}
		cfg.RateLimitPerMinute = limit
	}
	if v := os.Getenv("BREAKER_FAILURE_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BREAKER_FAILURE_THRESHOLD: %w", err)
		}
		cfg.BreakerFailureThreshold = n
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
