package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the delphi agent service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	BrainMode     string
	BrainHTTPURL  string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	StrategyMode          string
	OperatorMode          string
	OperatorAnswerTimeout time.Duration

	DatabaseURL    string
	MaxTreeDepth   int
	RootRunTimeout time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "delphi"),
		AllowAnyOrigin:   false,
		BrainMode:        envOrDefault("BRAIN_ADAPTER_MODE", "auto"),
		BrainHTTPURL:     envTrimmed("BRAIN_HTTP_URL"),
		OpenAIAPIKey:     envTrimmed("OPENAI_API_KEY"),
		OpenAIModel:      envTrimmed("OPENAI_MODEL"),
		OpenAIBaseURL:    envTrimmed("OPENAI_BASE_URL"),
		// Heuristic strategies keep the tree exercisable without a model.
		StrategyMode: envOrDefault("STRATEGY_MODE", "heuristic"),
		OperatorMode: envOrDefault("OPERATOR_MODE", "live"),
		// Unanswered operator questions become declines after this long.
		// Zero waits forever.
		OperatorAnswerTimeout: 5 * time.Minute,
		DatabaseURL:           envTrimmed("DATABASE_URL"),
		MaxTreeDepth:          3,
		RootRunTimeout:        30 * time.Minute,
		ShutdownTimeout:       15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.OperatorAnswerTimeout, err = durationFromEnv("OPERATOR_ANSWER_TIMEOUT", cfg.OperatorAnswerTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RootRunTimeout, err = durationFromEnv("ROOT_RUN_TIMEOUT", cfg.RootRunTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxTreeDepth, err = intFromEnv("MAX_TREE_DEPTH", cfg.MaxTreeDepth)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.StrategyMode)) {
	case "heuristic", "brain":
	default:
		return Config{}, fmt.Errorf("invalid STRATEGY_MODE: %q (expected heuristic|brain)", cfg.StrategyMode)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.OperatorMode)) {
	case "live", "auto":
	default:
		return Config{}, fmt.Errorf("invalid OPERATOR_MODE: %q (expected live|auto)", cfg.OperatorMode)
	}
	if cfg.MaxTreeDepth < 0 {
		return Config{}, fmt.Errorf("MAX_TREE_DEPTH must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: invalid boolean %q", key, v)
	}
}
