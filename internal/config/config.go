package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds configuration for the bot process.
type Config struct {
	TelegramAPIBase        string
	Timeout                int
	SleepSeconds           int
	OpenAIAPIKey           string
	OpenAIAPIBase          string
	DBPath                 string
	PersonasFile           string
	ModelProvider          string
	Commander              string
	DummyProviderScript    string
	DummyCommanderScript   string
	DummySendScript        string
	ProviderTimeoutSeconds int
	MaxConcurrentChats     int
	AdminAddr              string
	LogLevel               string
	LogFormat              string
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment without overriding variables that are already set. A missing
// file is an error only when required is true.
func LoadEnvFile(path string, required bool) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (Config, error) {
	modelProvider := envOrDefault("CHATGRAM_MODEL_PROVIDER", "openai")
	commander := envOrDefault("CHATGRAM_COMMANDER", "telegram")

	switch modelProvider {
	case "openai", "dummy":
	default:
		return Config{}, fmt.Errorf("CHATGRAM_MODEL_PROVIDER must be openai or dummy, got %q", modelProvider)
	}
	switch commander {
	case "telegram", "dummy":
	default:
		return Config{}, fmt.Errorf("CHATGRAM_COMMANDER must be telegram or dummy, got %q", commander)
	}

	telegramToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if commander == "telegram" && telegramToken == "" {
		return Config{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when CHATGRAM_COMMANDER=telegram")
	}
	openaiKey := os.Getenv("OPENAI_API_KEY")
	if modelProvider == "openai" && openaiKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY is required in environment when CHATGRAM_MODEL_PROVIDER=openai")
	}

	telegramBase := strings.TrimRight(envOrDefault("TELEGRAM_API_BASE", "https://api.telegram.org"), "/")
	cfg := Config{
		TelegramAPIBase:        fmt.Sprintf("%s/bot%s", telegramBase, telegramToken),
		Timeout:                envIntOrDefault("TG_TIMEOUT", 30),
		SleepSeconds:           envIntOrDefault("TG_SLEEP_SECONDS", 1),
		OpenAIAPIKey:           openaiKey,
		OpenAIAPIBase:          envOrDefault("OPENAI_API_BASE", "https://api.openai.com/v1"),
		DBPath:                 envOrDefault("CHATGRAM_DB_PATH", "chatgram.db"),
		PersonasFile:           envOrDefault("CHATGRAM_PERSONAS_FILE", "personas.yml"),
		ModelProvider:          modelProvider,
		Commander:              commander,
		DummyProviderScript:    envOrDefault("CHATGRAM_DUMMY_PROVIDER_SCRIPT", "ok"),
		DummyCommanderScript:   envOrDefault("CHATGRAM_DUMMY_COMMANDER_SCRIPT", "ok"),
		DummySendScript:        envOrDefault("CHATGRAM_DUMMY_COMMANDER_SEND_SCRIPT", "ok"),
		ProviderTimeoutSeconds: envIntOrDefault("CHATGRAM_PROVIDER_TIMEOUT_SECONDS", 120),
		MaxConcurrentChats:     envIntOrDefault("CHATGRAM_MAX_CONCURRENT_CHATS", 4),
		AdminAddr:              os.Getenv("CHATGRAM_ADMIN_ADDR"),
		LogLevel:               strings.ToLower(envOrDefault("CHATGRAM_LOG_LEVEL", "info")),
		LogFormat:              strings.ToLower(envOrDefault("CHATGRAM_LOG_FORMAT", "text")),
	}

	if cfg.Timeout < 0 {
		return Config{}, fmt.Errorf("TG_TIMEOUT must be >= 0")
	}
	if cfg.SleepSeconds < 0 {
		return Config{}, fmt.Errorf("TG_SLEEP_SECONDS must be >= 0")
	}
	if cfg.ProviderTimeoutSeconds <= 0 {
		return Config{}, fmt.Errorf("CHATGRAM_PROVIDER_TIMEOUT_SECONDS must be > 0")
	}
	if cfg.MaxConcurrentChats <= 0 {
		return Config{}, fmt.Errorf("CHATGRAM_MAX_CONCURRENT_CHATS must be > 0")
	}
	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("CHATGRAM_LOG_LEVEL: %w", err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return Config{}, fmt.Errorf("CHATGRAM_LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	return cfg, nil
}

// ParseLogLevel maps a level name to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
