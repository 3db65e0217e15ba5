package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Upstream providers
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

const (
	defaultRealtimeURL = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"
	defaultGeminiModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"
	defaultRecallURL   = "https://us-west-2.recall.ai"
)

// Config holds all relay configuration
type Config struct {
	Port             int
	RelayPath        string // Only websocket path accepted by the relay
	Provider         string // "openai" or "gemini"
	OpenAIAPIKey     string
	RealtimeURL      string
	GeminiAPIKey     string
	GeminiModel      string
	RedisURL         string
	RedisPassword    string
	MaxSessions      int
	MaxPending       int // Pending Queue bound per session, in messages
	HandshakeTimeout time.Duration
	SessionTimeout   time.Duration
	KeepAlivePeriod  time.Duration
	AllowedOrigins   []string

	Recall RecallConfig
}

// RecallConfig holds meeting bot provisioning settings
type RecallConfig struct {
	APIURL              string
	APIKey              string //nolint:gosec // provider token
	BotClientURL        string // Voice client page loaded by the bot camera
	DefaultWebsocketURL string
	RateLimit           float64 // create-bot requests per second per IP
	RateBurst           int
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:             3000,
		RelayPath:        "/",
		Provider:         ProviderOpenAI,
		RealtimeURL:      defaultRealtimeURL,
		GeminiModel:      defaultGeminiModel,
		MaxSessions:      100,
		MaxPending:       1024,
		HandshakeTimeout: 45 * time.Second,
		SessionTimeout:   30 * time.Minute,
		KeepAlivePeriod:  30 * time.Second,
		AllowedOrigins:   []string{"*"},
		Recall: RecallConfig{
			APIURL:    defaultRecallURL,
			RateLimit: 1,
			RateBurst: 5,
		},
	}

	// Optional: UPSTREAM_PROVIDER ("openai" or "gemini")
	if provider := os.Getenv("UPSTREAM_PROVIDER"); provider != "" {
		switch provider {
		case ProviderOpenAI, ProviderGemini:
			config.Provider = provider
		default:
			return nil, fmt.Errorf("invalid UPSTREAM_PROVIDER: must be 'openai' or 'gemini'")
		}
	}

	config.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	// The credential of the selected provider is required
	switch config.Provider {
	case ProviderOpenAI:
		if config.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
		}
	case ProviderGemini:
		if config.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
		}
	}

	var err error

	if config.Port, err = intEnv("PORT", config.Port); err != nil {
		return nil, err
	}

	// Optional: RELAY_PATH
	if path := os.Getenv("RELAY_PATH"); path != "" {
		if !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("invalid RELAY_PATH: must start with '/'")
		}
		config.RelayPath = path
	}

	if realtimeURL := os.Getenv("REALTIME_URL"); realtimeURL != "" {
		config.RealtimeURL = realtimeURL
	}

	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		config.GeminiModel = model
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	if config.MaxSessions, err = intEnv("MAX_SESSIONS", config.MaxSessions); err != nil {
		return nil, err
	}
	if config.MaxSessions <= 0 {
		return nil, fmt.Errorf("invalid MAX_SESSIONS: must be positive")
	}

	if config.MaxPending, err = intEnv("MAX_PENDING_MESSAGES", config.MaxPending); err != nil {
		return nil, err
	}
	if config.MaxPending <= 0 {
		return nil, fmt.Errorf("invalid MAX_PENDING_MESSAGES: must be positive")
	}

	// Optional: HANDSHAKE_TIMEOUT (in seconds)
	if config.HandshakeTimeout, err = durationEnv("HANDSHAKE_TIMEOUT", config.HandshakeTimeout, time.Second); err != nil {
		return nil, err
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if config.SessionTimeout, err = durationEnv("SESSION_TIMEOUT", config.SessionTimeout, time.Minute); err != nil {
		return nil, err
	}

	// Optional: KEEPALIVE_PERIOD (in seconds)
	if config.KeepAlivePeriod, err = durationEnv("KEEPALIVE_PERIOD", config.KeepAlivePeriod, time.Second); err != nil {
		return nil, err
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = splitList(origins)
	}

	if recallURL := os.Getenv("RECALL_API_URL"); recallURL != "" {
		config.Recall.APIURL = strings.TrimRight(recallURL, "/")
	}
	config.Recall.APIKey = os.Getenv("RECALL_API_KEY")
	config.Recall.BotClientURL = os.Getenv("BOT_CLIENT_URL")
	config.Recall.DefaultWebsocketURL = os.Getenv("DEFAULT_WEBSOCKET_URL")

	if limit := os.Getenv("BOT_RATE_LIMIT"); limit != "" {
		l, err := strconv.ParseFloat(limit, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid BOT_RATE_LIMIT: %w", err)
		}
		config.Recall.RateLimit = l
	}

	if config.Recall.RateBurst, err = intEnv("BOT_RATE_BURST", config.Recall.RateBurst); err != nil {
		return nil, err
	}

	return config, nil
}

// Addr returns the listen address for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, fallback, unit time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(n) * unit, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
