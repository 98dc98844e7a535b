package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting the service reads.
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Store     StoreConfig
	Telemetry TelemetryConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	store := StoreConfig{Dir: getEnvOrDefault("SESSIONS_DIR", "sessions")}

	telemetry, err := loadTelemetryConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Store: store, Telemetry: telemetry}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the language-model backends and prompt settings.
type AIConfig struct {
	// Ark backend.
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	// OpenAI backend, used when Ark credentials are absent.
	OpenAIAPIKey string
	OpenAIModel  string

	SystemPrompt        string
	StreamResponse      bool
	SentimentLLMEnabled bool
	ModelTimeoutSeconds int
	MaxInFlight         int
}

// ArkEnabled reports whether the Ark credentials are complete.
func (c AIConfig) ArkEnabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// OpenAIEnabled reports whether the OpenAI fallback is configured.
func (c AIConfig) OpenAIEnabled() bool {
	return c.OpenAIAPIKey != "" && c.OpenAIModel != ""
}

// Enabled reports whether any model backend can be constructed.
func (c AIConfig) Enabled() bool {
	return c.ArkEnabled() || c.OpenAIEnabled()
}

// NewArkChatModel builds the Ark-backed chat model from this configuration.
func (c AIConfig) NewArkChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("ark credentials or model missing, provide ARK_API_KEY + ARK_MODEL or the AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	sentimentEnabled, err := parseBoolEnv("SENTIMENT_LLM_ENABLED", false)
	if err != nil {
		return AIConfig{}, err
	}

	timeoutSeconds := 60
	if timeoutOverride, err := parseOptionalIntEnv("MODEL_TIMEOUT_SECONDS"); err != nil {
		return AIConfig{}, err
	} else if timeoutOverride != nil && *timeoutOverride > 0 {
		timeoutSeconds = *timeoutOverride
	}

	maxInFlight := 8
	if inFlightOverride, err := parseOptionalIntEnv("MAX_IN_FLIGHT_CALLS"); err != nil {
		return AIConfig{}, err
	} else if inFlightOverride != nil && *inFlightOverride > 0 {
		maxInFlight = *inFlightOverride
	}

	systemPrompt, err := loadSystemPrompt()
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:              strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:           strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:           strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:               strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:             getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:              getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:         temperature,
		TopP:                topP,
		MaxTokens:           maxTokens,
		OpenAIAPIKey:        strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:         strings.TrimSpace(os.Getenv("OPENAI_MODEL")),
		SystemPrompt:        systemPrompt,
		StreamResponse:      stream,
		SentimentLLMEnabled: sentimentEnabled,
		ModelTimeoutSeconds: timeoutSeconds,
		MaxInFlight:         maxInFlight,
	}, nil
}

// loadSystemPrompt prefers the inline SYSTEM_PROMPT variable, then a file
// referenced by SYSTEM_PROMPT_FILE. Empty means the built-in default.
func loadSystemPrompt() (string, error) {
	if prompt := strings.TrimSpace(os.Getenv("SYSTEM_PROMPT")); prompt != "" {
		return prompt, nil
	}

	path := strings.TrimSpace(os.Getenv("SYSTEM_PROMPT_FILE"))
	if path == "" {
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read SYSTEM_PROMPT_FILE: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// StoreConfig locates the durable session records.
type StoreConfig struct {
	Dir string
}

// TelemetryConfig describes the analytics sink; an empty DBPath disables it.
type TelemetryConfig struct {
	DBPath string
	Buffer int
}

func loadTelemetryConfig() (TelemetryConfig, error) {
	buffer := 64
	if bufferOverride, err := parseOptionalIntEnv("TELEMETRY_BUFFER"); err != nil {
		return TelemetryConfig{}, err
	} else if bufferOverride != nil && *bufferOverride > 0 {
		buffer = *bufferOverride
	}

	return TelemetryConfig{
		DBPath: strings.TrimSpace(os.Getenv("TELEMETRY_DB")),
		Buffer: buffer,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
