package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// Config is the top-level configuration for the agent process.
type Config struct {
	Server     ServerConfig     `json:"server"`
	LLM        LLMConfig        `json:"llm"`
	Controller ControllerConfig `json:"controller"`
	Telegram   TelegramConfig   `json:"telegram"`
	Mode       ModeConfig       `json:"mode"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Audit      AuditConfig      `json:"audit"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig configures the process-wide shutdown/metrics surface.
type ServerConfig struct {
	MetricsPort int           `json:"metrics_port"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// LLMConfig selects and configures the active LLM provider.
type LLMConfig struct {
	// Provider is one of "anthropic", "openai", "google", "bedrock".
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key"`
	// BaseURL overrides the default endpoint, used for OpenAI-compatible
	// gateways (Azure, local inference servers).
	BaseURL string `json:"base_url"`
	// Region is consulted only by the Bedrock adapter.
	Region string `json:"region"`
	// MaxToolIterations bounds the tool-calling loop per conversation turn.
	MaxToolIterations int `json:"max_tool_iterations"`
}

// ControllerConfig configures the Home-Assistant-style controller client.
type ControllerConfig struct {
	BaseURL string        `json:"base_url"`
	Token   string        `json:"token"`
	Timeout time.Duration `json:"timeout"`
}

// TelegramConfig configures the inbound/outbound bot channel.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	// AllowedUserIDs restricts which Telegram user IDs may drive the agent.
	AllowedUserIDs []int64 `json:"allowed_user_ids"`
}

// ModeConfig configures the operating-mode state machine.
type ModeConfig struct {
	YOLODuration time.Duration `json:"yolo_duration"`
}

// RateLimitConfig configures the sliding-window tool rate limiter.
type RateLimitConfig struct {
	Enabled              bool          `json:"enabled"`
	Window               time.Duration `json:"window"`
	DeletionsPerHour     int           `json:"deletions_per_hour"`
	ModificationsPerHour int           `json:"modifications_per_hour"`
}

// AuditConfig configures the SQLite-backed audit/memory store.
type AuditConfig struct {
	DatabasePath string `json:"database_path"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
}

// Load reads an options file (JSON/JSON5) from path, applies defaults,
// layers environment-variable overrides on top, and validates the result.
// path may be empty, in which case only defaults and env overrides apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			expanded := os.ExpandEnv(string(data))
			if err := json5.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.MaxToolIterations == 0 {
		cfg.LLM.MaxToolIterations = 10
	}
	if cfg.Controller.Timeout == 0 {
		cfg.Controller.Timeout = 10 * time.Second
	}
	if cfg.Mode.YOLODuration == 0 {
		cfg.Mode.YOLODuration = 10 * time.Minute
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Hour
	}
	if cfg.RateLimit.DeletionsPerHour == 0 {
		cfg.RateLimit.DeletionsPerHour = 5
	}
	if cfg.RateLimit.ModificationsPerHour == 0 {
		cfg.RateLimit.ModificationsPerHour = 20
	}
	if cfg.Audit.DatabasePath == "" {
		cfg.Audit.DatabasePath = "agent.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyEnvOverrides layers AGENT_-prefixed environment variables over the
// file-decoded config, matching the teacher's prefixed-env-override shape.
func applyEnvOverrides(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv("AGENT_LLM_PROVIDER")); value != "" {
		cfg.LLM.Provider = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENT_LLM_MODEL")); value != "" {
		cfg.LLM.Model = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENT_LLM_API_KEY")); value != "" {
		cfg.LLM.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENT_LLM_BASE_URL")); value != "" {
		cfg.LLM.BaseURL = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENT_CONTROLLER_BASE_URL")); value != "" {
		cfg.Controller.BaseURL = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENT_CONTROLLER_TOKEN")); value != "" {
		cfg.Controller.Token = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENT_TELEGRAM_TOKEN")); value != "" {
		cfg.Telegram.Token = value
		cfg.Telegram.Enabled = true
	}
	if value := strings.TrimSpace(os.Getenv("AGENT_AUDIT_DATABASE_PATH")); value != "" {
		cfg.Audit.DatabasePath = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENT_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGENT_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
}

// ConfigValidationError reports one or more configuration problems found
// during Load.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	var issues []string

	switch cfg.LLM.Provider {
	case "anthropic", "openai", "google", "bedrock":
	default:
		issues = append(issues, fmt.Sprintf("llm.provider %q is not one of anthropic, openai, google, bedrock", cfg.LLM.Provider))
	}
	if cfg.Controller.BaseURL == "" {
		issues = append(issues, "controller.base_url is required")
	}
	if cfg.Controller.Token == "" {
		issues = append(issues, "controller.token is required")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		issues = append(issues, "telegram.token is required when telegram.enabled is true")
	}
	if cfg.LLM.MaxToolIterations <= 0 {
		issues = append(issues, "llm.max_tool_iterations must be > 0")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
