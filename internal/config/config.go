package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for larkdoc.
type Config struct {
	// Lark/Feishu application credentials. Required: every platform
	// call is made on behalf of this application.
	AppID     string `env:"LARK_APP_ID"`
	AppSecret string `env:"LARK_APP_SECRET"`

	// OAuth redirect target. Must match the URI configured in the
	// platform's developer console for this application.
	RedirectURI string `env:"LARK_REDIRECT_URI" envDefault:"https://forlark.zeabur.app/callback.html"`

	// API base URL overrides, one per region. Defaults are the open
	// platform gateways the original extension shipped with.
	FeishuBaseURL string `env:"FEISHU_BASE_URL" envDefault:"https://fsopen.feishu.cn"`
	LarkBaseURL   string `env:"LARK_BASE_URL" envDefault:"https://fsopen.bytedance.net"`

	// Bridge server settings.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:"127.0.0.1:8091"`

	// EnableMCP exposes the document pipeline as MCP tools on /mcp.
	EnableMCP bool `env:"ENABLE_MCP" envDefault:"false"`

	// AI backend selection and credentials. Model is one of
	// "zhipu", "gemini", or "custom" (OpenAI-compatible).
	AIModel         string `env:"AI_MODEL" envDefault:"zhipu"`
	ZhipuAPIKey     string `env:"ZHIPU_API_KEY"`
	GeminiAPIKey    string `env:"GEMINI_API_KEY"`
	CustomAPIKey    string `env:"CUSTOM_API_KEY"`
	CustomAPIURL    string `env:"CUSTOM_API_URL"`
	CustomModelName string `env:"CUSTOM_MODEL_NAME"`
	GeminiModelName string `env:"GEMINI_MODEL_NAME" envDefault:"gemini-3-flash-preview"`

	// PromptsFile optionally points at a YAML file overriding the
	// built-in quick-prompt templates.
	PromptsFile string `env:"PROMPTS_FILE"`

	// StateDB overrides the state database location. Empty means
	// ~/.larkdoc/state.db.
	StateDB string `env:"STATE_DB"`

	// Environment controls log format; LogLevel the production level.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the app secret to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.AppID == "" {
		return fmt.Errorf("LARK_APP_ID is required")
	}

	if c.AppSecret == "" {
		return fmt.Errorf("LARK_APP_SECRET is required")
	}

	switch c.AIModel {
	case "zhipu", "gemini", "custom":
	default:
		return fmt.Errorf("AI_MODEL must be one of zhipu, gemini, custom (got %q)", c.AIModel)
	}

	if c.AIModel == "custom" && c.CustomAPIURL == "" {
		return fmt.Errorf("CUSTOM_API_URL is required when AI_MODEL is custom")
	}

	return nil
}

// StateDBPath returns the configured state database path, defaulting
// to ~/.larkdoc/state.db.
func (c *Config) StateDBPath() (string, error) {
	if c.StateDB != "" {
		return c.StateDB, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".larkdoc", "state.db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
