package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"LARK_APP_ID",
		"LARK_APP_SECRET",
		"LARK_REDIRECT_URI",
		"FEISHU_BASE_URL",
		"LARK_BASE_URL",
		"LISTEN_ADDR",
		"ENABLE_MCP",
		"AI_MODEL",
		"ZHIPU_API_KEY",
		"GEMINI_API_KEY",
		"CUSTOM_API_KEY",
		"CUSTOM_API_URL",
		"CUSTOM_MODEL_NAME",
		"GEMINI_MODEL_NAME",
		"PROMPTS_FILE",
		"STATE_DB",
		"ENVIRONMENT",
		"LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// setMinimalEnv sets the minimum required env vars.
func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LARK_APP_ID", "cli_test123")
	t.Setenv("LARK_APP_SECRET", "secret123")
}

func TestLoad_Minimal(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cli_test123", cfg.AppID)
	assert.Equal(t, "secret123", cfg.AppSecret)
	assert.Equal(t, "https://forlark.zeabur.app/callback.html", cfg.RedirectURI)
	assert.Equal(t, "https://fsopen.feishu.cn", cfg.FeishuBaseURL)
	assert.Equal(t, "127.0.0.1:8091", cfg.ListenAddr)
	assert.Equal(t, "zhipu", cfg.AIModel)
	assert.Equal(t, "gemini-3-flash-preview", cfg.GeminiModelName)
	assert.False(t, cfg.EnableMCP)
}

func TestLoad_MissingAppID(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("LARK_APP_SECRET", "secret123")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LARK_APP_ID")
}

func TestLoad_MissingAppSecret(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("LARK_APP_ID", "cli_test123")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LARK_APP_SECRET")
}

func TestLoad_InvalidModel(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("AI_MODEL", "gpt5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI_MODEL")
}

func TestLoad_CustomModelRequiresURL(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("AI_MODEL", "custom")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUSTOM_API_URL")
}

func TestLoad_CustomModelWithURL(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("AI_MODEL", "custom")
	t.Setenv("CUSTOM_API_URL", "https://llm.example.com/v1/chat/completions")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "custom", cfg.AIModel)
}

func TestStateDBPath_Override(t *testing.T) {
	cfg := &Config{StateDB: filepath.Join("/tmp", "x.db")}
	p, err := cfg.StateDBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp", "x.db"), p)
}

func TestStateDBPath_Default(t *testing.T) {
	cfg := &Config{}
	p, err := cfg.StateDBPath()
	require.NoError(t, err)
	assert.Contains(t, p, filepath.Join(".larkdoc", "state.db"))
}

func TestIsProduction(t *testing.T) {
	assert.True(t, (&Config{Environment: "production"}).IsProduction())
	assert.False(t, (&Config{Environment: "development"}).IsProduction())
}
