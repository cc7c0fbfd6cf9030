// File: internal/config/config_test.go
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tms-executor/api/schemas"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "tms-executor", cfg.Logger.ServiceName)
	assert.Equal(t, "https://tms43.nepsetms.com.np", cfg.TMS.BaseURL)
	assert.Equal(t, "dashboard", cfg.TMS.AuthenticatedMarker)
	assert.Equal(t, "https://tms43.nepsetms.com.np/tms/client/dashboard", cfg.TMS.DashboardURL())
	assert.Equal(t, ProviderGemini, cfg.Captcha.Provider)
	assert.Equal(t, "gemini-2.0-flash", cfg.Captcha.Model)
	assert.Equal(t, 3, cfg.Captcha.MaxAttempts)
	assert.Equal(t, 20*time.Second, cfg.OrderForm.ReadyTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.OrderForm.SymbolKeyDelay)
	assert.Equal(t, 50*time.Millisecond, cfg.OrderForm.PriceKeyDelay)
	assert.Equal(t, SessionBackendFile, cfg.Session.Backend)
}

func TestTMSURLs(t *testing.T) {
	tms := TMSConfig{
		BaseURL:        "https://tms.example.com/",
		OrderEntryPath: "/tms/me/memberclientorderentry",
		OrderBookPath:  "/tms/n/order/order-book",
	}
	assert.Equal(t, "https://tms.example.com/tms/me/memberclientorderentry", tms.OrderEntryURL())
	assert.Equal(t, "https://tms.example.com/tms/n/order/order-book", tms.OrderBookURL())
}

// -- Validation Logic Tests --

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.TMS.Credentials = schemas.Credentials{Username: "client", Password: "secret"}
	cfg.Captcha.APIKey = "key"
	return cfg
}

func TestConfigValidation(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing credentials fail closed", func(t *testing.T) {
		cfg := validConfig()
		cfg.TMS.Credentials.Password = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrMissingCredentials)
	})

	t.Run("missing api key", func(t *testing.T) {
		cfg := validConfig()
		cfg.Captcha.APIKey = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api_key is required")
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := validConfig()
		cfg.Captcha.Provider = "tesseract"
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad base url", func(t *testing.T) {
		cfg := validConfig()
		cfg.TMS.BaseURL = "tms.example.com"
		assert.Error(t, cfg.Validate())
	})

	t.Run("postgres backend needs a url", func(t *testing.T) {
		cfg := validConfig()
		cfg.Session.Backend = SessionBackendPostgres
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database_url")

		cfg.Session.DatabaseURL = "postgres://localhost/tms"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("sqlite backend needs a path", func(t *testing.T) {
		cfg := validConfig()
		cfg.Session.Backend = SessionBackendSQLite
		cfg.Session.Path = ""
		assert.ErrorContains(t, cfg.Validate(), "path is required for the sqlite backend")
	})
}

// -- Loading Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("secrets file supplies credentials", func(t *testing.T) {
		dir := t.TempDir()
		secrets := filepath.Join(dir, "secrets.json")
		require.NoError(t, os.WriteFile(secrets, []byte(`{
			"id": "client-7",
			"password": "pw",
			"gemini_api_key": "g-key",
			"TMS_URL": "https://tms99.example.com/"
		}`), 0o600))

		v := viper.New()
		SetDefaults(v)
		v.Set("tms.secrets_file", secrets)
		v.Set("session.path", filepath.Join(dir, "auth.json"))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "client-7", cfg.TMS.Credentials.Username)
		assert.Equal(t, "pw", cfg.TMS.Credentials.Password)
		assert.Equal(t, "g-key", cfg.Captcha.APIKey)
		assert.Equal(t, "https://tms99.example.com", cfg.TMS.BaseURL)
	})

	t.Run("upper case aliases are accepted", func(t *testing.T) {
		dir := t.TempDir()
		secrets := filepath.Join(dir, "secrets.json")
		require.NoError(t, os.WriteFile(secrets, []byte(`{
			"TMS_USERNAME": "u",
			"TMS_PASSWORD": "p",
			"GEMINI_API_KEY": "k"
		}`), 0o600))

		v := viper.New()
		SetDefaults(v)
		v.Set("tms.secrets_file", secrets)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "u", cfg.TMS.Credentials.Username)
		assert.Equal(t, "k", cfg.Captcha.APIKey)
	})

	t.Run("config file values win over secrets", func(t *testing.T) {
		dir := t.TempDir()
		secrets := filepath.Join(dir, "secrets.json")
		require.NoError(t, os.WriteFile(secrets, []byte(`{"id": "from-secrets", "password": "p", "gemini_api_key": "k"}`), 0o600))

		yaml := []byte(`
tms:
  credentials:
    username: from-config
captcha:
  model: gemini-2.5-flash
  api_timeout: 45s
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yaml)))
		v.Set("tms.secrets_file", secrets)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "from-config", cfg.TMS.Credentials.Username)
		assert.Equal(t, "gemini-2.5-flash", cfg.Captcha.Model)
		assert.Equal(t, 45*time.Second, cfg.Captcha.APITimeout)
	})

	t.Run("prefixed env and explicit values win over secrets", func(t *testing.T) {
		dir := t.TempDir()
		secrets := filepath.Join(dir, "secrets.json")
		require.NoError(t, os.WriteFile(secrets, []byte(`{
			"id": "from-secrets",
			"password": "from-secrets",
			"gemini_api_key": "k",
			"TMS_URL": "https://tms99.example.com"
		}`), 0o600))
		t.Setenv("TMS_TMS_BASE_URL", "https://tms43.example.com")

		v := viper.New()
		v.SetEnvPrefix("TMS")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
		SetDefaults(v)
		v.Set("tms.secrets_file", secrets)
		v.Set("tms.credentials.username", "from-flag")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "https://tms43.example.com", cfg.TMS.BaseURL)
		assert.Equal(t, "from-flag", cfg.TMS.Credentials.Username)
		assert.Equal(t, "from-secrets", cfg.TMS.Credentials.Password)
	})

	t.Run("missing secrets file leaves credentials empty", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("tms.secrets_file", filepath.Join(t.TempDir(), "nope.json"))

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrMissingCredentials)
	})

	t.Run("corrupt secrets file is reported", func(t *testing.T) {
		secrets := filepath.Join(t.TempDir(), "secrets.json")
		require.NoError(t, os.WriteFile(secrets, []byte(`{not json`), 0o600))

		v := viper.New()
		SetDefaults(v)
		v.Set("tms.secrets_file", secrets)

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing secrets file")
	})
}

func TestDecodeHookParsesActions(t *testing.T) {
	type target struct {
		Action schemas.Action `mapstructure:"action"`
	}
	v := viper.New()
	v.Set("action", "sell")

	var out target
	require.NoError(t, v.Unmarshal(&out, DecodeHook()))
	assert.Equal(t, schemas.ActionSell, out.Action)

	v.Set("action", "hold")
	assert.Error(t, v.Unmarshal(&out, DecodeHook()))
}
