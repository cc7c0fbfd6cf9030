// File: internal/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/tms-executor/api/schemas"
)

// LLM providers usable for CAPTCHA recognition.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Session persistence backends.
const (
	SessionBackendFile     = "file"
	SessionBackendPostgres = "postgres"
	SessionBackendSQLite   = "sqlite"
	SessionBackendNone     = "none"
)

// Config holds the entire application configuration. It is built once at
// startup and handed to components by value; nothing mutates it afterwards.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	TMS       TMSConfig       `mapstructure:"tms" yaml:"tms"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Captcha   CaptchaConfig   `mapstructure:"captcha" yaml:"captcha"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	OrderForm OrderFormConfig `mapstructure:"order_form" yaml:"order_form"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// TMSConfig describes the brokerage terminal being driven.
type TMSConfig struct {
	BaseURL             string              `mapstructure:"base_url" yaml:"base_url"`
	OrderEntryPath      string              `mapstructure:"order_entry_path" yaml:"order_entry_path"`
	OrderBookPath       string              `mapstructure:"order_book_path" yaml:"order_book_path"`
	DashboardPath       string              `mapstructure:"dashboard_path" yaml:"dashboard_path"`
	AuthenticatedMarker string              `mapstructure:"authenticated_marker" yaml:"authenticated_marker"`
	SecretsFile         string              `mapstructure:"secrets_file" yaml:"secrets_file"`
	Credentials         schemas.Credentials `mapstructure:"credentials" yaml:"-"`
}

// OrderEntryURL joins the base URL and the order entry path.
func (t TMSConfig) OrderEntryURL() string {
	return strings.TrimRight(t.BaseURL, "/") + t.OrderEntryPath
}

// OrderBookURL joins the base URL and the order book path.
func (t TMSConfig) OrderBookURL() string {
	return strings.TrimRight(t.BaseURL, "/") + t.OrderBookPath
}

// DashboardURL joins the base URL and the client dashboard path.
func (t TMSConfig) DashboardURL() string {
	return strings.TrimRight(t.BaseURL, "/") + t.DashboardPath
}

// BrowserConfig holds settings for the Chrome instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	Stealth           bool          `mapstructure:"stealth" yaml:"stealth"`
}

// CaptchaConfig configures the vision model used to read CAPTCHA images.
type CaptchaConfig struct {
	Provider   string        `mapstructure:"provider" yaml:"provider"`
	Model      string        `mapstructure:"model" yaml:"model"`
	APIKey     string        `mapstructure:"api_key" yaml:"-"`
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`

	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	MaxRetryElapsed time.Duration `mapstructure:"max_retry_elapsed" yaml:"max_retry_elapsed"`

	// RequestsPerMinute throttles recognizer calls. Zero disables throttling.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// SessionConfig selects where the authenticated browser state is kept. Path
// is the JSON file for the file backend and the database file for sqlite.
type SessionConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Path        string `mapstructure:"path" yaml:"path"`
	Profile     string `mapstructure:"profile" yaml:"profile"`
	DatabaseURL string `mapstructure:"database_url" yaml:"-"`
}

// OrderFormConfig tunes the pacing of the order entry sequence.
type OrderFormConfig struct {
	ReadyTimeout     time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	SymbolKeyDelay   time.Duration `mapstructure:"symbol_key_delay" yaml:"symbol_key_delay"`
	QuantityKeyDelay time.Duration `mapstructure:"quantity_key_delay" yaml:"quantity_key_delay"`
	PriceKeyDelay    time.Duration `mapstructure:"price_key_delay" yaml:"price_key_delay"`
	SuggestionWait   time.Duration `mapstructure:"suggestion_wait" yaml:"suggestion_wait"`
	ToggleSettle     time.Duration `mapstructure:"toggle_settle" yaml:"toggle_settle"`
}

// OutputConfig controls the run report.
type OutputConfig struct {
	Dir          string `mapstructure:"dir" yaml:"dir"`
	VerifyOrders bool   `mapstructure:"verify_orders" yaml:"verify_orders"`
	Screenshots  bool   `mapstructure:"screenshots" yaml:"screenshots"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg, DecodeHook()); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "tms-executor")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- TMS --
	v.SetDefault("tms.base_url", "https://tms43.nepsetms.com.np")
	v.SetDefault("tms.order_entry_path", "/tms/me/memberclientorderentry")
	v.SetDefault("tms.order_book_path", "/tms/n/order/order-book")
	v.SetDefault("tms.dashboard_path", "/tms/client/dashboard")
	v.SetDefault("tms.authenticated_marker", "dashboard")
	v.SetDefault("tms.secrets_file", "secrets.json")
	v.SetDefault("tms.credentials.username", "")
	v.SetDefault("tms.credentials.password", "")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 800)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.stealth", true)

	// -- Captcha --
	v.SetDefault("captcha.provider", ProviderGemini)
	v.SetDefault("captcha.model", "gemini-2.0-flash")
	v.SetDefault("captcha.api_key", "")
	v.SetDefault("captcha.api_timeout", "30s")
	v.SetDefault("captcha.max_attempts", 3)
	v.SetDefault("captcha.requests_per_minute", 0)
	v.SetDefault("captcha.max_retry_elapsed", "20s")

	// -- Session --
	v.SetDefault("session.backend", SessionBackendFile)
	v.SetDefault("session.path", "~/.tms-executor/auth.json")
	v.SetDefault("session.profile", "default")
	v.SetDefault("session.database_url", "")

	// -- Order Form --
	v.SetDefault("order_form.ready_timeout", "20s")
	v.SetDefault("order_form.symbol_key_delay", "100ms")
	v.SetDefault("order_form.quantity_key_delay", "50ms")
	v.SetDefault("order_form.price_key_delay", "50ms")
	v.SetDefault("order_form.suggestion_wait", "1s")
	v.SetDefault("order_form.toggle_settle", "1s")

	// -- Output --
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.verify_orders", true)
	v.SetDefault("output.screenshots", false)
}

// DecodeHook extends viper's decoding with duration strings, comma separated
// slices and order actions.
func DecodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToActionHookFunc(),
		)
	}
}

func stringToActionHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(schemas.Action("")) {
			return data, nil
		}
		s, _ := data.(string)
		if s == "" {
			return schemas.Action(""), nil
		}
		return schemas.ParseAction(s)
	}
}

// secretAliases maps the keys accepted in the secrets file onto config keys.
// The first alias found wins.
var secretAliases = map[string][]string{
	"tms.credentials.username": {"id", "TMS_USERNAME"},
	"tms.credentials.password": {"password", "TMS_PASSWORD"},
	"captcha.api_key":          {"gemini_api_key", "GEMINI_API_KEY", "OPENAI_API_KEY"},
	"tms.base_url":             {"TMS_URL"},
}

// sensitiveEnv binds the conventional unprefixed variable names.
var sensitiveEnv = map[string]string{
	"tms.credentials.username": "TMS_USERNAME",
	"tms.credentials.password": "TMS_PASSWORD",
	"captcha.api_key":          "GEMINI_API_KEY",
	"tms.base_url":             "TMS_URL",
	"session.database_url":     "TMS_DATABASE_URL",
}

// ApplySecretsFile registers values from a flat JSON secrets file as v's
// defaults for the secret keys. Flags, environment (prefixed or alias) and
// the config file all outrank defaults, so the file only fills gaps. A
// missing file is not an error.
func ApplySecretsFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("expanding secrets path %q: %w", path, err)
	}
	raw, err := os.ReadFile(expanded)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading secrets file: %w", err)
	}

	var secrets map[string]interface{}
	if err := json.Unmarshal(raw, &secrets); err != nil {
		return fmt.Errorf("parsing secrets file %s: %w", expanded, err)
	}

	for key, aliases := range secretAliases {
		for _, alias := range aliases {
			str, _ := secrets[alias].(string)
			if val := strings.TrimSpace(str); val != "" {
				v.SetDefault(key, val)
				break
			}
		}
	}
	return nil
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data
	for key, env := range sensitiveEnv {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if err := ApplySecretsFile(v, v.GetString("tms.secrets_file")); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, DecodeHook()); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Session.Path != "" {
		p, err := homedir.Expand(cfg.Session.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding session path: %w", err)
		}
		cfg.Session.Path = p
	}
	cfg.TMS.BaseURL = strings.TrimRight(cfg.TMS.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.TMS.BaseURL == "" {
		return fmt.Errorf("tms.base_url is a required configuration field")
	}
	if !strings.HasPrefix(c.TMS.BaseURL, "http://") && !strings.HasPrefix(c.TMS.BaseURL, "https://") {
		return fmt.Errorf("tms.base_url must be an http(s) URL")
	}
	if err := c.TMS.Credentials.Validate(); err != nil {
		return fmt.Errorf("tms.credentials: %w", err)
	}
	if err := c.Captcha.Validate(); err != nil {
		return fmt.Errorf("captcha configuration invalid: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the recognizer settings.
func (c *CaptchaConfig) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required for provider %q", c.Provider)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be a positive integer")
	}
	return nil
}

// Validate checks the session backend settings.
func (s *SessionConfig) Validate() error {
	switch s.Backend {
	case SessionBackendNone:
	case SessionBackendFile, SessionBackendSQLite:
		if s.Path == "" {
			return fmt.Errorf("path is required for the %s backend", s.Backend)
		}
	case SessionBackendPostgres:
		if s.DatabaseURL == "" {
			return fmt.Errorf("database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported backend %q", s.Backend)
	}
	return nil
}
