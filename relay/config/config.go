package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/chatrelay/relay"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Provider ProviderConfig `mapstructure:"provider"`
	History  HistoryConfig  `mapstructure:"history"`
	Intake   IntakeConfig   `mapstructure:"intake"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Log      LogConfig      `mapstructure:"log"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

// TelegramConfig stores messaging platform settings.
type TelegramConfig struct {
	Token       string `mapstructure:"token"`        // Bot API token (TELEGRAM_TOKEN)
	PollTimeout int    `mapstructure:"poll_timeout"` // Long-poll timeout in seconds
	Debug       bool   `mapstructure:"debug"`        // Bot API request debugging
}

// ProviderConfig stores completion provider settings.
type ProviderConfig struct {
	BaseURL      string        `mapstructure:"base_url"`      // OpenAI-compatible API root
	APIKey       string        `mapstructure:"api_key"`       // Bearer token (DEEPSEEK_API_KEY)
	Model        string        `mapstructure:"model"`         // Model name sent with every request
	Timeout      time.Duration `mapstructure:"timeout"`       // Per-request deadline
	SystemPrompt string        `mapstructure:"system_prompt"` // Optional, never stored in transcripts
	MaxTokens    int           `mapstructure:"max_tokens"`    // 0 leaves the provider default
	Temperature  float32       `mapstructure:"temperature"`   // 0 leaves the provider default
}

// HistoryConfig stores transcript persistence and context window settings.
type HistoryConfig struct {
	Backend string `mapstructure:"backend"` // "json", "libsql", "sqlite", "bolt", "redis"
	Path    string `mapstructure:"path"`    // JSON snapshot file
	DSN     string `mapstructure:"dsn"`     // libsql/sqlite DSN

	BoltPath  string `mapstructure:"bolt_path"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key"`

	// Outbound context window; stored history is never truncated.
	MaxContextTurns  int `mapstructure:"max_context_turns"`
	MaxContextTokens int `mapstructure:"max_context_tokens"`
}

// IntakeConfig stores file download settings.
type IntakeConfig struct {
	DownloadsDir string        `mapstructure:"downloads_dir"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBytes     int64         `mapstructure:"max_bytes"` // 0 means unlimited
}

// DispatchConfig stores event handling settings.
type DispatchConfig struct {
	Lanes             int           `mapstructure:"lanes"` // Parallel per-user lanes
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity int           `mapstructure:"rate_limit_capacity"` // Messages per user burst
	RateLimitRefill   time.Duration `mapstructure:"rate_limit_refill"`   // Time to regain one message
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // zerolog level name
	Format string `mapstructure:"format"` // "console" or "json"
}

// HTTPConfig stores the optional health endpoint settings.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the server
}

// ErrMissingSecret is returned by Validate when a required secret is unset.
var ErrMissingSecret = errors.New("missing required secret")

// Validate checks the settings required to run the relay.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("%w: telegram.token (TELEGRAM_TOKEN)", ErrMissingSecret)
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("%w: provider.api_key (DEEPSEEK_API_KEY)", ErrMissingSecret)
	}
	if c.Dispatch.Lanes < 1 {
		return fmt.Errorf("dispatch.lanes must be at least 1: %d", c.Dispatch.Lanes)
	}
	return nil
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch reloads the configuration whenever the config file changes and
// hands the fresh values to onChange. It returns the initial configuration.
func Watch(configPath string, onChange func(*Config, error)) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(decode(v))
	})
	v.WatchConfig()

	return cfg, nil
}

func newViper(configPath string) (*viper.Viper, error) {
	// A local .env mirrors what operators keep next to the binary.
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", relay.DefaultAppName))
		v.AddConfigPath(relay.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. history.max_context_turns becomes HISTORY_MAX_CONTEXT_TURNS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.BindEnv("telegram.token", "TELEGRAM_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind telegram token: %w", err)
	}
	if err := v.BindEnv("provider.api_key", "DEEPSEEK_API_KEY", "PROVIDER_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind provider api key: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and environment apply.
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.poll_timeout", 60)
	v.SetDefault("telegram.debug", false)

	v.SetDefault("provider.base_url", relay.DefaultProviderBaseURL)
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.model", relay.DefaultProviderModel)
	v.SetDefault("provider.timeout", "60s")
	v.SetDefault("provider.system_prompt", "")
	v.SetDefault("provider.max_tokens", 0)
	v.SetDefault("provider.temperature", 0)

	v.SetDefault("history.backend", relay.DefaultHistoryBackend)
	v.SetDefault("history.path", relay.DefaultHistoryFile)
	v.SetDefault("history.dsn", relay.DefaultDatabaseDSN)
	v.SetDefault("history.bolt_path", relay.DefaultBoltPath)
	v.SetDefault("history.redis_addr", "localhost:6379")
	v.SetDefault("history.redis_key", relay.DefaultRedisKey)
	v.SetDefault("history.max_context_turns", 0)  // unbounded, like the stored history
	v.SetDefault("history.max_context_tokens", 0) // unbounded

	v.SetDefault("intake.downloads_dir", relay.DefaultDownloadsDir)
	v.SetDefault("intake.timeout", "2m")
	v.SetDefault("intake.max_bytes", 20<<20) // Bot API download ceiling

	v.SetDefault("dispatch.lanes", 4)
	v.SetDefault("dispatch.rate_limit_enabled", true)
	v.SetDefault("dispatch.rate_limit_capacity", 10)
	v.SetDefault("dispatch.rate_limit_refill", "6s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("http.addr", "")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}
