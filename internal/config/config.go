package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	DefaultModel       = "llama-3.3-70b-versatile"
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.7
	DefaultBufSize     = 100

	// Tier sizing defaults. T0/T1/T2 caps are token caps per item; the
	// sentence budget handed to the compressor is cap/TokensPerSentence,
	// floored at one sentence.
	DefaultTier0Max          = 13
	DefaultTier1Max          = 45
	DefaultBatchSize         = 10
	DefaultBatchFraction     = 0.25
	DefaultTier0TokenCap     = 120
	DefaultTier1TokenCap     = 30
	DefaultTier2TokenCap     = 150
	DefaultTokensPerSentence = 30
	DefaultTier0MaxEntities  = 30
	DefaultTier1MaxEntities  = 30
	DefaultTier2MaxEntities  = 50

	DefaultHistoryMaxBytes = 1_000_000
	DefaultFlushInterval   = "10m"
	DefaultFlushCount      = 20
	DefaultDailySweep      = "03:00"
	DefaultLanguage        = "en"
)

type Config struct {
	Bot      BotConfig      `json:"bot"`
	Channels ChannelsConfig `json:"channels"`
	Provider ProviderConfig `json:"provider"`
	Personas PersonasConfig `json:"personas"`
	Memory   MemoryConfig   `json:"memory"`
	History  HistoryConfig  `json:"history"`
	Rewrite  RewriteConfig  `json:"rewrite"`
}

type BotConfig struct {
	Name            string `json:"name"`
	DefaultLanguage string `json:"defaultLanguage"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type ProviderConfig struct {
	APIKey      string  `json:"apiKey"`
	BaseURL     string  `json:"baseUrl,omitempty"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

type PersonasConfig struct {
	Dir  string `json:"dir"`
	User string `json:"user"`
	Char string `json:"char"`
}

// MemoryConfig carries the tier caps and promotion knobs. All fields are
// validated once in Validate; promotion logic assumes they are sane.
type MemoryConfig struct {
	Tier0Max          int     `json:"tier0Max"`
	Tier1Max          int     `json:"tier1Max"`
	BatchSize         int     `json:"batchSize"`
	BatchFraction     float64 `json:"batchFraction"`
	Tier0TokenCap     int     `json:"tier0TokenCap"`
	Tier1TokenCap     int     `json:"tier1TokenCap"`
	Tier2TokenCap     int     `json:"tier2TokenCap"`
	TokensPerSentence int     `json:"tokensPerSentence"`

	Tier0MaxEntities int `json:"tier0MaxEntities"`
	Tier1MaxEntities int `json:"tier1MaxEntities"`
	Tier2MaxEntities int `json:"tier2MaxEntities"`

	// ExtractBeforeCompress runs tier-0 entity extraction on the raw text
	// instead of the compressed text. ReextractTier1 re-runs extraction on
	// the mid-summary text; when false the summary inherits the Turn's
	// keywords.
	ExtractBeforeCompress bool `json:"extractBeforeCompress"`
	ReextractTier1        bool `json:"reextractTier1"`

	Algorithm        string `json:"algorithm"`
	FallbackLanguage string `json:"fallbackLanguage"`
}

type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	Dir           string `json:"dir"`
	MaxFileBytes  int64  `json:"maxFileBytes"`
	FlushInterval string `json:"flushInterval"`
	FlushCount    int    `json:"flushCount"`
	DailySweep    string `json:"dailySweep"`
}

type RewriteConfig struct {
	Enabled     bool    `json:"enabled"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			Name:            "tierbot",
			DefaultLanguage: DefaultLanguage,
		},
		Provider: ProviderConfig{
			BaseURL:     DefaultBaseURL,
			Model:       DefaultModel,
			Temperature: DefaultTemperature,
			MaxTokens:   DefaultMaxTokens,
		},
		Personas: PersonasConfig{
			Dir: filepath.Join(ConfigDir(), "personas"),
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{Enabled: true},
		},
		Memory: MemoryConfig{
			Tier0Max:              DefaultTier0Max,
			Tier1Max:              DefaultTier1Max,
			BatchSize:             DefaultBatchSize,
			BatchFraction:         DefaultBatchFraction,
			Tier0TokenCap:         DefaultTier0TokenCap,
			Tier1TokenCap:         DefaultTier1TokenCap,
			Tier2TokenCap:         DefaultTier2TokenCap,
			TokensPerSentence:     DefaultTokensPerSentence,
			Tier0MaxEntities:      DefaultTier0MaxEntities,
			Tier1MaxEntities:      DefaultTier1MaxEntities,
			Tier2MaxEntities:      DefaultTier2MaxEntities,
			ExtractBeforeCompress: true,
			ReextractTier1:        false,
			Algorithm:             "textrank",
			FallbackLanguage:      DefaultLanguage,
		},
		History: HistoryConfig{
			Enabled:       true,
			Dir:           filepath.Join(ConfigDir(), "histories"),
			MaxFileBytes:  DefaultHistoryMaxBytes,
			FlushInterval: DefaultFlushInterval,
			FlushCount:    DefaultFlushCount,
			DailySweep:    DefaultDailySweep,
		},
		Rewrite: RewriteConfig{
			Enabled:     false,
			Temperature: 0.3,
			MaxTokens:   250,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".tierbot")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("TIERBOT_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("TIERBOT_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("TIERBOT_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if token := os.Getenv("TIERBOT_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
		cfg.Channels.Telegram.Enabled = true
	}
	if dir := os.Getenv("TIERBOT_HISTORY_DIR"); dir != "" {
		cfg.History.Dir = dir
	}
	if v := os.Getenv("TIERBOT_HISTORY_ENABLED"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.History.Enabled = parsed
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects broken tier sizing up front so promotion logic never has
// to defend against zero caps or negative batches.
func (c *Config) Validate() error {
	m := &c.Memory
	if m.Tier0Max <= 0 {
		return fmt.Errorf("memory.tier0Max must be positive, got %d", m.Tier0Max)
	}
	if m.Tier1Max <= 0 {
		return fmt.Errorf("memory.tier1Max must be positive, got %d", m.Tier1Max)
	}
	if m.BatchSize <= 0 {
		return fmt.Errorf("memory.batchSize must be positive, got %d", m.BatchSize)
	}
	if m.BatchFraction <= 0 || m.BatchFraction > 1 {
		return fmt.Errorf("memory.batchFraction must be in (0,1], got %v", m.BatchFraction)
	}
	if m.Tier0TokenCap <= 0 || m.Tier1TokenCap <= 0 || m.Tier2TokenCap <= 0 {
		return fmt.Errorf("memory token caps must be positive (t0=%d t1=%d t2=%d)",
			m.Tier0TokenCap, m.Tier1TokenCap, m.Tier2TokenCap)
	}
	if m.TokensPerSentence <= 0 {
		return fmt.Errorf("memory.tokensPerSentence must be positive, got %d", m.TokensPerSentence)
	}
	if m.Tier0MaxEntities < 0 || m.Tier1MaxEntities < 0 || m.Tier2MaxEntities < 0 {
		return fmt.Errorf("memory entity caps must be non-negative")
	}
	if c.History.MaxFileBytes <= 0 {
		return fmt.Errorf("history.maxFileBytes must be positive, got %d", c.History.MaxFileBytes)
	}
	if c.History.FlushInterval != "" {
		if d, err := time.ParseDuration(c.History.FlushInterval); err != nil || d <= 0 {
			return fmt.Errorf("history.flushInterval %q is not a positive duration", c.History.FlushInterval)
		}
	}
	if c.Provider.MaxTokens <= 0 {
		return fmt.Errorf("provider.maxTokens must be positive, got %d", c.Provider.MaxTokens)
	}
	return nil
}

func (c *Config) FlushInterval() time.Duration {
	d, err := time.ParseDuration(c.History.FlushInterval)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultFlushInterval)
	}
	return d
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
