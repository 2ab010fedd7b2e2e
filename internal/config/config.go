package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with LITSHELF_CONFIG.
var ConfigPath = "config.yaml"

func init() {
	if v := strings.TrimSpace(os.Getenv("LITSHELF_CONFIG")); v != "" {
		ConfigPath = v
	}
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	BotToken    string `yaml:"botToken"`
	DatabaseURL string `yaml:"databaseURL"`
	LogLevel    string `yaml:"logLevel"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	AMQPURL       string `yaml:"amqpURL"`

	// memory | redis | postgres
	ConversationStore   string `yaml:"conversationStore"`
	ConversationIdleTTL string `yaml:"conversationIdleTTL"`
	// direct | redis | amqp
	NotifyMode        string `yaml:"notifyMode"`
	NotifyStream      string `yaml:"notifyStream"`
	NotifyQueue       string `yaml:"notifyQueue"`
	NotifyWorkers     int    `yaml:"notifyWorkers"`
	NotifyMaxRetries  int    `yaml:"notifyMaxRetries"`
	NotifySendTimeout string `yaml:"notifySendTimeout"`

	MaxWorkLength        int    `yaml:"maxWorkLength"`
	ReviewPreviewLength  int    `yaml:"reviewPreviewLength"`
	MessageLimit         int    `yaml:"messageLimit"`
	MaxUploadBytes       int64  `yaml:"maxUploadBytes"`
	FlowConflict         string `yaml:"flowConflict"`
	AllowOwnerAssignment bool   `yaml:"allowOwnerAssignment"`

	CommandRateLimitPerMinute int    `yaml:"commandRateLimitPerMinute"`
	Workers                   int    `yaml:"workers"`
	PollTimeout               string `yaml:"pollTimeout"`
}

// Load reads config from path (defaults to ConfigPath), applies environment
// overrides and defaults, and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.BotToken = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("LITSHELF_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LITSHELF_CONVERSATION_STORE"); v != "" {
		cfg.ConversationStore = v
	}
	if v := os.Getenv("LITSHELF_NOTIFY_MODE"); v != "" {
		cfg.NotifyMode = v
	}
	if v := os.Getenv("LITSHELF_MAX_WORK_LENGTH"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.MaxWorkLength = n
		}
	}
	if v := os.Getenv("LITSHELF_COMMAND_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.CommandRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("LITSHELF_ALLOW_OWNER_ASSIGNMENT"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.AllowOwnerAssignment = b
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	cfg.ConversationStore = strings.ToLower(strings.TrimSpace(cfg.ConversationStore))
	if cfg.ConversationStore == "" {
		cfg.ConversationStore = "memory"
	}
	cfg.NotifyMode = strings.ToLower(strings.TrimSpace(cfg.NotifyMode))
	if cfg.NotifyMode == "" {
		cfg.NotifyMode = "direct"
	}
	cfg.FlowConflict = strings.ToLower(strings.TrimSpace(cfg.FlowConflict))
	if cfg.FlowConflict == "" {
		cfg.FlowConflict = "replace"
	}
	if cfg.MaxWorkLength == 0 {
		cfg.MaxWorkLength = 3500
	}
	if cfg.ReviewPreviewLength == 0 {
		cfg.ReviewPreviewLength = 3500
	}
	if cfg.MessageLimit == 0 {
		cfg.MessageLimit = 4096
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 1 << 20
	}
	if cfg.Workers == 0 {
		cfg.Workers = 8
	}
	if cfg.NotifyWorkers == 0 {
		cfg.NotifyWorkers = 2
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.BotToken == "" {
		return errors.New("config: botToken is required (set in config.yaml or BOT_TOKEN)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	switch cfg.ConversationStore {
	case "memory", "postgres":
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required when conversationStore is redis")
		}
	default:
		return fmt.Errorf("config: unknown conversationStore %q (memory, redis, postgres)", cfg.ConversationStore)
	}
	switch cfg.NotifyMode {
	case "direct":
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required when notifyMode is redis")
		}
	case "amqp":
		if cfg.AMQPURL == "" {
			return errors.New("config: amqpURL is required when notifyMode is amqp (or AMQP_URL)")
		}
	default:
		return fmt.Errorf("config: unknown notifyMode %q (direct, redis, amqp)", cfg.NotifyMode)
	}
	if cfg.FlowConflict != "replace" && cfg.FlowConflict != "reject" {
		return fmt.Errorf("config: unknown flowConflict %q (replace, reject)", cfg.FlowConflict)
	}
	if cfg.MaxWorkLength <= 0 || cfg.ReviewPreviewLength <= 0 || cfg.MessageLimit <= 0 || cfg.MaxUploadBytes <= 0 {
		return errors.New("config: maxWorkLength, reviewPreviewLength, messageLimit and maxUploadBytes must be positive")
	}
	if cfg.Workers <= 0 || cfg.NotifyWorkers <= 0 {
		return errors.New("config: workers and notifyWorkers must be positive")
	}
	if cfg.CommandRateLimitPerMinute < 0 {
		return errors.New("config: commandRateLimitPerMinute must not be negative")
	}
	if cfg.CommandRateLimitPerMinute > 0 && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when commandRateLimitPerMinute is set")
	}
	for name, raw := range map[string]string{
		"conversationIdleTTL": cfg.ConversationIdleTTL,
		"notifySendTimeout":   cfg.NotifySendTimeout,
		"pollTimeout":         cfg.PollTimeout,
	} {
		if _, err := ParseDuration(raw, time.Second); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// ParseDuration parses a Go duration string. Empty input returns fallback.
func ParseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", raw)
	}
	return d, nil
}

// ConversationTTL returns the conversation expiry, 30m by default.
func (c FileConfig) ConversationTTL() time.Duration {
	d, _ := ParseDuration(c.ConversationIdleTTL, 30*time.Minute)
	return d
}

// SendTimeout bounds each outbound notification, 5s by default.
func (c FileConfig) SendTimeout() time.Duration {
	d, _ := ParseDuration(c.NotifySendTimeout, 5*time.Second)
	return d
}

// PollTimeoutSeconds is the long-poll timeout in seconds, 30 by default.
func (c FileConfig) PollTimeoutSeconds() int {
	d, _ := ParseDuration(c.PollTimeout, 30*time.Second)
	return int(d / time.Second)
}
