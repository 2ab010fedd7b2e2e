package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BOT_TOKEN", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "AMQP_URL",
		"LITSHELF_LOG_LEVEL", "LITSHELF_CONVERSATION_STORE", "LITSHELF_NOTIFY_MODE",
		"LITSHELF_MAX_WORK_LENGTH", "LITSHELF_COMMAND_RATE_LIMIT_PER_MINUTE", "LITSHELF_ALLOW_OWNER_ASSIGNMENT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "botToken: abc\ndatabaseURL: postgres://localhost/litshelf\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ConversationStore != "memory" || cfg.NotifyMode != "direct" || cfg.FlowConflict != "replace" {
		t.Fatalf("unexpected modes: %+v", cfg)
	}
	if cfg.MaxWorkLength != 3500 || cfg.ReviewPreviewLength != 3500 || cfg.MessageLimit != 4096 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if cfg.ConversationTTL() != 30*time.Minute || cfg.SendTimeout() != 5*time.Second || cfg.PollTimeoutSeconds() != 30 {
		t.Fatalf("unexpected durations")
	}
	if cfg.AllowOwnerAssignment {
		t.Fatalf("owner assignment should be off by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"botToken: file-token",
		"databaseURL: postgres://file",
		"conversationIdleTTL: 10m",
	}, "\n"))
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("LITSHELF_CONVERSATION_STORE", "Redis")
	t.Setenv("LITSHELF_NOTIFY_MODE", "redis")
	t.Setenv("LITSHELF_MAX_WORK_LENGTH", "4000")
	t.Setenv("LITSHELF_COMMAND_RATE_LIMIT_PER_MINUTE", "20")
	t.Setenv("LITSHELF_ALLOW_OWNER_ASSIGNMENT", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BotToken != "env-token" || cfg.ConversationStore != "redis" || cfg.NotifyMode != "redis" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.MaxWorkLength != 4000 || cfg.CommandRateLimitPerMinute != 20 || !cfg.AllowOwnerAssignment {
		t.Fatalf("numeric overrides not applied: %+v", cfg)
	}
	if cfg.ConversationTTL() != 10*time.Minute {
		t.Fatalf("ttl = %s", cfg.ConversationTTL())
	}
}

func TestValidateConfig(t *testing.T) {
	clearEnv(t)
	base := "botToken: abc\ndatabaseURL: postgres://x\n"
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "missing token", body: "databaseURL: postgres://x\n", want: "botToken is required"},
		{name: "missing database", body: "botToken: abc\n", want: "databaseURL is required"},
		{name: "redis store without addr", body: base + "conversationStore: redis\n", want: "redisAddr is required"},
		{name: "amqp without url", body: base + "notifyMode: amqp\n", want: "amqpURL is required"},
		{name: "unknown store", body: base + "conversationStore: etcd\n", want: "unknown conversationStore"},
		{name: "unknown conflict", body: base + "flowConflict: merge\n", want: "unknown flowConflict"},
		{name: "negative length", body: base + "maxWorkLength: -1\n", want: "must be positive"},
		{name: "bad duration", body: base + "pollTimeout: soon\n", want: "pollTimeout"},
		{name: "rate limit without redis", body: base + "commandRateLimitPerMinute: 10\n", want: "redisAddr is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestParseDuration(t *testing.T) {
	if d, err := ParseDuration("", time.Second); err != nil || d != time.Second {
		t.Fatalf("fallback = %s, %v", d, err)
	}
	if d, err := ParseDuration(" 90s ", 0); err != nil || d != 90*time.Second {
		t.Fatalf("parse = %s, %v", d, err)
	}
	if _, err := ParseDuration("-1s", 0); err == nil {
		t.Fatalf("expected error for negative duration")
	}
}
