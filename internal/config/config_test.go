package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/yldhj/daftmapler/internal/config"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CLIENT_ID", "cid")
	t.Setenv("CLIENT_SECRET", "csecret")
	t.Setenv("BASE_URL", "https://example.com/")
	t.Setenv("COOKIE_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("CHANNEL_LOGIN", "streamer")
}

func TestFromEnv_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.BaseURL != "https://example.com" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", cfg.BaseURL)
	}
	if got := cfg.RedirectURI(); got != "https://example.com/oauth2/twitch" {
		t.Errorf("RedirectURI = %q", got)
	}
	if cfg.SoundConfig != "config/sounds.json" {
		t.Errorf("SoundConfig = %q", cfg.SoundConfig)
	}
	if cfg.CredentialFile != ".config/tokens.json" {
		t.Errorf("CredentialFile = %q", cfg.CredentialFile)
	}
	if cfg.EventSubURL != config.DefaultEventSubURL {
		t.Errorf("EventSubURL = %q", cfg.EventSubURL)
	}
	if cfg.WatchInterval != 5*time.Second {
		t.Errorf("WatchInterval = %v", cfg.WatchInterval)
	}
	if cfg.LogLevel != config.LogInfo {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.SecureCookie {
		t.Error("SecureCookie should default to false")
	}
	if cfg.TTSEnabled() {
		t.Error("TTSEnabled should be false without backends")
	}
}

func TestFromEnv_MissingRequired(t *testing.T) {
	for _, key := range []string{"CLIENT_ID", "CLIENT_SECRET", "BASE_URL", "COOKIE_SECRET", "CHANNEL_LOGIN"} {
		t.Setenv(key, "")
	}

	_, err := config.FromEnv()
	if !errors.Is(err, config.ErrMissing) {
		t.Fatalf("error = %v, want ErrMissing", err)
	}
	for _, key := range []string{"CLIENT_ID", "CLIENT_SECRET", "BASE_URL", "COOKIE_SECRET", "CHANNEL_LOGIN"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should mention %s, got: %v", key, err)
		}
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name, key, val string
	}{
		{"relative base url", "BASE_URL", "example.com"},
		{"port out of range", "PORT", "70000"},
		{"bad log level", "LOG_LEVEL", "bananas"},
		{"zero rate", "TTS_RATE_LIMIT", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)

			_, err := config.FromEnv()
			if !errors.Is(err, config.ErrInvalid) {
				t.Fatalf("error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestFromEnv_SecureCookie(t *testing.T) {
	tests := []struct {
		val  string
		want bool
	}{
		{"", false},
		{"false", false},
		{"0", false},
		{"true", true},
		{"yes", true},
		{"1", true},
	}
	for _, tt := range tests {
		t.Run(tt.val, func(t *testing.T) {
			setRequired(t)
			t.Setenv("SECURE_COOKIE", tt.val)

			cfg, err := config.FromEnv()
			if err != nil {
				t.Fatalf("FromEnv: %v", err)
			}
			if cfg.SecureCookie != tt.want {
				t.Errorf("SecureCookie = %v, want %v", cfg.SecureCookie, tt.want)
			}
		})
	}
}

func TestFromEnv_TTSBackends(t *testing.T) {
	setRequired(t)
	t.Setenv("TTS_URL", "http://tts.local/api/tts")

	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if !cfg.TTSEnabled() {
		t.Error("TTSEnabled should be true with TTS_URL set")
	}
	if cfg.OpenAITTSModel != "tts-1" || cfg.OpenAITTSVoice != "alloy" {
		t.Errorf("openai defaults = %q/%q", cfg.OpenAITTSModel, cfg.OpenAITTSVoice)
	}
}

func TestConfig_TTSEnabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  config.Config
		want bool
	}{
		{name: "none", want: false},
		{name: "http only", cfg: config.Config{TTSURL: "http://tts.local/api/tts"}, want: true},
		{name: "openai only", cfg: config.Config{OpenAIKey: "sk-test"}, want: true},
		{name: "both", cfg: config.Config{TTSURL: "http://tts.local/api/tts", OpenAIKey: "sk-test"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.cfg.TTSEnabled(); got != tt.want {
				t.Errorf("TTSEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}
