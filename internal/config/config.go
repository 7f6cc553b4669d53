// Package config loads the daftmapler runtime configuration.
//
// Process settings come from the environment (optionally seeded from a .env
// file). The sound catalog and the filter list are files that can be
// hot-reloaded through a [Watcher].
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yldhj/daftmapler/internal/twitch"
)

var (
	// ErrMissing is returned when a required setting is absent.
	ErrMissing = errors.New("config: missing required setting")

	// ErrInvalid is returned when a setting or config file is malformed.
	ErrInvalid = errors.New("config: invalid setting")
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Default Twitch endpoints. Both can be overridden to point at the Twitch CLI
// mock server.
const (
	DefaultEventSubURL = twitch.EventSubURL
	DefaultHelixURL    = twitch.HelixURL
)

// Config is the backend configuration.
type Config struct {
	// Twitch application credentials.
	ClientID     string
	ClientSecret string

	// BaseURL is the public URL of this server. The OAuth redirect URI is
	// derived from it.
	BaseURL string

	// CookieSecret signs the OAuth state cookie.
	CookieSecret string

	// SecureCookie sets the Secure attribute on the state cookie.
	SecureCookie bool

	// ChannelLogin is the only Twitch login allowed to authorize.
	ChannelLogin string

	Port     int
	LogLevel LogLevel

	SoundConfig    string
	FilterList     string
	CredentialFile string
	CredentialDSN  string
	StaticDir      string

	// TTSURL enables the HTTP speech backend.
	TTSURL string

	// OpenAIKey enables the OpenAI speech backend. On its own it is enough to
	// serve /api/tts; with TTSURL also set it becomes the fallback behind the
	// HTTP backend.
	OpenAIKey      string
	OpenAITTSModel string
	OpenAITTSVoice string

	// TTSRateLimit is the allowed /api/tts requests per second per client.
	TTSRateLimit float64
	TTSRateBurst int

	EventSubURL string
	HelixURL    string

	// WatchInterval is the hot-reload polling interval. Zero disables reloads.
	WatchInterval time.Duration
}

// Load reads a .env file if one exists, then builds a [Config] from the
// process environment and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a validated [Config] from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ClientID:       getEnv("CLIENT_ID", ""),
		ClientSecret:   getEnv("CLIENT_SECRET", ""),
		BaseURL:        strings.TrimRight(getEnv("BASE_URL", ""), "/"),
		CookieSecret:   getEnv("COOKIE_SECRET", ""),
		SecureCookie:   getBool("SECURE_COOKIE", false),
		ChannelLogin:   getEnv("CHANNEL_LOGIN", ""),
		Port:           getInt("PORT", 8080),
		LogLevel:       LogLevel(strings.ToLower(getEnv("LOG_LEVEL", string(LogInfo)))),
		SoundConfig:    getEnv("SOUND_CONFIG", "config/sounds.json"),
		FilterList:     getEnv("FILTER_LIST", "config/filter.txt"),
		CredentialFile: getEnv("CREDENTIAL_FILE", ".config/tokens.json"),
		CredentialDSN:  getEnv("CREDENTIAL_DSN", ""),
		StaticDir:      getEnv("STATIC_DIR", "www"),
		TTSURL:         getEnv("TTS_URL", ""),
		OpenAIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAITTSModel: getEnv("OPENAI_TTS_MODEL", "tts-1"),
		OpenAITTSVoice: getEnv("OPENAI_TTS_VOICE", "alloy"),
		TTSRateLimit:   getFloat("TTS_RATE_LIMIT", 2),
		TTSRateBurst:   getInt("TTS_RATE_BURST", 5),
		EventSubURL:    getEnv("EVENTSUB_URL", DefaultEventSubURL),
		HelixURL:       strings.TrimRight(getEnv("HELIX_URL", DefaultHelixURL), "/"),
		WatchInterval:  getDuration("CONFIG_WATCH_INTERVAL", 5*time.Second),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required settings are present and well formed.
// Every problem is reported in a single joined error.
func (c *Config) Validate() error {
	var errs []error

	required := []struct {
		key, val string
	}{
		{"CLIENT_ID", c.ClientID},
		{"CLIENT_SECRET", c.ClientSecret},
		{"BASE_URL", c.BaseURL},
		{"COOKIE_SECRET", c.CookieSecret},
		{"CHANNEL_LOGIN", c.ChannelLogin},
	}
	for _, r := range required {
		if r.val == "" {
			errs = append(errs, fmt.Errorf("%w: %s is not set", ErrMissing, r.key))
		}
	}

	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%w: BASE_URL %q is not an absolute URL", ErrInvalid, c.BaseURL))
		}
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: PORT %d is out of range", ErrInvalid, c.Port))
	}
	if !c.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("%w: LOG_LEVEL %q; valid values: debug, info, warn, error", ErrInvalid, c.LogLevel))
	}
	if c.TTSRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("%w: TTS_RATE_LIMIT must be positive", ErrInvalid))
	}
	if c.TTSRateBurst <= 0 {
		errs = append(errs, fmt.Errorf("%w: TTS_RATE_BURST must be positive", ErrInvalid))
	}
	if c.WatchInterval < 0 {
		errs = append(errs, fmt.Errorf("%w: CONFIG_WATCH_INTERVAL must not be negative", ErrInvalid))
	}

	return errors.Join(errs...)
}

// RedirectURI is the OAuth callback registered with Twitch.
func (c *Config) RedirectURI() string {
	return c.BaseURL + "/oauth2/twitch"
}

// ListenAddr is the TCP address the HTTP server binds.
func (c *Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}

// TTSEnabled reports whether at least one speech backend is configured.
// /api/tts is mounted when either TTSURL or OpenAIKey is set, not only when
// the HTTP backend is available.
func (c *Config) TTSEnabled() bool {
	return c.TTSURL != "" || c.OpenAIKey != ""
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

// getBool treats any non-empty value other than "false" or "0" as true.
func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	switch strings.ToLower(raw) {
	case "false", "0":
		return false
	}
	return true
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}
