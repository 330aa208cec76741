package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"rtclient/internal/security"
)

type Config struct {
	ServerURL string `toml:"server_url"`
	PollURL   string `toml:"poll_url"`
	APIURL    string `toml:"api_url"`
	Token     string `toml:"token"`
	UserID    string `toml:"user_id"`
	UserName  string `toml:"user_name"`

	Host         string   `toml:"http_host"`
	Port         int      `toml:"http_port"`
	BridgeSecret string   `toml:"bridge_secret"`
	CORSOrigins  []string `toml:"cors_origins"`

	STUNServers []string `toml:"stun_servers"`

	ReconnectAttempts int `toml:"reconnect_attempts"`
	ReconnectBaseMS   int `toml:"reconnect_base_ms"`
	ReconnectMaxMS    int `toml:"reconnect_max_ms"`

	PageSize         int `toml:"page_size"`
	TypingTTLMS      int `toml:"typing_ttl_ms"`
	ErrorTTLMS       int `toml:"error_ttl_ms"`
	TypingThrottleMS int `toml:"typing_throttle_ms"`

	CacheDSN string `toml:"cache_dsn"`
	LogLevel string `toml:"log_level"`
	Debug    bool   `toml:"debug"`
}

func defaults() *Config {
	return &Config{
		ServerURL:         "ws://localhost:8000/ws",
		PollURL:           "http://localhost:8000/signal",
		APIURL:            "http://localhost:8000/api",
		Host:              "127.0.0.1",
		Port:              8765,
		CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
		ReconnectAttempts: 5,
		ReconnectBaseMS:   1000,
		ReconnectMaxMS:    5000,
		PageSize:          50,
		TypingTTLMS:       3000,
		ErrorTTLMS:        5000,
		TypingThrottleMS:  2000,
		LogLevel:          "info",
	}
}

// Load reads .env, then the TOML file named by RTCLIENT_CONFIG, then the
// environment. Later sources win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if path := os.Getenv("RTCLIENT_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	cfg.ServerURL = getEnv("RTCLIENT_SERVER_URL", cfg.ServerURL)
	cfg.PollURL = getEnv("RTCLIENT_POLL_URL", cfg.PollURL)
	cfg.APIURL = getEnv("RTCLIENT_API_URL", cfg.APIURL)
	cfg.Token = getEnv("RTCLIENT_TOKEN", cfg.Token)
	cfg.UserID = getEnv("RTCLIENT_USER_ID", cfg.UserID)
	cfg.UserName = getEnv("RTCLIENT_USER_NAME", cfg.UserName)

	cfg.Host = getEnv("HTTP_HOST", cfg.Host)
	cfg.Port = getEnvAsInt("HTTP_PORT", cfg.Port)
	cfg.BridgeSecret = getEnv("BRIDGE_SECRET", cfg.BridgeSecret)
	cfg.CORSOrigins = getEnvAsList("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.STUNServers = getEnvAsList("STUN_SERVERS", cfg.STUNServers)

	cfg.ReconnectAttempts = getEnvAsInt("RECONNECT_ATTEMPTS", cfg.ReconnectAttempts)
	cfg.ReconnectBaseMS = getEnvAsInt("RECONNECT_BASE_MS", cfg.ReconnectBaseMS)
	cfg.ReconnectMaxMS = getEnvAsInt("RECONNECT_MAX_MS", cfg.ReconnectMaxMS)
	cfg.PageSize = getEnvAsInt("PAGE_SIZE", cfg.PageSize)
	cfg.TypingTTLMS = getEnvAsInt("TYPING_TTL_MS", cfg.TypingTTLMS)
	cfg.ErrorTTLMS = getEnvAsInt("ERROR_TTL_MS", cfg.ErrorTTLMS)
	cfg.TypingThrottleMS = getEnvAsInt("TYPING_THROTTLE_MS", cfg.TypingThrottleMS)

	cfg.CacheDSN = getEnv("CACHE_DSN", cfg.CacheDSN)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Debug = getEnvAsBool("DEBUG", cfg.Debug)

	if cfg.Token == "" {
		return nil, fmt.Errorf("RTCLIENT_TOKEN is required")
	}
	if cfg.ServerURL == "" && cfg.PollURL == "" {
		return nil, fmt.Errorf("RTCLIENT_SERVER_URL or RTCLIENT_POLL_URL is required")
	}
	if cfg.UserID == "" || cfg.UserName == "" {
		id, err := security.ParseIdentity(cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("RTCLIENT_USER_ID not set and token has no identity: %w", err)
		}
		if cfg.UserID == "" {
			cfg.UserID = id.UserID
		}
		if cfg.UserName == "" {
			cfg.UserName = id.Name
		}
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) ReconnectBase() time.Duration { return ms(c.ReconnectBaseMS) }
func (c *Config) ReconnectMax() time.Duration  { return ms(c.ReconnectMaxMS) }
func (c *Config) TypingTTL() time.Duration     { return ms(c.TypingTTLMS) }
func (c *Config) ErrorTTL() time.Duration      { return ms(c.ErrorTTLMS) }
func (c *Config) TypingThrottle() time.Duration {
	return ms(c.TypingThrottleMS)
}

// SlogLevel maps LOG_LEVEL to a slog level. DEBUG=true forces debug.
func (c *Config) SlogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
