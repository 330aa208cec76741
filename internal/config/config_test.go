package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtclient/internal/config"
)

func token(t *testing.T) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u7", "name": "Grace"}).SignedString([]byte("x"))
	require.NoError(t, err)
	return s
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RTCLIENT_CONFIG", "")
	t.Setenv("RTCLIENT_TOKEN", token(t))

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "u7", cfg.UserID)
	assert.Equal(t, "Grace", cfg.UserName)
	assert.Equal(t, 5, cfg.ReconnectAttempts)
	assert.Equal(t, time.Second, cfg.ReconnectBase())
	assert.Equal(t, 5*time.Second, cfg.ReconnectMax())
	assert.Equal(t, 3*time.Second, cfg.TypingTTL())
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, "127.0.0.1:8765", cfg.HTTPAddr())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadTokenRequired(t *testing.T) {
	t.Setenv("RTCLIENT_CONFIG", "")
	t.Setenv("RTCLIENT_TOKEN", "")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtclient.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_url = "wss://chat.example/ws"
user_id = "file-user"
user_name = "From File"
http_port = 9000
stun_servers = ["stun:stun.example:3478"]
log_level = "warn"
`), 0o600))

	t.Setenv("RTCLIENT_CONFIG", path)
	t.Setenv("RTCLIENT_TOKEN", "opaque")
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("CORS_ORIGINS", "http://a, http://b ,")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example/ws", cfg.ServerURL)
	assert.Equal(t, "file-user", cfg.UserID, "an opaque token is fine when the identity is configured")
	assert.Equal(t, 9100, cfg.Port, "env wins over the file")
	assert.Equal(t, []string{"stun:stun.example:3478"}, cfg.STUNServers)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.CORSOrigins)
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())

	t.Setenv("DEBUG", "true")
	cfg, err = config.Load()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}
