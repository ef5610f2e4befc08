package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "GIN_MODE", "STORE", "MONGODB_URI", "MONGODB_DATABASE", "JWT_SECRET",
	"CONTENT_ENCRYPTION_KEY", "CONTENT_ENCRYPTION_SALT", "BROADCAST_SCOPE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "VAPID_PUBLIC_KEY", "VAPID_PRIVATE_KEY", "VAPID_SUBJECT",
}

// clearEnv unsets every key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StoreMongo, cfg.Store)
	assert.Equal(t, "murmur", cfg.MongoDatabase)
	assert.Equal(t, DefaultSalt, cfg.EncryptionSalt)
	assert.Equal(t, "org", cfg.BroadcastScope)
	assert.Equal(t, 5.0, cfg.RateLimitRPS)
	assert.Equal(t, 20, cfg.RateLimitBurst)
	assert.False(t, cfg.PushEnabled())
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	clearEnv(t)

	file := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(file, []byte(
		"JWT_SECRET=from-file\nSTORE=memory\nCORS_ORIGINS= http://a , ,http://b\nRATE_LIMIT_BURST=3\n"), 0o600))
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.JWTSecret, "environment wins over .env")
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.CORSOrigins)
	assert.Equal(t, 3, cfg.RateLimitBurst)
}

func TestLoad_BadNumber(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT_RPS", "fast")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "RATE_LIMIT_RPS")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Store: StoreMemory, JWTSecret: "s", EncryptionKey: "k",
			BroadcastScope: "org", RateLimitRPS: 1, RateLimitBurst: 1,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing secrets", mutate: func(c *Config) { c.JWTSecret, c.EncryptionKey = "", "" },
			want: []string{"JWT_SECRET", "CONTENT_ENCRYPTION_KEY"}},
		{name: "mongo without uri", mutate: func(c *Config) { c.Store = StoreMongo }, want: []string{"MONGODB_URI"}},
		{name: "unknown store", mutate: func(c *Config) { c.Store = "redis" }, want: []string{"STORE"}},
		{name: "unknown scope", mutate: func(c *Config) { c.BroadcastScope = "world" }, want: []string{"BROADCAST_SCOPE"}},
		{name: "unknown gin mode", mutate: func(c *Config) { c.GinMode = "prod" }, want: []string{"GIN_MODE"}},
		{name: "half vapid", mutate: func(c *Config) { c.VAPIDPublicKey = "pub" }, want: []string{"VAPID"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if len(tt.want) == 0 {
				assert.NoError(t, err)
				return
			}
			for _, w := range tt.want {
				assert.ErrorContains(t, err, w)
			}
		})
	}
}
