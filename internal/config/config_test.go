package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "ACCESS_SERVER_URL", "https://radius.example.com/sync")
	setEnv(t, "ENV", "development")
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultMpesaBaseURL, cfg.MpesaBaseURL)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPS)
}

func TestLoad_MissingAccessServerURL(t *testing.T) {
	setEnv(t, "ACCESS_SERVER_URL", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ACCESS_SERVER_URL is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid development config",
			config: Config{
				Env:             "development",
				AccessServerURL: "https://radius.example.com/sync",
			},
			wantErr: "",
		},
		{
			name: "missing access server URL",
			config: Config{
				Env: "development",
			},
			wantErr: "ACCESS_SERVER_URL is required",
		},
		{
			name: "production without gateway credentials",
			config: Config{
				Env:             "production",
				AccessServerURL: "https://radius.example.com/sync",
			},
			wantErr: "MPESA_CONSUMER_KEY and MPESA_CONSUMER_SECRET are required",
		},
		{
			name: "production without short code",
			config: Config{
				Env:                 "production",
				AccessServerURL:     "https://radius.example.com/sync",
				MpesaConsumerKey:    "key",
				MpesaConsumerSecret: "secret",
			},
			wantErr: "MPESA_SHORT_CODE and MPESA_PASSKEY are required",
		},
		{
			name: "production without sync secret",
			config: Config{
				Env:                 "production",
				AccessServerURL:     "https://radius.example.com/sync",
				MpesaConsumerKey:    "key",
				MpesaConsumerSecret: "secret",
				MpesaShortCode:      "174379",
				MpesaPasskey:        "passkey",
			},
			wantErr: "ACCESS_SERVER_SECRET is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}
