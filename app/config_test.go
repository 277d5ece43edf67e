package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, 8080, config.Port)
	assert.Equal(t, "0.0.0.0", config.Hostname)
	assert.Len(t, config.Auth.Secret, 32)
	assert.Equal(t, "./relay.db", config.SQLite.File)
	assert.Equal(t, "./migrations", config.SQLite.Migrations)
	assert.Equal(t, 30*time.Second, config.Heartbeat.Interval)
	assert.Equal(t, []string{"*"}, config.AllowedOrigins)
}

func TestConfigValidate(t *testing.T) {
	config := &Config{}
	err := config.Validate()
	require.Error(t, err)
	assert.NotEmpty(t, FormatValidationErrors(err))

	config = &Config{Port: 99999, Hostname: "0.0.0.0"}
	config.Auth.Secret = []byte("secret")
	config.SQLite.File = "./relay.db"
	config.SQLite.Migrations = "./migrations"
	config.Heartbeat.Interval = time.Second
	assert.Error(t, config.Validate(), "out of range port")

	config.Port = 8081
	config.valid = false
	assert.NoError(t, config.Validate())
}
