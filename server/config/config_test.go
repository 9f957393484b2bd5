package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	man := NewManager(&cobra.Command{})
	cfg := man.LoadConfig()

	assert.Equal(t, "mysql", cfg.Database.Dialect)
	assert.Equal(t, "", cfg.Database.URL)
	assert.Equal(t, 50, cfg.Database.MaxOpenConns)
	assert.False(t, cfg.Logging.Debug)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ROMM_DATABASE_DIALECT", "postgres")
	t.Setenv("ROMM_DATABASE_URL", "postgres://u:p@localhost:5432/romm")
	t.Setenv("ROMM_LOGGING_DEBUG", "true")

	man := NewManager(&cobra.Command{})
	cfg := man.LoadConfig()

	assert.Equal(t, "postgres", cfg.Database.Dialect)
	assert.Equal(t, "postgres://u:p@localhost:5432/romm", cfg.Database.URL)
	assert.True(t, cfg.Logging.Debug)
}

func TestFlagOverrides(t *testing.T) {
	cmd := &cobra.Command{}
	man := NewManager(cmd)

	require.NoError(t, cmd.PersistentFlags().Set("database_dialect", "postgres"))
	require.NoError(t, cmd.PersistentFlags().Set("database_max_open_conns", "7"))

	cfg := man.LoadConfig()
	assert.Equal(t, "postgres", cfg.Database.Dialect)
	assert.Equal(t, 7, cfg.Database.MaxOpenConns)
}

func TestEnvNameFromConfigKey(t *testing.T) {
	assert.Equal(t, "ROMM_DATABASE_URL", envNameFromConfigKey("database.url"))
	assert.Equal(t, "ROMM_LOGGING_JSON", envNameFromConfigKey("logging.json"))
}
