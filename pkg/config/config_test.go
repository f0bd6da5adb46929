package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Port    int      `env:"TEST_CFG_PORT" envDefault:"8080"`
	Driver  string   `env:"TEST_CFG_DRIVER" envDefault:"postgres"`
	Brokers []string `env:"TEST_CFG_BROKERS" envDefault:"a:9092,b:9092" envSeparator:","`
	Enabled bool     `env:"TEST_CFG_ENABLED" envDefault:"false"`
}

type validatedConfig struct {
	Driver string `env:"TEST_CFG_DRIVER" envDefault:"postgres"`
}

func (c *validatedConfig) Validate() error {
	if c.Driver != "postgres" && c.Driver != "sqlite" {
		return errors.New("unsupported driver " + c.Driver)
	}
	return nil
}

func TestLoad_Defaults(t *testing.T) {
	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Brokers)
	assert.False(t, cfg.Enabled)
}

func TestLoad_FromEnvVars(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "9090")
	t.Setenv("TEST_CFG_DRIVER", "sqlite")
	t.Setenv("TEST_CFG_BROKERS", "k1:9092")
	t.Setenv("TEST_CFG_ENABLED", "true")

	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, []string{"k1:9092"}, cfg.Brokers)
	assert.True(t, cfg.Enabled)
}

func TestLoad_InvalidType(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "not-a-number")

	var cfg testConfig
	err := Load(&cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_RunsValidate(t *testing.T) {
	t.Setenv("TEST_CFG_DRIVER", "mysql")

	var cfg validatedConfig
	err := Load(&cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
	assert.Contains(t, err.Error(), "mysql")
}

func TestLoad_ValidatePasses(t *testing.T) {
	t.Setenv("TEST_CFG_DRIVER", "sqlite")

	var cfg validatedConfig
	require.NoError(t, Load(&cfg))
	assert.Equal(t, "sqlite", cfg.Driver)
}
