package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	c := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "")
	c.Flags(fs)
	require.NoError(t, fs.Parse(args))
	return c, SetAllConfig(viper.New(), fs, EnvPrefix)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shardmesh.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	c, err := parse(t)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.NoError(t, c.Validate())
}

func TestPriority(t *testing.T) {
	path := writeConfig(t, `
bind = ":9000"
fanout = 3
request-timeout = "2m"
admin-token = "from-file"
`)
	t.Setenv("SHARDMESH_FANOUT", "5")
	t.Setenv("SHARDMESH_KAFKA_BROKERS", "k1:9092,k2:9092")

	c, err := parse(t, "--config", path, "--admin-token", "from-flag")
	require.NoError(t, err)
	assert.Equal(t, ":9000", c.Bind, "file")
	assert.Equal(t, 2*time.Minute, c.RequestTimeout, "file")
	assert.Equal(t, 5, c.Fanout, "env beats file")
	assert.Equal(t, "from-flag", c.AdminToken, "flag beats file")
	assert.Equal(t, "k1:9092,k2:9092", c.KafkaBrokers)
}

func TestConfigFileErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"unknown key", func(t *testing.T) string { return writeConfig(t, `nope = 1`) }},
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.toml") }},
		{"bad value", func(t *testing.T) string { return writeConfig(t, `fanout = "many"`) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, "--config", tt.path(t))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"bolt registry", func(c *Config) { c.Registry = "file:/tmp/reg.db" }, true},
		{"bad registry", func(c *Config) { c.Registry = "postgres://x" }, false},
		{"empty bind", func(c *Config) { c.Bind = "" }, false},
		{"bad proxy port", func(c *Config) { c.ProxyPort = 70000 }, false},
		{"zero fanout", func(c *Config) { c.Fanout = 0 }, false},
		{"zero timeout", func(c *Config) { c.ProbeTimeout = 0 }, false},
		{"monitor disabled", func(c *Config) { c.HealthInterval = 0 }, true},
		{"kafka without topic", func(c *Config) { c.KafkaBrokers = "k:9092"; c.KafkaTopic = "" }, false},
		{"healthy placement", func(c *Config) { c.Placement = "healthy-away" }, true},
		{"healthy without monitor", func(c *Config) { c.Placement = "healthy"; c.HealthInterval = 0 }, false},
		{"unknown placement", func(c *Config) { c.Placement = "random" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			if tt.ok {
				assert.NoError(t, c.Validate())
			} else {
				assert.Error(t, c.Validate())
			}
		})
	}
}
