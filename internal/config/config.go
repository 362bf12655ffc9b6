// Package config defines the settings of the shardmesh binary. Every setting
// is a flag; values are taken from the command line, then the environment
// (SHARDMESH_ prefix), then a TOML config file.
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
	"github.com/dreamware/shardmesh/internal/migration"
	"github.com/dreamware/shardmesh/internal/placement"
	"github.com/dreamware/shardmesh/internal/routing"
	"github.com/dreamware/shardmesh/internal/servers"
)

// EnvPrefix prefixes the environment variable of every flag.
const EnvPrefix = "SHARDMESH"

// Config holds every setting of the binary.
type Config struct {
	Bind     string
	Registry string
	Seed     string

	ProxyPort  int
	VolumeRoot string
	Fanout     int
	Placement  string

	RequestTimeout time.Duration
	ProbeTimeout   time.Duration
	HealthInterval time.Duration

	AdminToken     string
	BackupTokenTTL time.Duration

	KafkaBrokers string
	KafkaTopic   string

	LogLevel       string
	LogDevelopment bool
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		Bind:           ":8080",
		Registry:       "memory",
		ProxyPort:      cluster.DefaultProxyPort,
		VolumeRoot:     migration.DefaultVolumeRoot,
		Fanout:         8,
		Placement:      "first",
		RequestTimeout: routing.DefaultTimeout,
		ProbeTimeout:   5 * time.Second,
		HealthInterval: 30 * time.Second,
		BackupTokenTTL: servers.DefaultBackupTokenTTL,
		KafkaTopic:     "shardmesh.events",
		LogLevel:       "info",
	}
}

// Flags registers one flag per setting, writing into c.
func (c *Config) Flags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Bind, "bind", c.Bind, "Address the HTTP API listens on.")
	fs.StringVar(&c.Registry, "registry", c.Registry, "Registry backend: memory or file:<path> for a bbolt database.")
	fs.StringVar(&c.Seed, "seed", c.Seed, "YAML file loaded into the registry at startup.")
	fs.IntVar(&c.ProxyPort, "proxy-port", c.ProxyPort, "Port of the shard proxy API.")
	fs.StringVar(&c.VolumeRoot, "volume-root", c.VolumeRoot, "Directory holding server volumes on every shard.")
	fs.IntVar(&c.Fanout, "fanout", c.Fanout, "Maximum concurrent teardown and probe calls.")
	fs.StringVar(&c.Placement, "placement", c.Placement, "Target selection policy: first, healthy or healthy-away.")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "Timeout of calls to daemons, agents and proxies.")
	fs.DurationVar(&c.ProbeTimeout, "probe-timeout", c.ProbeTimeout, "Timeout of a single liveness probe.")
	fs.DurationVar(&c.HealthInterval, "health-interval", c.HealthInterval, "Interval between shard liveness checks; 0 disables the monitor.")
	fs.StringVar(&c.AdminToken, "admin-token", c.AdminToken, "Bearer token of the operator API. Empty disables it.")
	fs.DurationVar(&c.BackupTokenTTL, "backup-token-ttl", c.BackupTokenTTL, "Lifetime of backup download tokens.")
	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", c.KafkaBrokers, "Comma separated Kafka brokers receiving lifecycle events.")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", c.KafkaTopic, "Kafka topic of lifecycle events.")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: error, info, verbose, debug or trace.")
	fs.BoolVar(&c.LogDevelopment, "log-development", c.LogDevelopment, "Human readable console logs.")
}

// Validate checks values that flags cannot express.
func (c *Config) Validate() error {
	switch {
	case c.Bind == "":
		return errors.New(errors.ErrUncoded, "bind address is required")
	case c.Registry != "memory" && !strings.HasPrefix(c.Registry, "file:"):
		return errors.Newf(errors.ErrUncoded, "invalid registry %q: expected memory or file:<path>", c.Registry)
	case c.ProxyPort <= 0 || c.ProxyPort > 65535:
		return errors.Newf(errors.ErrUncoded, "invalid proxy port %d", c.ProxyPort)
	case c.Fanout <= 0:
		return errors.New(errors.ErrUncoded, "fanout must be positive")
	case c.RequestTimeout <= 0 || c.ProbeTimeout <= 0:
		return errors.New(errors.ErrUncoded, "timeouts must be positive")
	case c.HealthInterval < 0:
		return errors.New(errors.ErrUncoded, "health interval cannot be negative")
	case c.KafkaBrokers != "" && c.KafkaTopic == "":
		return errors.New(errors.ErrUncoded, "kafka topic is required with kafka brokers")
	}
	if _, err := placement.ByName(c.Placement, nil); err != nil {
		return err
	}
	if strings.HasPrefix(c.Placement, "healthy") && c.HealthInterval == 0 {
		return errors.Newf(errors.ErrUncoded, "placement %q needs the health monitor", c.Placement)
	}
	return nil
}

// SetAllConfig reads every flag of flags from the command line, the
// environment and the config file named by the "config" flag, in that
// priority order, and stores the result through the flags.
//
// Environment variables are the flag names upper cased, dashes replaced by
// underscores, prefixed with envPrefix and an underscore.
func SetAllConfig(v *viper.Viper, flags *pflag.FlagSet, envPrefix string) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	valid := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		valid[f.Name] = true
	})

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "reading configuration file '%s'", path)
		}
		for _, key := range v.AllKeys() {
			if !valid[key] {
				return errors.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		// flags set on the command line win
		if flagErr != nil || f.Changed {
			return
		}
		if err := f.Value.Set(v.GetString(f.Name)); err != nil {
			flagErr = errors.Wrapf(err, "setting %s", f.Name)
		}
	})
	return flagErr
}
