// Package config loads pipeline and transport configuration from defaults,
// an optional YAML file, and CLI flags, in that order of increasing
// precedence. Environment variables (REGULATOR_ prefix) are consulted only
// while a config file is loaded, and only for keys that file contains.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/econregulator/regulator/pkg/types"
)

// Config is the top-level configuration for the regulatord binary.
type Config struct {
	Pipeline types.PipelineConfig `mapstructure:"pipeline"`
	Server   types.ServerConfig   `mapstructure:"server"`
	LogLevel string               `mapstructure:"logLevel"`
}

// Default returns a Config populated with the pipeline and server defaults.
func Default() Config {
	return Config{
		Pipeline: types.DefaultPipelineConfig(),
		Server:   types.DefaultServerConfig(),
		LogLevel: "info",
	}
}

// RegisterFlags wires CLI flags onto fs for the config file path, mode,
// grace period, check interval, port, host, API key, and log level; no
// other field has a flag. fs is expected to be parsed by the caller before
// Load runs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.String("mode", "", "autonomous or advisor")
	fs.Int64("grace-period", 0, "ticks of pure observation before any intervention")
	fs.Int64("check-interval", 0, "pipeline runs every N ticks past grace")
	fs.Int("port", 0, "HTTP/WebSocket listen port")
	fs.String("host", "", "listen host")
	fs.String("api-key", "", "bearer token required for mutation routes")
	fs.String("log-level", "", "zap log level (debug, info, warn, error)")
}

// Load builds a Config from defaults, an optional YAML file, and any flags
// set on fs, in that increasing precedence order. REGULATOR_* environment
// variables override keys present in the YAML file; without a file they
// are not read. A flag left at its zero value counts as unset.
func Load(fs *pflag.FlagSet) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("REGULATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("unmarshal config file: %w", err)
		}
	}

	applyFlagOverrides(&cfg, fs)
	return cfg, nil
}

func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) {
	if v, _ := fs.GetString("mode"); v != "" {
		cfg.Pipeline.Mode = types.Mode(v)
	}
	if v, _ := fs.GetInt64("grace-period"); v != 0 {
		cfg.Pipeline.GracePeriod = v
	}
	if v, _ := fs.GetInt64("check-interval"); v != 0 {
		cfg.Pipeline.CheckInterval = v
	}
	if v, _ := fs.GetInt("port"); v != 0 {
		cfg.Server.Port = v
	}
	if v, _ := fs.GetString("host"); v != "" {
		cfg.Server.Host = v
	}
	if v, _ := fs.GetString("api-key"); v != "" {
		cfg.Server.APIKey = v
	}
	if v, _ := fs.GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
}
