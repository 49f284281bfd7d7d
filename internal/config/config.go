// Package config loads local-logger's configuration from a file,
// environment variables, and CLI flags, in that precedence order,
// matching spec.md §4.8's table.
//
// Grounded on osapi-io-osapi/internal/config (mapstructure-tagged
// struct unmarshaled from viper) for the merge mechanism, and on
// original_source/src/proxy_config.rs for the default values and
// environment variable names themselves.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration shape, matching spec.md §4.8.
type Config struct {
	Proxy     Proxy     `mapstructure:"proxy"`
	TLS       TLS       `mapstructure:"tls"`
	Recording Recording `mapstructure:"recording"`
	Filtering Filtering `mapstructure:"filtering"`
}

// Proxy holds the front door's bind configuration.
type Proxy struct {
	ListenAddr string `mapstructure:"listen_addr"`
	ListenPort int    `mapstructure:"listen_port"`
}

// TLS holds certificate authority configuration.
type TLS struct {
	CertDir    string `mapstructure:"cert_dir"`
	GenerateCA bool   `mapstructure:"generate_ca"`
}

// Recording holds exchange-capture configuration.
type Recording struct {
	OutputDir     string `mapstructure:"output_dir"`
	IncludeBodies bool   `mapstructure:"include_bodies"`
	MaxBodySize   int64  `mapstructure:"max_body_size"`
	// PrettyPrint is accepted and stored but ignored by the engine — the
	// NDJSON-per-line format precludes pretty printing (spec.md §9).
	PrettyPrint bool `mapstructure:"pretty_print"`
}

// Filtering holds the interception allow-list.
type Filtering struct {
	TargetHosts     []string `mapstructure:"target_hosts"`
	CapturePatterns []string `mapstructure:"capture_patterns"`
}

func defaultCertDir(outputDir string) string {
	return filepath.Join(outputDir, "certs")
}

func defaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".local-logger")
}

// Load builds a viper instance seeded with spec.md §4.8's defaults,
// optionally overlaid by a config file at path (if non-empty), then by
// the CLAUDE_LOGGER_*/CLAUDE_MCP_LOCAL_LOGGER_DIR environment variables,
// and returns the unmarshaled, validated Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	Bind(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	return unmarshal(v)
}

// FromViper unmarshals and validates a Config from a *viper.Viper the
// caller has already seeded via Bind and, optionally, config-file
// reading and cobra flag binding — used by internal/cmd so flags take
// precedence over file and environment values.
func FromViper(v *viper.Viper) (*Config, error) {
	return unmarshal(v)
}

// Bind registers defaults and environment variable bindings on v. It is
// exported so the CLI layer can bind cobra flags on the same *viper.Viper
// before the file/env/flag layers are merged and unmarshaled.
func Bind(v *viper.Viper) {
	outputDir := defaultOutputDir()

	v.SetDefault("proxy.listen_addr", "127.0.0.1")
	v.SetDefault("proxy.listen_port", 6969)
	v.SetDefault("tls.cert_dir", defaultCertDir(outputDir))
	v.SetDefault("tls.generate_ca", true)
	v.SetDefault("recording.output_dir", outputDir)
	v.SetDefault("recording.include_bodies", true)
	v.SetDefault("recording.max_body_size", 10*1024*1024)
	v.SetDefault("recording.pretty_print", true)
	v.SetDefault("filtering.target_hosts", []string{"api.anthropic.com"})
	v.SetDefault("filtering.capture_patterns", []string{})

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("proxy.listen_addr", "CLAUDE_LOGGER_PROXY_ADDR")
	_ = v.BindEnv("proxy.listen_port", "CLAUDE_LOGGER_PROXY_PORT")
	_ = v.BindEnv("tls.cert_dir", "CLAUDE_LOGGER_PROXY_CERT_DIR")
	_ = v.BindEnv("recording.output_dir", "CLAUDE_MCP_LOCAL_LOGGER_DIR")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// recording.output_dir may have been overridden by env/flag after
	// tls.cert_dir's default was computed from the original output dir.
	// viper.IsSet reports true for defaulted-but-unset keys too, so it
	// can't distinguish "explicitly set" from "still the default"; compare
	// against the original default directly instead.
	if cfg.Recording.OutputDir != defaultOutputDir() && cfg.TLS.CertDir == defaultCertDir(defaultOutputDir()) {
		cfg.TLS.CertDir = defaultCertDir(cfg.Recording.OutputDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces spec.md §4.8's validation rules.
func (c *Config) Validate() error {
	if c.Proxy.ListenPort < 1 || c.Proxy.ListenPort > 65535 {
		return fmt.Errorf("config: proxy.listen_port %d out of range [1, 65535]", c.Proxy.ListenPort)
	}
	if c.Recording.MaxBodySize < 0 {
		return fmt.Errorf("config: recording.max_body_size must be >= 0")
	}
	if len(c.Filtering.TargetHosts) == 0 {
		return fmt.Errorf("config: filtering.target_hosts must be non-empty")
	}
	if c.TLS.CertDir == "" {
		return fmt.Errorf("config: tls.cert_dir must not be empty")
	}
	return nil
}

// IsLoopback reports whether the configured proxy address is a loopback
// address, per spec.md §4.5's bind-address invariant.
func (c *Config) IsLoopback() bool {
	switch c.Proxy.ListenAddr {
	case "127.0.0.1", "::1", "localhost":
		return true
	default:
		return false
	}
}
