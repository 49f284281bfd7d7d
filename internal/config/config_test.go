package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Proxy.ListenAddr)
	assert.Equal(t, 6969, cfg.Proxy.ListenPort)
	assert.True(t, cfg.TLS.GenerateCA)
	assert.True(t, cfg.Recording.IncludeBodies)
	assert.Equal(t, int64(10*1024*1024), cfg.Recording.MaxBodySize)
	assert.Equal(t, []string{"api.anthropic.com"}, cfg.Filtering.TargetHosts)
	assert.Equal(t, filepath.Join(cfg.Recording.OutputDir, "certs"), cfg.TLS.CertDir)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("CLAUDE_LOGGER_PROXY_ADDR", "0.0.0.0")
	t.Setenv("CLAUDE_LOGGER_PROXY_PORT", "9999")
	t.Setenv("CLAUDE_LOGGER_PROXY_CERT_DIR", "/tmp/custom-certs")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Proxy.ListenAddr)
	assert.Equal(t, 9999, cfg.Proxy.ListenPort)
	assert.Equal(t, "/tmp/custom-certs", cfg.TLS.CertDir)
}

func TestLoad_OutputDirOverrideRederivesCertDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLAUDE_MCP_LOCAL_LOGGER_DIR", dir)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Recording.OutputDir)
	assert.Equal(t, filepath.Join(dir, "certs"), cfg.TLS.CertDir)
}

func TestLoad_ExplicitCertDirWinsOverRederivation(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLAUDE_MCP_LOCAL_LOGGER_DIR", dir)
	t.Setenv("CLAUDE_LOGGER_PROXY_CERT_DIR", "/tmp/explicit-certs")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/explicit-certs", cfg.TLS.CertDir)
}

func TestLoad_ConfigFileIsRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("proxy:\n  listen_port: 7000\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Proxy.ListenPort)
}

func TestLoad_UnreadableConfigFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_RejectsOutOfRangePort(t *testing.T) {
	cfg := &Config{
		Proxy:     Proxy{ListenPort: 70000},
		Filtering: Filtering{TargetHosts: []string{"x"}},
		TLS:       TLS{CertDir: "/tmp"},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNegativeMaxBodySize(t *testing.T) {
	cfg := &Config{
		Proxy:     Proxy{ListenPort: 8080},
		Recording: Recording{MaxBodySize: -1},
		Filtering: Filtering{TargetHosts: []string{"x"}},
		TLS:       TLS{CertDir: "/tmp"},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsEmptyTargetHosts(t *testing.T) {
	cfg := &Config{
		Proxy: Proxy{ListenPort: 8080},
		TLS:   TLS{CertDir: "/tmp"},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsEmptyCertDir(t *testing.T) {
	cfg := &Config{
		Proxy:     Proxy{ListenPort: 8080},
		Filtering: Filtering{TargetHosts: []string{"x"}},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	cfg := &Config{
		Proxy:     Proxy{ListenPort: 8080},
		Filtering: Filtering{TargetHosts: []string{"x"}},
		TLS:       TLS{CertDir: "/tmp"},
	}
	assert.NoError(t, cfg.Validate())
}

func TestIsLoopback(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1": true,
		"::1":       true,
		"localhost": true,
		"0.0.0.0":   false,
		"10.0.0.5":  false,
	}
	for addr, want := range cases {
		cfg := &Config{Proxy: Proxy{ListenAddr: addr}}
		assert.Equal(t, want, cfg.IsLoopback(), addr)
	}
}

func TestFromViper_FlagOverrideTakesPrecedence(t *testing.T) {
	v := viper.New()
	Bind(v)
	v.Set("proxy.listen_port", 1234)

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Proxy.ListenPort)
}
