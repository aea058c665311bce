package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("example.com", "deploy")

	assert.Equal(t, "example.com:22", cfg.Address())
	assert.True(t, cfg.StrictHostKeyChecking)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 4, cfg.Parallelism)
	assert.Equal(t, "known_hosts", filepath.Base(cfg.KnownHostsPath))
}

func TestConfigAddress_IPv6(t *testing.T) {
	cfg := DefaultConfig("::1", "deploy")
	cfg.Port = 2222
	assert.Equal(t, "[::1]:2222", cfg.Address())
}

func TestConfigValidate(t *testing.T) {
	// Keep default key discovery away from the real home directory.
	t.Setenv("HOME", t.TempDir())
	keyPath := writeTestKey(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "password", mutate: func(c *Config) { c.Password = "pw" }},
		{name: "key", mutate: func(c *Config) { c.PrivateKeyPath = keyPath }},
		{name: "ip host", mutate: func(c *Config) { c.Password = "pw"; c.Host = "10.0.0.7" }},
		{name: "missing host", mutate: func(c *Config) { c.Password = "pw"; c.Host = "" }, wantErr: "Config.Host"},
		{name: "bad host", mutate: func(c *Config) { c.Password = "pw"; c.Host = "not a host" }, wantErr: "Config.Host"},
		{name: "bad port", mutate: func(c *Config) { c.Password = "pw"; c.Port = 70000 }, wantErr: "Config.Port"},
		{name: "missing user", mutate: func(c *Config) { c.Password = "pw"; c.User = "" }, wantErr: "Config.User"},
		{name: "zero timeout", mutate: func(c *Config) { c.Password = "pw"; c.Timeout = 0 }, wantErr: "Config.Timeout"},
		{name: "zero parallelism", mutate: func(c *Config) { c.Password = "pw"; c.Parallelism = 0 }, wantErr: "Config.Parallelism"},
		{name: "no credentials", mutate: func(c *Config) {}, wantErr: "no default key found"},
		{name: "key not found", mutate: func(c *Config) { c.PrivateKeyPath = "/nonexistent/key" }, wantErr: "private key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("example.com", "deploy")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigValidate_DefaultKey(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	sshDir := filepath.Join(home, ".ssh")
	require.NoError(t, os.MkdirAll(sshDir, 0o700))
	// id_ecdsa wins over id_rsa.
	for _, name := range []string{"id_rsa", "id_ecdsa"} {
		require.NoError(t, os.WriteFile(filepath.Join(sshDir, name), []byte("key"), 0o600))
	}

	cfg := DefaultConfig("example.com", "deploy")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join(sshDir, "id_ecdsa"), cfg.PrivateKeyPath)
}

func TestConfigClientConfig(t *testing.T) {
	t.Run("password adds keyboard-interactive", func(t *testing.T) {
		cfg := DefaultConfig("example.com", "deploy")
		cfg.Password = "pw"
		cfg.StrictHostKeyChecking = false

		cc, err := cfg.clientConfig()
		require.NoError(t, err)
		assert.Equal(t, "deploy", cc.User)
		assert.Len(t, cc.Auth, 2)
		assert.Equal(t, cfg.Timeout, cc.Timeout)
	})

	t.Run("key and password", func(t *testing.T) {
		cfg := DefaultConfig("example.com", "deploy")
		cfg.PrivateKeyPath = writeTestKey(t)
		cfg.Password = "pw"
		cfg.StrictHostKeyChecking = false

		cc, err := cfg.clientConfig()
		require.NoError(t, err)
		assert.Len(t, cc.Auth, 3)
	})

	t.Run("unparseable key", func(t *testing.T) {
		keyPath := filepath.Join(t.TempDir(), "bad_key")
		require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0o600))

		cfg := DefaultConfig("example.com", "deploy")
		cfg.PrivateKeyPath = keyPath
		_, err := cfg.clientConfig()
		assert.Error(t, err)
	})

	t.Run("strict checking needs known_hosts", func(t *testing.T) {
		cfg := DefaultConfig("example.com", "deploy")
		cfg.Password = "pw"
		cfg.KnownHostsPath = filepath.Join(t.TempDir(), "known_hosts")
		_, err := cfg.clientConfig()
		assert.ErrorContains(t, err, "known hosts")
	})
}

// writeTestKey writes an unencrypted ed25519 key and returns its path.
func writeTestKey(t *testing.T) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	keyPath := filepath.Join(t.TempDir(), "id_test")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))
	return keyPath
}
