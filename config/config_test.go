package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/YiuTerran/go-sockstream/network/ip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sockstream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "::", cfg.Listen.Address)
	assert.Equal(t, 8080, cfg.Listen.Port)
	assert.Equal(t, 16, cfg.Listen.Backlog)
	assert.Equal(t, 64, cfg.Dispatch.Workers)
	assert.Equal(t, 256, cfg.Dispatch.Queue)
	assert.Equal(t, 30*time.Second, cfg.Timeout.Read)
	assert.Equal(t, ":9100", cfg.Metrics.Address)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, ip.Unspecified, cfg.ListenAddress())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
listen:
  address: 127.0.0.1
  port: 7000
dispatch:
  workers: 8
timeout:
  read: 5s
log:
  level: info
`)
	t.Setenv("SOCKSTREAM_LISTEN_PORT", "9000")
	t.Setenv("SOCKSTREAM_DISPATCH_QUEUE", "32")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Listen.Address)
	assert.Equal(t, 9000, cfg.Listen.Port)
	assert.Equal(t, 16, cfg.Listen.Backlog)
	assert.Equal(t, 8, cfg.Dispatch.Workers)
	assert.Equal(t, 32, cfg.Dispatch.Queue)
	assert.Equal(t, 5*time.Second, cfg.Timeout.Read)
	assert.Equal(t, 30*time.Second, cfg.Timeout.Write)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ip.MustParseAddress("127.0.0.1"), cfg.ListenAddress())
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("SOCKSTREAM_LISTEN_ADDRESS", "::1")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ip.Loopback, cfg.ListenAddress())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"address", func(c *Config) { c.Listen.Address = "localhost" }, "listen.address"},
		{"zone", func(c *Config) { c.Listen.Address = "fe80::1%eth0" }, "listen.address"},
		{"port", func(c *Config) { c.Listen.Port = 70000 }, "listen.port"},
		{"backlog", func(c *Config) { c.Listen.Backlog = 0 }, "listen.backlog"},
		{"workers", func(c *Config) { c.Dispatch.Workers = -1 }, "dispatch.workers"},
		{"queue", func(c *Config) { c.Dispatch.Queue = 0 }, "dispatch.queue"},
		{"timeout", func(c *Config) { c.Timeout.Read = -time.Second }, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Listen.Port = -1
	cfg.Dispatch.Workers = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen.port")
	assert.Contains(t, err.Error(), "dispatch.workers")
}

func TestWatchReloads(t *testing.T) {
	path := writeFile(t, "log:\n  level: info\n")
	changed := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { changed <- c })
	require.NoError(t, err)
	assert.Equal(t, "info", w.Load().Log.Level)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644))
	// 写文件可能触发多次事件，中间可能读到空文件
	timeout := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changed:
			if cfg.Log.Level != "warn" {
				continue
			}
		case <-timeout:
			t.Fatal("config change not observed")
		}
		break
	}
	assert.Eventually(t, func() bool { return w.Load().Log.Level == "warn" }, time.Second, 10*time.Millisecond)
}
