package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/bellhop/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bellhop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, "bolt", cfg.Records.Backend)
	assert.Equal(t, "local", cfg.Feed.Backend)
	assert.NotEmpty(t, cfg.DeviceID)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/bellhop
poll_interval: 5s
records:
  backend: postgres
  dsn: postgres://bellhop@db/bellhop?sslmode=disable
feed:
  backend: redis
  url: redis://cache:6379/0
ledger:
  backend: redis
  dsn: redis://cache:6379/1
notify:
  transport: webhook
  webhook_url: https://mail.example.com/hooks/bellhop
  letterhead:
    business_name: Casa Luna
    phone: 555-0100
boards:
  - tenant: casa-luna
    kind: order
  - tenant: casa-luna
    kind: reservation
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/bellhop", cfg.DataDir)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	// Unset keys keep their defaults
	assert.Equal(t, 3*time.Second, cfg.ToneInterval)
	assert.Equal(t, "Casa Luna", cfg.Notify.Letterhead.BusinessName)

	keys, err := cfg.BoardKeys()
	require.NoError(t, err)
	assert.Equal(t, []types.BoardKey{
		{TenantID: "casa-luna", Kind: types.KindOrder},
		{TenantID: "casa-luna", Kind: types.KindReservation},
	}, keys)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "unknown record backend",
			mutate:  func(c *Config) { c.Records.Backend = "mongo" },
			wantErr: "records.backend",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Records.Backend = "postgres"; c.Feed.Backend = "none" },
			wantErr: "records.dsn",
		},
		{
			name: "local feed on postgres",
			mutate: func(c *Config) {
				c.Records = RecordsConfig{Backend: "postgres", DSN: "postgres://x"}
			},
			wantErr: "feed.backend local",
		},
		{
			name:    "redis ledger without dsn",
			mutate:  func(c *Config) { c.Ledger.Backend = "redis" },
			wantErr: "ledger.dsn",
		},
		{
			name:    "webhook without url",
			mutate:  func(c *Config) { c.Notify.Transport = "webhook" },
			wantErr: "webhook_url",
		},
		{
			name:    "wav without output",
			mutate:  func(c *Config) { c.Audio.Player = "wav" },
			wantErr: "audio.file",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.PollInterval = 0 },
			wantErr: "poll_interval",
		},
		{
			name: "bad board kind",
			mutate: func(c *Config) {
				c.Boards = []BoardConfig{{Tenant: "t1", Kind: "invoice"}}
			},
			wantErr: "boards[0]",
		},
		{
			name: "duplicate board",
			mutate: func(c *Config) {
				c.Boards = []BoardConfig{{Tenant: "t1", Kind: "order"}, {Tenant: "t1", Kind: "ORDER"}}
			},
			wantErr: "duplicate board",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
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

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
