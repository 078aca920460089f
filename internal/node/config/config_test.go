package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 64, cfg.Layout().Partitions())
	assert.Equal(t, 256, cfg.Layout().LeavesPerPartition())
	assert.Equal(t, 3, cfg.Policies().For("anything").N)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"partitions not power of two", func(c *Config) { c.Ring.Partitions = 48 }},
		{"w above n", func(c *Config) { c.Replication.Default.W = 4 }},
		{"dead before suspect", func(c *Config) { c.Gossip.DeadAfter = 1 }},
		{"no vnodes", func(c *Config) { c.Ring.VNodes = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_LocalYAML(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	cfg, err := Load(filepath.Join(wd, "local.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "node-1", cfg.Server.NodeID)
	assert.Equal(t, 1, cfg.Replication.Default.N)
	assert.Equal(t, 1, cfg.Replication.Namespaces["maps"].W)
	assert.Equal(t, 30000, cfg.AntiEntropy.IntervalMs)
}
