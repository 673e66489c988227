package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "strata.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	p := writeConfig(t, `
grpc:
  addr: 127.0.0.1:7000
checkpoint:
  interval: 30s
broadcast:
  driver: sarama
  brokers: [localhost:9092]
  paths: [/rig]
nodes:
  - path: /rig/temp
    kind: float
    initial: 20
  - path: /rig/trace
    kind: samples
    initial: [1, 2, 3]
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.GRPC.Addr)
	assert.Equal(t, 30*time.Second, cfg.Checkpoint.Interval)
	assert.Equal(t, "./data/journal", cfg.Journal.Dir)
	assert.Equal(t, "strata.changes", cfg.Broadcast.Topic)
	require.Len(t, cfg.Nodes, 2)
	assert.Equal(t, 20, cfg.Nodes[0].Initial)
	assert.Equal(t, []any{1, 2, 3}, cfg.Nodes[1].Initial)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Broadcast.Driver = "kafka-go"
	cfg.Log.Format = "xml"
	cfg.Nodes = []Node{
		{Path: "/a", Kind: "float"},
		{Path: "/a", Kind: "complex"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"broadcast.brokers", "log.format", "unknown kind", "declared twice"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
