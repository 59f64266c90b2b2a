package fileloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matchpulse/matchpulse/internal/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
partitions:
  - code: bra.1
    name: Brasileirão
    hashtags: ["#Brasileirao"]
scheduler:
  live_delay: 20s
storage:
  backend: file
  path: /tmp/state.json
`)

	cfg, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)

	require.Len(t, cfg.Partitions, 1)
	require.Equal(t, "bra.1", cfg.Partitions[0].Code)
	require.Equal(t, "Brasileirão", cfg.Partitions[0].Name)
	require.Equal(t, 20*time.Second, cfg.Scheduler.LiveDelay)
	// Unspecified tunables pick up defaults.
	require.Equal(t, config.DefaultHibernationDelay, cfg.Scheduler.HibernationDelay)
}

func TestLoadExpandsEnvReferences(t *testing.T) {
	t.Setenv("TEST_MONITOR_TOKEN", "s3cret")

	path := writeConfig(t, `
partitions:
  - code: bra.1
    name: Brasileirão
storage:
  backend: memory
delivery:
  base_url: https://example.social
  access_token: ${TEST_MONITOR_TOKEN}
`)

	cfg, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.Delivery.AccessToken)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewFileLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "partitions: [unbalanced")
	_, err := NewFileLoader(path).Load(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
partitions:
  - code: "bra:1"
storage:
  backend: memory
`)
	_, err := NewFileLoader(path).Load(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid config")
}
