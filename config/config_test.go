package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig("")
	assert.Equal(t, "lanprobe", cfg.System.Appid)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, 20, cfg.Scan.BatchSize)
	assert.Equal(t, 2000, cfg.Scan.ProbeTimeoutMs)
	assert.Equal(t, "ping", cfg.Scan.PingBinary)
}

func TestLoadConfigFromFile(t *testing.T) {
	content := `
system:
  appid: probe-lab
database:
  host: db.internal
  port: 5433
scan:
  batch_size: 50
  snmp_community: public
`
	path := filepath.Join(t.TempDir(), "lanprobe.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := LoadConfig(path)
	assert.Equal(t, "probe-lab", cfg.System.Appid)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 50, cfg.Scan.BatchSize)
	assert.Equal(t, "public", cfg.Scan.SnmpCommunity)
	// untouched knobs keep their defaults
	assert.Equal(t, 2000, cfg.Scan.ProbeTimeoutMs)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("LANPROBE_DB_HOST", "10.0.0.2")
	t.Setenv("LANPROBE_DB_PWD", "secret")

	cfg := LoadConfig("")
	assert.Equal(t, "10.0.0.2", cfg.Database.Host)
	assert.Equal(t, "secret", cfg.Database.Passwd)
}

func TestLoadConfigRepairsBadValues(t *testing.T) {
	content := `
scan:
  batch_size: -5
  probe_timeout_ms: 0
  ping_binary: ""
`
	path := filepath.Join(t.TempDir(), "lanprobe.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := LoadConfig(path)
	assert.Equal(t, 20, cfg.Scan.BatchSize)
	assert.Equal(t, 2000, cfg.Scan.ProbeTimeoutMs)
	assert.Equal(t, "ping", cfg.Scan.PingBinary)
}
