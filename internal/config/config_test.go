package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "monitord.toml")
	require.NoError(t, os.WriteFile(file, []byte(data), 0o644))
	return file
}

func TestLoadConfigMinimal(t *testing.T) {
	file := writeConfig(t, `
instance_id = "inst-1"
log_directory = "/var/log/monitord"
registry_directory = "/var/lib/monitord"
monitor_interval_ms = 2000
`)
	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	require.Equal(t, "inst-1", cfg.InstanceID)
	require.Equal(t, 2000, cfg.MonitorIntervalMs)
}

func TestLoadConfigRequiresInstanceID(t *testing.T) {
	file := writeConfig(t, `
log_directory = "/var/log/monitord"
registry_directory = "/var/lib/monitord"
`)
	_, err := LoadConfig(file)
	require.Error(t, err)
}

func TestLoadConfigDecodesRemoteAccessAndProcesses(t *testing.T) {
	file := writeConfig(t, `
instance_id = "inst-1"
log_directory = "/var/log/monitord"
registry_directory = "/var/lib/monitord"

[remote_access]
enabled = true
trusted_hosts = ["10.0.0.*"]
allow_register = true
executable_whitelist = ["/usr/bin/*"]

[[processes]]
type = "process"
  [processes.spec]
  id = "web-1"
  name = "web"
  executable = "/usr/bin/web"
  args = ["--port", "8080"]
  autostart = true
    [processes.spec.restart]
    max_attempts = 5
    backoff_intervals_ms = [100, 500, 1000]
`)
	cfg, err := LoadConfig(file)
	require.NoError(t, err)

	ra := cfg.ToRegistryRemoteAccess()
	require.True(t, ra.Enabled)
	require.Equal(t, []string{"10.0.0.*"}, ra.TrustedHosts)
	require.True(t, ra.AllowRegister)

	procs, err := cfg.ProcessConfigs()
	require.NoError(t, err)
	require.Len(t, procs, 1)
	require.Equal(t, "web-1", procs[0].ID)
	require.Equal(t, "/usr/bin/web", procs[0].Executable)
	require.True(t, procs[0].Autostart)
	require.NotNil(t, procs[0].Restart)
	require.Equal(t, 5, procs[0].Restart.MaxAttempts)
}

func TestProcessConfigsRejectsMissingExecutable(t *testing.T) {
	file := writeConfig(t, `
instance_id = "inst-1"
log_directory = "/var/log/monitord"
registry_directory = "/var/lib/monitord"

[[processes]]
  [processes.spec]
  id = "broken"
`)
	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	_, err = cfg.ProcessConfigs()
	require.Error(t, err)
}

func TestProcessConfigsRejectsUnknownType(t *testing.T) {
	file := writeConfig(t, `
instance_id = "inst-1"
log_directory = "/var/log/monitord"
registry_directory = "/var/lib/monitord"

[[processes]]
type = "cronjob"
  [processes.spec]
  id = "x"
`)
	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	_, err = cfg.ProcessConfigs()
	require.Error(t, err)
}
