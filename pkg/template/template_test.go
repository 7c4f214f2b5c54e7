package template

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateWebTemplate(t *testing.T) {
	g := NewGenerator()
	cfg, err := g.Generate(KindWeb, "my-web-app", "/usr/bin/python3")
	require.NoError(t, err)
	require.Equal(t, "my-web-app", cfg.ID)
	require.Equal(t, "/usr/bin/python3", cfg.Executable)
	require.True(t, cfg.Autostart)
	require.Equal(t, "8000", cfg.Env["PORT"])
	require.NotNil(t, cfg.Restart)
}

func TestGenerateCronTemplateDisablesAutostart(t *testing.T) {
	g := NewGenerator()
	cfg, err := g.Generate(KindCron, "nightly-job", "/app/scheduled-task")
	require.NoError(t, err)
	require.False(t, cfg.Autostart)
	require.Nil(t, cfg.Restart)
}

func TestGenerateSimpleTemplateHasNoDefaults(t *testing.T) {
	g := NewGenerator()
	cfg, err := g.Generate(KindSimple, "hello", "/bin/echo")
	require.NoError(t, err)
	require.False(t, cfg.Autostart)
	require.Nil(t, cfg.Restart)
	require.Empty(t, cfg.Env)
}

func TestGenerateUnknownKindErrors(t *testing.T) {
	g := NewGenerator()
	_, err := g.Generate(Kind("bogus"), "x", "/bin/x")
	require.Error(t, err)
}

func TestGenerateAPIAndWorkerDifferOnRestartBudget(t *testing.T) {
	g := NewGenerator()
	api, err := g.Generate(KindAPI, "api", "/app/api-server")
	require.NoError(t, err)
	worker, err := g.Generate(KindWorker, "worker", "/app/worker")
	require.NoError(t, err)
	require.Less(t, api.Restart.MaxAttempts, worker.Restart.MaxAttempts)
}
