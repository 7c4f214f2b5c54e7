package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/monitd/internal/registry"
)

func newTestServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Timeout: time.Second})
}

func TestListProcessesDecodesEntries(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/processes", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]registry.ProcessEntry{
			{ProcessConfig: registry.ProcessConfig{ID: "echo"}, State: registry.StateRunning},
		})
	})
	c := newTestServer(t, mux)

	entries, err := c.ListProcesses(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "echo", entries[0].ID)
}

func TestRegisterProcessSurfacesAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/processes", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "host not trusted", Kind: "permission_denied"})
	})
	c := newTestServer(t, mux)

	err := c.RegisterProcess(context.Background(), registry.ProcessConfig{ID: "x", Executable: "/bin/sleep"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "permission_denied")
}

func TestStartProcessOK(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/processes/echo/start", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
	})
	c := newTestServer(t, mux)
	require.NoError(t, c.StartProcess(context.Background(), "echo"))
}

func TestIsReachable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/monitor/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(MonitorStatus{InstanceID: "inst-1"})
	})
	c := newTestServer(t, mux)
	require.True(t, c.IsReachable(context.Background()))
}

func TestMonitorStatusDecodes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/monitor/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(MonitorStatus{InstanceID: "inst-1", Counts: map[string]int{"running": 2}})
	})
	c := newTestServer(t, mux)
	status, err := c.MonitorStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, "inst-1", status.InstanceID)
	require.Equal(t, 2, status.Counts["running"])
}
