package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/monitd/internal/registry"
	"github.com/loykin/monitd/internal/supervisor"
)

func newTestRouter(t *testing.T) (*Router, *registry.Store) {
	t.Helper()
	store, err := registry.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Initialize("inst-1", 100))
	require.NoError(t, store.WithLock("allow_all", func(r *registry.Registry) (*registry.Registry, error) {
		r.RemoteAccess = registry.RemoteAccessConfig{
			Enabled:             true,
			TrustedHosts:        []string{"192.0.2.*"},
			AllowRegister:       true,
			AllowDeregister:     true,
			AllowStart:          true,
			AllowStop:           true,
			AllowDisable:        true,
			AllowAutostart:      true,
			ExecutableWhitelist: []string{"*"},
		}
		return r, nil
	}))
	controller := supervisor.NewController(t.TempDir(), t.TempDir())
	return NewRouter(store, controller, "inst-1", time.Now()), store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRegisterAndListProcesses(t *testing.T) {
	router, _ := newTestRouter(t)
	h := router.Handler()

	w := doJSON(t, h, http.MethodPost, "/processes", registry.ProcessConfig{
		ID: "echo", Name: "echo", Executable: "/bin/sleep", Args: []string{"1"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/processes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []registry.ProcessEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "echo", entries[0].ID)
	require.Equal(t, registry.StateStopped, entries[0].State)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	router, _ := newTestRouter(t)
	h := router.Handler()
	cfg := registry.ProcessConfig{ID: "dup", Executable: "/bin/sleep"}
	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodPost, "/processes", cfg).Code)
	w := doJSON(t, h, http.MethodPost, "/processes", cfg)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestGetUnknownProcessReturns404(t *testing.T) {
	router, _ := newTestRouter(t)
	h := router.Handler()
	w := doJSON(t, h, http.MethodGet, "/processes/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartDisabledProcessReturns409(t *testing.T) {
	router, store := newTestRouter(t)
	h := router.Handler()
	require.NoError(t, store.WithLock("seed", func(r *registry.Registry) (*registry.Registry, error) {
		r.Processes["p1"] = registry.ProcessEntry{
			ProcessConfig: registry.ProcessConfig{ID: "p1", Executable: "/bin/sleep"},
			Enabled:       false,
			State:         registry.StateDisabled,
		}
		return r, nil
	}))
	w := doJSON(t, h, http.MethodPost, "/processes/p1/start", nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestStartTransitionsToStarting(t *testing.T) {
	router, store := newTestRouter(t)
	h := router.Handler()
	require.NoError(t, store.WithLock("seed", func(r *registry.Registry) (*registry.Registry, error) {
		r.Processes["p1"] = registry.ProcessEntry{
			ProcessConfig: registry.ProcessConfig{ID: "p1", Executable: "/bin/sleep"},
			Enabled:       true,
			State:         registry.StateStopped,
		}
		return r, nil
	}))
	w := doJSON(t, h, http.MethodPost, "/processes/p1/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	reg, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, registry.StateStarting, reg.Processes["p1"].State)
}

func TestDeregisterUnknownReturns404(t *testing.T) {
	router, _ := newTestRouter(t)
	h := router.Handler()
	w := doJSON(t, h, http.MethodDelete, "/processes/ghost", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnableDisableRoundTrip(t *testing.T) {
	router, store := newTestRouter(t)
	h := router.Handler()
	require.NoError(t, store.WithLock("seed", func(r *registry.Registry) (*registry.Registry, error) {
		r.Processes["p1"] = registry.ProcessEntry{
			ProcessConfig: registry.ProcessConfig{ID: "p1", Executable: "/bin/sleep"},
			Enabled:       true,
			State:         registry.StateStopped,
		}
		return r, nil
	}))

	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodPost, "/processes/p1/disable", nil).Code)
	reg, err := store.Load()
	require.NoError(t, err)
	require.False(t, reg.Processes["p1"].Enabled)
	require.Equal(t, registry.StateDisabled, reg.Processes["p1"].State)

	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodPost, "/processes/p1/enable", nil).Code)
	reg, err = store.Load()
	require.NoError(t, err)
	require.True(t, reg.Processes["p1"].Enabled)
	require.Equal(t, registry.StateStopped, reg.Processes["p1"].State)
}

func TestAutostartBodyUpdatesEntry(t *testing.T) {
	router, store := newTestRouter(t)
	h := router.Handler()
	require.NoError(t, store.WithLock("seed", func(r *registry.Registry) (*registry.Registry, error) {
		r.Processes["p1"] = registry.ProcessEntry{
			ProcessConfig: registry.ProcessConfig{ID: "p1", Executable: "/bin/sleep"},
			Enabled:       true,
			State:         registry.StateStopped,
		}
		return r, nil
	}))
	w := doJSON(t, h, http.MethodPut, "/processes/p1/autostart", autostartBody{Autostart: true})
	require.Equal(t, http.StatusOK, w.Code)
	reg, err := store.Load()
	require.NoError(t, err)
	require.True(t, reg.Processes["p1"].Autostart)
}

func TestMonitorStatusReportsCounts(t *testing.T) {
	router, store := newTestRouter(t)
	h := router.Handler()
	require.NoError(t, store.WithLock("seed", func(r *registry.Registry) (*registry.Registry, error) {
		r.Processes["p1"] = registry.ProcessEntry{State: registry.StateRunning}
		r.Processes["p2"] = registry.ProcessEntry{State: registry.StateStopped}
		return r, nil
	}))
	w := doJSON(t, h, http.MethodGet, "/monitor/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status MonitorStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, "inst-1", status.InstanceID)
	require.Equal(t, 1, status.Counts["running"])
	require.Equal(t, 1, status.Counts["stopped"])
}

func TestTrustedHostsAndStandaloneMode(t *testing.T) {
	router, _ := newTestRouter(t)
	h := router.Handler()

	w := doJSON(t, h, http.MethodGet, "/config/trusted-hosts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hosts []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hosts))
	require.Equal(t, []string{"192.0.2.*"}, hosts)

	w = doJSON(t, h, http.MethodGet, "/config/standalone-mode", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "false", w.Body.String())
}

func TestRegisterForbiddenWhenGateClosed(t *testing.T) {
	store, err := registry.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Initialize("inst-1", 100))
	controller := supervisor.NewController(t.TempDir(), t.TempDir())
	router := NewRouter(store, controller, "inst-1", time.Now())
	h := router.Handler()

	w := doJSON(t, h, http.MethodPost, "/processes", registry.ProcessConfig{ID: "x", Executable: "/bin/sleep"})
	require.Equal(t, http.StatusForbidden, w.Code)
}
