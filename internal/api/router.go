// Package api implements the monitor's Control HTTP surface (spec §6):
// register/start/stop/enable/disable/autostart a process, list and
// inspect the registry, and report monitor-wide status. Every mutating
// request is authorized through the Remote Access Gate (internal/gate)
// before it touches internal/registry.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/monitd/internal/errs"
	"github.com/loykin/monitd/internal/gate"
	"github.com/loykin/monitd/internal/metrics"
	"github.com/loykin/monitd/internal/registry"
	"github.com/loykin/monitd/internal/supervisor"
)

// Router serves the Control API against one registry.Store. gateFor is
// called per request so a change to remote_access (itself stored in the
// registry document) takes effect on the very next request, without a
// daemon restart.
type Router struct {
	store      *registry.Store
	controller *supervisor.Controller
	instanceID string
	startedAt  time.Time
}

// NewRouter builds a Router. startedAt should be the monitor process's
// own start time, used to compute MonitorStatus.UptimeSeconds.
func NewRouter(store *registry.Store, controller *supervisor.Controller, instanceID string, startedAt time.Time) *Router {
	return &Router{store: store, controller: controller, instanceID: instanceID, startedAt: startedAt}
}

// Handler returns the gin http.Handler for this Router.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())

	g.GET("/processes", r.handleList)
	g.POST("/processes", r.handleRegister)
	g.GET("/processes/:id", r.handleGet)
	g.DELETE("/processes/:id", r.handleDeregister)
	g.POST("/processes/:id/start", r.handleStart)
	g.POST("/processes/:id/stop", r.handleStop)
	g.POST("/processes/:id/enable", r.handleEnable)
	g.POST("/processes/:id/disable", r.handleDisable)
	g.PUT("/processes/:id/autostart", r.handleAutostart)
	g.GET("/monitor/status", r.handleMonitorStatus)
	g.GET("/config/trusted-hosts", r.handleTrustedHosts)
	g.GET("/config/standalone-mode", r.handleStandaloneMode)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	return g
}

// NewServer starts a standalone HTTP server on addr using this router,
// matching the teacher's "start in a goroutine, watch for an immediate
// bind error" pattern so callers get a synchronous error on bad addr.
func NewServer(addr string, router *Router) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
	case <-time.After(100 * time.Millisecond):
	}

	return server, nil
}

// errorResp is the envelope for every non-2xx response.
type errorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// statusForKind maps an errs.Kind onto the status codes spec §6 names.
func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.PermissionDenied:
		return http.StatusForbidden
	case errs.ProcessNotFound:
		return http.StatusNotFound
	case errs.ProcessDisabled, errs.InvalidState, errs.LockTimeout:
		return http.StatusConflict
	case errs.ExternalTimeout, errs.LedgerIOError, errs.InternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeError(c *gin.Context, err error) {
	kind := errs.As(err)
	if kind == errs.PermissionDenied {
		metrics.IncGateDenial(err.Error())
	}
	writeJSON(c, statusForKind(kind), errorResp{Error: err.Error(), Kind: string(kind)})
}

func writeJSON(c *gin.Context, code int, v any) {
	c.JSON(code, v)
}

// gateFor builds a Gate from the registry document's current
// remote_access configuration.
func gateFor(r *registry.Registry) *gate.Gate {
	return gate.New(r.RemoteAccess)
}
