// Package supervisor implements the single-threaded supervision loop of
// spec §4.3: on each tick it observes, resets, decides, and acts on
// every registry entry, driving the process package's Controller
// primitives and persisting every mutation through registry.Store.WithLock.
package supervisor

import (
	"sync"
	"time"

	"github.com/loykin/monitd/internal/env"
	"github.com/loykin/monitd/internal/errs"
	"github.com/loykin/monitd/internal/logger"
	"github.com/loykin/monitd/internal/process"
	"github.com/loykin/monitd/internal/registry"
)

// Controller owns the in-memory *process.Process handles for entries
// this daemon instance has itself spawned, and the glue to spawn/stop
// them from a registry.ProcessConfig (spec §4.2 "Process Controller").
type Controller struct {
	mu     sync.Mutex
	procs  map[string]*process.Process
	env    *env.Env
	logDir string
	pidDir string
}

// NewController builds a Controller. logDir and pidDir are the
// directories used for a spawned entry's stdout/stderr and pid file
// when its ProcessConfig does not say otherwise.
func NewController(logDir, pidDir string) *Controller {
	return &Controller{
		procs:  make(map[string]*process.Process),
		env:    env.New(),
		logDir: logDir,
		pidDir: pidDir,
	}
}

// Start spawns id's executable per cfg and returns the spawned pid.
func (c *Controller) Start(id string, cfg registry.ProcessConfig) (int, error) {
	mergedEnv := c.env.Merge(toEnvSlice(cfg.Env))
	logCfg := logger.Config{Dir: c.logDir}
	pidFile := c.pidFilePath(id)

	spec := process.FromProcessConfig(cfg, mergedEnv, pidFile, logCfg)
	proc := process.New(spec)
	cmd := proc.ConfigureCmd(mergedEnv)
	if err := proc.TryStart(cmd); err != nil {
		return 0, errs.Wrap(errs.InternalError, "start "+id, err)
	}
	proc.WritePIDFile()

	c.mu.Lock()
	c.procs[id] = proc
	c.mu.Unlock()

	return cmd.Process.Pid, nil
}

// Stop asks id's process to exit, waiting up to wait before escalating
// to SIGKILL. If this daemon instance never spawned id (e.g. it was
// restarted after id started), it falls back to pid-only termination.
func (c *Controller) Stop(id string, pid int, wait time.Duration) error {
	c.mu.Lock()
	proc, ok := c.procs[id]
	c.mu.Unlock()
	if ok {
		err := proc.Stop(wait)
		c.mu.Lock()
		delete(c.procs, id)
		c.mu.Unlock()
		return err
	}
	if pid <= 0 {
		return nil
	}
	return process.TerminatePID(pid)
}

// IsAlive reports whether id is alive, preferring the in-memory handle
// (which can also detect via PID files/other detectors configured on the
// entry) and falling back to a pid-only liveness check. The fallback path
// is what fires after a daemon restart, when no *process.Process survived
// in memory and only the registry's pid is on hand: it cross-checks the
// pid file's recorded start time so a pid the OS has since recycled for
// an unrelated process isn't mistaken for id still running.
func (c *Controller) IsAlive(id string, pid int) bool {
	c.mu.Lock()
	proc, ok := c.procs[id]
	c.mu.Unlock()
	if ok {
		alive, _ := proc.DetectAlive()
		return alive
	}
	if pidFile := c.pidFilePath(id); pidFile != "" {
		if filePID, _, meta, err := process.ReadPIDFileWithMeta(pidFile); err == nil && filePID == pid && meta != nil {
			return process.IsAlivePIDWithStartTime(pid, meta.StartUnix)
		}
	}
	return process.IsAlivePID(pid)
}

// Forget drops the in-memory handle for id without signaling it, used
// when the registry no longer has an entry to reconcile against.
func (c *Controller) Forget(id string) {
	c.mu.Lock()
	delete(c.procs, id)
	c.mu.Unlock()
}

func (c *Controller) pidFilePath(id string) string {
	if c.pidDir == "" {
		return ""
	}
	return c.pidDir + "/" + id + ".pid"
}

func toEnvSlice(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}
