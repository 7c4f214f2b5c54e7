package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/monitd/internal/errs"
	"github.com/loykin/monitd/internal/gate"
	"github.com/loykin/monitd/internal/registry"
)

func isSafeID(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func (r *Router) handleList(c *gin.Context) {
	var out []registry.ProcessEntry
	err := r.store.WithLockReadOnly("list_processes", func(reg *registry.Registry) error {
		ids := make([]string, 0, len(reg.Processes))
		for id := range reg.Processes {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out = make([]registry.ProcessEntry, 0, len(ids))
		for _, id := range ids {
			out = append(out, reg.Processes[id])
		}
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleRegister(c *gin.Context) {
	var cfg registry.ProcessConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		writeError(c, errs.Wrap(errs.InvalidState, "invalid JSON body", err))
		return
	}
	if !isSafeID(cfg.ID) {
		writeError(c, errs.New(errs.InvalidState, "id must be non-empty and match [A-Za-z0-9._-]"))
		return
	}
	if cfg.Executable == "" {
		writeError(c, errs.New(errs.InvalidState, "executable is required"))
		return
	}

	host := c.ClientIP()
	err := r.store.WithLock("register", func(reg *registry.Registry) (*registry.Registry, error) {
		if err := gateFor(reg).Authorize(host, gate.OpRegister, cfg.Executable); err != nil {
			return nil, err
		}
		if _, exists := reg.Processes[cfg.ID]; exists {
			return nil, errs.New(errs.InvalidState, "process "+cfg.ID+" already registered")
		}
		reg.Processes[cfg.ID] = registry.NewEntry(cfg, host != "" && host != "127.0.0.1" && host != "::1", time.Now())
		return reg, nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleGet(c *gin.Context) {
	id := c.Param("id")
	var entry registry.ProcessEntry
	err := r.store.WithLockReadOnly("get_process", func(reg *registry.Registry) error {
		e, ok := reg.Processes[id]
		if !ok {
			return errs.New(errs.ProcessNotFound, "process "+id+" not found")
		}
		entry = e
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, entry)
}

func (r *Router) handleDeregister(c *gin.Context) {
	id := c.Param("id")
	host := c.ClientIP()

	var toStop *registry.ProcessEntry
	err := r.store.WithLock("deregister", func(reg *registry.Registry) (*registry.Registry, error) {
		entry, ok := reg.Processes[id]
		if !ok {
			return nil, errs.New(errs.ProcessNotFound, "process "+id+" not found")
		}
		if err := gateFor(reg).Authorize(host, gate.OpDeregister, ""); err != nil {
			return nil, err
		}
		if entry.PID != 0 {
			captured := entry
			toStop = &captured
		}
		delete(reg.Processes, id)
		return reg, nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if toStop != nil {
		_ = r.controller.Stop(id, toStop.PID, 5*time.Second)
		r.controller.Forget(id)
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// handleStart flips a stopped/failed entry to starting (spec §6: "Transition
// to starting"); the supervision loop's next tick performs the actual spawn,
// since only the loop ever calls the process Controller.
func (r *Router) handleStart(c *gin.Context) {
	id := c.Param("id")
	host := c.ClientIP()

	err := r.store.WithLock("start", func(reg *registry.Registry) (*registry.Registry, error) {
		entry, ok := reg.Processes[id]
		if !ok {
			return nil, errs.New(errs.ProcessNotFound, "process "+id+" not found")
		}
		if err := gateFor(reg).Authorize(host, gate.OpStart, ""); err != nil {
			return nil, err
		}
		if !entry.Enabled {
			return nil, errs.New(errs.ProcessDisabled, "process "+id+" is disabled")
		}
		if entry.State != registry.StateStopped && entry.State != registry.StateFailed {
			return nil, errs.New(errs.InvalidState, "cannot start from state "+string(entry.State))
		}
		entry.State = registry.StateStarting
		reg.Processes[id] = entry
		return reg, nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// handleStop signals the entry's process and waits up to the optional
// ?wait=<duration> query parameter (default 2s) before reporting stopped,
// matching spec §6: "Transition to stopped".
func (r *Router) handleStop(c *gin.Context) {
	id := c.Param("id")
	host := c.ClientIP()
	wait := 2 * time.Second
	if w := c.Query("wait"); w != "" {
		if d, err := time.ParseDuration(w); err == nil {
			wait = d
		}
	}

	var pid int
	err := r.store.WithLock("stop_begin", func(reg *registry.Registry) (*registry.Registry, error) {
		entry, ok := reg.Processes[id]
		if !ok {
			return nil, errs.New(errs.ProcessNotFound, "process "+id+" not found")
		}
		if err := gateFor(reg).Authorize(host, gate.OpStop, ""); err != nil {
			return nil, err
		}
		if entry.State != registry.StateRunning && entry.State != registry.StateStarting {
			return nil, errs.New(errs.InvalidState, "cannot stop from state "+string(entry.State))
		}
		pid = entry.PID
		entry.State = registry.StateStopping
		reg.Processes[id] = entry
		return reg, nil
	})
	if err != nil {
		writeError(c, err)
		return
	}

	stopErr := r.controller.Stop(id, pid, wait)
	r.controller.Forget(id)

	err = r.store.WithLock("stop_complete", func(reg *registry.Registry) (*registry.Registry, error) {
		entry, ok := reg.Processes[id]
		if !ok {
			return reg, nil
		}
		entry.State = registry.StateStopped
		entry.PID = 0
		entry.LastStoppedAt = time.Now()
		reg.Processes[id] = entry
		return reg, nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if stopErr != nil {
		writeError(c, errs.Wrap(errs.InternalError, "stop "+id, stopErr))
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleEnable(c *gin.Context) {
	id := c.Param("id")
	host := c.ClientIP()
	err := r.store.WithLock("enable", func(reg *registry.Registry) (*registry.Registry, error) {
		entry, ok := reg.Processes[id]
		if !ok {
			return nil, errs.New(errs.ProcessNotFound, "process "+id+" not found")
		}
		if err := gateFor(reg).Authorize(host, gate.OpDisable, ""); err != nil {
			return nil, err
		}
		entry.Enabled = true
		if entry.State == registry.StateDisabled {
			entry.State = registry.StateStopped
		}
		reg.Processes[id] = entry
		return reg, nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleDisable(c *gin.Context) {
	id := c.Param("id")
	host := c.ClientIP()
	var toStop *registry.ProcessEntry
	err := r.store.WithLock("disable", func(reg *registry.Registry) (*registry.Registry, error) {
		entry, ok := reg.Processes[id]
		if !ok {
			return nil, errs.New(errs.ProcessNotFound, "process "+id+" not found")
		}
		if err := gateFor(reg).Authorize(host, gate.OpDisable, ""); err != nil {
			return nil, err
		}
		if entry.PID != 0 {
			captured := entry
			toStop = &captured
		}
		entry.Enabled = false
		entry.State = registry.StateDisabled
		entry.PID = 0
		reg.Processes[id] = entry
		return reg, nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if toStop != nil {
		_ = r.controller.Stop(id, toStop.PID, 5*time.Second)
		r.controller.Forget(id)
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type autostartBody struct {
	Autostart bool `json:"autostart"`
}

func (r *Router) handleAutostart(c *gin.Context) {
	id := c.Param("id")
	host := c.ClientIP()
	var body autostartBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.Wrap(errs.InvalidState, "invalid JSON body", err))
		return
	}

	err := r.store.WithLock("autostart", func(reg *registry.Registry) (*registry.Registry, error) {
		entry, ok := reg.Processes[id]
		if !ok {
			return nil, errs.New(errs.ProcessNotFound, "process "+id+" not found")
		}
		if err := gateFor(reg).Authorize(host, gate.OpAutostart, ""); err != nil {
			return nil, err
		}
		entry.Autostart = body.Autostart
		reg.Processes[id] = entry
		return reg, nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
