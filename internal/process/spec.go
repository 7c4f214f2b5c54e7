package process

import (
	"os/exec"

	"github.com/loykin/monitd/internal/detector"
	"github.com/loykin/monitd/internal/logger"
	"github.com/loykin/monitd/internal/registry"
)

// Spec is the process package's execution-level view of a
// registry.ProcessConfig: everything needed to actually spawn and
// supervise the OS process, independent of the registry's own
// bookkeeping fields (state, restart counters, timestamps).
type Spec struct {
	Name       string
	Executable string
	Args       []string
	WorkDir    string
	Env        []string
	Detached   bool
	PIDFile    string
	Log        logger.Config
	Detectors  []detector.Detector
}

// FromProcessConfig builds a Spec from the registry's persisted
// ProcessConfig. env is the fully merged environment (global + entry
// overrides) the caller has already computed.
func FromProcessConfig(cfg registry.ProcessConfig, env []string, pidFile string, logCfg logger.Config) Spec {
	return Spec{
		Name:       cfg.Name,
		Executable: cfg.Executable,
		Args:       cfg.Args,
		WorkDir:    cfg.WorkDir,
		Env:        env,
		Detached:   false,
		PIDFile:    pidFile,
		Log:        logCfg,
	}
}

// BuildCommand constructs the *exec.Cmd for this spec. Unlike the
// shell-string spec this type replaces, Executable and Args are passed
// straight to exec.Command: no shell is ever invoked, so detector and
// gate code never has to reason about shell metacharacters.
func (s Spec) BuildCommand() *exec.Cmd {
	// #nosec G204 -- Executable/Args originate from a registered ProcessConfig, not raw user shell input.
	return exec.Command(s.Executable, s.Args...)
}

func errBeforeStart(d interface{ String() string }) error {
	return &beforeStartError{window: d.String()}
}

type beforeStartError struct{ window string }

func (e *beforeStartError) Error() string {
	return "process exited before completing its required start window (" + e.window + ")"
}
