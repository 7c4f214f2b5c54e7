// Package template generates registry.ProcessConfig scaffolds for common
// supervised-process archetypes, so monitorctl register --template can
// seed sensible defaults (autostart, restart policy, env) instead of
// requiring every flag to be spelled out by hand.
package template

import (
	"fmt"

	"github.com/loykin/monitd/internal/registry"
)

// Kind names one archetype. Aliases exist because operators reach for
// either name ("api" or "service") depending on habit.
type Kind string

const (
	KindWeb     Kind = "web"
	KindWebapp  Kind = "webapp"
	KindAPI     Kind = "api"
	KindService Kind = "service"
	KindWorker  Kind = "worker"
	KindCron    Kind = "cron"
	KindSimple  Kind = "simple"
)

// Generator builds a registry.ProcessConfig from a Kind and the
// identifiers/executable only the caller can supply.
type Generator struct{}

// NewGenerator returns a Generator.
func NewGenerator() *Generator { return &Generator{} }

// SupportedKinds lists every Kind Generate accepts, canonical form only.
func (g *Generator) SupportedKinds() []string {
	return []string{string(KindWeb), string(KindAPI), string(KindWorker), string(KindCron), string(KindSimple)}
}

// Generate returns a ProcessConfig scaffold for kind. id and executable
// are always taken from the caller; everything else (args, autostart,
// restart policy, env) is archetype-specific and meant to be edited
// before registration, not used verbatim in production.
func (g *Generator) Generate(kind Kind, id, executable string) (registry.ProcessConfig, error) {
	cfg := registry.ProcessConfig{ID: id, Name: id, Executable: executable}
	switch kind {
	case KindWeb, KindWebapp:
		cfg.Autostart = true
		cfg.Env = map[string]string{"PORT": "8000", "ENV": "production"}
		cfg.Restart = defaultRestart(10)
	case KindAPI, KindService:
		cfg.Autostart = true
		cfg.Env = map[string]string{"LOG_LEVEL": "info"}
		cfg.Restart = defaultRestart(10)
	case KindWorker:
		cfg.Autostart = true
		cfg.Env = map[string]string{"WORKER_THREADS": "4", "LOG_LEVEL": "info"}
		cfg.Restart = defaultRestart(20)
	case KindCron:
		cfg.Autostart = false
		cfg.Env = map[string]string{"LOG_LEVEL": "info"}
	case KindSimple:
		// no defaults beyond id/executable
	default:
		return registry.ProcessConfig{}, fmt.Errorf("unknown template kind %q (supported: %v)", kind, g.SupportedKinds())
	}
	return cfg, nil
}

func defaultRestart(maxAttempts int) *registry.RestartPolicy {
	return &registry.RestartPolicy{
		MaxAttempts:        maxAttempts,
		BackoffIntervalsMs: []int{1000, 5000, 15000},
		ResetAfterMs:       60000,
	}
}
