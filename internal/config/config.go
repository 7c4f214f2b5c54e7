// Package config loads the monitor's static bootstrap configuration:
// the directories and instance identity it starts with, its embedded
// remote-access/partner-discovery/aliveness defaults, and the initial
// set of processes to auto-register on first boot. The live, mutable
// Registry document is NOT configuration — it's runtime state owned by
// the registry package — and is never touched here.
package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/loykin/monitd/internal/registry"
)

// Config is the monitor daemon's bootstrap document (spec §4.8
// "Configuration").
type Config struct {
	InstanceID        string `mapstructure:"instance_id"`
	LogDirectory      string `mapstructure:"log_directory"`
	RegistryDirectory string `mapstructure:"registry_directory"`
	MonitorIntervalMs int    `mapstructure:"monitor_interval_ms"`

	RemoteAccess     RemoteAccessConfig     `mapstructure:"remote_access"`
	PartnerDiscovery PartnerDiscoveryConfig `mapstructure:"partner_discovery"`
	AlivenessDefault AlivenessConfig        `mapstructure:"aliveness_defaults"`

	// HistoryDSN, if set, is passed to history/factory.NewSinkFromDSN to
	// build the audit-trail sink the supervision loop records lifecycle
	// events to. Empty disables history recording entirely.
	HistoryDSN string `mapstructure:"history_dsn"`

	Processes []ProcessConfig `mapstructure:"processes"`

	configPath string
}

// RemoteAccessConfig mirrors registry.RemoteAccessConfig's shape for
// decoding from TOML/YAML with snake_case keys.
type RemoteAccessConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	ListenPort          int      `mapstructure:"listen_port"`
	TrustedHosts        []string `mapstructure:"trusted_hosts"`
	AllowRegister       bool     `mapstructure:"allow_register"`
	AllowDeregister     bool     `mapstructure:"allow_deregister"`
	AllowStart          bool     `mapstructure:"allow_start"`
	AllowStop           bool     `mapstructure:"allow_stop"`
	AllowDisable        bool     `mapstructure:"allow_disable"`
	AllowAutostart      bool     `mapstructure:"allow_autostart"`
	AllowMonitorRestart bool     `mapstructure:"allow_monitor_restart"`
	ExecutableWhitelist []string `mapstructure:"executable_whitelist"`
	ExecutableBlacklist []string `mapstructure:"executable_blacklist"`
}

// PartnerDiscoveryConfig mirrors registry.PartnerDiscoveryConfig.
type PartnerDiscoveryConfig struct {
	PartnerInstanceID   string `mapstructure:"partner_instance_id"`
	PartnerLivenessPort int    `mapstructure:"partner_liveness_port"`
	PartnerStatusURL    string `mapstructure:"partner_status_url"`
	DiscoverOnStartup   bool   `mapstructure:"discover_on_startup"`
}

// AlivenessConfig mirrors registry.AlivenessCheck (+ StartupCheck),
// used both as the server-wide default and per-process override.
type AlivenessConfig struct {
	Enabled                     bool               `mapstructure:"enabled"`
	LivenessURL                 string             `mapstructure:"liveness_url"`
	StatusURL                   string             `mapstructure:"status_url"`
	IntervalMs                  int                `mapstructure:"interval_ms"`
	TimeoutMs                   int                `mapstructure:"timeout_ms"`
	ConsecutiveFailuresRequired int                `mapstructure:"consecutive_failures_required"`
	Startup                     *StartupCheckConfig `mapstructure:"startup"`
}

// StartupCheckConfig mirrors registry.StartupCheck.
type StartupCheckConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	InitialDelayMs  int    `mapstructure:"initial_delay_ms"`
	CheckIntervalMs int    `mapstructure:"check_interval_ms"`
	MaxAttempts     int    `mapstructure:"max_attempts"`
	FailAction      string `mapstructure:"fail_action"`
}

// RestartPolicyConfig mirrors registry.RestartPolicy.
type RestartPolicyConfig struct {
	MaxAttempts          int   `mapstructure:"max_attempts"`
	BackoffIntervalsMs   []int `mapstructure:"backoff_intervals_ms"`
	ResetAfterMs         int64 `mapstructure:"reset_after_ms"`
	RetryIndefinitely    bool  `mapstructure:"retry_indefinitely"`
	IndefiniteIntervalMs int   `mapstructure:"indefinite_interval_ms"`
}

// ProcessConfig is one entry in the initial process list, decoded with
// the same discriminated {type, spec} shape the teacher uses for its
// programs directory, even though this monitor only knows one type
// ("process") today: it leaves room for the same extension point
// without committing to it.
type ProcessConfig struct {
	Type string         `mapstructure:"type"`
	Spec map[string]any `mapstructure:"spec"`
}

// processSpec mirrors registry.ProcessConfig with mapstructure tags:
// registry.ProcessConfig itself only carries json tags (it's a runtime
// document, not a config-file shape), so bootstrap entries decode into
// this local type first and are converted field by field.
type processSpec struct {
	ID         string              `mapstructure:"id"`
	Name       string              `mapstructure:"name"`
	Executable string              `mapstructure:"executable"`
	Args       []string            `mapstructure:"args"`
	WorkDir    string              `mapstructure:"work_dir"`
	Env        map[string]string   `mapstructure:"env"`
	Autostart  bool                `mapstructure:"autostart"`
	Restart    *RestartPolicyConfig `mapstructure:"restart"`
	Aliveness  *AlivenessConfig    `mapstructure:"aliveness"`
}

// decodeTo decodes a raw mapstructure-shaped map into T, matching the
// teacher's config decoder (weakly typed so TOML ints/strings coerce
// into the target's actual field types).
func decodeTo[T any](m map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(m); err != nil {
		return out, err
	}
	return out, nil
}

// LoadConfig reads and decodes the bootstrap document at configPath
// (TOML, YAML, or JSON — anything viper recognizes from the extension).
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{configPath: configPath}
	if err := parseConfigFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if strings.TrimSpace(cfg.InstanceID) == "" {
		return nil, fmt.Errorf("config %s: instance_id is required", configPath)
	}
	if strings.TrimSpace(cfg.LogDirectory) == "" {
		return nil, fmt.Errorf("config %s: log_directory is required", configPath)
	}
	if strings.TrimSpace(cfg.RegistryDirectory) == "" {
		return nil, fmt.Errorf("config %s: registry_directory is required", configPath)
	}
	return cfg, nil
}

func parseConfigFile(configPath string, out interface{}) error {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// ProcessConfigs decodes the bootstrap document's process list into
// registry.ProcessConfig values ready for cmd/monitord's seedProcesses to
// register in the registry.
func (c *Config) ProcessConfigs() ([]registry.ProcessConfig, error) {
	out := make([]registry.ProcessConfig, 0, len(c.Processes))
	for i, pc := range c.Processes {
		typ := strings.ToLower(strings.TrimSpace(pc.Type))
		if typ != "" && typ != "process" {
			return nil, fmt.Errorf("processes[%d]: unknown process type %q (allowed: process)", i, pc.Type)
		}
		decoded, err := decodeTo[processSpec](pc.Spec)
		if err != nil {
			return nil, fmt.Errorf("processes[%d]: decode process spec: %w", i, err)
		}
		if strings.TrimSpace(decoded.ID) == "" {
			return nil, fmt.Errorf("processes[%d]: requires id", i)
		}
		if strings.TrimSpace(decoded.Executable) == "" {
			return nil, fmt.Errorf("processes[%d] (%s): requires executable", i, decoded.ID)
		}
		out = append(out, decoded.toRegistry())
	}
	return out, nil
}

func (p processSpec) toRegistry() registry.ProcessConfig {
	cfg := registry.ProcessConfig{
		ID:         p.ID,
		Name:       p.Name,
		Executable: p.Executable,
		Args:       p.Args,
		WorkDir:    p.WorkDir,
		Env:        p.Env,
		Autostart:  p.Autostart,
	}
	if p.Restart != nil {
		cfg.Restart = &registry.RestartPolicy{
			MaxAttempts:          p.Restart.MaxAttempts,
			BackoffIntervalsMs:   p.Restart.BackoffIntervalsMs,
			ResetAfterMs:         p.Restart.ResetAfterMs,
			RetryIndefinitely:    p.Restart.RetryIndefinitely,
			IndefiniteIntervalMs: p.Restart.IndefiniteIntervalMs,
		}
	}
	if p.Aliveness != nil {
		a := toRegistryAliveness(*p.Aliveness)
		cfg.Aliveness = &a
	}
	return cfg
}

// ToRegistryRemoteAccess converts the decoded RemoteAccessConfig into
// the registry package's type for embedding in a fresh Registry document.
func (c *Config) ToRegistryRemoteAccess() registry.RemoteAccessConfig {
	r := c.RemoteAccess
	return registry.RemoteAccessConfig{
		Enabled:             r.Enabled,
		ListenPort:          r.ListenPort,
		TrustedHosts:        r.TrustedHosts,
		AllowRegister:       r.AllowRegister,
		AllowDeregister:     r.AllowDeregister,
		AllowStart:          r.AllowStart,
		AllowStop:           r.AllowStop,
		AllowDisable:        r.AllowDisable,
		AllowAutostart:      r.AllowAutostart,
		AllowMonitorRestart: r.AllowMonitorRestart,
		ExecutableWhitelist: r.ExecutableWhitelist,
		ExecutableBlacklist: r.ExecutableBlacklist,
	}
}

// ToRegistryPartnerDiscovery converts the decoded PartnerDiscoveryConfig.
func (c *Config) ToRegistryPartnerDiscovery() registry.PartnerDiscoveryConfig {
	return registry.PartnerDiscoveryConfig{
		PartnerInstanceID:   c.PartnerDiscovery.PartnerInstanceID,
		PartnerLivenessPort: c.PartnerDiscovery.PartnerLivenessPort,
		PartnerStatusURL:    c.PartnerDiscovery.PartnerStatusURL,
		DiscoverOnStartup:   c.PartnerDiscovery.DiscoverOnStartup,
	}
}

// AlivenessServerDefaults converts the decoded server-wide aliveness
// default into the registry package's type.
func (c *Config) AlivenessServerDefaults() registry.AlivenessCheck {
	return toRegistryAliveness(c.AlivenessDefault)
}

func toRegistryAliveness(a AlivenessConfig) registry.AlivenessCheck {
	out := registry.AlivenessCheck{
		Enabled:                     a.Enabled,
		LivenessURL:                 a.LivenessURL,
		StatusURL:                   a.StatusURL,
		IntervalMs:                  a.IntervalMs,
		TimeoutMs:                   a.TimeoutMs,
		ConsecutiveFailuresRequired: a.ConsecutiveFailuresRequired,
	}
	if a.Startup != nil {
		out.Startup = &registry.StartupCheck{
			Enabled:         a.Startup.Enabled,
			InitialDelayMs:  a.Startup.InitialDelayMs,
			CheckIntervalMs: a.Startup.CheckIntervalMs,
			MaxAttempts:     a.Startup.MaxAttempts,
			FailAction:      registry.FailAction(a.Startup.FailAction),
		}
	}
	return out
}
