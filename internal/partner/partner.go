// Package partner implements the paired-monitor discovery of spec §4.7:
// on startup, an optional liveness probe against a sibling monitor, and
// a status fetch used to answer the Control API's partner field. No
// leader election or state replication crosses the pair.
package partner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/monitd/internal/prober"
	"github.com/loykin/monitd/internal/registry"
)

// Status summarizes a reachability check against the configured partner.
type Status struct {
	Configured bool
	Reachable  bool
	Endpoint   string
	Message    string
}

// Discoverer resolves a partner's liveness endpoint and probes it.
type Discoverer struct {
	cfg    registry.PartnerDiscoveryConfig
	prober *prober.Prober
}

// New builds a Discoverer from the registry document's embedded
// partner_discovery configuration.
func New(cfg registry.PartnerDiscoveryConfig, p *prober.Prober) *Discoverer {
	if p == nil {
		p = prober.New(5 * time.Second)
	}
	return &Discoverer{cfg: cfg, prober: p}
}

// Endpoint resolves the partner's liveness URL per the §9 decision #1
// precedence rule: an explicit PartnerStatusURL always wins over an
// address derived from PartnerInstanceID + PartnerLivenessPort, since
// the latter requires a discovery lookup this monitor cannot itself
// perform (it has no service directory) and is documented here as
// "resolved by an external mechanism the operator configures".
func (d *Discoverer) Endpoint() string {
	if strings.TrimSpace(d.cfg.PartnerStatusURL) != "" {
		return d.cfg.PartnerStatusURL
	}
	if d.cfg.PartnerInstanceID == "" {
		return ""
	}
	port := d.cfg.PartnerLivenessPort
	if port == 0 {
		port = registry.DefaultLivenessPort
	}
	// Without a discovery directory, the instance id is assumed to
	// double as a resolvable host name (spec §4.7 leaves resolution
	// mechanism unspecified).
	return fmt.Sprintf("http://%s:%d/healthz", d.cfg.PartnerInstanceID, port)
}

// DiscoverOnStartup issues one liveness probe against the resolved
// endpoint, honoring cfg.DiscoverOnStartup. It never blocks the caller
// past timeout and never returns an error — an unreachable partner is a
// Status, not a failure, per spec §4.7 ("if the partner answers").
func (d *Discoverer) DiscoverOnStartup(ctx context.Context, timeout time.Duration) Status {
	endpoint := d.Endpoint()
	if !d.cfg.DiscoverOnStartup || endpoint == "" {
		return Status{Configured: endpoint != "", Endpoint: endpoint, Message: "discovery not requested"}
	}
	outcome := d.prober.Probe(ctx, endpoint, timeout)
	return Status{
		Configured: true,
		Reachable:  outcome.Healthy,
		Endpoint:   endpoint,
		Message:    outcome.Message,
	}
}

// FetchStatus retrieves the partner's own /monitor/status document, used
// to answer this monitor's Control API partner field with live data
// instead of only the configured endpoint.
func (d *Discoverer) FetchStatus(ctx context.Context, timeout time.Duration) (map[string]interface{}, error) {
	endpoint := d.cfg.PartnerStatusURL
	if endpoint == "" {
		return nil, fmt.Errorf("no partner status url configured")
	}
	result := d.prober.FetchStatus(ctx, endpoint, timeout)
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Status, nil
}
