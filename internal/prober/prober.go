// Package prober implements the liveness and startup probing regime of
// spec §4.4: timed HTTP GETs against a running entry's liveness and
// status URLs, gating a freshly started entry before it is trusted and
// then watching it in steady state.
package prober

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Outcome is the result of one liveness probe attempt.
type Outcome struct {
	Healthy bool
	Message string
	Latency time.Duration
}

// StatusResult is the result of one status-URL fetch, used to reconcile
// the registry's view of an entry's pid and to surface an introspection
// map. Independent of liveness verdicts (spec §4.4 "Status URL").
type StatusResult struct {
	PID    int
	Status map[string]interface{}
	Err    error
}

// Prober issues the HTTP probes; it holds no per-entry state so a single
// instance is shared across every supervised entry.
type Prober struct {
	client *http.Client
}

// New returns a Prober whose HTTP client has defaultTimeout (5s when
// non-positive) as its overall timeout, which caps every request; it is
// also the per-call timeout when a caller passes a zero timeout to
// Probe/FetchStatus.
func New(defaultTimeout time.Duration) *Prober {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	return &Prober{client: &http.Client{
		Transport: &http.Transport{DisableKeepAlives: true},
		Timeout:   defaultTimeout,
	}}
}

// Probe issues a single timed GET against url. A 2xx response within
// timeout counts as success; anything else (timeout, connection
// failure, non-2xx) counts as failure (spec §4.4 "Contract").
func (p *Prober) Probe(ctx context.Context, url string, timeout time.Duration) Outcome {
	start := time.Now()
	if timeout <= 0 {
		timeout = p.client.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Outcome{Healthy: false, Message: "invalid liveness url: " + err.Error(), Latency: time.Since(start)}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Outcome{Healthy: false, Message: err.Error(), Latency: time.Since(start)}
	}
	defer func() { _ = resp.Body.Close() }()

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
	return Outcome{Healthy: healthy, Message: resp.Status, Latency: time.Since(start)}
}

// FetchStatus fetches a child's advertised status map and pid, used to
// reconcile the registry independently of the liveness verdict (spec
// §4.4 "Status URL"). The child is expected to respond with a JSON
// object; a "pid" field of numeric type is lifted into StatusResult.PID.
func (p *Prober) FetchStatus(ctx context.Context, url string, timeout time.Duration) StatusResult {
	if timeout <= 0 {
		timeout = p.client.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return StatusResult{Err: err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return StatusResult{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return StatusResult{Err: err}
	}
	result := StatusResult{Status: body}
	if pidVal, ok := body["pid"]; ok {
		if f, ok := pidVal.(float64); ok {
			result.PID = int(f)
		}
	}
	return result
}
