package prober

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/monitd/internal/registry"
)

func TestProbeHealthyOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(time.Second)
	outcome := p.Probe(context.Background(), srv.URL, time.Second)
	require.True(t, outcome.Healthy)
}

func TestProbeUnhealthyOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := New(time.Second)
	outcome := p.Probe(context.Background(), srv.URL, time.Second)
	require.False(t, outcome.Healthy)
}

func TestProbeUnhealthyOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(time.Second)
	outcome := p.Probe(context.Background(), srv.URL, 10*time.Millisecond)
	require.False(t, outcome.Healthy)
}

func TestFetchStatusLiftsPID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pid": 4242, "phase": "steady"}`))
	}))
	defer srv.Close()

	p := New(time.Second)
	result := p.FetchStatus(context.Background(), srv.URL, time.Second)
	require.NoError(t, result.Err)
	require.Equal(t, 4242, result.PID)
	require.Equal(t, "steady", result.Status["phase"])
}

func TestStartupGateSucceedsOnFirstHealthyProbe(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gate := NewStartupGate(New(time.Second), registry.StartupCheck{
		Enabled:         true,
		InitialDelayMs:  0,
		CheckIntervalMs: 5,
		MaxAttempts:     5,
	}, srv.URL, time.Second)

	require.True(t, gate.Run(context.Background()))
	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestStartupGateExhaustsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gate := NewStartupGate(New(time.Second), registry.StartupCheck{
		Enabled:         true,
		CheckIntervalMs: 1,
		MaxAttempts:     3,
	}, srv.URL, time.Second)

	require.False(t, gate.Run(context.Background()))
}

func TestSteadyTrackerResetsOnSuccess(t *testing.T) {
	tracker := NewSteadyTracker(3)

	_, crossed := tracker.Record(false)
	require.False(t, crossed)
	_, crossed = tracker.Record(false)
	require.False(t, crossed)
	_, crossed = tracker.Record(true)
	require.False(t, crossed)

	_, crossed = tracker.Record(false)
	require.False(t, crossed)
	_, crossed = tracker.Record(false)
	require.False(t, crossed)
	failures, crossed := tracker.Record(false)
	require.True(t, crossed)
	require.Equal(t, 3, failures)
}

func TestEngineEmitsSteadyFailedVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	check := registry.AlivenessCheck{
		Enabled:                     true,
		LivenessURL:                 srv.URL,
		IntervalMs:                  5,
		TimeoutMs:                   200,
		ConsecutiveFailuresRequired: 2,
	}
	engine := NewEngine("entry-1", check, New(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go engine.Run(ctx)

	select {
	case v, ok := <-engine.Verdicts():
		require.True(t, ok)
		require.Equal(t, VerdictSteadyFailed, v.Kind)
		require.Equal(t, "entry-1", v.EntryID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for verdict")
	}
}

func TestEngineEmitsStartupFailedVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	check := registry.AlivenessCheck{
		Enabled:     true,
		LivenessURL: srv.URL,
		TimeoutMs:   200,
		IntervalMs:  5,
		Startup: &registry.StartupCheck{
			Enabled:         true,
			CheckIntervalMs: 5,
			MaxAttempts:     2,
			FailAction:      registry.FailActionDisable,
		},
	}
	engine := NewEngine("entry-2", check, New(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go engine.Run(ctx)

	select {
	case v, ok := <-engine.Verdicts():
		require.True(t, ok)
		require.Equal(t, VerdictStartupFailed, v.Kind)
		require.Equal(t, registry.FailActionDisable, v.FailAction)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for verdict")
	}
}
