package prober

// SteadyTracker counts consecutive liveness failures for one entry in
// steady state (spec §4.4 "Steady state"). It mirrors, but does not
// itself persist, ProcessEntry.ConsecutiveFailures.
type SteadyTracker struct {
	required  int
	failures  int
}

// NewSteadyTracker builds a tracker requiring `required` consecutive
// failures before a verdict is considered failed. A non-positive
// required is treated as 1 (fail on the very first bad probe).
func NewSteadyTracker(required int) *SteadyTracker {
	if required <= 0 {
		required = 1
	}
	return &SteadyTracker{required: required}
}

// Record applies one probe outcome and reports whether the failure
// threshold was just crossed. On success the counter resets to zero
// (spec: "On any success, reset consecutiveFailures to zero").
func (t *SteadyTracker) Record(healthy bool) (failures int, crossed bool) {
	if healthy {
		t.failures = 0
		return 0, false
	}
	t.failures++
	failures = t.failures
	if t.failures >= t.required {
		crossed = true
		t.failures = 0
	}
	return failures, crossed
}
