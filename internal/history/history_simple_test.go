package history

import (
	"testing"
	"time"
)

func TestEvent_Creation(t *testing.T) {
	record := Record{
		ProcessID: "proc-1",
		Name:      "test-process",
		PID:       12345,
		State:     "running",
		StartedAt: time.Now(),
	}

	event := Event{
		Type:       EventStart,
		OccurredAt: time.Now(),
		Record:     record,
	}

	if event.Type != EventStart {
		t.Errorf("Expected event type %s, got %s", EventStart, event.Type)
	}
	if event.Record.Name != "test-process" {
		t.Errorf("Expected process name test-process, got %s", event.Record.Name)
	}
	if event.Record.PID != 12345 {
		t.Errorf("Expected PID 12345, got %d", event.Record.PID)
	}
}

func TestEvent_Types(t *testing.T) {
	testCases := []struct {
		name      string
		eventType EventType
	}{
		{"start event", EventStart},
		{"stop event", EventStop},
		{"restart event", EventRestart},
		{"heartbeat failure event", EventHeartbeatFailure},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			record := Record{
				ProcessID: "proc-1",
				Name:      "test-process",
				PID:       12345,
				State:     "running",
				StartedAt: time.Now(),
			}

			event := Event{
				Type:       tc.eventType,
				OccurredAt: time.Now(),
				Record:     record,
			}

			if event.Type != tc.eventType {
				t.Errorf("Expected event type %s, got %s", tc.eventType, event.Type)
			}
		})
	}
}

func TestRecord_Fields(t *testing.T) {
	now := time.Now()
	record := Record{
		ProcessID: "proc-1",
		Name:      "test-process",
		PID:       12345,
		State:     "running",
		StartedAt: now,
	}

	if record.Name == "" {
		t.Error("Expected name to be set")
	}
	if record.PID <= 0 {
		t.Error("Expected PID to be positive")
	}
	if record.State == "" {
		t.Error("Expected state to be set")
	}
	if record.StartedAt.IsZero() {
		t.Error("Expected started at to be set")
	}
}

func TestRecord_Key(t *testing.T) {
	a := Record{ProcessID: "proc-1", PID: 100, StartedAt: time.Unix(0, 1000)}
	b := Record{ProcessID: "proc-1", PID: 100, StartedAt: time.Unix(0, 1000)}
	c := Record{ProcessID: "proc-1", PID: 101, StartedAt: time.Unix(0, 1000)}

	if a.Key() != b.Key() {
		t.Errorf("expected identical records to share a key: %s != %s", a.Key(), b.Key())
	}
	if a.Key() == c.Key() {
		t.Error("expected records with different pids to have different keys")
	}
}

func TestEvent_Validation(t *testing.T) {
	testCases := []struct {
		name  string
		event Event
		valid bool
	}{
		{
			name: "valid_start_event",
			event: Event{
				Type:       EventStart,
				OccurredAt: time.Now(),
				Record:     Record{ProcessID: "proc-1", Name: "test-process", PID: 12345, State: "starting"},
			},
			valid: true,
		},
		{
			name: "valid_stop_event",
			event: Event{
				Type:       EventStop,
				OccurredAt: time.Now(),
				Record:     Record{ProcessID: "proc-1", Name: "test-process", PID: 12345, State: "stopped"},
			},
			valid: true,
		},
		{
			name: "empty_type",
			event: Event{
				Type:       "",
				OccurredAt: time.Now(),
				Record:     Record{ProcessID: "proc-1", Name: "test-process"},
			},
			valid: false,
		},
		{
			name: "zero_time",
			event: Event{
				Type:       EventStart,
				OccurredAt: time.Time{},
				Record:     Record{ProcessID: "proc-1", Name: "test-process"},
			},
			valid: false,
		},
		{
			name: "empty_process_name",
			event: Event{
				Type:       EventStart,
				OccurredAt: time.Now(),
				Record:     Record{ProcessID: "proc-1", Name: ""},
			},
			valid: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			isValid := tc.event.Type != "" &&
				!tc.event.OccurredAt.IsZero() &&
				tc.event.Record.Name != ""

			if tc.valid && !isValid {
				t.Error("Expected event to be valid")
			}
			if !tc.valid && isValid {
				t.Error("Expected event to be invalid")
			}
		})
	}
}
