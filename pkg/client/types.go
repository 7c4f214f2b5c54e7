package client

// ErrorResponse is the envelope internal/api returns for non-2xx status codes.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// AutostartRequest is the body of PUT /processes/{id}/autostart.
type AutostartRequest struct {
	Autostart bool `json:"autostart"`
}

// MonitorStatus mirrors internal/api.MonitorStatus.
type MonitorStatus struct {
	InstanceID     string         `json:"instance_id"`
	PID            int            `json:"pid"`
	UptimeSeconds  float64        `json:"uptime_seconds"`
	StandaloneMode bool           `json:"standalone_mode"`
	Counts         map[string]int `json:"counts"`
	Partner        PartnerStatus  `json:"partner"`
}

// PartnerStatus mirrors internal/api.PartnerStatus.
type PartnerStatus struct {
	Configured bool   `json:"configured"`
	InstanceID string `json:"instance_id,omitempty"`
	StatusURL  string `json:"status_url,omitempty"`
}
