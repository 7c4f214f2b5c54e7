package api

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/monitd/internal/registry"
)

// MonitorStatus reports the daemon's own health, independent of any one
// supervised process (spec §6 "GET /monitor/status").
type MonitorStatus struct {
	InstanceID     string         `json:"instance_id"`
	PID            int            `json:"pid"`
	UptimeSeconds  float64        `json:"uptime_seconds"`
	StandaloneMode bool           `json:"standalone_mode"`
	Counts         map[string]int `json:"counts"`
	Partner        PartnerStatus  `json:"partner"`
}

// PartnerStatus summarizes the paired monitor, if any (spec §4.7).
type PartnerStatus struct {
	Configured bool   `json:"configured"`
	InstanceID string `json:"instance_id,omitempty"`
	StatusURL  string `json:"status_url,omitempty"`
}

func (r *Router) handleMonitorStatus(c *gin.Context) {
	var status MonitorStatus
	err := r.store.WithLockReadOnly("monitor_status", func(reg *registry.Registry) error {
		counts := make(map[string]int)
		for _, entry := range reg.Processes {
			counts[string(entry.State)]++
		}
		status = MonitorStatus{
			InstanceID:     r.instanceID,
			PID:            os.Getpid(),
			UptimeSeconds:  time.Since(r.startedAt).Seconds(),
			StandaloneMode: reg.StandaloneMode,
			Counts:         counts,
			Partner: PartnerStatus{
				Configured: reg.PartnerDiscovery.PartnerInstanceID != "" || reg.PartnerDiscovery.PartnerStatusURL != "",
				InstanceID: reg.PartnerDiscovery.PartnerInstanceID,
				StatusURL:  reg.PartnerDiscovery.PartnerStatusURL,
			},
		}
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, status)
}

func (r *Router) handleTrustedHosts(c *gin.Context) {
	var hosts []string
	err := r.store.WithLockReadOnly("trusted_hosts", func(reg *registry.Registry) error {
		hosts = reg.RemoteAccess.TrustedHosts
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if hosts == nil {
		hosts = []string{}
	}
	writeJSON(c, http.StatusOK, hosts)
}

func (r *Router) handleStandaloneMode(c *gin.Context) {
	var standalone bool
	err := r.store.WithLockReadOnly("standalone_mode", func(reg *registry.Registry) error {
		standalone = reg.StandaloneMode
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, standalone)
}
