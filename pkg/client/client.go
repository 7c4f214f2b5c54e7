// Package client provides an HTTP client for the monitor's Control API
// (spec §6): register/list/inspect/deregister processes, drive their
// lifecycle, and read monitor-wide status.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/loykin/monitd/internal/registry"
)

// Client talks to one monitor instance's Control API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger
	TLS      *TLSClientConfig
	Insecure bool
}

// TLSClientConfig holds TLS configuration for the client.
type TLSClientConfig struct {
	Enabled    bool
	CACert     string
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

// DefaultConfig returns a default configuration pointed at the monitor's
// well-known remote control port (spec §6).
func DefaultConfig() Config {
	return Config{
		BaseURL: fmt.Sprintf("http://localhost:%d", registry.DefaultRemoteControlPort),
		Timeout: 10 * time.Second,
	}
}

// InsecureConfig returns a TLS configuration that skips certificate
// verification, for talking to a monitor with a self-signed cert.
func InsecureConfig() Config {
	cfg := DefaultConfig()
	cfg.Insecure = true
	return cfg
}

// New creates a Client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if (config.TLS != nil && config.TLS.Enabled) || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
	}
}

// IsReachable checks if the monitor daemon is running and reachable.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/monitor/status", nil)
	if err != nil {
		c.logger.Debug("failed to build reachability request", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("monitor unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// ListProcesses returns every registered entry.
func (c *Client) ListProcesses(ctx context.Context) ([]registry.ProcessEntry, error) {
	var out []registry.ProcessEntry
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/processes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProcess returns one entry's current state.
func (c *Client) GetProcess(ctx context.Context, id string) (*registry.ProcessEntry, error) {
	var out registry.ProcessEntry
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/processes/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterProcess registers a new process.
func (c *Client) RegisterProcess(ctx context.Context, cfg registry.ProcessConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal register request: %w", err)
	}
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/processes", data, nil)
}

// DeregisterProcess removes id from the registry, stopping it first if running.
func (c *Client) DeregisterProcess(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, c.baseURL+"/processes/"+id, nil, nil)
}

// StartProcess transitions id to starting.
func (c *Client) StartProcess(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/processes/"+id+"/start", nil, nil)
}

// StopProcess transitions id to stopped, waiting up to wait for a graceful exit.
func (c *Client) StopProcess(ctx context.Context, id string, wait time.Duration) error {
	url := c.baseURL + "/processes/" + id + "/stop"
	if wait > 0 {
		url += "?wait=" + wait.String()
	}
	return c.doJSON(ctx, http.MethodPost, url, nil, nil)
}

// EnableProcess sets enabled=true on id.
func (c *Client) EnableProcess(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/processes/"+id+"/enable", nil, nil)
}

// DisableProcess sets enabled=false and state=disabled on id.
func (c *Client) DisableProcess(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/processes/"+id+"/disable", nil, nil)
}

// SetAutostart updates id's autostart flag.
func (c *Client) SetAutostart(ctx context.Context, id string, autostart bool) error {
	data, err := json.Marshal(AutostartRequest{Autostart: autostart})
	if err != nil {
		return fmt.Errorf("marshal autostart request: %w", err)
	}
	return c.doJSON(ctx, http.MethodPut, c.baseURL+"/processes/"+id+"/autostart", data, nil)
}

// MonitorStatus reports the daemon's own health.
func (c *Client) MonitorStatus(ctx context.Context) (*MonitorStatus, error) {
	var out MonitorStatus
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/monitor/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TrustedHosts returns the monitor's configured trusted-host patterns.
func (c *Client) TrustedHosts(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/config/trusted-hosts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StandaloneMode returns whether the monitor has partner features disabled.
func (c *Client) StandaloneMode(ctx context.Context) (bool, error) {
	var out bool
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/config/standalone-mode", nil, &out); err != nil {
		return false, err
	}
	return out, nil
}

func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}
	return tlsConfig, nil
}

func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return nil
}

// doJSON performs an HTTP request, optionally marshaling body and
// unmarshaling a 200 response into out (skipped when out is nil).
func (c *Client) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("http request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			return fmt.Errorf("http %d", resp.StatusCode)
		}
		return fmt.Errorf("%s (%s)", errResp.Error, errResp.Kind)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
