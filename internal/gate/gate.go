// Package gate implements the Remote Access Gate (spec §4.6): host
// authorization by trusted-host pattern, per-operation permission bits,
// and executable allow/deny glob matching for inbound control requests.
package gate

import (
	"strings"

	"github.com/loykin/monitd/internal/errs"
	"github.com/loykin/monitd/internal/registry"
)

// Operation names the control operations the gate authorizes (spec §4.6).
type Operation string

const (
	OpRegister       Operation = "register"
	OpDeregister     Operation = "deregister"
	OpStart          Operation = "start"
	OpStop           Operation = "stop"
	OpDisable        Operation = "disable"
	OpAutostart      Operation = "autostart"
	OpMonitorRestart Operation = "monitor-restart"
)

// Gate evaluates inbound control requests against a RemoteAccessConfig.
type Gate struct {
	cfg registry.RemoteAccessConfig
}

// New wraps cfg for authorization checks.
func New(cfg registry.RemoteAccessConfig) *Gate {
	return &Gate{cfg: cfg}
}

// AuthorizeHost checks host against the configured TrustedHosts patterns.
// An empty TrustedHosts list authorizes nothing.
func (g *Gate) AuthorizeHost(host string) error {
	for _, pattern := range g.cfg.TrustedHosts {
		if MatchHost(pattern, host) {
			return nil
		}
	}
	return errs.New(errs.PermissionDenied, "host "+host+" is not a trusted host")
}

// IsTrustedHost reports whether host matches a TrustedHosts pattern,
// without constructing an error — used by executable authorization's
// empty-whitelist rule (spec §4.6 step 3).
func (g *Gate) IsTrustedHost(host string) bool {
	for _, pattern := range g.cfg.TrustedHosts {
		if MatchHost(pattern, host) {
			return true
		}
	}
	return false
}

// AuthorizeOperation checks the permission bit for op.
func (g *Gate) AuthorizeOperation(op Operation) error {
	allowed := false
	switch op {
	case OpRegister:
		allowed = g.cfg.AllowRegister
	case OpDeregister:
		allowed = g.cfg.AllowDeregister
	case OpStart:
		allowed = g.cfg.AllowStart
	case OpStop:
		allowed = g.cfg.AllowStop
	case OpDisable:
		allowed = g.cfg.AllowDisable
	case OpAutostart:
		allowed = g.cfg.AllowAutostart
	case OpMonitorRestart:
		allowed = g.cfg.AllowMonitorRestart
	}
	if !allowed {
		return errs.New(errs.PermissionDenied, "operation "+string(op)+" is not permitted")
	}
	return nil
}

// AuthorizeExecutable checks path against ExecutableWhitelist/Blacklist
// (spec §4.6 step 3). host is the already-authorized (or not) client host,
// needed for the empty-whitelist-plus-untrusted-host refusal rule.
func (g *Gate) AuthorizeExecutable(path string, host string) error {
	for _, deny := range g.cfg.ExecutableBlacklist {
		if MatchGlob(deny, path) {
			return errs.New(errs.PermissionDenied, "executable "+path+" is blacklisted")
		}
	}
	if len(g.cfg.ExecutableWhitelist) == 0 {
		if !g.IsTrustedHost(host) {
			return errs.New(errs.PermissionDenied, "executable whitelist empty and host is not trusted")
		}
		return nil
	}
	for _, allow := range g.cfg.ExecutableWhitelist {
		if MatchGlob(allow, path) {
			return nil
		}
	}
	return errs.New(errs.PermissionDenied, "executable "+path+" matches no whitelist entry")
}

// Authorize runs the full spec §4.6 pipeline: host, then operation, then
// (for register only) executable. executable is ignored for other ops.
func (g *Gate) Authorize(host string, op Operation, executable string) error {
	if err := g.AuthorizeHost(host); err != nil {
		return err
	}
	if err := g.AuthorizeOperation(op); err != nil {
		return err
	}
	if op == OpRegister && executable != "" {
		if err := g.AuthorizeExecutable(executable, host); err != nil {
			return err
		}
	}
	return nil
}

// MatchHost implements the trusted-host pattern syntax (spec §6): exact
// equality, with '*' matching any non-empty sequence of characters except
// '.'. Empty pattern matches only the empty string.
func MatchHost(pattern, host string) bool {
	return matchSegments(pattern, host)
}

func matchSegments(pattern, s string) bool {
	if pattern == "" {
		return s == ""
	}
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return pattern == s
	}
	prefix := pattern[:star]
	rest := pattern[star+1:]
	if !strings.HasPrefix(s, prefix) {
		return false
	}
	s = s[len(prefix):]
	// '*' must consume at least one character, none of which may be '.'.
	i := 0
	for i < len(s) && s[i] != '.' {
		i++
	}
	if i == 0 {
		return false
	}
	for consumed := 1; consumed <= i; consumed++ {
		if matchSegments(rest, s[consumed:]) {
			return true
		}
	}
	return false
}

// MatchGlob implements the executable allow/deny glob syntax (spec §6):
// '*' matches any sequence (including separators), '?' matches a single
// character, all other runes are literal.
func MatchGlob(pattern, s string) bool {
	return matchGlob([]rune(pattern), []rune(s))
}

func matchGlob(pattern, s []rune) bool {
	if len(pattern) == 0 {
		return len(s) == 0
	}
	switch pattern[0] {
	case '*':
		if matchGlob(pattern[1:], s) {
			return true
		}
		if len(s) > 0 {
			return matchGlob(pattern, s[1:])
		}
		return false
	case '?':
		if len(s) == 0 {
			return false
		}
		return matchGlob(pattern[1:], s[1:])
	default:
		if len(s) == 0 || s[0] != pattern[0] {
			return false
		}
		return matchGlob(pattern[1:], s[1:])
	}
}
