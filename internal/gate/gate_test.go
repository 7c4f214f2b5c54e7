package gate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loykin/monitd/internal/registry"
)

func TestMatchHostWildcardExcludesDot(t *testing.T) {
	require.True(t, MatchHost("10.0.0.*", "10.0.0.5"))
	require.False(t, MatchHost("10.0.0.*", "10.0.1.5"))
	require.False(t, MatchHost("*", ""))
	require.True(t, MatchHost("", ""))
}

func TestMatchGlobStarAndQuestion(t *testing.T) {
	require.True(t, MatchGlob("/usr/bin/*", "/usr/bin/sleep"))
	require.True(t, MatchGlob("/usr/bin/sleep?", "/usr/bin/sleep1"))
	require.False(t, MatchGlob("/usr/bin/sleep?", "/usr/bin/sleep"))
	require.True(t, MatchGlob("*sleep*", "/usr/bin/sleep"))
}

func TestAuthorizeEmptyWhitelistUntrustedHostForbidden(t *testing.T) {
	g := New(registry.RemoteAccessConfig{
		TrustedHosts:        []string{"10.0.0.*"},
		AllowRegister:       true,
		ExecutableWhitelist: nil,
	})
	err := g.Authorize("10.0.1.100", OpRegister, "/bin/sleep")
	require.Error(t, err)
}

func TestAuthorizeTrustedHostEmptyWhitelistAllowed(t *testing.T) {
	g := New(registry.RemoteAccessConfig{
		TrustedHosts:        []string{"10.0.0.*"},
		AllowRegister:       true,
		ExecutableWhitelist: nil,
	})
	err := g.Authorize("10.0.0.5", OpRegister, "/bin/sleep")
	require.NoError(t, err)
}

func TestAuthorizeBlacklistWins(t *testing.T) {
	g := New(registry.RemoteAccessConfig{
		TrustedHosts:        []string{"10.0.0.*"},
		AllowRegister:       true,
		ExecutableWhitelist: []string{"*"},
		ExecutableBlacklist: []string{"*rm*"},
	})
	err := g.Authorize("10.0.0.5", OpRegister, "/bin/rm")
	require.Error(t, err)
}

func TestAuthorizeOperationDenied(t *testing.T) {
	g := New(registry.RemoteAccessConfig{
		TrustedHosts: []string{"10.0.0.*"},
		AllowStop:    false,
	})
	err := g.Authorize("10.0.0.5", OpStop, "")
	require.Error(t, err)
}
