package proxyscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseVars() Vars {
	return Vars{
		Host:     "ftp.example.com",
		Port:     21,
		User:     "alice",
		Password: "s3cret",
	}
}

func TestParseConnectLineWithPort(t *testing.T) {
	script := "Connect to: $(ProxyHost):$(ProxyPort)\nUSER $(ProxyUser)\n"
	v := baseVars()
	v.ProxyHost = "proxy.example.com"
	v.ProxyPort = 2121
	v.ProxyUser = "proxyuser"

	target, cmds, err := Parse(script, v)
	require.NoError(t, err)
	assert.Equal(t, "proxy.example.com", target.Host)
	assert.Equal(t, 2121, target.Port)
	require.Len(t, cmds, 1)
	assert.Equal(t, "USER proxyuser", cmds[0].Text)
	assert.False(t, cmds[0].Dropped)
}

func TestParseConnectLineWithoutPort(t *testing.T) {
	script := "Connect to: $(Host)\n"
	target, _, err := Parse(script, baseVars())
	require.NoError(t, err)
	assert.Equal(t, "ftp.example.com", target.Host)
	assert.Equal(t, 0, target.Port)
}

func TestMissingConnectLineErrors(t *testing.T) {
	_, _, err := Parse("USER $(User)\n", baseVars())
	assert.ErrorIs(t, err, ErrNoConnectLine)
}

func TestEmptyScriptErrors(t *testing.T) {
	_, _, err := Parse("", baseVars())
	assert.ErrorIs(t, err, ErrNoConnectLine)
}

func TestLineDroppedWhenOnlyVarIsEmptyOptional(t *testing.T) {
	script := "Connect to: $(Host)\nACCT $(Account)\nUSER $(User)\n"
	v := baseVars()
	v.Account = "" // optional, empty, sole variable on its line

	_, cmds, err := Parse(script, v)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.True(t, cmds[0].Dropped, "ACCT line must be dropped: Account is empty")
	assert.False(t, cmds[1].Dropped)
	assert.Equal(t, "USER alice", cmds[1].Text)
}

func TestGuard3xxPrefixParsed(t *testing.T) {
	script := "Connect to: $(Host)\n3xx:PASS $(Password)\n"
	_, cmds, err := Parse(script, baseVars())
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.True(t, cmds[0].OnlyOn3xx)
	assert.Equal(t, "PASS s3cret", cmds[0].Text)
}

func TestLiteralDollarEscape(t *testing.T) {
	script := "Connect to: $(Host)\nSITE $$PRICE\n"
	_, cmds, err := Parse(script, baseVars())
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "SITE $PRICE", cmds[0].Text)
}

func TestZeroClearsCredentials(t *testing.T) {
	v := baseVars()
	v.Zero()
	assert.Empty(t, v.User)
	assert.Empty(t, v.Password)
	assert.Empty(t, v.Account)
	assert.Empty(t, v.ProxyUser)
	assert.Empty(t, v.ProxyPassword)
	assert.Equal(t, "ftp.example.com", v.Host, "non-credential fields survive Zero")
}
