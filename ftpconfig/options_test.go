package ftpconfig

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsSane(t *testing.T) {
	o := Default()
	o.Host = "ftp.example.com"
	assert.NoError(t, o.Validate())
	assert.Equal(t, 21, o.Port)
	assert.True(t, o.Passive)
	assert.True(t, o.CacheListings)
}

func TestValidateRequiresHost(t *testing.T) {
	o := Default()
	assert.Error(t, o.Validate())
}

func TestValidateRejectsBothTLSModes(t *testing.T) {
	o := Default()
	o.Host = "h"
	o.TLS = true
	o.ExplicitTLS = true
	assert.Error(t, o.Validate())
}

func TestValidateRejectsProxyHostWithoutScript(t *testing.T) {
	o := Default()
	o.Host = "h"
	o.ProxyHost = "proxy.example.com"
	assert.Error(t, o.Validate())
}

func TestBindFlagsOverridesDefaults(t *testing.T) {
	o := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, &o)
	require.NoError(t, fs.Parse([]string{"--host", "ftp.example.com", "--connections", "8", "--compress"}))
	assert.Equal(t, "ftp.example.com", o.Host)
	assert.Equal(t, 8, o.Connections)
	assert.True(t, o.Compress)
	assert.NoError(t, o.Validate())
}
