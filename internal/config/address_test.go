package config

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddresses_NormalMode(t *testing.T) {
	specs, err := ParseAddresses([]string{"10.0.0.1@3", "[fe80::1]@2", "10.0.0.2"}, false)
	require.NoError(t, err)
	require.Len(t, specs, 3)

	assert.True(t, specs[0].LocalIP.Equal(net.ParseIP("10.0.0.1")))
	assert.Equal(t, 3, specs[0].Weight)

	assert.True(t, specs[1].LocalIP.Equal(net.ParseIP("fe80::1")))
	assert.Equal(t, 2, specs[1].Weight)

	assert.True(t, specs[2].LocalIP.Equal(net.ParseIP("10.0.0.2")))
	assert.Equal(t, 1, specs[2].Weight)
}

func TestParseAddresses_TunnelMode(t *testing.T) {
	specs, err := ParseAddresses([]string{"proxy.example.com:1080@2", "[::1]:7777@1", "203.0.113.9:1080"}, true)
	require.NoError(t, err)
	require.Len(t, specs, 3)

	assert.True(t, specs[0].Tunnel)
	assert.Equal(t, "proxy.example.com", specs[0].Host)
	assert.Equal(t, uint16(1080), specs[0].Port)
	assert.Equal(t, 2, specs[0].Weight)

	assert.Equal(t, "::1", specs[1].Host)
	assert.Equal(t, uint16(7777), specs[1].Port)
	assert.Equal(t, 1, specs[1].Weight)

	assert.Equal(t, "203.0.113.9", specs[2].Host)
	assert.Equal(t, uint16(1080), specs[2].Port)
	assert.Equal(t, 1, specs[2].Weight)
}

func TestParseAddresses_InvalidWeightRejected(t *testing.T) {
	_, err := ParseAddresses([]string{"10.0.0.1@0"}, false)
	assert.Error(t, err)

	_, err = ParseAddresses([]string{"10.0.0.1@-1"}, false)
	assert.Error(t, err)

	_, err = ParseAddresses([]string{"10.0.0.1@abc"}, false)
	assert.Error(t, err)
}

func TestParseAddresses_InvalidIPRejected(t *testing.T) {
	_, err := ParseAddresses([]string{"not-an-ip"}, false)
	assert.Error(t, err)
}

func TestParseAddresses_TunnelModeRequiresPort(t *testing.T) {
	_, err := ParseAddresses([]string{"proxy.example.com"}, true)
	assert.Error(t, err)
}
