package config

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchproxy/dispatch-proxy/internal/egress"
)

func TestBuildBackends_MixOfDirectAndTunnelWeights(t *testing.T) {
	specs := []BackendSpec{
		{LocalIP: net.ParseIP("203.0.113.5"), Weight: 3},
		{Tunnel: true, Host: "upstream.example.com", Port: 1080, Weight: 2},
	}

	backends, err := BuildBackends(specs)
	require.NoError(t, err)
	require.Len(t, backends, 2)

	assert.Equal(t, 3, backends[0].Weight())
	assert.Equal(t, 2, backends[1].Weight())

	_, isDirect := backends[0].(*egress.Direct)
	assert.True(t, isDirect)
	_, isTunnel := backends[1].(*egress.Tunnel)
	assert.True(t, isTunnel)
}

func TestBuildBackends_EmptyIsError(t *testing.T) {
	_, err := BuildBackends(nil)
	assert.Error(t, err)
}

func TestBuildBackends_AutoDetectedSkipsDeviceBinding(t *testing.T) {
	specs := []BackendSpec{
		{LocalIP: net.ParseIP("127.0.0.1"), Weight: 1, SkipDeviceBinding: true},
	}
	backends, err := BuildBackends(specs)
	require.NoError(t, err)
	require.Len(t, backends, 1)

	d, ok := backends[0].(*egress.Direct)
	require.True(t, ok)
	assert.Equal(t, "", d.Iface)
}
