package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesThreeEndpoints(t *testing.T) {
	cfg, err := Load([]string{"127.0.0.1:7001", "127.0.0.1:7000", "127.0.0.1:20172"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7001", cfg.ProxyListen.String())
	assert.Equal(t, "127.0.0.1:7000", cfg.DirectListen.String())
	assert.Equal(t, "127.0.0.1:20172", cfg.ProxyUpstream.String())
}

func TestLoadRejectsWrongArgCount(t *testing.T) {
	_, err := Load([]string{"127.0.0.1:7001"})
	require.Error(t, err)
}

func TestLoadRejectsUnparseableEndpoint(t *testing.T) {
	_, err := Load([]string{"not-an-endpoint", "127.0.0.1:7000", "127.0.0.1:20172"})
	require.Error(t, err)
}
