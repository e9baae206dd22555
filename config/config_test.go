package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigFillsPaths(t *testing.T) {
	cfg := DefaultConfig()
	require.NotEmpty(t, cfg.DataDir)
	require.True(t, strings.HasPrefix(cfg.DataDir, cfg.HomeDir))
	require.Equal(t, defaultRPCListen, cfg.RPCListen)
}

func TestValidateRequiresListenOrRelay(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)

	cfg.ListenAddr = "0.0.0.0:9000"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsMalformedRelayKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "0.0.0.0:9000"
	cfg.Relays = []RelayEntry{{PublicKey: "nothex", Relays: []string{"relay.example.com:4000"}}}
	require.Error(t, cfg.Validate())
}

func TestLogFilePathJoinsLogDir(t *testing.T) {
	cfg := DefaultConfig()
	require.True(t, strings.HasSuffix(cfg.LogFilePath(), defaultLogFilename))
}
