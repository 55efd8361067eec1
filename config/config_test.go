package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.RPCAddress)
	require.Equal(t, "gavel-local", cfg.NetworkName)
	require.Equal(t, int64(72*3600), cfg.Escrow.GracePeriodSecs)
	require.FileExists(t, path)

	// Second load reads the persisted file back.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.RPCAddress, reloaded.RPCAddress)
	require.Equal(t, cfg.Assets, reloaded.Assets)
}

func TestLoadAppliesDefaultsToSparseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("RPCAddress = \":7000\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.RPCAddress)
	require.Equal(t, "./gavel-data", cfg.DataDir)
	require.Equal(t, int64(48*3600), cfg.Dispute.AgreementWindowSecs)
	require.Equal(t, int64(7*24*3600), cfg.Dispute.MaxDurationSecs)
}

func TestValidateRejectsBadArbitrator(t *testing.T) {
	cfg := &Config{RPCAddress: ":8080"}
	applyDefaults(cfg)
	cfg.Dispute.Arbitrator = "0x1234"

	require.Error(t, Validate(cfg))

	cfg.Dispute.Arbitrator = "0x0303030303030303030303030303030303030303"
	require.NoError(t, Validate(cfg))
}

func TestValidateRejectsInvertedDisputeWindows(t *testing.T) {
	cfg := &Config{RPCAddress: ":8080"}
	applyDefaults(cfg)
	cfg.Dispute.AgreementWindowSecs = 1_000
	cfg.Dispute.MaxDurationSecs = 500

	require.Error(t, Validate(cfg))
}
