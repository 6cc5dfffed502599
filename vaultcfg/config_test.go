package vaultcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

// writeConfigFile drops a config file with the given contents into a fresh
// temp dir and returns its path.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	configFile := filepath.Join(t.TempDir(), defaultConfigFileName)
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))

	return configFile
}

// TestLoadConfigLayering checks the three configuration layers: defaults
// first, then the config file, then command line flags on top.
func TestLoadConfigLayering(t *testing.T) {
	t.Parallel()

	configFile := writeConfigFile(t, `[Application Options]
network=signet
debuglevel=debug
txfee=250000
`)

	cfg, err := LoadConfig([]string{
		"--configfile=" + configFile,
		"--network=regtest",
		"--collateralamount=123456",
		"--bitcoind.host=node:18443",
	})
	require.NoError(t, err)

	// Flags beat the file, the file beats the defaults.
	require.Equal(t, "regtest", cfg.Network)
	require.Same(t, &chaincfg.RegressionNetParams, cfg.ActiveNetParams)
	require.Equal(t, "debug", cfg.DebugLevel)
	require.EqualValues(t, 250_000, cfg.TxFee)
	require.EqualValues(t, 123_456, cfg.CollateralAmount)
	require.EqualValues(t, defaultOriginationFee, cfg.OriginationFee)
	require.Equal(t, "node:18443", cfg.Bitcoind.Host)
}

// TestLoadConfigFileMissing makes sure a missing config file falls back to
// the defaults instead of erroring out.
func TestLoadConfigFileMissing(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFile(
		filepath.Join(t.TempDir(), defaultConfigFileName),
	)
	require.NoError(t, err)
	require.Equal(t, defaultNetwork, cfg.Network)
	require.EqualValues(t, defaultTxFee, cfg.TxFee)
}

// TestLoadConfigFileUnknownOption makes sure a config file with an option
// we don't know is rejected rather than silently ignored.
func TestLoadConfigFileUnknownOption(t *testing.T) {
	t.Parallel()

	configFile := writeConfigFile(t, `[Application Options]
nonsense=true
`)

	_, err := LoadConfigFile(configFile)
	require.Error(t, err)
}

// TestValidateConfig covers the sanity checks on an otherwise complete
// config.
func TestValidateConfig(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		mutate    func(cfg *Config)
		expectErr string
	}{{
		name:   "defaults are valid",
		mutate: func(cfg *Config) {},
	}, {
		name: "unknown network",
		mutate: func(cfg *Config) {
			cfg.Network = "litecoin"
		},
		expectErr: "invalid network",
	}, {
		name: "negative fee",
		mutate: func(cfg *Config) {
			cfg.TxFee = -1
		},
		expectErr: "must be positive",
	}, {
		name: "bogus debug level",
		mutate: func(cfg *Config) {
			cfg.DebugLevel = "chatty"
		},
		expectErr: "invalid debug level",
	}, {
		name: "missing bitcoind host",
		mutate: func(cfg *Config) {
			cfg.Bitcoind.Host = ""
		},
		expectErr: "bitcoind.host is required",
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)

			validated, err := ValidateConfig(&cfg)
			if tc.expectErr != "" {
				require.ErrorContains(t, err, tc.expectErr)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, validated.ActiveNetParams)
		})
	}
}
