// Package vaultcfg loads and validates the configuration shared by the
// vault command line tools.
package vaultcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"
	"github.com/jessevdk/go-flags"
	"github.com/vaultlabs/vaultero"
)

const (
	defaultConfigFileName = "vaultero.conf"
	defaultLogLevel       = "info"
	defaultNetwork        = "regtest"

	// defaultBitcoindHost is where a stock regtest bitcoind listens.
	defaultBitcoindHost = "localhost:18443"

	// Default protocol amounts in satoshis, line up with an 0.501 BTC
	// deposit.
	defaultOriginationFee   = 1_000_000
	defaultCollateralAmount = 49_000_000
	defaultTxFee            = 1_000_000
)

var (
	// DefaultVaultDir is the default directory where vaultero tries to
	// find its configuration file and store its data.
	DefaultVaultDir = btcutil.AppDataDir("vaultero", false)

	// DefaultConfigFile is the default full path of the configuration
	// file.
	DefaultConfigFile = filepath.Join(
		DefaultVaultDir, defaultConfigFileName,
	)
)

// BitcoindConfig holds the connection details of the backing node.
type BitcoindConfig struct {
	Host string `long:"host" description:"The host:port of the bitcoind RPC interface"`
	User string `long:"user" description:"The RPC user name"`
	Pass string `long:"pass" description:"The RPC password"`

	MiningAddr string `long:"miningaddr" description:"Address mined blocks pay to, regtest only"`
}

// Config holds the main configuration of the vault tools.
type Config struct {
	ShowVersion bool `long:"version" description:"Display version information and exit"`

	ConfigFile string `long:"configfile" description:"Path to configuration file"`

	DebugLevel string `long:"debuglevel" description:"Logging level: trace, debug, info, warn, error, critical"`

	Network string `long:"network" description:"The Bitcoin network to run on" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"signet" choice:"simnet"`

	OriginationFee   int64 `long:"originationfee" description:"Origination fee output amount in satoshis"`
	CollateralAmount int64 `long:"collateralamount" description:"Collateral output amount in satoshis"`
	TxFee            int64 `long:"txfee" description:"Flat network fee of sweep transactions in satoshis"`

	Bitcoind *BitcoindConfig `group:"bitcoind" namespace:"bitcoind"`

	// ActiveNetParams is the resolved parameter set of the configured
	// network.
	ActiveNetParams *chaincfg.Params
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		ConfigFile:       DefaultConfigFile,
		DebugLevel:       defaultLogLevel,
		Network:          defaultNetwork,
		OriginationFee:   defaultOriginationFee,
		CollateralAmount: defaultCollateralAmount,
		TxFee:            defaultTxFee,
		Bitcoind: &BitcoindConfig{
			Host: defaultBitcoindHost,
		},
	}
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified
//     options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(args []string) (*Config, error) {
	// Pre-parse the command line options to pick up an alternative
	// config file.
	preCfg := DefaultConfig()
	if _, err := flags.ParseArgs(&preCfg, args); err != nil {
		return nil, err
	}

	if preCfg.ShowVersion {
		fmt.Println(appName(), "version", vaultero.Version())
		os.Exit(0)
	}

	// Next, load any additional configuration options from the file.
	cfg, err := LoadConfigFile(preCfg.ConfigFile)
	if err != nil {
		return nil, err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.ParseArgs(&cfg, args); err != nil {
		return nil, err
	}

	return ValidateConfig(&cfg)
}

// LoadConfigFile layers the options of the given configuration file on
// top of the defaults. A missing file is not an error since every option
// also has a command line flag.
func LoadConfigFile(configFile string) (Config, error) {
	cfg := DefaultConfig()

	fileParser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(fileParser).ParseFile(
		CleanAndExpandPath(configFile),
	)
	if err != nil {
		// If it's a parsing related error, we'll return immediately.
		// Otherwise the config file simply doesn't exist, which is
		// fine.
		if _, ok := err.(*flags.IniError); ok {
			return cfg, err
		}
	}

	return cfg, nil
}

// ValidateConfig resolves the network, checks amount sanity and normalizes
// paths.
func ValidateConfig(cfg *Config) (*Config, error) {
	switch cfg.Network {
	case "mainnet":
		cfg.ActiveNetParams = &chaincfg.MainNetParams

	case "testnet":
		cfg.ActiveNetParams = &chaincfg.TestNet3Params

	case "regtest":
		cfg.ActiveNetParams = &chaincfg.RegressionNetParams

	case "signet":
		cfg.ActiveNetParams = &chaincfg.SigNetParams

	case "simnet":
		cfg.ActiveNetParams = &chaincfg.SimNetParams

	default:
		return nil, fmt.Errorf("invalid network: %v", cfg.Network)
	}

	if cfg.OriginationFee <= 0 || cfg.CollateralAmount <= 0 ||
		cfg.TxFee <= 0 {

		return nil, fmt.Errorf("all amounts must be positive")
	}

	if _, ok := btclog.LevelFromString(cfg.DebugLevel); !ok {
		return nil, fmt.Errorf("invalid debug level: %v",
			cfg.DebugLevel)
	}

	if cfg.Bitcoind == nil || cfg.Bitcoind.Host == "" {
		return nil, fmt.Errorf("bitcoind.host is required")
	}

	return cfg, nil
}

// SetupLogging wires the module's subsystem loggers to stderr at the
// configured level.
func SetupLogging(cfg *Config) {
	level, _ := btclog.LevelFromString(cfg.DebugLevel)
	vaultero.SetupLoggers(os.Stderr, level)
}

// NewChainBridge connects to the configured bitcoind node.
func NewChainBridge(cfg *Config) (*vaultero.BitcoindRpcChainBridge, error) {
	return vaultero.NewBitcoindRpcChainBridge(
		cfg.Bitcoind.Host, cfg.Bitcoind.User, cfg.Bitcoind.Pass,
		cfg.ActiveNetParams, cfg.Bitcoind.MiningAddr,
	)
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := os.UserHomeDir()
		if err == nil {
			homeDir = u
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style
	// %VARIABLE%, but the variables can still be expanded via POSIX
	// style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// appName returns the base name of the running binary.
func appName() string {
	return filepath.Base(os.Args[0])
}
