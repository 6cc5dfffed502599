package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/urfave/cli"
	"github.com/vaultlabs/vaultero"
	"github.com/vaultlabs/vaultero/vaultcfg"
	"github.com/vaultlabs/vaultero/vaultscript"
)

func main() {
	app := cli.NewApp()
	app.Name = "vaultcli"
	app.Version = vaultero.Version()
	app.Usage = "control plane for Bitcoin collateral vaults"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "configfile",
			Usage: "path to the configuration file",
			Value: vaultcfg.DefaultConfigFile,
		},
		cli.StringFlag{
			Name:  "network, n",
			Usage: "the Bitcoin network to operate on",
			Value: "regtest",
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Usage: "logging level of all subsystems",
			Value: "info",
		},
		cli.StringFlag{
			Name:  "bitcoind.host",
			Usage: "host:port of the bitcoind RPC interface",
			Value: "localhost:18443",
		},
		cli.StringFlag{
			Name:  "bitcoind.user",
			Usage: "bitcoind RPC user",
		},
		cli.StringFlag{
			Name:  "bitcoind.pass",
			Usage: "bitcoind RPC password",
		},
		cli.StringFlag{
			Name:  "bitcoind.miningaddr",
			Usage: "address mined blocks pay to, regtest only",
		},
		cli.Float64Flag{
			Name:  "originationfee",
			Usage: "origination fee output amount in BTC",
			Value: 0.01,
		},
		cli.Float64Flag{
			Name:  "collateralamount",
			Usage: "collateral output amount in BTC",
			Value: 0.49,
		},
		cli.Float64Flag{
			Name:  "txfee",
			Usage: "flat fee of sweep transactions in BTC",
			Value: 0.01,
		},
	}
	app.Commands = append(app.Commands, addressCommands...)
	app.Commands = append(app.Commands, vaultCommands...)

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[vaultcli] %v\n", err)
	os.Exit(1)
}

// loadConfig turns the global CLI flags into a validated configuration and
// wires up logging. The defaults come first, then the optional config
// file, then any flag the user gave explicitly.
func loadConfig(ctx *cli.Context) (*vaultcfg.Config, error) {
	cfg, err := vaultcfg.LoadConfigFile(ctx.GlobalString("configfile"))
	if err != nil {
		return nil, err
	}

	if ctx.GlobalIsSet("network") {
		cfg.Network = ctx.GlobalString("network")
	}
	if ctx.GlobalIsSet("debuglevel") {
		cfg.DebugLevel = ctx.GlobalString("debuglevel")
	}

	// Amounts are given as BTC decimals on the command line but handled
	// as satoshis everywhere else.
	if ctx.GlobalIsSet("originationfee") {
		amt, err := btcutil.NewAmount(
			ctx.GlobalFloat64("originationfee"),
		)
		if err != nil {
			return nil, fmt.Errorf("originationfee: %w", err)
		}
		cfg.OriginationFee = int64(amt)
	}
	if ctx.GlobalIsSet("collateralamount") {
		amt, err := btcutil.NewAmount(
			ctx.GlobalFloat64("collateralamount"),
		)
		if err != nil {
			return nil, fmt.Errorf("collateralamount: %w", err)
		}
		cfg.CollateralAmount = int64(amt)
	}
	if ctx.GlobalIsSet("txfee") {
		amt, err := btcutil.NewAmount(ctx.GlobalFloat64("txfee"))
		if err != nil {
			return nil, fmt.Errorf("txfee: %w", err)
		}
		cfg.TxFee = int64(amt)
	}

	if ctx.GlobalIsSet("bitcoind.host") {
		cfg.Bitcoind.Host = ctx.GlobalString("bitcoind.host")
	}
	if ctx.GlobalIsSet("bitcoind.user") {
		cfg.Bitcoind.User = ctx.GlobalString("bitcoind.user")
	}
	if ctx.GlobalIsSet("bitcoind.pass") {
		cfg.Bitcoind.Pass = ctx.GlobalString("bitcoind.pass")
	}
	if ctx.GlobalIsSet("bitcoind.miningaddr") {
		cfg.Bitcoind.MiningAddr = ctx.GlobalString(
			"bitcoind.miningaddr",
		)
	}

	validated, err := vaultcfg.ValidateConfig(&cfg)
	if err != nil {
		return nil, err
	}

	vaultcfg.SetupLogging(validated)

	return validated, nil
}

// parsePubKey parses a 33 byte compressed public key from hex.
func parsePubKey(keyHex string) (*btcec.PublicKey, error) {
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}

	return btcec.ParsePubKey(keyBytes)
}

// parsePrivKey parses a 32 byte private key from hex.
func parsePrivKey(keyHex string) (*btcec.PrivateKey, error) {
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes")
	}

	privKey, _ := btcec.PrivKeyFromBytes(keyBytes)
	return privKey, nil
}

// parseOutPoint parses an outpoint in the txid:vout format.
func parseOutPoint(s string) (wire.OutPoint, error) {
	var op wire.OutPoint

	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return op, fmt.Errorf("expecting outpoint as txid:vout")
	}

	hash, err := chainhash.NewHashFromStr(parts[0])
	if err != nil {
		return op, fmt.Errorf("invalid txid: %w", err)
	}

	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return op, fmt.Errorf("invalid output index: %w", err)
	}

	return wire.OutPoint{Hash: *hash, Index: uint32(index)}, nil
}

// termsFlags are the shared flags describing the loan both parties agreed
// on. Every command deriving scripts or spending a vault output takes the
// full set.
var termsFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "borrower_key",
		Usage: "the borrower's compressed public key (hex)",
	},
	cli.StringFlag{
		Name:  "lender_key",
		Usage: "the lender's compressed public key (hex)",
	},
	cli.StringFlag{
		Name:  "borrower_hash",
		Usage: "SHA256 commitment of the borrower's secret (hex)",
	},
	cli.StringFlag{
		Name:  "lender_hash",
		Usage: "SHA256 commitment of the lender's secret (hex)",
	},
	cli.Uint64Flag{
		Name:  "borrower_timelock",
		Usage: "escrow escape delay in blocks",
		Value: 100,
	},
	cli.Uint64Flag{
		Name:  "lender_timelock",
		Usage: "collateral capture delay in blocks",
		Value: 200,
	},
}

// termsFromCtx assembles validated vault terms from the shared flags.
func termsFromCtx(ctx *cli.Context) (*vaultscript.Terms, error) {
	borrowerKey, err := parsePubKey(ctx.String("borrower_key"))
	if err != nil {
		return nil, fmt.Errorf("borrower_key: %w", err)
	}

	lenderKey, err := parsePubKey(ctx.String("lender_key"))
	if err != nil {
		return nil, fmt.Errorf("lender_key: %w", err)
	}

	return vaultscript.NewTerms(
		borrowerKey, lenderKey, ctx.String("borrower_hash"),
		ctx.String("lender_hash"),
		uint32(ctx.Uint64("borrower_timelock")),
		uint32(ctx.Uint64("lender_timelock")),
	)
}
