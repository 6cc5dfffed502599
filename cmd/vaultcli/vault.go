package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/urfave/cli"
	"github.com/vaultlabs/vaultero/vaultcfg"
	"github.com/vaultlabs/vaultero/vaultsign"
	"github.com/vaultlabs/vaultero/vaulttx"
)

var vaultCommands = []cli.Command{
	{
		Name:      "vault",
		ShortName: "v",
		Usage:     "Drive a vault through its spending paths.",
		Category:  "Vault",
		Subcommands: []cli.Command{
			buildLockTxCommand,
			exportSigCommand,
			completeWitnessCommand,
			borrowerExitCommand,
			releaseCommand,
			captureCommand,
		},
	},
}

// newProtocol builds a protocol instance from the global flags and the
// shared terms flags of the given command context.
func newProtocol(ctx *cli.Context) (*vaultsign.Protocol, func(), error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	terms, err := termsFromCtx(ctx)
	if err != nil {
		return nil, nil, err
	}

	chain, err := vaultcfg.NewChainBridge(cfg)
	if err != nil {
		return nil, nil, err
	}

	p, err := vaultsign.NewProtocol(vaultsign.Config{
		Chain:            chain,
		Terms:            terms,
		OriginationFee:   btcutil.Amount(cfg.OriginationFee),
		CollateralAmount: btcutil.Amount(cfg.CollateralAmount),
		TxFee:            btcutil.Amount(cfg.TxFee),
		PollInterval:     time.Second,
	})
	if err != nil {
		chain.Shutdown()
		return nil, nil, err
	}

	return p, chain.Shutdown, nil
}

// maybeWait optionally blocks until txid confirms, gated by the command's
// wait flag.
func maybeWait(ctx *cli.Context, p *vaultsign.Protocol,
	txid chainhash.Hash) error {

	fmt.Println(txid.String())

	if !ctx.Bool("wait") {
		return nil
	}

	return p.WaitForConfirmation(context.Background(), txid)
}

var waitFlag = cli.BoolFlag{
	Name:  "wait",
	Usage: "block until the transaction confirms",
}

var buildLockTxCommand = cli.Command{
	Name:  "buildlocktx",
	Usage: "build the unsigned collateral lock transaction",
	Description: "Build the unsigned transaction spending the escrow " +
		"output into the origination fee and collateral outputs " +
		"and print its hex encoding. No keys are involved.",
	Flags: append(termsFlags,
		cli.StringFlag{
			Name:  "escrow_outpoint",
			Usage: "the escrow UTXO as txid:vout",
		},
	),
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		terms, err := termsFromCtx(ctx)
		if err != nil {
			return err
		}

		chain, err := vaultcfg.NewChainBridge(cfg)
		if err != nil {
			return err
		}
		defer chain.Shutdown()

		escrowUtxo, err := parseOutPoint(
			ctx.String("escrow_outpoint"),
		)
		if err != nil {
			return err
		}

		utxo, err := chain.GetUtxo(context.Background(), escrowUtxo)
		if err != nil {
			return err
		}

		lockTx, err := vaulttx.BuildCollateralLockTx(
			escrowUtxo, utxo.Value, vaulttx.LockParams{
				Terms:          terms,
				OriginationFee: btcutil.Amount(
					cfg.OriginationFee,
				),
				CollateralAmount: btcutil.Amount(
					cfg.CollateralAmount,
				),
			},
		)
		if err != nil {
			return err
		}

		txHex, err := vaulttx.EncodeTx(lockTx)
		if err != nil {
			return err
		}

		fmt.Println(txHex)
		return nil
	},
}

var exportSigCommand = cli.Command{
	Name:      "exportsig",
	ShortName: "x",
	Usage:     "sign the collateral lock as the borrower",
	Description: "Build the collateral lock transaction spending the " +
		"escrow output, sign its claim leaf with the borrower key " +
		"and write the resulting signature bundle to a file. The " +
		"bundle contains no secret and is safe to hand to the " +
		"lender.",
	Flags: append(termsFlags,
		cli.StringFlag{
			Name:  "escrow_outpoint",
			Usage: "the escrow UTXO as txid:vout",
		},
		cli.StringFlag{
			Name:  "borrower_privkey",
			Usage: "the borrower's private key (hex)",
		},
		cli.StringFlag{
			Name:  "bundle_file",
			Usage: "path the signature bundle is written to",
			Value: "bundle.json",
		},
	),
	Action: func(ctx *cli.Context) error {
		p, shutdown, err := newProtocol(ctx)
		if err != nil {
			return err
		}
		defer shutdown()

		escrowUtxo, err := parseOutPoint(
			ctx.String("escrow_outpoint"),
		)
		if err != nil {
			return err
		}

		borrowerKey, err := parsePrivKey(
			ctx.String("borrower_privkey"),
		)
		if err != nil {
			return err
		}

		bundle, err := p.ExportBorrowerSignature(
			context.Background(), escrowUtxo, borrowerKey,
		)
		if err != nil {
			return err
		}

		encoded, err := bundle.Encode()
		if err != nil {
			return err
		}

		bundleFile := ctx.String("bundle_file")
		if err := os.WriteFile(bundleFile, encoded, 0644); err != nil {
			return err
		}

		fmt.Printf("bundle written to %s\n", bundleFile)
		return nil
	},
}

var completeWitnessCommand = cli.Command{
	Name:      "completewitness",
	ShortName: "w",
	Usage:     "countersign and broadcast the collateral lock as the lender",
	Description: "Verify the borrower's signature bundle against the " +
		"terms, add the lender signature and the borrower's " +
		"revealed secret, and broadcast the lock transaction.",
	Flags: append(termsFlags,
		cli.StringFlag{
			Name:  "bundle_file",
			Usage: "path of the borrower's signature bundle",
			Value: "bundle.json",
		},
		cli.StringFlag{
			Name:  "lender_privkey",
			Usage: "the lender's private key (hex)",
		},
		cli.StringFlag{
			Name:  "borrower_preimage",
			Usage: "the borrower's revealed secret (utf-8)",
		},
		waitFlag,
	),
	Action: func(ctx *cli.Context) error {
		p, shutdown, err := newProtocol(ctx)
		if err != nil {
			return err
		}
		defer shutdown()

		raw, err := os.ReadFile(ctx.String("bundle_file"))
		if err != nil {
			return err
		}

		bundle, err := vaultsign.DecodeBundle(raw)
		if err != nil {
			return err
		}

		lenderKey, err := parsePrivKey(ctx.String("lender_privkey"))
		if err != nil {
			return err
		}

		txid, err := p.CompleteLenderWitness(
			context.Background(), bundle, lenderKey,
			[]byte(ctx.String("borrower_preimage")),
		)
		if err != nil {
			return err
		}

		return maybeWait(ctx, p, *txid)
	},
}

var borrowerExitCommand = cli.Command{
	Name:  "borrowerexit",
	Usage: "sweep an untouched escrow back to the borrower",
	Flags: append(termsFlags,
		cli.StringFlag{
			Name:  "escrow_outpoint",
			Usage: "the escrow UTXO as txid:vout",
		},
		cli.StringFlag{
			Name:  "borrower_privkey",
			Usage: "the borrower's private key (hex)",
		},
		waitFlag,
	),
	Action: func(ctx *cli.Context) error {
		p, shutdown, err := newProtocol(ctx)
		if err != nil {
			return err
		}
		defer shutdown()

		escrowUtxo, err := parseOutPoint(
			ctx.String("escrow_outpoint"),
		)
		if err != nil {
			return err
		}

		borrowerKey, err := parsePrivKey(
			ctx.String("borrower_privkey"),
		)
		if err != nil {
			return err
		}

		txid, err := p.BorrowerExit(
			context.Background(), escrowUtxo, borrowerKey,
		)
		if err != nil {
			return err
		}

		return maybeWait(ctx, p, *txid)
	},
}

var releaseCommand = cli.Command{
	Name:  "release",
	Usage: "reclaim the collateral after loan repayment",
	Flags: append(termsFlags,
		cli.StringFlag{
			Name:  "collateral_outpoint",
			Usage: "the collateral UTXO as txid:vout",
		},
		cli.StringFlag{
			Name:  "borrower_privkey",
			Usage: "the borrower's private key (hex)",
		},
		cli.StringFlag{
			Name:  "lender_preimage",
			Usage: "the lender's revealed secret (utf-8)",
		},
		waitFlag,
	),
	Action: func(ctx *cli.Context) error {
		p, shutdown, err := newProtocol(ctx)
		if err != nil {
			return err
		}
		defer shutdown()

		collateralUtxo, err := parseOutPoint(
			ctx.String("collateral_outpoint"),
		)
		if err != nil {
			return err
		}

		borrowerKey, err := parsePrivKey(
			ctx.String("borrower_privkey"),
		)
		if err != nil {
			return err
		}

		txid, err := p.CollateralRelease(
			context.Background(), collateralUtxo, borrowerKey,
			[]byte(ctx.String("lender_preimage")),
		)
		if err != nil {
			return err
		}

		return maybeWait(ctx, p, *txid)
	},
}

var captureCommand = cli.Command{
	Name:  "capture",
	Usage: "capture the collateral on borrower default",
	Flags: append(termsFlags,
		cli.StringFlag{
			Name:  "collateral_outpoint",
			Usage: "the collateral UTXO as txid:vout",
		},
		cli.StringFlag{
			Name:  "lender_privkey",
			Usage: "the lender's private key (hex)",
		},
		waitFlag,
	),
	Action: func(ctx *cli.Context) error {
		p, shutdown, err := newProtocol(ctx)
		if err != nil {
			return err
		}
		defer shutdown()

		collateralUtxo, err := parseOutPoint(
			ctx.String("collateral_outpoint"),
		)
		if err != nil {
			return err
		}

		lenderKey, err := parsePrivKey(ctx.String("lender_privkey"))
		if err != nil {
			return err
		}

		txid, err := p.CollateralCapture(
			context.Background(), collateralUtxo, lenderKey,
		)
		if err != nil {
			return err
		}

		return maybeWait(ctx, p, *txid)
	},
}
