package main

import (
	"fmt"

	"github.com/urfave/cli"
	"github.com/vaultlabs/vaultero/vaultscript"
)

var addressCommands = []cli.Command{
	{
		Name:      "addresses",
		ShortName: "addr",
		Usage:     "Derive vault deposit addresses.",
		Category:  "Addresses",
		Subcommands: []cli.Command{
			deriveEscrowCommand,
			deriveCollateralCommand,
		},
	},
}

var deriveEscrowCommand = cli.Command{
	Name:      "escrow",
	ShortName: "e",
	Usage:     "derive the escrow deposit address",
	Description: "Derive the Taproot address of the escrow output from " +
		"the agreed loan terms. Both parties derive this " +
		"independently and must arrive at the same address.",
	Flags: termsFlags,
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		borrowerKey, err := parsePubKey(ctx.String("borrower_key"))
		if err != nil {
			return err
		}
		lenderKey, err := parsePubKey(ctx.String("lender_key"))
		if err != nil {
			return err
		}

		addr, err := vaultscript.DeriveEscrowAddress(
			borrowerKey, lenderKey, ctx.String("borrower_hash"),
			uint32(ctx.Uint64("borrower_timelock")),
			cfg.ActiveNetParams,
		)
		if err != nil {
			return err
		}

		fmt.Println(addr.String())
		return nil
	},
}

var deriveCollateralCommand = cli.Command{
	Name:      "collateral",
	ShortName: "c",
	Usage:     "derive the collateral vault address",
	Flags:     termsFlags,
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		borrowerKey, err := parsePubKey(ctx.String("borrower_key"))
		if err != nil {
			return err
		}
		lenderKey, err := parsePubKey(ctx.String("lender_key"))
		if err != nil {
			return err
		}

		addr, err := vaultscript.DeriveCollateralAddress(
			borrowerKey, lenderKey, ctx.String("lender_hash"),
			uint32(ctx.Uint64("lender_timelock")),
			cfg.ActiveNetParams,
		)
		if err != nil {
			return err
		}

		fmt.Println(addr.String())
		return nil
	},
}
