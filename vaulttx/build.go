// Package vaulttx builds the unsigned transactions that move funds between
// the vault outputs. None of the builders sign or attach a witness: the
// transaction shape is independent of which leaf script ultimately
// authorizes it, and signing belongs to the split signature protocol.
package vaulttx

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/vaultlabs/vaultero/vaultscript"
)

// VaultTxVersion is the transaction version of every vault transaction.
// OP_CHECKSEQUENCEVERIFY requires version 2 or higher, and the CSV leaves
// must stay spendable on every vault output.
const VaultTxVersion = 2

var (
	// ErrInsufficientFunds is returned when the funding UTXO doesn't
	// cover the requested outputs plus fee. Raised before any
	// transaction is assembled.
	ErrInsufficientFunds = errors.New(
		"vaulttx: insufficient funds in funding output",
	)

	// ErrMissingTerms is returned when a builder is invoked without the
	// loan terms.
	ErrMissingTerms = errors.New("vaulttx: missing vault terms")
)

// LockParams carries everything needed to build the escrow to collateral
// transition transaction.
type LockParams struct {
	// Terms are the loan terms the collateral output commits to.
	Terms *vaultscript.Terms

	// OriginationFee is paid to the lender's standard address in the
	// first output.
	OriginationFee btcutil.Amount

	// CollateralAmount is locked into the collateral vault output in the
	// second output.
	CollateralAmount btcutil.Amount
}

// BuildCollateralLockTx builds the unsigned transaction spending the escrow
// output into the collateral vault: one input (the escrow UTXO), the
// origination fee to the lender at output 0 and the collateral payment at
// output 1. The remainder of the escrow value is the mining fee.
func BuildCollateralLockTx(escrow wire.OutPoint, escrowValue btcutil.Amount,
	p LockParams) (*wire.MsgTx, error) {

	if p.Terms == nil {
		return nil, ErrMissingTerms
	}

	if escrowValue <= p.CollateralAmount+p.OriginationFee {
		return nil, fmt.Errorf("%w: escrow value %v must exceed "+
			"collateral %v plus origination fee %v",
			ErrInsufficientFunds, escrowValue, p.CollateralAmount,
			p.OriginationFee)
	}

	collateralTree, err := vaultscript.NewCollateralScriptTree(p.Terms)
	if err != nil {
		return nil, fmt.Errorf("unable to derive collateral "+
			"output: %w", err)
	}

	collateralPkScript, err := collateralTree.PkScript()
	if err != nil {
		return nil, err
	}

	feePkScript, err := vaultscript.KeySpendPkScript(p.Terms.LenderKey)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(VaultTxVersion)
	tx.AddTxIn(wire.NewTxIn(&escrow, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(p.OriginationFee), feePkScript))
	tx.AddTxOut(wire.NewTxOut(
		int64(p.CollateralAmount), collateralPkScript,
	))

	return tx, nil
}

// BuildSweepTx builds an unsigned transaction draining a single vault UTXO
// into the key spend address of the given party, paying value minus fee.
// This is the shape shared by collateral release, collateral capture and the
// borrower's escrow escape.
func BuildSweepTx(utxo wire.OutPoint, value btcutil.Amount,
	payTo *btcec.PublicKey, fee btcutil.Amount) (*wire.MsgTx, error) {

	if value <= fee {
		return nil, fmt.Errorf("%w: input value %v must exceed "+
			"fee %v", ErrInsufficientFunds, value, fee)
	}

	pkScript, err := vaultscript.KeySpendPkScript(payTo)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(VaultTxVersion)
	tx.AddTxIn(wire.NewTxIn(&utxo, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(value-fee), pkScript))

	return tx, nil
}

// BuildCollateralReleaseTx builds the unsigned transaction spending the
// collateral output to the borrower's (repayment happy path) or the
// lender's (default capture) standard address.
func BuildCollateralReleaseTx(collateral wire.OutPoint,
	value btcutil.Amount, terms *vaultscript.Terms, fee btcutil.Amount,
	releaseToBorrower bool) (*wire.MsgTx, error) {

	if terms == nil {
		return nil, ErrMissingTerms
	}

	payTo := terms.BorrowerKey
	if !releaseToBorrower {
		payTo = terms.LenderKey
	}

	return BuildSweepTx(collateral, value, payTo, fee)
}

// CheckUnsignedVaultTx performs sanity checks on an unsigned vault
// transaction before it is passed to a signer: correct version, the exact
// expected input and output count, no locktime, and no witness or signature
// script attached yet.
func CheckUnsignedVaultTx(tx *wire.MsgTx, numInputs, numOutputs int) error {
	if tx == nil {
		return fmt.Errorf("vaulttx: tx must not be nil")
	}

	if tx.Version != VaultTxVersion {
		return fmt.Errorf("vaulttx: tx version must be %d, got %d",
			VaultTxVersion, tx.Version)
	}

	if len(tx.TxIn) != numInputs {
		return fmt.Errorf("vaulttx: tx must have exactly %d "+
			"input(s), got %d", numInputs, len(tx.TxIn))
	}

	if len(tx.TxOut) != numOutputs {
		return fmt.Errorf("vaulttx: tx must have exactly %d "+
			"output(s), got %d", numOutputs, len(tx.TxOut))
	}

	if tx.LockTime != 0 {
		return fmt.Errorf("vaulttx: tx must not have a locktime")
	}

	for idx, txIn := range tx.TxIn {
		if len(txIn.SignatureScript) != 0 {
			return fmt.Errorf("vaulttx: input %d must not have "+
				"a signature script", idx)
		}
		if len(txIn.Witness) != 0 {
			return fmt.Errorf("vaulttx: input %d must not have "+
				"a witness", idx)
		}
	}

	return nil
}
