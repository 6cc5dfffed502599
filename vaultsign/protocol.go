package vaultsign

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/vaultlabs/vaultero/vaultscript"
	"github.com/vaultlabs/vaultero/vaulttx"
)

var (
	// ErrScriptMismatch is returned when an output script, leaf script
	// or control block derived from the shared terms doesn't match what
	// the counterparty (or the chain) presents. It means the two sides
	// disagree about the vault parameters and no spend must be
	// attempted.
	ErrScriptMismatch = errors.New("vaultsign: script mismatch")

	// ErrWrongPreimage is returned when a revealed secret doesn't hash
	// to the commitment in the vault terms.
	ErrWrongPreimage = errors.New("vaultsign: wrong preimage")

	// ErrWrongSigningKey is returned when a private key handed to a
	// signing operation doesn't correspond to the public key the vault
	// terms commit to.
	ErrWrongSigningKey = errors.New("vaultsign: wrong signing key")
)

const (
	// defaultPollInterval is how often we ask the chain backend about a
	// pending transaction if the caller didn't configure an interval.
	defaultPollInterval = time.Second
)

// Config bundles everything a Protocol instance needs. All fields except
// PollInterval are mandatory.
type Config struct {
	// Chain is the bridge to the Bitcoin backend.
	Chain ChainBridge

	// Terms are the vault parameters both parties agreed on
	// out-of-band. Each side constructs its own copy; nothing in the
	// protocol ever transmits them.
	Terms *vaultscript.Terms

	// OriginationFee is the amount of the first lock output, paid to
	// the lender's key path.
	OriginationFee btcutil.Amount

	// CollateralAmount is the amount of the second lock output, paid to
	// the collateral script tree.
	CollateralAmount btcutil.Amount

	// TxFee is the flat network fee deducted by the single output sweep
	// transactions.
	TxFee btcutil.Amount

	// PollInterval is how often pending transactions are polled for
	// confirmations.
	PollInterval time.Duration
}

// Protocol drives one vault through its spending paths: the cooperative
// split signature lock, the unilateral timelock escapes and the
// preimage gated claims. A Protocol instance tracks exactly one spend
// attempt through the state machine; concurrent competing spends each get
// their own instance and race on-chain.
type Protocol struct {
	cfg Config

	mtx   sync.Mutex
	state SpendState

	// terminal is the state a confirmed broadcast resolves to. Set when
	// a transaction is published, applied by WaitForConfirmation.
	terminal SpendState
}

// NewProtocol validates the config and returns a fresh protocol instance
// in StateUnsigned.
func NewProtocol(cfg Config) (*Protocol, error) {
	if cfg.Chain == nil {
		return nil, fmt.Errorf("vaultsign: nil chain bridge")
	}
	if cfg.Terms == nil {
		return nil, fmt.Errorf("vaultsign: nil terms")
	}
	if cfg.OriginationFee <= 0 || cfg.CollateralAmount <= 0 ||
		cfg.TxFee <= 0 {

		return nil, fmt.Errorf("vaultsign: amounts must be positive")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return &Protocol{
		cfg:   cfg,
		state: StateUnsigned,
	}, nil
}

// State returns the current spend state.
func (p *Protocol) State() SpendState {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return p.state
}

// advance moves the state machine, enforcing the transition relation.
func (p *Protocol) advance(to SpendState) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return p.advanceLocked(to)
}

// advanceLocked is advance for callers already holding p.mtx.
func (p *Protocol) advanceLocked(to SpendState) error {
	if err := checkTransition(p.state, to); err != nil {
		return err
	}

	log.Debugf("Spend state %v -> %v", p.state, to)
	p.state = to

	return nil
}

// fetchCheckedUtxo looks up an outpoint and verifies the chain agrees
// with our locally derived output script. A mismatch means the funding
// party deposited to an address we can't reconstruct from the terms, and
// nothing built on top of it would validate.
func (p *Protocol) fetchCheckedUtxo(ctx context.Context, op wire.OutPoint,
	wantPkScript []byte) (*UtxoInfo, error) {

	utxo, err := p.cfg.Chain.GetUtxo(ctx, op)
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(utxo.PkScript, wantPkScript) {
		return nil, fmt.Errorf("%w: utxo %v locked to %x, derived "+
			"%x", ErrScriptMismatch, op, utxo.PkScript,
			wantPkScript)
	}

	return utxo, nil
}

// checkSigningKey verifies that priv corresponds to the expected public
// key from the terms, comparing x-only since that's all the scripts
// commit to.
func checkSigningKey(priv *btcec.PrivateKey,
	want *btcec.PublicKey) error {

	if !vaultscript.SchnorrKeysEqual(priv.PubKey(), want) {
		return ErrWrongSigningKey
	}

	return nil
}

// checkPreimage verifies that secret hashes to the given commitment.
func checkPreimage(secret []byte, want [32]byte) error {
	if sha256.Sum256(secret) != want {
		return ErrWrongPreimage
	}

	return nil
}

// checkLockOutputs verifies that the lock transaction pays the agreed
// origination fee to the lender's key path and the agreed collateral
// amount to the collateral script tree. The borrower built and signed the
// transaction; a signature alone says nothing about where the money goes.
func (p *Protocol) checkLockOutputs(lockTx *wire.MsgTx) error {
	feePkScript, err := vaultscript.KeySpendPkScript(p.cfg.Terms.LenderKey)
	if err != nil {
		return err
	}

	collateralTree, err := vaultscript.NewCollateralScriptTree(
		p.cfg.Terms,
	)
	if err != nil {
		return err
	}
	collateralPkScript, err := collateralTree.PkScript()
	if err != nil {
		return err
	}

	feeOut, collateralOut := lockTx.TxOut[0], lockTx.TxOut[1]

	if !bytes.Equal(feeOut.PkScript, feePkScript) ||
		feeOut.Value != int64(p.cfg.OriginationFee) {

		return fmt.Errorf("%w: origination fee output pays %d to "+
			"%x", ErrScriptMismatch, feeOut.Value,
			feeOut.PkScript)
	}

	if !bytes.Equal(collateralOut.PkScript, collateralPkScript) ||
		collateralOut.Value != int64(p.cfg.CollateralAmount) {

		return fmt.Errorf("%w: collateral output pays %d to %x",
			ErrScriptMismatch, collateralOut.Value,
			collateralOut.PkScript)
	}

	return nil
}

// ExportBorrowerSignature is the borrower's half of the cooperative lock.
// It builds the two output collateral lock transaction spending the
// escrow UTXO through the claim leaf, signs it with the borrower's key
// and packages everything the lender needs into a portable bundle. The
// borrower's preimage is NOT part of the bundle; revealing it is the
// lender's act of broadcasting.
func (p *Protocol) ExportBorrowerSignature(ctx context.Context,
	escrowUtxo wire.OutPoint,
	borrowerKey *btcec.PrivateKey) (*Bundle, error) {

	if err := checkSigningKey(borrowerKey, p.cfg.Terms.BorrowerKey); err != nil {
		return nil, err
	}

	escrowTree, err := vaultscript.NewEscrowScriptTree(p.cfg.Terms)
	if err != nil {
		return nil, err
	}
	escrowPkScript, err := escrowTree.PkScript()
	if err != nil {
		return nil, err
	}

	utxo, err := p.fetchCheckedUtxo(ctx, escrowUtxo, escrowPkScript)
	if err != nil {
		return nil, err
	}

	lockTx, err := vaulttx.BuildCollateralLockTx(
		escrowUtxo, utxo.Value, vaulttx.LockParams{
			Terms:            p.cfg.Terms,
			OriginationFee:   p.cfg.OriginationFee,
			CollateralAmount: p.cfg.CollateralAmount,
		},
	)
	if err != nil {
		return nil, err
	}

	leafScript, err := escrowTree.LeafScript(
		vaultscript.EscrowLeafLenderClaim,
	)
	if err != nil {
		return nil, err
	}

	sig, err := signTaprootLeaf(
		lockTx, 0, utxo.Value, escrowPkScript, leafScript,
		borrowerKey,
	)
	if err != nil {
		return nil, err
	}

	txHex, err := vaulttx.EncodeTx(lockTx)
	if err != nil {
		return nil, err
	}

	if err := p.advance(StateBorrowerPartiallySigned); err != nil {
		return nil, err
	}

	log.Infof("Exported borrower signature for escrow utxo %v, lock "+
		"txid %v", escrowUtxo, lockTx.TxHash())

	return &Bundle{
		BorrowerSig: hex.EncodeToString(sig),
		TxHex:       txHex,
		LeafIndex: uint32(
			vaultscript.EscrowLeafLenderClaim,
		),
		LeafScript:     hex.EncodeToString(leafScript),
		EscrowPkScript: hex.EncodeToString(escrowPkScript),
		InputAmountSat: int64(utxo.Value),
		OutputKeyIsOdd: escrowTree.OutputKeyIsOdd(),
	}, nil
}

// CompleteLenderWitness is the lender's half of the cooperative lock. The
// lender re-derives every script from its own copy of the terms, verifies
// the borrower's signature and the transaction shape, then adds its own
// signature plus the borrower's revealed preimage and broadcasts. The
// preimage enters the public chain here and nowhere earlier.
func (p *Protocol) CompleteLenderWitness(ctx context.Context,
	bundle *Bundle, lenderKey *btcec.PrivateKey,
	preimage []byte) (*chainhash.Hash, error) {

	if err := bundle.Validate(); err != nil {
		return nil, err
	}

	if err := checkSigningKey(lenderKey, p.cfg.Terms.LenderKey); err != nil {
		return nil, err
	}

	if err := checkPreimage(
		preimage, p.cfg.Terms.BorrowerPreimageHash,
	); err != nil {
		return nil, err
	}

	escrowTree, err := vaultscript.NewEscrowScriptTree(p.cfg.Terms)
	if err != nil {
		return nil, err
	}
	escrowPkScript, err := escrowTree.PkScript()
	if err != nil {
		return nil, err
	}

	// Everything in the bundle is cross-checked against our own
	// derivation. The bundle is a convenience, never a source of truth.
	if bundle.LeafIndex != uint32(vaultscript.EscrowLeafLenderClaim) {
		return nil, fmt.Errorf("%w: bundle targets leaf %d",
			ErrScriptMismatch, bundle.LeafIndex)
	}

	wantLeaf, err := escrowTree.LeafScript(
		vaultscript.EscrowLeafLenderClaim,
	)
	if err != nil {
		return nil, err
	}

	gotLeaf, err := hex.DecodeString(bundle.LeafScript)
	if err != nil {
		return nil, fmt.Errorf("%w: leaf script: %v",
			ErrInvalidBundle, err)
	}
	if !bytes.Equal(gotLeaf, wantLeaf) {
		return nil, fmt.Errorf("%w: claim leaf script differs",
			ErrScriptMismatch)
	}

	gotPkScript, err := hex.DecodeString(bundle.EscrowPkScript)
	if err != nil {
		return nil, fmt.Errorf("%w: escrow output script: %v",
			ErrInvalidBundle, err)
	}
	if !bytes.Equal(gotPkScript, escrowPkScript) {
		return nil, fmt.Errorf("%w: escrow output script differs",
			ErrScriptMismatch)
	}

	if bundle.OutputKeyIsOdd != escrowTree.OutputKeyIsOdd() {
		return nil, fmt.Errorf("%w: output key parity differs",
			ErrScriptMismatch)
	}

	lockTx, err := vaulttx.DecodeTx(bundle.TxHex)
	if err != nil {
		return nil, err
	}
	if err := vaulttx.CheckUnsignedVaultTx(lockTx, 1, 2); err != nil {
		return nil, err
	}
	if err := p.checkLockOutputs(lockTx); err != nil {
		return nil, err
	}

	// The chain has the final say on what the escrow UTXO holds.
	escrowUtxo := lockTx.TxIn[0].PreviousOutPoint
	utxo, err := p.fetchCheckedUtxo(ctx, escrowUtxo, escrowPkScript)
	if err != nil {
		return nil, err
	}
	if int64(utxo.Value) != bundle.InputAmountSat {
		return nil, fmt.Errorf("%w: bundle claims %d sat, chain "+
			"has %d sat", ErrInvalidBundle,
			bundle.InputAmountSat, int64(utxo.Value))
	}

	borrowerSig, err := hex.DecodeString(bundle.BorrowerSig)
	if err != nil {
		return nil, fmt.Errorf("%w: borrower signature: %v",
			ErrInvalidBundle, err)
	}
	err = verifyTaprootLeafSig(
		lockTx, 0, utxo.Value, escrowPkScript, wantLeaf,
		borrowerSig, p.cfg.Terms.BorrowerKey,
	)
	if err != nil {
		return nil, err
	}

	lenderSig, err := signTaprootLeaf(
		lockTx, 0, utxo.Value, escrowPkScript, wantLeaf, lenderKey,
	)
	if err != nil {
		return nil, err
	}

	ctrlBlock, err := escrowTree.ControlBlock(
		vaultscript.EscrowLeafLenderClaim,
	)
	if err != nil {
		return nil, err
	}

	// Claim leaf witness, bottom of stack last: the borrower key is
	// checked first by the script, so its signature sits deepest.
	lockTx.TxIn[0].Witness = wire.TxWitness{
		borrowerSig, lenderSig, preimage, wantLeaf, ctrlBlock,
	}

	if err := p.publish(ctx, lockTx, StateConfirmed); err != nil {
		return nil, err
	}

	txid := lockTx.TxHash()

	log.Infof("Published collateral lock tx %v spending escrow %v",
		txid, escrowUtxo)

	return &txid, nil
}

// BorrowerExit unilaterally sweeps the escrow output back to the borrower
// through the timelocked escape leaf. The input sequence must carry the
// relative timelock before signing since the signature hash commits to
// it; the chain rejects the result until enough blocks have elapsed on
// top of the escrow confirmation.
func (p *Protocol) BorrowerExit(ctx context.Context,
	escrowUtxo wire.OutPoint,
	borrowerKey *btcec.PrivateKey) (*chainhash.Hash, error) {

	if err := checkSigningKey(borrowerKey, p.cfg.Terms.BorrowerKey); err != nil {
		return nil, err
	}

	escrowTree, err := vaultscript.NewEscrowScriptTree(p.cfg.Terms)
	if err != nil {
		return nil, err
	}

	return p.sweepTimelocked(
		ctx, escrowUtxo, escrowTree,
		vaultscript.EscrowLeafBorrowerEscape,
		p.cfg.Terms.BorrowerTimelock, borrowerKey,
		p.cfg.Terms.BorrowerKey, StateReclaimed,
	)
}

// CollateralCapture is the lender's unilateral default path: after the
// loan deadline the capture leaf matures and the lender sweeps the
// collateral output to itself.
func (p *Protocol) CollateralCapture(ctx context.Context,
	collateralUtxo wire.OutPoint,
	lenderKey *btcec.PrivateKey) (*chainhash.Hash, error) {

	if err := checkSigningKey(lenderKey, p.cfg.Terms.LenderKey); err != nil {
		return nil, err
	}

	collateralTree, err := vaultscript.NewCollateralScriptTree(
		p.cfg.Terms,
	)
	if err != nil {
		return nil, err
	}

	return p.sweepTimelocked(
		ctx, collateralUtxo, collateralTree,
		vaultscript.CollateralLeafLenderCapture,
		p.cfg.Terms.LenderTimelock, lenderKey,
		p.cfg.Terms.LenderKey, StateConfirmed,
	)
}

// sweepTimelocked builds, signs and broadcasts a single input, single
// output sweep through a CSV gated leaf.
func (p *Protocol) sweepTimelocked(ctx context.Context,
	utxoOutPoint wire.OutPoint, tree *vaultscript.ScriptTree,
	leafIdx vaultscript.LeafIndex, timelock uint32,
	key *btcec.PrivateKey, payTo *btcec.PublicKey,
	terminal SpendState) (*chainhash.Hash, error) {

	pkScript, err := tree.PkScript()
	if err != nil {
		return nil, err
	}

	utxo, err := p.fetchCheckedUtxo(ctx, utxoOutPoint, pkScript)
	if err != nil {
		return nil, err
	}

	sweepTx, err := vaulttx.BuildSweepTx(
		utxoOutPoint, utxo.Value, payTo, p.cfg.TxFee,
	)
	if err != nil {
		return nil, err
	}
	sweepTx.TxIn[0].Sequence = timelock

	leafScript, err := tree.LeafScript(leafIdx)
	if err != nil {
		return nil, err
	}

	sig, err := signTaprootLeaf(
		sweepTx, 0, utxo.Value, pkScript, leafScript, key,
	)
	if err != nil {
		return nil, err
	}

	ctrlBlock, err := tree.ControlBlock(leafIdx)
	if err != nil {
		return nil, err
	}

	sweepTx.TxIn[0].Witness = wire.TxWitness{
		sig, leafScript, ctrlBlock,
	}

	if err := p.publish(ctx, sweepTx, terminal); err != nil {
		return nil, err
	}

	txid := sweepTx.TxHash()

	log.Infof("Published timelocked sweep %v spending %v via leaf %d",
		txid, utxoOutPoint, leafIdx)

	return &txid, nil
}

// CollateralRelease returns the collateral to the borrower once the
// lender has revealed its preimage on the EVM side, via the reclaim leaf.
// No timelock applies; the preimage alone gates the path.
func (p *Protocol) CollateralRelease(ctx context.Context,
	collateralUtxo wire.OutPoint, borrowerKey *btcec.PrivateKey,
	lenderPreimage []byte) (*chainhash.Hash, error) {

	if err := checkSigningKey(borrowerKey, p.cfg.Terms.BorrowerKey); err != nil {
		return nil, err
	}

	if err := checkPreimage(
		lenderPreimage, p.cfg.Terms.LenderPreimageHash,
	); err != nil {
		return nil, err
	}

	collateralTree, err := vaultscript.NewCollateralScriptTree(
		p.cfg.Terms,
	)
	if err != nil {
		return nil, err
	}
	collateralPkScript, err := collateralTree.PkScript()
	if err != nil {
		return nil, err
	}

	utxo, err := p.fetchCheckedUtxo(
		ctx, collateralUtxo, collateralPkScript,
	)
	if err != nil {
		return nil, err
	}

	releaseTx, err := vaulttx.BuildSweepTx(
		collateralUtxo, utxo.Value, p.cfg.Terms.BorrowerKey,
		p.cfg.TxFee,
	)
	if err != nil {
		return nil, err
	}

	leafScript, err := collateralTree.LeafScript(
		vaultscript.CollateralLeafBorrowerReclaim,
	)
	if err != nil {
		return nil, err
	}

	sig, err := signTaprootLeaf(
		releaseTx, 0, utxo.Value, collateralPkScript, leafScript,
		borrowerKey,
	)
	if err != nil {
		return nil, err
	}

	ctrlBlock, err := collateralTree.ControlBlock(
		vaultscript.CollateralLeafBorrowerReclaim,
	)
	if err != nil {
		return nil, err
	}

	releaseTx.TxIn[0].Witness = wire.TxWitness{
		sig, lenderPreimage, leafScript, ctrlBlock,
	}

	if err := p.publish(ctx, releaseTx, StateReclaimed); err != nil {
		return nil, err
	}

	txid := releaseTx.TxHash()

	log.Infof("Published collateral release %v spending %v", txid,
		collateralUtxo)

	return &txid, nil
}

// publish hands a fully signed transaction to the chain backend and, on
// acceptance, moves the state machine to StateBroadcast, remembering
// which terminal state a later confirmation resolves to.
func (p *Protocol) publish(ctx context.Context, tx *wire.MsgTx,
	terminal SpendState) error {

	log.Tracef("Publishing tx: %v", limitSpewer.Sdump(tx))

	if err := p.cfg.Chain.PublishTransaction(ctx, tx); err != nil {
		return err
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()

	// Rebroadcasting from an attempt that already made it out is a
	// no-op for the state machine as well.
	if p.state == StateBroadcast {
		return nil
	}

	p.terminal = terminal

	return p.advanceLocked(StateBroadcast)
}

// WaitForConfirmation blocks until the given transaction confirms, then
// resolves the state machine to its terminal state. Cancel the context to
// give up waiting; the state then stays at StateBroadcast.
func (p *Protocol) WaitForConfirmation(ctx context.Context,
	txid chainhash.Hash) error {

	err := WaitForConfirmation(
		ctx, p.cfg.Chain, txid, 1, p.cfg.PollInterval,
	)
	if err != nil {
		return err
	}

	p.mtx.Lock()
	terminal := p.terminal
	p.mtx.Unlock()

	return p.advance(terminal)
}
