package vaultscript

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// LeafIndex identifies a leaf position within one of the two vault script
// trees. Control blocks and signatures are keyed by index, not by name, so
// the constants below must match the assembly order in NewEscrowScriptTree
// and NewCollateralScriptTree exactly: the CSV leaf sits at index 0 and the
// hashlock leaf at index 1, for both outputs.
type LeafIndex uint32

const (
	// EscrowLeafBorrowerEscape is the borrower's unilateral CSV escape
	// hatch on the escrow output.
	EscrowLeafBorrowerEscape LeafIndex = 0

	// EscrowLeafLenderClaim is the cooperative hashlock plus 2-of-2 leaf
	// that moves escrowed funds into the collateral output.
	EscrowLeafLenderClaim LeafIndex = 1

	// CollateralLeafLenderCapture is the lender's unilateral CSV default
	// capture on the collateral output.
	CollateralLeafLenderCapture LeafIndex = 0

	// CollateralLeafBorrowerReclaim is the hashlock plus signature leaf
	// returning the collateral to the borrower on repayment.
	CollateralLeafBorrowerReclaim LeafIndex = 1
)

// numVaultLeaves is the number of leaves in each of the two vault trees.
const numVaultLeaves = 2

// ErrLeafIndexOutOfRange is returned when a leaf index doesn't name a leaf
// of a two leaf vault tree.
var ErrLeafIndexOutOfRange = errors.New(
	"vaultscript: leaf index out of range",
)

// ScriptTree bundles an assembled two leaf vault script tree together with
// the NUMS based taproot output key derived from it. Both vault outputs
// (escrow and collateral) are instances of this shape with different leaves.
type ScriptTree struct {
	// InternalKey is the taproot internal key, always NUMSKey.
	InternalKey *btcec.PublicKey

	// TaprootKey is the tweaked output key committing to the tree root.
	TaprootKey *btcec.PublicKey

	// Tree is the assembled tapscript tree with merkle proofs per leaf.
	Tree *txscript.IndexedTapScriptTree

	// RootHash is the tree's merkle root.
	RootHash []byte

	// Leaves holds the two tap leaves in LeafIndex order.
	Leaves []txscript.TapLeaf
}

// newScriptTree assembles a two leaf tree and derives the NUMS keyed output
// key for it.
func newScriptTree(leaf0, leaf1 []byte) *ScriptTree {
	leaves := []txscript.TapLeaf{
		txscript.NewBaseTapLeaf(leaf0),
		txscript.NewBaseTapLeaf(leaf1),
	}

	tree := txscript.AssembleTaprootScriptTree(leaves...)
	rootHash := tree.RootNode.TapHash()
	taprootKey := txscript.ComputeTaprootOutputKey(NUMSKey, rootHash[:])

	return &ScriptTree{
		InternalKey: NUMSKey,
		TaprootKey:  taprootKey,
		Tree:        tree,
		RootHash:    rootHash[:],
		Leaves:      leaves,
	}
}

// NewEscrowScriptTree builds the script tree of the escrow output: the
// borrower's CSV escape hatch at index 0 and the cooperative lender claim
// leaf at index 1.
func NewEscrowScriptTree(terms *Terms) (*ScriptTree, error) {
	escape, err := BorrowerEscapeScript(
		terms.BorrowerKey, terms.BorrowerTimelock,
	)
	if err != nil {
		return nil, fmt.Errorf("borrower escape leaf: %w", err)
	}

	claim, err := LenderClaimScript(
		terms.BorrowerKey, terms.LenderKey, terms.BorrowerPreimageHash,
	)
	if err != nil {
		return nil, fmt.Errorf("lender claim leaf: %w", err)
	}

	return newScriptTree(escape, claim), nil
}

// NewCollateralScriptTree builds the script tree of the collateral output:
// the lender's CSV default capture at index 0 and the borrower's repayment
// reclaim leaf at index 1.
func NewCollateralScriptTree(terms *Terms) (*ScriptTree, error) {
	capture, err := LenderCaptureScript(
		terms.LenderKey, terms.LenderTimelock,
	)
	if err != nil {
		return nil, fmt.Errorf("lender capture leaf: %w", err)
	}

	reclaim, err := BorrowerReclaimScript(
		terms.BorrowerKey, terms.LenderPreimageHash,
	)
	if err != nil {
		return nil, fmt.Errorf("borrower reclaim leaf: %w", err)
	}

	return newScriptTree(capture, reclaim), nil
}

// LeafScript returns the raw script of the leaf at the given index.
func (s *ScriptTree) LeafScript(idx LeafIndex) ([]byte, error) {
	if idx >= numVaultLeaves {
		return nil, fmt.Errorf("%w: %d", ErrLeafIndexOutOfRange, idx)
	}

	return s.Leaves[idx].Script, nil
}

// ControlBlock serializes the control block proving that the leaf at the
// given index is committed to by the output key.
func (s *ScriptTree) ControlBlock(idx LeafIndex) ([]byte, error) {
	if idx >= numVaultLeaves {
		return nil, fmt.Errorf("%w: %d", ErrLeafIndexOutOfRange, idx)
	}

	ctrlBlock := s.Tree.LeafMerkleProofs[idx].ToControlBlock(
		s.InternalKey,
	)

	return ctrlBlock.ToBytes()
}

// PkScript returns the P2TR output script of the vault output.
func (s *ScriptTree) PkScript() ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_1)
	builder.AddData(schnorr.SerializePubKey(s.TaprootKey))

	return builder.Script()
}

// Address returns the bech32m address of the vault output on the given
// network. Callers must never trust an address string received from the
// counterparty; recompute it from Terms instead.
func (s *ScriptTree) Address(
	net *chaincfg.Params) (*btcutil.AddressTaproot, error) {

	return btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(s.TaprootKey), net,
	)
}

// OutputKeyIsOdd reports the parity of the tweaked output key, which spends
// need to reproduce the control block.
func (s *ScriptTree) OutputKeyIsOdd() bool {
	return s.TaprootKey.SerializeCompressed()[0] ==
		secp256k1.PubKeyFormatCompressedOdd
}

// DeriveEscrowAddress derives the escrow vault address straight from
// primitive parameters. Pure and deterministic: equal inputs always yield
// the same address.
func DeriveEscrowAddress(borrowerKey, lenderKey *btcec.PublicKey,
	preimageHashBorrower string, borrowerTimelock uint32,
	net *chaincfg.Params) (*btcutil.AddressTaproot, error) {

	hash, err := ParsePreimageHash(preimageHashBorrower)
	if err != nil {
		return nil, err
	}

	escape, err := BorrowerEscapeScript(borrowerKey, borrowerTimelock)
	if err != nil {
		return nil, err
	}

	claim, err := LenderClaimScript(borrowerKey, lenderKey, hash)
	if err != nil {
		return nil, err
	}

	return newScriptTree(escape, claim).Address(net)
}

// DeriveCollateralAddress derives the collateral vault address straight from
// primitive parameters.
func DeriveCollateralAddress(borrowerKey, lenderKey *btcec.PublicKey,
	preimageHashLender string, lenderTimelock uint32,
	net *chaincfg.Params) (*btcutil.AddressTaproot, error) {

	hash, err := ParsePreimageHash(preimageHashLender)
	if err != nil {
		return nil, err
	}

	capture, err := LenderCaptureScript(lenderKey, lenderTimelock)
	if err != nil {
		return nil, err
	}

	reclaim, err := BorrowerReclaimScript(borrowerKey, hash)
	if err != nil {
		return nil, err
	}

	return newScriptTree(capture, reclaim).Address(net)
}
