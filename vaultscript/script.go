package vaultscript

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
)

// NUMSKeyHex is the "nothing up my sleeve" point from BIP 341, obtained by
// hashing the standard uncompressed encoding of the secp256k1 base point.
// Nobody knows a discrete log for it, so using it as the internal key of the
// vault outputs makes key path spending provably impossible: every spend must
// reveal one of the committed leaf scripts.
const NUMSKeyHex = "0250929b74c1a04954b78b4b60c595c211f8b853e6e84bfa2be957" +
	"12a7b0dd59e6"

// NUMSKey is the parsed BIP 341 NUMS point. It is fixed, process wide
// configuration; both vault outputs use it as their taproot internal key.
var NUMSKey = func() *btcec.PublicKey {
	keyBytes, err := hex.DecodeString(NUMSKeyHex)
	if err != nil {
		panic(err)
	}

	key, err := btcec.ParsePubKey(keyBytes)
	if err != nil {
		panic(err)
	}

	return key
}()

// BorrowerEscapeScript builds the escrow escape hatch leaf:
//
//	<borrowerTimelock> OP_CHECKSEQUENCEVERIFY OP_DROP
//	<borrowerKey> OP_CHECKSIG
//
// It lets the borrower sweep the escrow unilaterally once borrowerTimelock
// blocks have passed since the escrow output confirmed, covering the case
// where the loan never activates.
func BorrowerEscapeScript(borrowerKey *btcec.PublicKey,
	borrowerTimelock uint32) ([]byte, error) {

	if borrowerKey == nil {
		return nil, ErrMissingKey
	}
	if err := checkTimelock(borrowerTimelock); err != nil {
		return nil, err
	}

	builder := txscript.NewScriptBuilder()
	builder.AddInt64(int64(borrowerTimelock))
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(schnorr.SerializePubKey(borrowerKey))
	builder.AddOp(txscript.OP_CHECKSIG)

	return builder.Script()
}

// LenderClaimScript builds the cooperative escrow leaf:
//
//	OP_SHA256 <preimageHashBorrower> OP_EQUALVERIFY
//	<lenderKey> OP_CHECKSIG
//	<borrowerKey> OP_CHECKSIGADD
//	OP_2 OP_NUMEQUALVERIFY OP_TRUE
//
// Spending requires both signatures plus the borrower's secret, which the
// lender only learns once the borrower accepts the loan on the EVM chain.
// The hash check runs before the signature checks so a bogus preimage fails
// the cheap comparison first. OP_NUMEQUALVERIFY consumes its result, hence
// the trailing OP_TRUE.
func LenderClaimScript(borrowerKey, lenderKey *btcec.PublicKey,
	preimageHashBorrower [32]byte) ([]byte, error) {

	if borrowerKey == nil || lenderKey == nil {
		return nil, ErrMissingKey
	}

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(preimageHashBorrower[:])
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddData(schnorr.SerializePubKey(lenderKey))
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddData(schnorr.SerializePubKey(borrowerKey))
	builder.AddOp(txscript.OP_CHECKSIGADD)
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_NUMEQUALVERIFY)
	builder.AddOp(txscript.OP_TRUE)

	return builder.Script()
}

// LenderCaptureScript builds the collateral default leaf:
//
//	<lenderTimelock> OP_CHECKSEQUENCEVERIFY OP_DROP
//	<lenderKey> OP_CHECKSIG
//
// It lets the lender capture the collateral unilaterally once lenderTimelock
// blocks have passed since the collateral output confirmed, covering
// borrower default on the EVM side.
func LenderCaptureScript(lenderKey *btcec.PublicKey,
	lenderTimelock uint32) ([]byte, error) {

	if lenderKey == nil {
		return nil, ErrMissingKey
	}
	if err := checkTimelock(lenderTimelock); err != nil {
		return nil, err
	}

	builder := txscript.NewScriptBuilder()
	builder.AddInt64(int64(lenderTimelock))
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(schnorr.SerializePubKey(lenderKey))
	builder.AddOp(txscript.OP_CHECKSIG)

	return builder.Script()
}

// BorrowerReclaimScript builds the collateral repayment leaf:
//
//	OP_SHA256 <preimageHashLender> OP_EQUALVERIFY
//	<borrowerKey> OP_CHECKSIG
//
// The borrower regains her collateral once the lender accepts the loan
// repayment on the EVM chain and thereby reveals his secret.
func BorrowerReclaimScript(borrowerKey *btcec.PublicKey,
	preimageHashLender [32]byte) ([]byte, error) {

	if borrowerKey == nil {
		return nil, ErrMissingKey
	}

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(preimageHashLender[:])
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddData(schnorr.SerializePubKey(borrowerKey))
	builder.AddOp(txscript.OP_CHECKSIG)

	return builder.Script()
}

// KeySpendPkScript returns the P2TR output script paying to the BIP 86 style
// key spend only taproot key of the given party key. This is the "standard
// address" fee and sweep outputs pay to.
func KeySpendPkScript(key *btcec.PublicKey) ([]byte, error) {
	if key == nil {
		return nil, ErrMissingKey
	}

	taprootKey := txscript.ComputeTaprootKeyNoScript(key)

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_1)
	builder.AddData(schnorr.SerializePubKey(taprootKey))

	return builder.Script()
}
