package vaultsign

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrInvalidPartialSig is returned when a counterparty signature
	// fails verification against the leaf's signature hash.
	ErrInvalidPartialSig = errors.New(
		"vaultsign: invalid partial signature",
	)
)

// signTaprootLeaf produces a BIP 342 Schnorr signature over the given
// script tree leaf. Script path spends sign with the raw, untweaked
// private key. With the default sighash type the signature is exactly 64
// bytes, no sighash byte appended.
func signTaprootLeaf(tx *wire.MsgTx, inputIdx int, value btcutil.Amount,
	pkScript, leafScript []byte, key *btcec.PrivateKey) ([]byte, error) {

	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(
		pkScript, int64(value),
	)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	return txscript.RawTxInTapscriptSignature(
		tx, sigHashes, inputIdx, int64(value), pkScript,
		txscript.NewBaseTapLeaf(leafScript), txscript.SigHashDefault,
		key,
	)
}

// verifyTaprootLeafSig checks a counterparty's 64 byte Schnorr signature
// against the leaf's signature hash. This runs before any witness is
// assembled so a bad signature never reaches the network.
func verifyTaprootLeafSig(tx *wire.MsgTx, inputIdx int,
	value btcutil.Amount, pkScript, leafScript, sig []byte,
	pub *btcec.PublicKey) error {

	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(
		pkScript, int64(value),
	)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	sigHash, err := txscript.CalcTapscriptSignaturehash(
		sigHashes, txscript.SigHashDefault, tx, inputIdx,
		prevOutFetcher, txscript.NewBaseTapLeaf(leafScript),
	)
	if err != nil {
		return err
	}

	parsedSig, err := schnorr.ParseSignature(sig)
	if err != nil {
		return err
	}

	if !parsedSig.Verify(sigHash, pub) {
		return ErrInvalidPartialSig
	}

	return nil
}
