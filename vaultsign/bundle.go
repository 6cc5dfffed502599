package vaultsign

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/vaultlabs/vaultero/vaulttx"
)

var (
	// ErrInvalidBundle is returned when a signature bundle fails its
	// structural checks.
	ErrInvalidBundle = errors.New("vaultsign: invalid signature bundle")
)

// Bundle is the message the borrower hands to the lender to let them
// complete the collateral lock witness. It carries everything the lender
// needs to independently re-derive and verify the spend, and nothing
// more. In particular a bundle never contains a hash preimage: preimages
// only ever appear inside a broadcast witness.
type Bundle struct {
	// BorrowerSig is the hex encoded 64 byte Schnorr signature of the
	// borrower over the claim leaf.
	BorrowerSig string `json:"borrower_sig"`

	// TxHex is the unsigned spending transaction, hex encoded.
	TxHex string `json:"tx_hex"`

	// LeafIndex identifies the script tree leaf the signature commits
	// to.
	LeafIndex uint32 `json:"leaf_index"`

	// LeafScript is the hex encoded leaf script.
	LeafScript string `json:"leaf_script"`

	// EscrowPkScript is the hex encoded output script of the escrow
	// UTXO being spent. The receiver re-derives this from the shared
	// terms and rejects the bundle on any mismatch.
	EscrowPkScript string `json:"escrow_pk_script"`

	// InputAmountSat is the value of the escrow UTXO in satoshis,
	// committed to by the signature hash.
	InputAmountSat int64 `json:"input_amount_sat"`

	// OutputKeyIsOdd records the parity of the escrow's tweaked output
	// key, needed to reconstruct the control block.
	OutputKeyIsOdd bool `json:"output_key_is_odd"`
}

// Encode serializes the bundle as JSON.
func (b *Bundle) Encode() ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	return json.Marshal(b)
}

// Validate performs structural checks on the bundle fields. It does not
// verify the signature itself, which needs the full terms and is done by
// the completion step.
func (b *Bundle) Validate() error {
	sig, err := hex.DecodeString(b.BorrowerSig)
	if err != nil {
		return fmt.Errorf("%w: borrower sig not hex: %v",
			ErrInvalidBundle, err)
	}
	if len(sig) != schnorr.SignatureSize {
		return fmt.Errorf("%w: borrower sig is %d bytes, want %d",
			ErrInvalidBundle, len(sig), schnorr.SignatureSize)
	}

	if _, err := vaulttx.DecodeTx(b.TxHex); err != nil {
		return fmt.Errorf("%w: tx: %v", ErrInvalidBundle, err)
	}

	leafScript, err := hex.DecodeString(b.LeafScript)
	if err != nil {
		return fmt.Errorf("%w: leaf script not hex: %v",
			ErrInvalidBundle, err)
	}
	if len(leafScript) == 0 {
		return fmt.Errorf("%w: empty leaf script", ErrInvalidBundle)
	}

	pkScript, err := hex.DecodeString(b.EscrowPkScript)
	if err != nil {
		return fmt.Errorf("%w: pk script not hex: %v",
			ErrInvalidBundle, err)
	}
	if len(pkScript) == 0 {
		return fmt.Errorf("%w: empty pk script", ErrInvalidBundle)
	}

	if b.InputAmountSat <= 0 ||
		b.InputAmountSat > int64(btcutil.MaxSatoshi) {

		return fmt.Errorf("%w: input amount %d out of range",
			ErrInvalidBundle, b.InputAmountSat)
	}

	return nil
}

// DecodeBundle parses and structurally validates a JSON encoded bundle.
func DecodeBundle(raw []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}

	return &b, nil
}
