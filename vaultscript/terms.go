package vaultscript

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

const (
	// PreimageHashHexLen is the exact length of a hex encoded SHA256
	// preimage commitment.
	PreimageHashHexLen = 64

	// MaxRelativeTimelock is the largest relative block delay that can be
	// encoded in the 16 bit BIP 68 sequence field.
	MaxRelativeTimelock = 0xffff
)

var (
	// ErrMissingKey is returned when a party public key needed to build a
	// leaf script wasn't supplied.
	ErrMissingKey = errors.New("vaultscript: missing party public key")

	// ErrInvalidPreimageHash is returned when a preimage commitment isn't
	// a 64 character hex encoded SHA256 digest.
	ErrInvalidPreimageHash = errors.New(
		"vaultscript: preimage hash must be a 64 character hex " +
			"encoded SHA256 digest",
	)

	// ErrInvalidTimelock is returned when a relative timelock is zero,
	// negative, or doesn't fit into the BIP 68 block count field.
	ErrInvalidTimelock = errors.New(
		"vaultscript: relative timelock must be a positive block " +
			"count below 65536",
	)
)

// Terms fixes the full set of primitive parameters both parties agreed on for
// a single loan: who the parties are, which secrets they committed to, and
// how long each side must wait before its unilateral escape hatch opens. All
// vault addresses, scripts and transactions are pure functions of these
// values, so a borrower and a lender holding equal Terms derive byte
// identical addresses without ever exchanging one.
type Terms struct {
	// BorrowerKey is the borrower's public key. Only its x-only
	// serialization ends up in the leaf scripts.
	BorrowerKey *btcec.PublicKey

	// LenderKey is the lender's public key.
	LenderKey *btcec.PublicKey

	// BorrowerPreimageHash commits the borrower to the secret she reveals
	// when accepting the loan offer on the EVM chain.
	BorrowerPreimageHash [32]byte

	// LenderPreimageHash commits the lender to the secret he reveals when
	// accepting the loan repayment on the EVM chain.
	LenderPreimageHash [32]byte

	// BorrowerTimelock is the relative block delay after which the
	// borrower can sweep an untouched escrow output back on her own.
	BorrowerTimelock uint32

	// LenderTimelock is the relative block delay after which the lender
	// can capture the collateral output on borrower default.
	LenderTimelock uint32
}

// NewTerms validates the primitive loan parameters and bundles them up. The
// preimage commitments are passed as hex strings since that is how they
// travel between the two chains; malformed values are rejected here, before
// any script bytes are produced.
func NewTerms(borrowerKey, lenderKey *btcec.PublicKey, borrowerPreimageHash,
	lenderPreimageHash string, borrowerTimelock,
	lenderTimelock uint32) (*Terms, error) {

	if borrowerKey == nil || lenderKey == nil {
		return nil, ErrMissingKey
	}

	hashBorrower, err := ParsePreimageHash(borrowerPreimageHash)
	if err != nil {
		return nil, fmt.Errorf("borrower commitment: %w", err)
	}

	hashLender, err := ParsePreimageHash(lenderPreimageHash)
	if err != nil {
		return nil, fmt.Errorf("lender commitment: %w", err)
	}

	if err := checkTimelock(borrowerTimelock); err != nil {
		return nil, fmt.Errorf("borrower timelock: %w", err)
	}
	if err := checkTimelock(lenderTimelock); err != nil {
		return nil, fmt.Errorf("lender timelock: %w", err)
	}

	return &Terms{
		BorrowerKey:          borrowerKey,
		LenderKey:            lenderKey,
		BorrowerPreimageHash: hashBorrower,
		LenderPreimageHash:   hashLender,
		BorrowerTimelock:     borrowerTimelock,
		LenderTimelock:       lenderTimelock,
	}, nil
}

// ParsePreimageHash parses and validates a hex encoded SHA256 preimage
// commitment.
func ParsePreimageHash(hashHex string) ([32]byte, error) {
	var hash [32]byte

	if len(hashHex) != PreimageHashHexLen {
		return hash, fmt.Errorf("%w: got %d characters",
			ErrInvalidPreimageHash, len(hashHex))
	}

	decoded, err := hex.DecodeString(hashHex)
	if err != nil {
		return hash, fmt.Errorf("%w: %v", ErrInvalidPreimageHash, err)
	}

	copy(hash[:], decoded)
	return hash, nil
}

// checkTimelock ensures a relative timelock is expressible as a BIP 68 block
// based sequence number.
func checkTimelock(timelock uint32) error {
	if timelock == 0 || timelock > MaxRelativeTimelock {
		return fmt.Errorf("%w: got %d", ErrInvalidTimelock, timelock)
	}

	return nil
}

// SchnorrKeysEqual returns true if two public keys have the same x-only
// serialization, which is the only part of a key the vault scripts commit
// to.
func SchnorrKeysEqual(a, b *btcec.PublicKey) bool {
	if a == nil || b == nil {
		return a == b
	}

	return bytes.Equal(
		schnorr.SerializePubKey(a), schnorr.SerializePubKey(b),
	)
}
