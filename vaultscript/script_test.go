package vaultscript

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
	"github.com/vaultlabs/vaultero/internal/test"
)

// hashHex returns the hex encoded SHA256 commitment of the given secret.
func hashHex(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(hash[:])
}

// TestNUMSKey makes sure the hard coded internal key is the BIP 341 point
// and actually parses.
func TestNUMSKey(t *testing.T) {
	t.Parallel()

	require.Equal(
		t, NUMSKeyHex,
		hex.EncodeToString(NUMSKey.SerializeCompressed()),
	)
}

// TestNewTermsValidation checks that malformed primitive parameters are
// rejected before any script bytes are produced.
func TestNewTermsValidation(t *testing.T) {
	t.Parallel()

	borrowerKey := test.RandPubKey(t)
	lenderKey := test.RandPubKey(t)
	goodHash := hashHex("hello_from_borrower")

	testCases := []struct {
		name        string
		mutate      func() (*Terms, error)
		expectedErr error
	}{{
		name: "valid",
		mutate: func() (*Terms, error) {
			return NewTerms(
				borrowerKey, lenderKey, goodHash, goodHash,
				100, 200,
			)
		},
	}, {
		name: "missing borrower key",
		mutate: func() (*Terms, error) {
			return NewTerms(
				nil, lenderKey, goodHash, goodHash, 100, 200,
			)
		},
		expectedErr: ErrMissingKey,
	}, {
		name: "missing lender key",
		mutate: func() (*Terms, error) {
			return NewTerms(
				borrowerKey, nil, goodHash, goodHash, 100,
				200,
			)
		},
		expectedErr: ErrMissingKey,
	}, {
		name: "hash too short",
		mutate: func() (*Terms, error) {
			return NewTerms(
				borrowerKey, lenderKey, goodHash[:32],
				goodHash, 100, 200,
			)
		},
		expectedErr: ErrInvalidPreimageHash,
	}, {
		name: "hash not hex",
		mutate: func() (*Terms, error) {
			badHash := strings.Repeat("zz", 32)
			return NewTerms(
				borrowerKey, lenderKey, goodHash, badHash,
				100, 200,
			)
		},
		expectedErr: ErrInvalidPreimageHash,
	}, {
		name: "zero timelock",
		mutate: func() (*Terms, error) {
			return NewTerms(
				borrowerKey, lenderKey, goodHash, goodHash,
				0, 200,
			)
		},
		expectedErr: ErrInvalidTimelock,
	}, {
		name: "timelock too large",
		mutate: func() (*Terms, error) {
			return NewTerms(
				borrowerKey, lenderKey, goodHash, goodHash,
				100, MaxRelativeTimelock+1,
			)
		},
		expectedErr: ErrInvalidTimelock,
	}}

	for _, testCase := range testCases {
		testCase := testCase

		t.Run(testCase.name, func(t *testing.T) {
			terms, err := testCase.mutate()

			if testCase.expectedErr != nil {
				require.ErrorIs(t, err, testCase.expectedErr)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, terms)
		})
	}
}

// TestLeafScriptForm spot checks the assembled leaf scripts against the
// expected opcode sequences.
func TestLeafScriptForm(t *testing.T) {
	t.Parallel()

	borrowerKey := test.RandPubKey(t)
	lenderKey := test.RandPubKey(t)
	hash := sha256.Sum256([]byte("hello_from_borrower"))

	escape, err := BorrowerEscapeScript(borrowerKey, 144)
	require.NoError(t, err)

	escapeAsm, err := txscript.DisasmString(escape)
	require.NoError(t, err)
	require.Contains(t, escapeAsm, "OP_CHECKSEQUENCEVERIFY OP_DROP")
	require.Contains(
		t, escapeAsm,
		hex.EncodeToString(schnorr.SerializePubKey(borrowerKey)),
	)
	require.True(t, strings.HasSuffix(escapeAsm, "OP_CHECKSIG"))

	claim, err := LenderClaimScript(borrowerKey, lenderKey, hash)
	require.NoError(t, err)

	claimAsm, err := txscript.DisasmString(claim)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(claimAsm, "OP_SHA256"))
	require.Contains(t, claimAsm, hex.EncodeToString(hash[:]))
	require.Contains(t, claimAsm, "OP_CHECKSIGADD")
	// DisasmString prints small integer pushes in short form.
	require.True(t, strings.HasSuffix(
		claimAsm, "2 OP_NUMEQUALVERIFY 1",
	))

	reclaim, err := BorrowerReclaimScript(borrowerKey, hash)
	require.NoError(t, err)

	reclaimAsm, err := txscript.DisasmString(reclaim)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(reclaimAsm, "OP_SHA256"))
	require.True(t, strings.HasSuffix(reclaimAsm, "OP_CHECKSIG"))
}

// TestLeafScriptValidation makes sure the builders reject missing keys and
// invalid timelocks the same way NewTerms does.
func TestLeafScriptValidation(t *testing.T) {
	t.Parallel()

	key := test.RandPubKey(t)
	var hash [32]byte

	_, err := BorrowerEscapeScript(nil, 100)
	require.ErrorIs(t, err, ErrMissingKey)

	_, err = BorrowerEscapeScript(key, 0)
	require.ErrorIs(t, err, ErrInvalidTimelock)

	_, err = LenderCaptureScript(key, MaxRelativeTimelock+1)
	require.ErrorIs(t, err, ErrInvalidTimelock)

	_, err = LenderClaimScript(nil, key, hash)
	require.ErrorIs(t, err, ErrMissingKey)

	_, err = BorrowerReclaimScript(nil, hash)
	require.ErrorIs(t, err, ErrMissingKey)

	_, err = KeySpendPkScript(nil)
	require.ErrorIs(t, err, ErrMissingKey)
}
