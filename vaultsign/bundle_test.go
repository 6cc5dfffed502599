package vaultsign

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// testBundle produces a structurally valid bundle via the real export
// path.
func testBundle(t *testing.T) *Bundle {
	h := newTestHarness(t)

	borrower := h.newProtocol()
	bundle, err := borrower.ExportBorrowerSignature(
		context.Background(), h.fundEscrow(), h.borrowerKey,
	)
	require.NoError(t, err)

	return bundle
}

// TestBundleValidate checks the structural bundle checks field by field.
func TestBundleValidate(t *testing.T) {
	t.Parallel()

	valid := testBundle(t)
	require.NoError(t, valid.Validate())

	testCases := []struct {
		name   string
		mutate func(b *Bundle)
	}{{
		name: "sig not hex",
		mutate: func(b *Bundle) {
			b.BorrowerSig = "zz" + b.BorrowerSig[2:]
		},
	}, {
		name: "sig wrong length",
		mutate: func(b *Bundle) {
			b.BorrowerSig = b.BorrowerSig[:126]
		},
	}, {
		name: "tx not decodable",
		mutate: func(b *Bundle) {
			b.TxHex = "deadbeef"
		},
	}, {
		name: "empty leaf script",
		mutate: func(b *Bundle) {
			b.LeafScript = ""
		},
	}, {
		name: "pk script not hex",
		mutate: func(b *Bundle) {
			b.EscrowPkScript = strings.Repeat("x", 68)
		},
	}, {
		name: "zero input amount",
		mutate: func(b *Bundle) {
			b.InputAmountSat = 0
		},
	}, {
		name: "absurd input amount",
		mutate: func(b *Bundle) {
			b.InputAmountSat = 21_000_001 * 1e8
		},
	}}

	for _, testCase := range testCases {
		testCase := testCase

		t.Run(testCase.name, func(t *testing.T) {
			bundle := *valid
			testCase.mutate(&bundle)

			require.ErrorIs(
				t, bundle.Validate(), ErrInvalidBundle,
			)

			// Encode refuses to serialize a broken bundle.
			_, err := bundle.Encode()
			require.ErrorIs(t, err, ErrInvalidBundle)
		})
	}
}

// TestBundleRoundTrip encodes a bundle to JSON and back.
func TestBundleRoundTrip(t *testing.T) {
	t.Parallel()

	bundle := testBundle(t)

	encoded, err := bundle.Encode()
	require.NoError(t, err)

	decoded, err := DecodeBundle(encoded)
	require.NoError(t, err)
	require.Equal(t, bundle, decoded)

	// A bundle never carries a preimage, in no field and under no key.
	require.NotContains(
		t, strings.ToLower(string(encoded)), "preimage",
	)
	require.NotContains(
		t, string(encoded),
		hex.EncodeToString([]byte("hello_from_borrower")),
	)

	_, err = DecodeBundle([]byte("{not json"))
	require.ErrorIs(t, err, ErrInvalidBundle)
}
