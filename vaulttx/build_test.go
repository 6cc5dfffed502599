package vaulttx

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/vaultlabs/vaultero/internal/test"
	"github.com/vaultlabs/vaultero/vaultscript"
)

const (
	testEscrowValue     = btcutil.Amount(50_100_000)
	testOriginationFee  = btcutil.Amount(1_000_000)
	testCollateralValue = btcutil.Amount(49_000_000)
	testSweepFee        = btcutil.Amount(100_000)
)

func testTerms(t *testing.T) *vaultscript.Terms {
	borrowerHash := sha256.Sum256([]byte("hello_from_borrower"))
	lenderHash := sha256.Sum256([]byte("hello_from_lender"))

	terms, err := vaultscript.NewTerms(
		test.RandPubKey(t), test.RandPubKey(t),
		hex.EncodeToString(borrowerHash[:]),
		hex.EncodeToString(lenderHash[:]), 100, 200,
	)
	require.NoError(t, err)

	return terms
}

func testOutPoint(index uint32) wire.OutPoint {
	return wire.OutPoint{
		Hash:  chainhash.HashH([]byte{0x01}),
		Index: index,
	}
}

// TestBuildCollateralLockTx checks the shape of the escrow to collateral
// transition transaction.
func TestBuildCollateralLockTx(t *testing.T) {
	t.Parallel()

	terms := testTerms(t)
	escrow := testOutPoint(0)

	tx, err := BuildCollateralLockTx(
		escrow, testEscrowValue, LockParams{
			Terms:            terms,
			OriginationFee:   testOriginationFee,
			CollateralAmount: testCollateralValue,
		},
	)
	require.NoError(t, err)

	require.EqualValues(t, VaultTxVersion, tx.Version)
	require.Len(t, tx.TxIn, 1)
	require.Equal(t, escrow, tx.TxIn[0].PreviousOutPoint)
	require.Len(t, tx.TxOut, 2)

	require.EqualValues(t, testOriginationFee, tx.TxOut[0].Value)
	feePkScript, err := vaultscript.KeySpendPkScript(terms.LenderKey)
	require.NoError(t, err)
	require.Equal(t, feePkScript, tx.TxOut[0].PkScript)

	require.EqualValues(t, testCollateralValue, tx.TxOut[1].Value)
	collateralTree, err := vaultscript.NewCollateralScriptTree(terms)
	require.NoError(t, err)
	collateralPkScript, err := collateralTree.PkScript()
	require.NoError(t, err)
	require.Equal(t, collateralPkScript, tx.TxOut[1].PkScript)

	require.NoError(t, CheckUnsignedVaultTx(tx, 1, 2))
}

// TestBuildCollateralLockTxInsufficientFunds checks the builder refuses to
// create a transaction that doesn't leave room for a mining fee.
func TestBuildCollateralLockTxInsufficientFunds(t *testing.T) {
	t.Parallel()

	terms := testTerms(t)

	_, err := BuildCollateralLockTx(
		testOutPoint(0),
		testOriginationFee+testCollateralValue, LockParams{
			Terms:            terms,
			OriginationFee:   testOriginationFee,
			CollateralAmount: testCollateralValue,
		},
	)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = BuildCollateralLockTx(
		testOutPoint(0), testEscrowValue, LockParams{
			OriginationFee:   testOriginationFee,
			CollateralAmount: testCollateralValue,
		},
	)
	require.ErrorIs(t, err, ErrMissingTerms)
}

// TestBuildSweepTx checks the single input, single output sweep shape and
// its fee handling.
func TestBuildSweepTx(t *testing.T) {
	t.Parallel()

	payTo := test.RandPubKey(t)

	tx, err := BuildSweepTx(
		testOutPoint(1), testCollateralValue, payTo, testSweepFee,
	)
	require.NoError(t, err)

	require.EqualValues(t, VaultTxVersion, tx.Version)
	require.Len(t, tx.TxIn, 1)
	require.Len(t, tx.TxOut, 1)
	require.EqualValues(
		t, testCollateralValue-testSweepFee, tx.TxOut[0].Value,
	)

	pkScript, err := vaultscript.KeySpendPkScript(payTo)
	require.NoError(t, err)
	require.Equal(t, pkScript, tx.TxOut[0].PkScript)

	_, err = BuildSweepTx(testOutPoint(1), testSweepFee, payTo, testSweepFee)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

// TestBuildCollateralReleaseTx checks the destination toggle between
// repayment and default capture.
func TestBuildCollateralReleaseTx(t *testing.T) {
	t.Parallel()

	terms := testTerms(t)

	toBorrower, err := BuildCollateralReleaseTx(
		testOutPoint(1), testCollateralValue, terms, testSweepFee,
		true,
	)
	require.NoError(t, err)

	borrowerPkScript, err := vaultscript.KeySpendPkScript(
		terms.BorrowerKey,
	)
	require.NoError(t, err)
	require.Equal(t, borrowerPkScript, toBorrower.TxOut[0].PkScript)

	toLender, err := BuildCollateralReleaseTx(
		testOutPoint(1), testCollateralValue, terms, testSweepFee,
		false,
	)
	require.NoError(t, err)

	lenderPkScript, err := vaultscript.KeySpendPkScript(terms.LenderKey)
	require.NoError(t, err)
	require.Equal(t, lenderPkScript, toLender.TxOut[0].PkScript)
}

// TestCheckUnsignedVaultTx exercises the sanity checks a transaction must
// clear before signing.
func TestCheckUnsignedVaultTx(t *testing.T) {
	t.Parallel()

	terms := testTerms(t)

	tx, err := BuildCollateralLockTx(
		testOutPoint(0), testEscrowValue, LockParams{
			Terms:            terms,
			OriginationFee:   testOriginationFee,
			CollateralAmount: testCollateralValue,
		},
	)
	require.NoError(t, err)

	require.Error(t, CheckUnsignedVaultTx(nil, 1, 2))
	require.Error(t, CheckUnsignedVaultTx(tx, 2, 2))
	require.Error(t, CheckUnsignedVaultTx(tx, 1, 1))

	tampered := tx.Copy()
	tampered.Version = 1
	require.Error(t, CheckUnsignedVaultTx(tampered, 1, 2))

	tampered = tx.Copy()
	tampered.LockTime = 500_000
	require.Error(t, CheckUnsignedVaultTx(tampered, 1, 2))

	tampered = tx.Copy()
	tampered.TxIn[0].Witness = wire.TxWitness{{0x01}}
	require.Error(t, CheckUnsignedVaultTx(tampered, 1, 2))
}

// TestTxEncoding round trips a transaction through its hex wire encoding.
func TestTxEncoding(t *testing.T) {
	t.Parallel()

	tx, err := BuildSweepTx(
		testOutPoint(1), testCollateralValue, test.RandPubKey(t),
		testSweepFee,
	)
	require.NoError(t, err)

	txHex, err := EncodeTx(tx)
	require.NoError(t, err)

	decoded, err := DecodeTx(txHex)
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), decoded.TxHash())

	_, err = DecodeTx("not hex")
	require.Error(t, err)

	_, err = DecodeTx("deadbeef")
	require.Error(t, err)
}
