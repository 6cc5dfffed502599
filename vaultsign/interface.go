package vaultsign

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrUtxoNotFound is returned when a referenced outpoint isn't part
	// of the UTXO set known to the chain backend.
	ErrUtxoNotFound = errors.New("vaultsign: utxo not found")

	// ErrAlreadySpent is returned when a referenced outpoint has already
	// been consumed by another transaction. This is an expected race
	// between the two parties, not a fatal condition: it only means this
	// spending path lost.
	ErrAlreadySpent = errors.New("vaultsign: utxo already spent")

	// ErrTxNotFound is returned when a transaction is unknown to the
	// chain backend.
	ErrTxNotFound = errors.New("vaultsign: transaction not found")

	// ErrBroadcastRejected is returned when the chain backend refuses a
	// raw transaction (bad witness, unmet timelock, non final sequence,
	// fee too low). The node's literal error text is preserved in the
	// wrapped error so operators can pick the correct fallback path.
	// Broadcasts are never retried automatically.
	ErrBroadcastRejected = errors.New("vaultsign: broadcast rejected")
)

// UtxoInfo describes a confirmed output as reported by the chain backend.
type UtxoInfo struct {
	// Value is the output amount.
	Value btcutil.Amount

	// PkScript is the output script.
	PkScript []byte

	// Confirmations is the number of confirmations of the transaction
	// that created the output.
	Confirmations uint32
}

// ChainBridge is our bridge to the Bitcoin chain. The protocol only ever
// reads UTXOs, publishes fully signed transactions and polls for
// confirmations; it holds no keys and no chain state of its own.
type ChainBridge interface {
	// GetUtxo looks up an unspent output. Implementations return
	// ErrUtxoNotFound for unknown outpoints and, where they can tell the
	// difference, ErrAlreadySpent for consumed ones.
	GetUtxo(ctx context.Context, op wire.OutPoint) (*UtxoInfo, error)

	// CurrentHeight returns the current height of the main chain.
	CurrentHeight(ctx context.Context) (uint32, error)

	// PublishTransaction attempts to publish a new transaction to the
	// network. Rebroadcasting an identical transaction is a no-op;
	// rejections surface as ErrBroadcastRejected or ErrAlreadySpent.
	PublishTransaction(ctx context.Context, tx *wire.MsgTx) error

	// GetConfirmations returns the number of confirmations of the given
	// transaction, zero while it sits in the mempool.
	GetConfirmations(ctx context.Context,
		txid chainhash.Hash) (uint32, error)

	// MineBlocks generates the given number of blocks. Only functional
	// against test network backends.
	MineBlocks(ctx context.Context, numBlocks uint32) error
}

// WaitForConfirmation polls the chain backend until txid has at least
// minConfs confirmations. An unconfirmed transaction is pending, not
// failed: the only way out of the loop besides confirmation is
// cancellation of the passed context.
func WaitForConfirmation(ctx context.Context, chain ChainBridge,
	txid chainhash.Hash, minConfs uint32,
	pollInterval time.Duration) error {

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		confs, err := chain.GetConfirmations(ctx, txid)
		switch {
		// A just-published transaction may not be indexed yet, which
		// is indistinguishable from pending.
		case errors.Is(err, ErrTxNotFound):

		case err != nil:
			return err

		case confs >= minConfs:
			return nil
		}

		select {
		case <-ticker.C:

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
