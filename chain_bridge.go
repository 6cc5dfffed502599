package vaultero

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/vaultlabs/vaultero/vaultsign"
)

// BitcoindRpcChainBridge is an implementation of the vaultsign.ChainBridge
// interface backed by the JSON-RPC interface of an active bitcoind (or
// btcd) node.
type BitcoindRpcChainBridge struct {
	client *rpcclient.Client

	netParams *chaincfg.Params

	// miningAddr receives the coinbase of blocks generated through
	// MineBlocks. Only set on regtest setups.
	miningAddr string
}

// A compile time assertion to make sure the RPC bridge satisfies the
// interface the protocol consumes.
var _ vaultsign.ChainBridge = (*BitcoindRpcChainBridge)(nil)

// NewBitcoindRpcChainBridge creates a new chain bridge talking to the node
// at the given host with HTTP POST basic auth credentials.
func NewBitcoindRpcChainBridge(host, user, pass string,
	netParams *chaincfg.Params,
	miningAddr string) (*BitcoindRpcChainBridge, error) {

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create RPC client: %w", err)
	}

	return &BitcoindRpcChainBridge{
		client:     client,
		netParams:  netParams,
		miningAddr: miningAddr,
	}, nil
}

// GetUtxo looks up an output in the node's UTXO set, distinguishing
// outputs that never existed from outputs that were spent.
func (b *BitcoindRpcChainBridge) GetUtxo(ctx context.Context,
	op wire.OutPoint) (*vaultsign.UtxoInfo, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := b.client.GetTxOut(&op.Hash, op.Index, true)
	if err != nil {
		return nil, fmt.Errorf("unable to query utxo set: %w", err)
	}

	// gettxout returns null both for unknown outputs and for spent
	// ones. If the creating transaction is known the output existed, so
	// it must have been spent since.
	if res == nil {
		_, txErr := b.client.GetRawTransactionVerbose(&op.Hash)
		if txErr == nil {
			return nil, fmt.Errorf("%w: %v",
				vaultsign.ErrAlreadySpent, op)
		}

		return nil, fmt.Errorf("%w: %v", vaultsign.ErrUtxoNotFound,
			op)
	}

	value, err := btcutil.NewAmount(res.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid utxo amount: %w", err)
	}

	pkScript, err := hex.DecodeString(res.ScriptPubKey.Hex)
	if err != nil {
		return nil, fmt.Errorf("invalid utxo script: %w", err)
	}

	return &vaultsign.UtxoInfo{
		Value:         value,
		PkScript:      pkScript,
		Confirmations: uint32(res.Confirmations),
	}, nil
}

// CurrentHeight returns the current height of the main chain.
func (b *BitcoindRpcChainBridge) CurrentHeight(ctx context.Context) (uint32,
	error) {

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	height, err := b.client.GetBlockCount()
	if err != nil {
		return 0, fmt.Errorf("unable to query block count: %w", err)
	}

	return uint32(height), nil
}

// PublishTransaction sends a raw transaction to the node, mapping its
// rejection reasons onto the protocol errors. The node's literal error
// text is preserved in the wrapped error.
func (b *BitcoindRpcChainBridge) PublishTransaction(ctx context.Context,
	tx *wire.MsgTx) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := b.client.SendRawTransaction(tx, false)
	if err == nil {
		return nil
	}

	errStr := strings.ToLower(err.Error())
	switch {
	// An identical transaction already waiting or mined means our work
	// is already done.
	case strings.Contains(errStr, "txn-already-in-mempool"),
		strings.Contains(errStr, "txn-already-known"),
		strings.Contains(errStr, "transaction already in block chain"):

		return nil

	// Somebody else got to the input first.
	case strings.Contains(errStr, "bad-txns-inputs-missingorspent"),
		strings.Contains(errStr, "missing-or-spent"),
		strings.Contains(errStr, "txn-mempool-conflict"):

		return fmt.Errorf("%w: %v", vaultsign.ErrAlreadySpent, err)

	default:
		return fmt.Errorf("%w: %v", vaultsign.ErrBroadcastRejected,
			err)
	}
}

// GetConfirmations returns the confirmation count of a transaction, zero
// while it sits in the mempool.
func (b *BitcoindRpcChainBridge) GetConfirmations(ctx context.Context,
	txid chainhash.Hash) (uint32, error) {

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	res, err := b.client.GetRawTransactionVerbose(&txid)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", vaultsign.ErrTxNotFound, txid)
	}

	return uint32(res.Confirmations), nil
}

// MineBlocks generates blocks to the configured mining address. Only
// useful against regtest nodes, which is the only place the vault tests
// call it.
func (b *BitcoindRpcChainBridge) MineBlocks(ctx context.Context,
	numBlocks uint32) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	if b.miningAddr == "" {
		return fmt.Errorf("no mining address configured")
	}

	addr, err := btcutil.DecodeAddress(b.miningAddr, b.netParams)
	if err != nil {
		return fmt.Errorf("invalid mining address: %w", err)
	}

	_, err = b.client.GenerateToAddress(int64(numBlocks), addr, nil)
	if err != nil {
		return fmt.Errorf("unable to generate blocks: %w", err)
	}

	return nil
}

// Shutdown tears down the underlying RPC connection.
func (b *BitcoindRpcChainBridge) Shutdown() {
	b.client.Shutdown()
}
