package vaultsign

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

type mockUtxo struct {
	value    btcutil.Amount
	pkScript []byte

	// height is the block height the creating transaction confirmed at.
	height uint32

	spentBy *chainhash.Hash
}

// MockChainBridge simulates a regtest node: a height counter, a UTXO set,
// a mempool and full witness validation through the script interpreter.
// Transactions that a real node would reject are rejected here too, which
// keeps timelock and witness bugs from hiding behind a permissive stub.
type MockChainBridge struct {
	mtx sync.Mutex

	height uint32

	utxos     map[wire.OutPoint]*mockUtxo
	mempool   map[chainhash.Hash]*wire.MsgTx
	confirmed map[chainhash.Hash]uint32

	fundCounter uint32
}

var _ ChainBridge = (*MockChainBridge)(nil)

// NewMockChainBridge creates an empty mock chain at height zero.
func NewMockChainBridge() *MockChainBridge {
	return &MockChainBridge{
		utxos:     make(map[wire.OutPoint]*mockUtxo),
		mempool:   make(map[chainhash.Hash]*wire.MsgTx),
		confirmed: make(map[chainhash.Hash]uint32),
	}
}

// FundOutput plants a confirmed output with the given script and value,
// mining one block so the output has a confirmation height. Returns the
// outpoint of the new output.
func (m *MockChainBridge) FundOutput(pkScript []byte,
	value btcutil.Amount) wire.OutPoint {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.fundCounter++
	var seed [8]byte
	binary.BigEndian.PutUint32(seed[:4], m.fundCounter)
	txid := chainhash.HashH(seed[:])

	m.height++

	op := wire.OutPoint{Hash: txid, Index: 0}
	m.utxos[op] = &mockUtxo{
		value:    value,
		pkScript: pkScript,
		height:   m.height,
	}
	m.confirmed[txid] = m.height

	return op
}

// GetUtxo returns the output if it's unspent.
func (m *MockChainBridge) GetUtxo(_ context.Context,
	op wire.OutPoint) (*UtxoInfo, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	utxo, ok := m.utxos[op]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUtxoNotFound, op)
	}
	if utxo.spentBy != nil {
		return nil, fmt.Errorf("%w: %v spent by %v", ErrAlreadySpent,
			op, utxo.spentBy)
	}

	return &UtxoInfo{
		Value:         utxo.value,
		PkScript:      utxo.pkScript,
		Confirmations: m.height - utxo.height + 1,
	}, nil
}

// CurrentHeight returns the mock chain tip height.
func (m *MockChainBridge) CurrentHeight(_ context.Context) (uint32, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.height, nil
}

// PublishTransaction validates a transaction the way a node's mempool
// acceptance does: inputs must be unspent, relative timelocks must have
// matured and every witness must pass the script interpreter under
// standardness flags. Accepted transactions mark their inputs spent and
// wait in the mempool for the next block.
func (m *MockChainBridge) PublishTransaction(_ context.Context,
	tx *wire.MsgTx) error {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	txid := tx.TxHash()

	// Rebroadcasting an identical transaction is harmless.
	if _, ok := m.mempool[txid]; ok {
		return nil
	}
	if _, ok := m.confirmed[txid]; ok {
		return nil
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	for _, txIn := range tx.TxIn {
		op := txIn.PreviousOutPoint

		utxo, ok := m.utxos[op]
		if !ok {
			return fmt.Errorf("%w: input %v", ErrUtxoNotFound, op)
		}
		if utxo.spentBy != nil {
			return fmt.Errorf("%w: input %v spent by %v",
				ErrAlreadySpent, op, utxo.spentBy)
		}

		if err := m.checkSequenceLock(tx, txIn, utxo); err != nil {
			return err
		}

		prevOuts[op] = wire.NewTxOut(
			int64(utxo.value), utxo.pkScript,
		)
	}

	prevOutFetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	for idx, txIn := range tx.TxIn {
		prevOut := prevOuts[txIn.PreviousOutPoint]

		vm, err := txscript.NewEngine(
			prevOut.PkScript, tx, idx,
			txscript.StandardVerifyFlags, nil, sigHashes,
			prevOut.Value, prevOutFetcher,
		)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBroadcastRejected, err)
		}

		if err := vm.Execute(); err != nil {
			return fmt.Errorf("%w: non-mandatory-script-verify-"+
				"flag (%v)", ErrBroadcastRejected, err)
		}
	}

	for _, txIn := range tx.TxIn {
		m.utxos[txIn.PreviousOutPoint].spentBy = &txid
	}
	m.mempool[txid] = tx

	return nil
}

// checkSequenceLock enforces BIP 68 relative timelocks in blocks. The
// mock has no timestamps, so time based locks are rejected outright.
func (m *MockChainBridge) checkSequenceLock(tx *wire.MsgTx,
	txIn *wire.TxIn, utxo *mockUtxo) error {

	seq := txIn.Sequence
	if seq&wire.SequenceLockTimeDisabled != 0 {
		return nil
	}

	if tx.Version < 2 {
		return fmt.Errorf("%w: non-BIP68-final (tx version %d)",
			ErrBroadcastRejected, tx.Version)
	}

	if seq&wire.SequenceLockTimeIsSeconds != 0 {
		return fmt.Errorf("%w: time based relative locks not "+
			"supported", ErrBroadcastRejected)
	}

	required := seq & wire.SequenceLockTimeMask
	elapsed := m.height - utxo.height
	if elapsed < required {
		return fmt.Errorf("%w: non-BIP68-final (elapsed %d of %d "+
			"blocks)", ErrBroadcastRejected, elapsed, required)
	}

	return nil
}

// GetConfirmations returns 0 for mempool transactions and the depth for
// confirmed ones.
func (m *MockChainBridge) GetConfirmations(_ context.Context,
	txid chainhash.Hash) (uint32, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if _, ok := m.mempool[txid]; ok {
		return 0, nil
	}

	confHeight, ok := m.confirmed[txid]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrTxNotFound, txid)
	}

	return m.height - confHeight + 1, nil
}

// MineBlocks advances the chain tip. Anything in the mempool confirms in
// the first new block and its outputs join the UTXO set.
func (m *MockChainBridge) MineBlocks(_ context.Context,
	numBlocks uint32) error {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if numBlocks == 0 {
		return nil
	}

	m.height++
	for txid, tx := range m.mempool {
		m.confirmed[txid] = m.height

		for idx, txOut := range tx.TxOut {
			op := wire.OutPoint{
				Hash:  txid,
				Index: uint32(idx),
			}
			m.utxos[op] = &mockUtxo{
				value:    btcutil.Amount(txOut.Value),
				pkScript: txOut.PkScript,
				height:   m.height,
			}
		}

		delete(m.mempool, txid)
	}

	m.height += numBlocks - 1

	return nil
}
