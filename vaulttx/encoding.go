package vaulttx

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// EncodeTx serializes a transaction to its hex wire encoding, the format the
// partial signature bundle and the node RPC interface both speak.
func EncodeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("unable to serialize tx: %w", err)
	}

	return hex.EncodeToString(buf.Bytes()), nil
}

// DecodeTx parses a hex wire encoded transaction.
func DecodeTx(txHex string) (*wire.MsgTx, error) {
	rawTx, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("unable to decode tx hex: %w", err)
	}

	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return nil, fmt.Errorf("unable to deserialize tx: %w", err)
	}

	return tx, nil
}
