package vaultsign

import (
	"fmt"

	"github.com/vaultlabs/vaultero/vaultscript"
)

// SpendState tracks the lifecycle of one vault spending attempt, from the
// moment a transaction skeleton is built until it is buried in the chain.
type SpendState uint8

const (
	// StateUnsigned is the initial state: a transaction skeleton exists
	// but carries no witness data.
	StateUnsigned SpendState = iota

	// StateBorrowerPartiallySigned means the borrower's signature for
	// the claim leaf has been produced and exported, but the witness is
	// still incomplete.
	StateBorrowerPartiallySigned

	// StateBroadcast means a fully signed transaction was accepted by
	// the chain backend and now sits in the mempool.
	StateBroadcast

	// StateConfirmed is terminal: the spend confirmed and the vault
	// moved forward (escrow locked into collateral, or collateral
	// claimed).
	StateConfirmed

	// StateReclaimed is terminal: a timelocked escape or reclaim path
	// confirmed and the funds went back to their original owner.
	StateReclaimed
)

// String returns a human readable state name.
func (s SpendState) String() string {
	switch s {
	case StateUnsigned:
		return "Unsigned"

	case StateBorrowerPartiallySigned:
		return "BorrowerPartiallySigned"

	case StateBroadcast:
		return "Broadcast"

	case StateConfirmed:
		return "Confirmed"

	case StateReclaimed:
		return "Reclaimed"

	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// IsTerminal returns true if no further transition is possible.
func (s SpendState) IsTerminal() bool {
	return s == StateConfirmed || s == StateReclaimed
}

// validTransitions is the full transition relation of the spend state
// machine. Anything not listed here is invalid.
var validTransitions = map[SpendState][]SpendState{
	StateUnsigned: {
		StateBorrowerPartiallySigned, StateBroadcast,
	},
	StateBorrowerPartiallySigned: {
		StateBroadcast,
	},
	StateBroadcast: {
		StateConfirmed, StateReclaimed,
	},
}

// ErrInvalidStateTransition is returned by advanceState when the requested
// transition isn't part of the state machine.
type ErrInvalidStateTransition struct {
	From SpendState
	To   SpendState
}

// Error implements the error interface.
func (e *ErrInvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid spend state transition: %v -> %v",
		e.From, e.To)
}

// checkTransition returns an error if from cannot advance to to.
func checkTransition(from, to SpendState) error {
	for _, next := range validTransitions[from] {
		if next == to {
			return nil
		}
	}

	return &ErrInvalidStateTransition{From: from, To: to}
}

// VaultOutput identifies which of the two Taproot outputs a spending
// attempt targets.
type VaultOutput uint8

const (
	// EscrowOutput is the initial deposit output carrying the borrower
	// escape and lender claim leaves.
	EscrowOutput VaultOutput = iota

	// CollateralOutput is the post-lock output carrying the lender
	// capture and borrower reclaim leaves.
	CollateralOutput
)

// String returns a human readable output name.
func (o VaultOutput) String() string {
	switch o {
	case EscrowOutput:
		return "Escrow"

	case CollateralOutput:
		return "Collateral"

	default:
		return fmt.Sprintf("Unknown(%d)", o)
	}
}

// SpendableLeaves returns the leaves of the given output that could be
// spent right now, given how many blocks have elapsed since the output
// confirmed and whether the relevant hash secret has been revealed. The
// result is advisory: the chain's script interpreter has the final word.
func SpendableLeaves(terms *vaultscript.Terms, output VaultOutput,
	elapsedBlocks uint32, secretRevealed bool) []vaultscript.LeafIndex {

	var leaves []vaultscript.LeafIndex

	switch output {
	case EscrowOutput:
		if elapsedBlocks >= terms.BorrowerTimelock {
			leaves = append(
				leaves, vaultscript.EscrowLeafBorrowerEscape,
			)
		}
		if secretRevealed {
			leaves = append(
				leaves, vaultscript.EscrowLeafLenderClaim,
			)
		}

	case CollateralOutput:
		if elapsedBlocks >= terms.LenderTimelock {
			leaves = append(
				leaves,
				vaultscript.CollateralLeafLenderCapture,
			)
		}
		if secretRevealed {
			leaves = append(
				leaves,
				vaultscript.CollateralLeafBorrowerReclaim,
			)
		}
	}

	return leaves
}
