package settlement

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Host is the ledger as seen from inside a registry or unit. Every mutation made
// through it, and every mutation a program records with Journal, is undone when
// the enclosing top-level call fails.
type Host interface {
	// Deploy places a new unit at its address
	Deploy(u *Unit) error
	// Registry looks up the registry at addr
	Registry(addr common.Address) (*Registry, error)
	// Move transfers value between two accounts without running any program
	Move(from, to common.Address, value *uint256.Int) error
	// Emit appends a log to the current call
	Emit(log *types.Log)
	// Journal records how to undo a program-local mutation
	Journal(undo func())
}
