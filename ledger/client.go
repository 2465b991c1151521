// Package ledger defines the boundary to the external append-only,
// totally-ordered event log, plus an in-process implementation used for
// local simulation and tests. Transaction submission mechanics (gas,
// consensus) live behind the Client interface and are not modeled here.
package ledger

import (
	"context"
	"errors"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/hypersdk/codec"
)

var (
	ErrRejected = errors.New("ledger rejected submission")
	ErrBadRange = errors.New("invalid block range")
)

// RawLog is one undecoded event log entry as the ledger stores it.
type RawLog struct {
	BlockNumber uint64
	BlockTime   uint64
	TxHash      ids.ID
	LogIndex    uint32
	Address     codec.Address
	Topics      []ids.ID
	Data        []byte
}

// Transition is a pre-encoded state-transition record submitted for
// inclusion. Topics carry event identity, Data the borsh payload.
type Transition struct {
	Op     string
	TaskID uint64
	Topics []ids.ID
	Data   []byte
}

// Client is the ledger boundary. Submit returns only after the transaction
// is final: callers trust the new state on return, never after a fixed
// delay.
type Client interface {
	// Submit appends a transition and waits for finality.
	Submit(ctx context.Context, contract codec.Address, tx Transition) (ids.ID, error)
	// EventLogs returns all logs for contract within [fromBlock, toBlock].
	EventLogs(ctx context.Context, contract codec.Address, fromBlock, toBlock uint64) ([]RawLog, error)
	// HeadBlock returns the current head block number.
	HeadBlock(ctx context.Context) (uint64, error)
	// BlockTime returns the canonical timestamp of the last accepted
	// block. All lifecycle deadline comparisons use this clock.
	BlockTime(ctx context.Context) (uint64, error)
}
