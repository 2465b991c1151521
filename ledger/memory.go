package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
	"github.com/ava-labs/hypersdk/codec"
)

// Memory is an in-process ledger with total order and immediate finality.
// Each accepted submission lands in its own block; the block clock only
// moves forward, mirroring chain timestamp monotonicity.
type Memory struct {
	mu        sync.RWMutex
	logs      []RawLog
	head      uint64
	now       uint64
	logIndex  map[uint64]uint32
	rejectAll bool
}

func NewMemory(genesisTime uint64) *Memory {
	return &Memory{
		now:      genesisTime,
		logIndex: make(map[uint64]uint32),
	}
}

// SetRejecting makes every subsequent Submit fail with ErrRejected.
// Test hook for the LedgerRejected path.
func (m *Memory) SetRejecting(reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectAll = reject
}

// AdvanceTime moves the canonical clock forward by delta seconds.
func (m *Memory) AdvanceTime(delta uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += delta
}

// AppendRaw injects an arbitrary log entry without a submission, e.g. a
// foreign contract's event sharing the scanned address space. A zero
// BlockNumber places the entry in a fresh block; a non-zero one appends to
// that block with the next log index, so tests can pack a block.
func (m *Memory) AppendRaw(entry RawLog) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.BlockNumber == 0 {
		m.head++
		entry.BlockNumber = m.head
	} else if entry.BlockNumber > m.head {
		m.head = entry.BlockNumber
	}
	entry.BlockTime = m.now
	entry.LogIndex = m.logIndex[entry.BlockNumber]
	m.logIndex[entry.BlockNumber]++
	m.logs = append(m.logs, entry)
}

func (m *Memory) Submit(ctx context.Context, contract codec.Address, tx Transition) (ids.ID, error) {
	if err := ctx.Err(); err != nil {
		return ids.Empty, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rejectAll {
		return ids.Empty, fmt.Errorf("%w: op %s task %d", ErrRejected, tx.Op, tx.TaskID)
	}

	m.head++
	m.logIndex[m.head] = 1
	preimage := make([]byte, 0, len(tx.Data)+8)
	for _, topic := range tx.Topics {
		preimage = append(preimage, topic[:]...)
	}
	preimage = append(preimage, tx.Data...)
	preimage = append(preimage, byte(m.head), byte(m.head>>8), byte(m.head>>16), byte(m.head>>24))
	txHash := hashing.ComputeHash256Array(preimage)

	m.logs = append(m.logs, RawLog{
		BlockNumber: m.head,
		BlockTime:   m.now,
		TxHash:      ids.ID(txHash),
		LogIndex:    0,
		Address:     contract,
		Topics:      tx.Topics,
		Data:        tx.Data,
	})
	return ids.ID(txHash), nil
}

func (m *Memory) EventLogs(ctx context.Context, contract codec.Address, fromBlock, toBlock uint64) ([]RawLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fromBlock > toBlock {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrBadRange, fromBlock, toBlock)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []RawLog
	for _, entry := range m.logs {
		if entry.BlockNumber < fromBlock || entry.BlockNumber > toBlock {
			continue
		}
		if entry.Address != contract {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (m *Memory) HeadBlock(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.head, nil
}

func (m *Memory) BlockTime(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now, nil
}
