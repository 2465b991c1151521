package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ava-labs/hypersdk/codec"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNothingHeld       = errors.New("no funds held for task")
)

// Vault moves the single fungible unit of value between parties and the
// escrow. Exactly one Payout per held lock; the engine enforces that through
// the state machine.
type Vault interface {
	// Lock pulls amount from the payer into escrow custody.
	Lock(ctx context.Context, from codec.Address, amount uint64) error
	// Payout moves previously locked amount to the recipient.
	Payout(ctx context.Context, to codec.Address, amount uint64) error
	// Held reports the total amount in escrow custody.
	Held() uint64
}

// MemVault is an in-process balance book used for local simulation and
// tests. All arithmetic is exact uint64 in ledger-native units.
type MemVault struct {
	mu       sync.Mutex
	balances map[codec.Address]uint64
	held     uint64
}

func NewMemVault() *MemVault {
	return &MemVault{
		balances: make(map[codec.Address]uint64),
	}
}

// Credit seeds a party's balance.
func (v *MemVault) Credit(addr codec.Address, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[addr] += amount
}

// Balance returns a party's current balance.
func (v *MemVault) Balance(addr codec.Address) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[addr]
}

func (v *MemVault) Lock(_ context.Context, from codec.Address, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	balance := v.balances[from]
	if balance < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, balance, amount)
	}
	v.balances[from] = balance - amount
	v.held += amount
	return nil
}

func (v *MemVault) Payout(_ context.Context, to codec.Address, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.held < amount {
		return fmt.Errorf("%w: held %d, payout %d", ErrNothingHeld, v.held, amount)
	}
	v.held -= amount
	v.balances[to] += amount
	return nil
}

func (v *MemVault) Held() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.held
}
