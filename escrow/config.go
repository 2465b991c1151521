package escrow

import (
	"errors"

	"github.com/ava-labs/hypersdk/codec"
)

const (
	// DefaultProofWindow is how long after the acceptance deadline an
	// operator has to submit proof, in seconds.
	DefaultProofWindow = 7 * 24 * 60 * 60
)

// Config is the injected engine configuration: contract identity, accepted
// payment token, and the designated arbiter. There is no process-wide
// default instance.
type Config struct {
	// Contract is the escrow contract identity logs are emitted under.
	Contract codec.Address `json:"contract"`
	// PaymentToken is the single fungible asset accepted for escrow.
	PaymentToken codec.Address `json:"paymentToken"`
	// Arbiter is the only party allowed to resolve disputes.
	Arbiter codec.Address `json:"arbiter"`
	// ProofWindow is the proofDeadline offset from a task's deadline,
	// in seconds of ledger time.
	ProofWindow uint64 `json:"proofWindow"`
}

func DefaultConfig() *Config {
	return &Config{
		ProofWindow: DefaultProofWindow,
	}
}

func (c *Config) Validate() error {
	if c.Contract == codec.EmptyAddress {
		return errors.New("contract address not set")
	}
	if c.Arbiter == codec.EmptyAddress {
		return errors.New("arbiter address not set")
	}
	if c.ProofWindow == 0 {
		return errors.New("proof window must be positive")
	}
	return nil
}
