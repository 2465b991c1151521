package escrow

import (
	"github.com/ava-labs/hypersdk/codec"
)

// Status is the canonical 8-state task lifecycle. The numbering matches the
// on-ledger contract tuple and must not be reordered.
type Status uint8

const (
	StatusCreated Status = iota
	StatusFunded
	StatusAccepted
	StatusSubmitted
	StatusDisputed
	StatusReleased
	StatusCancelled
	StatusResolved
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "Created"
	case StatusFunded:
		return "Funded"
	case StatusAccepted:
		return "Accepted"
	case StatusSubmitted:
		return "Submitted"
	case StatusDisputed:
		return "Disputed"
	case StatusReleased:
		return "Released"
	case StatusCancelled:
		return "Cancelled"
	case StatusResolved:
		return "Resolved"
	default:
		return "Invalid"
	}
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusCancelled || s == StatusResolved
}

// Op identifies a state transition attempt.
type Op uint8

const (
	OpCreate Op = iota
	OpFund
	OpAccept
	OpSubmit
	OpRelease
	OpDispute
	OpResolve
	OpCancel
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpFund:
		return "fund"
	case OpAccept:
		return "accept"
	case OpSubmit:
		return "submitProof"
	case OpRelease:
		return "release"
	case OpDispute:
		return "dispute"
	case OpResolve:
		return "resolve"
	case OpCancel:
		return "cancel"
	default:
		return "invalid"
	}
}

// Task is the escrow-governed unit of work. Canonical instances are owned
// exclusively by the Engine; readers hold derived copies.
type Task struct {
	ID            uint64        `json:"id"`
	Requester     codec.Address `json:"requester"`
	Operator      codec.Address `json:"operator"`
	PaymentToken  codec.Address `json:"paymentToken"`
	Amount        uint64        `json:"amount"`
	Deadline      uint64        `json:"deadline"`
	ProofDeadline uint64        `json:"proofDeadline"`
	ManifestRef   string        `json:"manifestRef"`
	ProofRef      string        `json:"proofRef"`
	Status        Status        `json:"status"`

	// applied records every edge already taken so a replayed event is
	// distinguishable from an invalid one.
	applied map[Op]struct{}
}

// HasOperator reports whether the task has been accepted by an operator.
func (t *Task) HasOperator() bool {
	return t.Operator != codec.EmptyAddress
}

// Snapshot returns a copy safe to hand outside the owning component.
func (t *Task) Snapshot() Task {
	cp := *t
	cp.applied = nil
	return cp
}

// Clone returns a deep copy that keeps the applied edge set, so replay
// detection still works on the copy.
func (t *Task) Clone() Task {
	cp := *t
	if t.applied != nil {
		cp.applied = make(map[Op]struct{}, len(t.applied))
		for op := range t.applied {
			cp.applied[op] = struct{}{}
		}
	}
	return cp
}

func (t *Task) edgeTaken(op Op) bool {
	_, ok := t.applied[op]
	return ok
}

func (t *Task) markEdge(op Op) {
	if t.applied == nil {
		t.applied = make(map[Op]struct{})
	}
	t.applied[op] = struct{}{}
}
