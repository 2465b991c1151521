package escrow

import (
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/hypersdk/codec"
	"github.com/near/borsh-go"
	"golang.org/x/crypto/sha3"
)

// Canonical event names as emitted by the escrow contract.
const (
	EventTaskCreated    = "TaskCreated"
	EventTaskFunded     = "TaskFunded"
	EventTaskAccepted   = "TaskAccepted"
	EventProofSubmitted = "ProofSubmitted"
	EventTaskReleased   = "TaskReleased"
	EventTaskDisputed   = "TaskDisputed"
	EventTaskResolved   = "TaskResolved"
	EventTaskCancelled  = "TaskCancelled"
	EventUnknown        = "Unknown"
)

// Event is one decoded state-transition record. The concrete type is one of
// the variants below; Unknown covers logs the decoder cannot interpret.
type Event interface {
	EventName() string
	Serialize() ([]byte, error)
}

// TopicID derives the 32-byte log topic for an event signature
// (Keccak-256, matching the ledger's topic convention).
func TopicID(signature string) ids.ID {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	var id ids.ID
	copy(id[:], h.Sum(nil))
	return id
}

// Signatures keyed by event name. Payloads ride in the log data segment,
// borsh-encoded; the signature only fixes topic identity.
var EventSignatures = map[string]string{
	EventTaskCreated:    "TaskCreated(uint64,address,address,uint64,uint64,uint64,string)",
	EventTaskFunded:     "TaskFunded(uint64,address,uint64)",
	EventTaskAccepted:   "TaskAccepted(uint64,address)",
	EventProofSubmitted: "ProofSubmitted(uint64,address,string)",
	EventTaskReleased:   "TaskReleased(uint64,address,uint64)",
	EventTaskDisputed:   "TaskDisputed(uint64,address)",
	EventTaskResolved:   "TaskResolved(uint64,bool,uint64)",
	EventTaskCancelled:  "TaskCancelled(uint64,bool,uint64)",
}

type TaskCreated struct {
	TaskID        uint64
	Requester     codec.Address
	PaymentToken  codec.Address
	Amount        uint64
	Deadline      uint64
	ProofDeadline uint64
	ManifestRef   string
}

type TaskFunded struct {
	TaskID    uint64
	Requester codec.Address
	Amount    uint64
}

type TaskAccepted struct {
	TaskID   uint64
	Operator codec.Address
}

type ProofSubmitted struct {
	TaskID   uint64
	Operator codec.Address
	ProofRef string
}

type TaskReleased struct {
	TaskID   uint64
	Operator codec.Address
	Amount   uint64
}

type TaskDisputed struct {
	TaskID    uint64
	Requester codec.Address
}

type TaskResolved struct {
	TaskID        uint64
	FavorOperator bool
	Amount        uint64
}

type TaskCancelled struct {
	TaskID   uint64
	Refunded bool
	Amount   uint64
}

// Unknown retains a log entry the decoder could not interpret. Raw topics and
// data are kept so nothing is silently dropped from a scan.
type Unknown struct {
	RawTopics []ids.ID
	RawData   []byte
}

func (TaskCreated) EventName() string    { return EventTaskCreated }
func (TaskFunded) EventName() string     { return EventTaskFunded }
func (TaskAccepted) EventName() string   { return EventTaskAccepted }
func (ProofSubmitted) EventName() string { return EventProofSubmitted }
func (TaskReleased) EventName() string   { return EventTaskReleased }
func (TaskDisputed) EventName() string   { return EventTaskDisputed }
func (TaskResolved) EventName() string   { return EventTaskResolved }
func (TaskCancelled) EventName() string  { return EventTaskCancelled }
func (Unknown) EventName() string        { return EventUnknown }

func (e TaskCreated) Serialize() ([]byte, error)    { return borsh.Serialize(e) }
func (e TaskFunded) Serialize() ([]byte, error)     { return borsh.Serialize(e) }
func (e TaskAccepted) Serialize() ([]byte, error)   { return borsh.Serialize(e) }
func (e ProofSubmitted) Serialize() ([]byte, error) { return borsh.Serialize(e) }
func (e TaskReleased) Serialize() ([]byte, error)   { return borsh.Serialize(e) }
func (e TaskDisputed) Serialize() ([]byte, error)   { return borsh.Serialize(e) }
func (e TaskResolved) Serialize() ([]byte, error)   { return borsh.Serialize(e) }
func (e TaskCancelled) Serialize() ([]byte, error)  { return borsh.Serialize(e) }
func (e Unknown) Serialize() ([]byte, error)        { return e.RawData, nil }

// EventTaskID extracts the task identifier when the variant carries one.
func EventTaskID(ev Event) (uint64, bool) {
	switch e := ev.(type) {
	case TaskCreated:
		return e.TaskID, true
	case TaskFunded:
		return e.TaskID, true
	case TaskAccepted:
		return e.TaskID, true
	case ProofSubmitted:
		return e.TaskID, true
	case TaskReleased:
		return e.TaskID, true
	case TaskDisputed:
		return e.TaskID, true
	case TaskResolved:
		return e.TaskID, true
	case TaskCancelled:
		return e.TaskID, true
	default:
		return 0, false
	}
}
