// Package events reconstructs task state for observers by replaying the
// ledger's event log. Nothing in this package mutates authoritative state;
// its output is eventually consistent with the engine's log and never
// authoritative for fund decisions.
package events

import (
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/near/borsh-go"

	"github.com/ratnathegod/satellite-sla-marketplace/escrow"
	"github.com/ratnathegod/satellite-sla-marketplace/ledger"
)

// decodeFunc turns a log data segment into a typed event variant.
type decodeFunc func(data []byte) (escrow.Event, error)

// Registry maps 32-byte topic signatures to event decoders. It is the
// pluggable ABI: a log whose leading topic has no entry decodes to Unknown
// instead of failing the scan.
type Registry struct {
	decoders map[ids.ID]decodeFunc
}

// NewRegistry returns a registry loaded with every escrow event variant.
func NewRegistry() *Registry {
	r := &Registry{
		decoders: make(map[ids.ID]decodeFunc),
	}
	register[escrow.TaskCreated](r, escrow.EventTaskCreated)
	register[escrow.TaskFunded](r, escrow.EventTaskFunded)
	register[escrow.TaskAccepted](r, escrow.EventTaskAccepted)
	register[escrow.ProofSubmitted](r, escrow.EventProofSubmitted)
	register[escrow.TaskReleased](r, escrow.EventTaskReleased)
	register[escrow.TaskDisputed](r, escrow.EventTaskDisputed)
	register[escrow.TaskResolved](r, escrow.EventTaskResolved)
	register[escrow.TaskCancelled](r, escrow.EventTaskCancelled)
	return r
}

// NewEmptyRegistry returns a registry with no decoders. Scans against it
// fail with ErrABIUnavailable.
func NewEmptyRegistry() *Registry {
	return &Registry{
		decoders: make(map[ids.ID]decodeFunc),
	}
}

func register[T escrow.Event](r *Registry, name string) {
	topic := escrow.TopicID(escrow.EventSignatures[name])
	r.decoders[topic] = func(data []byte) (escrow.Event, error) {
		var ev T
		if err := borsh.Deserialize(&ev, data); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", name, err)
		}
		return ev, nil
	}
}

// Empty reports whether the registry can decode anything at all.
func (r *Registry) Empty() bool {
	return len(r.decoders) == 0
}

// Decode attempts to interpret one raw log. A missing topic or a garbled
// payload yields an Unknown event carrying the raw bytes; the bool result
// reports whether decoding succeeded.
func (r *Registry) Decode(entry ledger.RawLog) (escrow.Event, bool) {
	if len(entry.Topics) == 0 {
		return escrow.Unknown{RawData: entry.Data}, false
	}
	decode, ok := r.decoders[entry.Topics[0]]
	if !ok {
		return escrow.Unknown{RawTopics: entry.Topics, RawData: entry.Data}, false
	}
	ev, err := decode(entry.Data)
	if err != nil {
		return escrow.Unknown{RawTopics: entry.Topics, RawData: entry.Data}, false
	}
	return ev, true
}
