package events

import (
	"fmt"
	"sort"

	"github.com/ava-labs/avalanchego/utils/logging"

	"github.com/ratnathegod/satellite-sla-marketplace/escrow"
)

// View is a materialized reconstruction of task state: a pure fold over
// decoded events in ascending chain order, replaying the engine's own
// transition guards. It matches the engine's state exactly when the scanned
// window missed no events; a short window legitimately yields partial
// history, recorded per task in Anomalies.
type View struct {
	tasks []escrow.Task
	byID  map[uint64]int

	// Anomalies records, per task, guard failures hit during the fold.
	// They signal an incomplete window, a replayed log, or a foreign
	// event stream.
	Anomalies map[uint64][]string
}

// Materialize folds decoded events (any order accepted; ascending order is
// restored internally) into a task view. Unknown events and events for
// tasks whose creation fell outside the window are skipped and recorded.
func Materialize(decoded []Decoded, log logging.Logger) *View {
	v := &View{
		byID:      make(map[uint64]int),
		Anomalies: make(map[uint64][]string),
	}
	v.fold(decoded, log)
	return v
}

// Extend returns a new view with additional events folded in. The receiver
// is never mutated, so snapshots held by readers stay stable.
func (v *View) Extend(decoded []Decoded, log logging.Logger) *View {
	next := &View{
		tasks:     make([]escrow.Task, len(v.tasks)),
		byID:      make(map[uint64]int, len(v.byID)),
		Anomalies: make(map[uint64][]string, len(v.Anomalies)),
	}
	for i := range v.tasks {
		next.tasks[i] = v.tasks[i].Clone()
	}
	for id, idx := range v.byID {
		next.byID[id] = idx
	}
	for id, notes := range v.Anomalies {
		next.Anomalies[id] = append([]string(nil), notes...)
	}
	next.fold(decoded, log)
	return next
}

func (v *View) fold(decoded []Decoded, log logging.Logger) {
	ascending := make([]Decoded, len(decoded))
	copy(ascending, decoded)
	sort.SliceStable(ascending, func(i, j int) bool {
		if ascending[i].BlockNumber != ascending[j].BlockNumber {
			return ascending[i].BlockNumber < ascending[j].BlockNumber
		}
		return ascending[i].LogIndex < ascending[j].LogIndex
	})

	for _, d := range ascending {
		switch ev := d.Event.(type) {
		case escrow.Unknown:
			continue
		case escrow.TaskCreated:
			if _, exists := v.byID[ev.TaskID]; exists {
				v.note(ev.TaskID, "duplicate TaskCreated replayed")
				continue
			}
			task := escrow.NewTask(ev)
			v.byID[ev.TaskID] = len(v.tasks)
			v.tasks = append(v.tasks, *task)
		default:
			if !d.HasTaskID {
				continue
			}
			idx, exists := v.byID[d.TaskID]
			if !exists {
				v.note(d.TaskID, "transition "+d.Name+" before creation; window too short?")
				continue
			}
			if err := v.tasks[idx].Apply(d.Event); err != nil {
				v.note(d.TaskID, err.Error())
				if log != nil {
					log.Debug(fmt.Sprintf("view fold skipped event: %v", err))
				}
			}
		}
	}
}

func (v *View) note(taskID uint64, msg string) {
	v.Anomalies[taskID] = append(v.Anomalies[taskID], msg)
}

// Task returns the reconstructed task, if the window contained its creation.
func (v *View) Task(taskID uint64) (escrow.Task, bool) {
	idx, ok := v.byID[taskID]
	if !ok {
		return escrow.Task{}, false
	}
	return v.tasks[idx].Snapshot(), true
}

// Tasks returns all reconstructed tasks in creation order.
func (v *View) Tasks() []escrow.Task {
	out := make([]escrow.Task, 0, len(v.tasks))
	for i := range v.tasks {
		out = append(out, v.tasks[i].Snapshot())
	}
	return out
}

// Len reports the number of reconstructed tasks.
func (v *View) Len() int {
	return len(v.tasks)
}
