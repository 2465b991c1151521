package escrow

// statemachine.go holds the transition guards shared by the engine and by
// readers replaying the event log. Guards here cover status edges only;
// caller identity and deadline checks happen at submission time in the
// engine, since a finalized event is already past those checks.

// validEdges maps each edge to the statuses it may leave from.
var validEdges = map[Op][]Status{
	OpFund:    {StatusCreated},
	OpAccept:  {StatusFunded},
	OpSubmit:  {StatusAccepted},
	OpRelease: {StatusSubmitted},
	OpDispute: {StatusSubmitted},
	OpResolve: {StatusDisputed},
	OpCancel:  {StatusCreated, StatusFunded, StatusAccepted},
}

// NewTask materializes a task from its creation event.
func NewTask(ev TaskCreated) *Task {
	t := &Task{
		ID:            ev.TaskID,
		Requester:     ev.Requester,
		PaymentToken:  ev.PaymentToken,
		Amount:        ev.Amount,
		Deadline:      ev.Deadline,
		ProofDeadline: ev.ProofDeadline,
		ManifestRef:   ev.ManifestRef,
		Status:        StatusCreated,
	}
	t.markEdge(OpCreate)
	return t
}

// CheckEdge validates that op may be taken from the task's current status.
// A replayed edge yields ErrAlreadyApplied, never a silent re-apply; any
// other mismatch yields ErrInvalidTransition.
func (t *Task) CheckEdge(op Op) error {
	if t.edgeTaken(op) {
		return ErrAlreadyApplied
	}
	for _, s := range validEdges[op] {
		if t.Status == s {
			return nil
		}
	}
	return ErrInvalidTransition
}

// Apply advances the task according to a finalized event. It returns a
// *TransitionError wrapping ErrInvalidTransition or ErrAlreadyApplied when
// the edge is not admissible, leaving the task unchanged.
func (t *Task) Apply(ev Event) error {
	switch e := ev.(type) {
	case TaskCreated:
		// Creation is handled by NewTask; seeing it again is a replay.
		return NewTransitionError(t.ID, OpCreate, t.Status, ErrAlreadyApplied)
	case TaskFunded:
		if err := t.CheckEdge(OpFund); err != nil {
			return NewTransitionError(t.ID, OpFund, t.Status, err)
		}
		t.Status = StatusFunded
		t.markEdge(OpFund)
	case TaskAccepted:
		if err := t.CheckEdge(OpAccept); err != nil {
			return NewTransitionError(t.ID, OpAccept, t.Status, err)
		}
		t.Operator = e.Operator
		t.Status = StatusAccepted
		t.markEdge(OpAccept)
	case ProofSubmitted:
		if err := t.CheckEdge(OpSubmit); err != nil {
			return NewTransitionError(t.ID, OpSubmit, t.Status, err)
		}
		t.ProofRef = e.ProofRef
		t.Status = StatusSubmitted
		t.markEdge(OpSubmit)
	case TaskReleased:
		if err := t.CheckEdge(OpRelease); err != nil {
			return NewTransitionError(t.ID, OpRelease, t.Status, err)
		}
		t.Status = StatusReleased
		t.markEdge(OpRelease)
	case TaskDisputed:
		if err := t.CheckEdge(OpDispute); err != nil {
			return NewTransitionError(t.ID, OpDispute, t.Status, err)
		}
		t.Status = StatusDisputed
		t.markEdge(OpDispute)
	case TaskResolved:
		if err := t.CheckEdge(OpResolve); err != nil {
			return NewTransitionError(t.ID, OpResolve, t.Status, err)
		}
		t.Status = StatusResolved
		t.markEdge(OpResolve)
	case TaskCancelled:
		if err := t.CheckEdge(OpCancel); err != nil {
			return NewTransitionError(t.ID, OpCancel, t.Status, err)
		}
		t.Status = StatusCancelled
		t.markEdge(OpCancel)
	default:
		return NewTransitionError(t.ID, OpCreate, t.Status, ErrInvalidTransition)
	}
	return nil
}
