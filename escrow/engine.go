package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/logging"
	"github.com/ava-labs/hypersdk/codec"

	"github.com/ratnathegod/satellite-sla-marketplace/content"
	"github.com/ratnathegod/satellite-sla-marketplace/ledger"
)

// Engine owns canonical task state and is its only writer. Every operation
// validates the transition, submits it to the ledger, waits for finality,
// and only then applies it locally; preconditions are checked again at
// submission time so a caller racing a concurrent transition gets a
// stale-state rejection instead of a silent overwrite.
//
// Fund movement is atomic with the status change: a task that reaches a
// terminal status has paid out exactly once, and a failed submission leaves
// both status and funds untouched.
type Engine struct {
	mu          sync.RWMutex
	tasks       map[uint64]*Task
	held        map[uint64]uint64
	taskCounter uint64

	config   *Config
	client   ledger.Client
	vault    Vault
	resolver *content.Resolver
	log      logging.Logger
}

func NewEngine(
	config *Config,
	client ledger.Client,
	vault Vault,
	resolver *content.Resolver,
	log logging.Logger,
) (*Engine, error) {
	if config == nil {
		return nil, fmt.Errorf("engine config required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	return &Engine{
		tasks:    make(map[uint64]*Task),
		held:     make(map[uint64]uint64),
		config:   config,
		client:   client,
		vault:    vault,
		resolver: resolver,
		log:      log,
	}, nil
}

// CreateTask registers a new task for the calling requester. The manifest
// must already exist in the content store; the proof deadline is fixed at
// creation as deadline plus the configured proof window.
func (e *Engine) CreateTask(
	ctx context.Context,
	requester codec.Address,
	manifestRef string,
	amount uint64,
	deadline uint64,
) (uint64, error) {
	now, err := e.now(ctx)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, NewTransitionError(0, OpCreate, StatusCreated, ErrZeroAmount)
	}
	if now >= deadline {
		return 0, NewTransitionError(0, OpCreate, StatusCreated, ErrDeadlineElapsed)
	}
	if _, err := e.resolver.ResolveManifest(ctx, manifestRef); err != nil {
		return 0, fmt.Errorf("task manifest rejected: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.taskCounter + 1
	ev := TaskCreated{
		TaskID:        id,
		Requester:     requester,
		PaymentToken:  e.config.PaymentToken,
		Amount:        amount,
		Deadline:      deadline,
		ProofDeadline: deadline + e.config.ProofWindow,
		ManifestRef:   manifestRef,
	}

	if _, err := e.emit(ctx, OpCreate, ev); err != nil {
		return 0, NewTransitionError(id, OpCreate, StatusCreated, err)
	}

	e.taskCounter = id
	e.tasks[id] = NewTask(ev)
	e.log.Info(fmt.Sprintf("task %d created by %s, amount %d", id, requester, amount))
	return id, nil
}

// FundTask locks the task amount from the requester into escrow custody.
func (e *Engine) FundTask(ctx context.Context, caller codec.Address, taskID uint64) error {
	now, err := e.now(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := e.task(taskID, OpFund)
	if err != nil {
		return err
	}
	if err := task.CheckEdge(OpFund); err != nil {
		return NewTransitionError(taskID, OpFund, task.Status, err)
	}
	if caller != task.Requester {
		return NewTransitionError(taskID, OpFund, task.Status, ErrWrongCaller)
	}
	if now >= task.Deadline {
		return NewTransitionError(taskID, OpFund, task.Status, ErrDeadlineElapsed)
	}

	if err := e.vault.Lock(ctx, task.Requester, task.Amount); err != nil {
		return NewTransitionError(taskID, OpFund, task.Status, fmt.Errorf("%w: %v", ErrLedgerRejected, err))
	}

	ev := TaskFunded{TaskID: taskID, Requester: task.Requester, Amount: task.Amount}
	if _, err := e.emit(ctx, OpFund, ev); err != nil {
		// Submission failed after the lock; return the funds so state
		// and custody stay untouched.
		if payErr := e.vault.Payout(ctx, task.Requester, task.Amount); payErr != nil {
			e.log.Error(fmt.Sprintf("task %d: fund rollback failed: %v", taskID, payErr))
		}
		return NewTransitionError(taskID, OpFund, task.Status, err)
	}

	e.held[taskID] = task.Amount
	return e.apply(task, ev)
}

// AcceptTask assigns the calling operator to a funded task.
func (e *Engine) AcceptTask(ctx context.Context, caller codec.Address, taskID uint64) error {
	now, err := e.now(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := e.task(taskID, OpAccept)
	if err != nil {
		return err
	}
	if err := task.CheckEdge(OpAccept); err != nil {
		// A rival losing the accept race is a stale-state rejection, not
		// a replay of the winning operator's transition.
		if errors.Is(err, ErrAlreadyApplied) && caller != task.Operator {
			err = ErrInvalidTransition
		}
		return NewTransitionError(taskID, OpAccept, task.Status, err)
	}
	if caller == task.Requester {
		return NewTransitionError(taskID, OpAccept, task.Status, ErrWrongCaller)
	}
	if now >= task.Deadline {
		return NewTransitionError(taskID, OpAccept, task.Status, ErrDeadlineElapsed)
	}

	ev := TaskAccepted{TaskID: taskID, Operator: caller}
	if _, err := e.emit(ctx, OpAccept, ev); err != nil {
		return NewTransitionError(taskID, OpAccept, task.Status, err)
	}
	return e.apply(task, ev)
}

// SubmitProof records the operator's completion proof. The referenced
// content must exist and pass the proof size policy before the transition
// is attempted.
func (e *Engine) SubmitProof(ctx context.Context, caller codec.Address, taskID uint64, proofRef string) error {
	now, err := e.now(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := e.task(taskID, OpSubmit)
	if err != nil {
		return err
	}
	if err := task.CheckEdge(OpSubmit); err != nil {
		return NewTransitionError(taskID, OpSubmit, task.Status, err)
	}
	if caller != task.Operator {
		return NewTransitionError(taskID, OpSubmit, task.Status, ErrWrongCaller)
	}
	if now >= task.ProofDeadline {
		return NewTransitionError(taskID, OpSubmit, task.Status, ErrDeadlineElapsed)
	}
	if _, err := e.resolver.ResolveProof(ctx, proofRef); err != nil {
		return fmt.Errorf("task %d: proof rejected: %w", taskID, err)
	}

	ev := ProofSubmitted{TaskID: taskID, Operator: caller, ProofRef: proofRef}
	if _, err := e.emit(ctx, OpSubmit, ev); err != nil {
		return NewTransitionError(taskID, OpSubmit, task.Status, err)
	}
	return e.apply(task, ev)
}

// ReleasePayment pays the operator and finalizes the task.
func (e *Engine) ReleasePayment(ctx context.Context, caller codec.Address, taskID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := e.task(taskID, OpRelease)
	if err != nil {
		return err
	}
	if err := task.CheckEdge(OpRelease); err != nil {
		return NewTransitionError(taskID, OpRelease, task.Status, err)
	}
	if caller != task.Requester {
		return NewTransitionError(taskID, OpRelease, task.Status, ErrWrongCaller)
	}

	amount, err := e.settleHeld(ctx, task, task.Operator)
	if err != nil {
		return NewTransitionError(taskID, OpRelease, task.Status, err)
	}

	ev := TaskReleased{TaskID: taskID, Operator: task.Operator, Amount: task.Amount}
	if _, err := e.emit(ctx, OpRelease, ev); err != nil {
		e.unsettle(ctx, task, task.Operator, amount)
		return NewTransitionError(taskID, OpRelease, task.Status, err)
	}
	e.finishSettle(task, task.Operator, amount)
	return e.apply(task, ev)
}

// DisputeTask contests a submitted proof.
func (e *Engine) DisputeTask(ctx context.Context, caller codec.Address, taskID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := e.task(taskID, OpDispute)
	if err != nil {
		return err
	}
	if err := task.CheckEdge(OpDispute); err != nil {
		return NewTransitionError(taskID, OpDispute, task.Status, err)
	}
	if caller != task.Requester {
		return NewTransitionError(taskID, OpDispute, task.Status, ErrWrongCaller)
	}

	ev := TaskDisputed{TaskID: taskID, Requester: task.Requester}
	if _, err := e.emit(ctx, OpDispute, ev); err != nil {
		return NewTransitionError(taskID, OpDispute, task.Status, err)
	}
	return e.apply(task, ev)
}

// ResolveDispute finalizes a disputed task in favor of one party. Only the
// configured arbiter may call it.
func (e *Engine) ResolveDispute(ctx context.Context, caller codec.Address, taskID uint64, favorOperator bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := e.task(taskID, OpResolve)
	if err != nil {
		return err
	}
	if err := task.CheckEdge(OpResolve); err != nil {
		return NewTransitionError(taskID, OpResolve, task.Status, err)
	}
	if caller != e.config.Arbiter {
		return NewTransitionError(taskID, OpResolve, task.Status, ErrWrongCaller)
	}

	recipient := task.Requester
	if favorOperator {
		recipient = task.Operator
	}
	amount, err := e.settleHeld(ctx, task, recipient)
	if err != nil {
		return NewTransitionError(taskID, OpResolve, task.Status, err)
	}

	ev := TaskResolved{TaskID: taskID, FavorOperator: favorOperator, Amount: task.Amount}
	if _, err := e.emit(ctx, OpResolve, ev); err != nil {
		e.unsettle(ctx, task, recipient, amount)
		return NewTransitionError(taskID, OpResolve, task.Status, err)
	}
	e.finishSettle(task, recipient, amount)
	return e.apply(task, ev)
}

// CancelTask aborts a task before completion. Before acceptance only the
// requester may cancel; after acceptance anyone may once the proof deadline
// has elapsed with no proof on record. Held funds return to the requester.
func (e *Engine) CancelTask(ctx context.Context, caller codec.Address, taskID uint64) error {
	now, err := e.now(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := e.task(taskID, OpCancel)
	if err != nil {
		return err
	}
	if err := task.CheckEdge(OpCancel); err != nil {
		return NewTransitionError(taskID, OpCancel, task.Status, err)
	}
	switch task.Status {
	case StatusCreated, StatusFunded:
		if caller != task.Requester {
			return NewTransitionError(taskID, OpCancel, task.Status, ErrWrongCaller)
		}
	case StatusAccepted:
		if now < task.ProofDeadline {
			return NewTransitionError(taskID, OpCancel, task.Status, ErrProofWindowOpen)
		}
	}

	amount, err := e.settleHeld(ctx, task, task.Requester)
	if err != nil {
		return NewTransitionError(taskID, OpCancel, task.Status, err)
	}

	ev := TaskCancelled{TaskID: taskID, Refunded: amount > 0, Amount: task.Amount}
	if _, err := e.emit(ctx, OpCancel, ev); err != nil {
		e.unsettle(ctx, task, task.Requester, amount)
		return NewTransitionError(taskID, OpCancel, task.Status, err)
	}
	e.finishSettle(task, task.Requester, amount)
	return e.apply(task, ev)
}

// Task returns a snapshot of one task.
func (e *Engine) Task(taskID uint64) (Task, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %d", ErrTaskNotFound, taskID)
	}
	return task.Snapshot(), nil
}

// TaskCounter returns the highest assigned task id.
func (e *Engine) TaskCounter() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.taskCounter
}

// HeldFor reports the amount currently escrowed for a task.
func (e *Engine) HeldFor(taskID uint64) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.held[taskID]
}

// Internal methods. Callers hold e.mu unless noted.

func (e *Engine) task(taskID uint64, op Op) (*Task, error) {
	task, ok := e.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%s task %d: %w", op, taskID, ErrTaskNotFound)
	}
	return task, nil
}

// now reads the ledger's canonical clock; wall-clock time is never
// consulted for lifecycle decisions.
func (e *Engine) now(ctx context.Context) (uint64, error) {
	now, err := e.client.BlockTime(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading ledger clock: %w", err)
	}
	return now, nil
}

// emit encodes the event and submits it, returning once the ledger reports
// the transaction final.
func (e *Engine) emit(ctx context.Context, op Op, ev Event) (ids.ID, error) {
	data, err := ev.Serialize()
	if err != nil {
		return ids.Empty, fmt.Errorf("encoding %s: %w", ev.EventName(), err)
	}

	taskID, _ := EventTaskID(ev)
	txRef, err := e.client.Submit(ctx, e.config.Contract, ledger.Transition{
		Op:     op.String(),
		TaskID: taskID,
		Topics: []ids.ID{TopicID(EventSignatures[ev.EventName()])},
		Data:   data,
	})
	if err != nil {
		return ids.Empty, fmt.Errorf("%w: %v", ErrLedgerRejected, err)
	}
	return txRef, nil
}

func (e *Engine) apply(task *Task, ev Event) error {
	if err := task.Apply(ev); err != nil {
		return err
	}
	return nil
}

// settleHeld pays out exactly the held amount for a task. It runs before
// the terminal edge is taken, so a payout failure leaves the task fully
// unsettled and the operation retryable.
func (e *Engine) settleHeld(ctx context.Context, task *Task, recipient codec.Address) (uint64, error) {
	amount := e.held[task.ID]
	if amount == 0 {
		return 0, nil
	}
	if err := e.vault.Payout(ctx, recipient, amount); err != nil {
		return 0, fmt.Errorf("settlement to %s failed: %w", recipient, err)
	}
	return amount, nil
}

// unsettle reclaims a payout into custody when the terminal submission
// fails after the funds already moved.
func (e *Engine) unsettle(ctx context.Context, task *Task, recipient codec.Address, amount uint64) {
	if amount == 0 {
		return
	}
	if err := e.vault.Lock(ctx, recipient, amount); err != nil {
		e.log.Error(fmt.Sprintf("task %d: settlement rollback from %s failed: %v", task.ID, recipient, err))
	}
}

// finishSettle zeroes the held balance once the terminal transition is
// final on the ledger.
func (e *Engine) finishSettle(task *Task, recipient codec.Address, amount uint64) {
	if amount == 0 {
		return
	}
	e.held[task.ID] = 0
	e.log.Info(fmt.Sprintf("task %d settled: %d to %s", task.ID, amount, recipient))
}
