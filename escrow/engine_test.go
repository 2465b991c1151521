package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/logging"
	"github.com/ava-labs/hypersdk/codec"
	"github.com/stretchr/testify/require"

	"github.com/ratnathegod/satellite-sla-marketplace/content"
	"github.com/ratnathegod/satellite-sla-marketplace/ledger"
)

const (
	genesisTime = uint64(1_700_000_000)
	day         = uint64(24 * 60 * 60)
)

type testSetup struct {
	ctx       context.Context
	engine    *Engine
	chain     *ledger.Memory
	vault     *MemVault
	store     *content.MemStore
	requester codec.Address
	operator  codec.Address
	arbiter   codec.Address
	manifest  string
}

func newTestSetup(t *testing.T) *testSetup {
	require := require.New(t)
	ctx := context.Background()

	store := content.NewMemStore()
	resolver, err := content.NewResolver(store, nil, logging.NoLog{})
	require.NoError(err)

	chain := ledger.NewMemory(genesisTime)
	vault := NewMemVault()

	requester := codec.CreateAddress(1, ids.GenerateTestID())
	operator := codec.CreateAddress(2, ids.GenerateTestID())
	arbiter := codec.CreateAddress(3, ids.GenerateTestID())

	cfg := &Config{
		Contract:     codec.CreateAddress(0, ids.GenerateTestID()),
		PaymentToken: codec.CreateAddress(4, ids.GenerateTestID()),
		Arbiter:      arbiter,
		ProofWindow:  7 * day,
	}
	engine, err := NewEngine(cfg, chain, vault, resolver, logging.NoLog{})
	require.NoError(err)

	manifest, err := store.Put(ctx, []byte(`{"target":"LEO imaging pass"}`))
	require.NoError(err)

	vault.Credit(requester, 1000)

	return &testSetup{
		ctx:       ctx,
		engine:    engine,
		chain:     chain,
		vault:     vault,
		store:     store,
		requester: requester,
		operator:  operator,
		arbiter:   arbiter,
		manifest:  manifest,
	}
}

func (ts *testSetup) createFunded(t *testing.T, amount uint64) uint64 {
	require := require.New(t)
	id, err := ts.engine.CreateTask(ts.ctx, ts.requester, ts.manifest, amount, genesisTime+7*day)
	require.NoError(err)
	require.NoError(ts.engine.FundTask(ts.ctx, ts.requester, id))
	return id
}

func (ts *testSetup) putProof(t *testing.T) string {
	ref, err := ts.store.Put(ts.ctx, []byte("sar-image-bundle"))
	require.NoError(t, err)
	return ref
}

func TestReleaseLifecycle(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t)

	id := ts.createFunded(t, 100)
	require.Equal(uint64(900), ts.vault.Balance(ts.requester))
	require.Equal(uint64(100), ts.engine.HeldFor(id))

	require.NoError(ts.engine.AcceptTask(ts.ctx, ts.operator, id))

	proof := ts.putProof(t)
	require.NoError(ts.engine.SubmitProof(ts.ctx, ts.operator, id, proof))
	require.NoError(ts.engine.ReleasePayment(ts.ctx, ts.requester, id))

	task, err := ts.engine.Task(id)
	require.NoError(err)
	require.Equal(StatusReleased, task.Status)
	require.Equal(proof, task.ProofRef)
	require.Equal(uint64(100), ts.vault.Balance(ts.operator))
	require.Zero(ts.engine.HeldFor(id))
	require.Zero(ts.vault.Held())
}

func TestDisputeResolvedForOperator(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t)

	id := ts.createFunded(t, 100)
	require.NoError(ts.engine.AcceptTask(ts.ctx, ts.operator, id))
	require.NoError(ts.engine.SubmitProof(ts.ctx, ts.operator, id, ts.putProof(t)))
	require.NoError(ts.engine.DisputeTask(ts.ctx, ts.requester, id))

	// Only the arbiter may resolve.
	err := ts.engine.ResolveDispute(ts.ctx, ts.requester, id, true)
	require.ErrorIs(err, ErrWrongCaller)

	require.NoError(ts.engine.ResolveDispute(ts.ctx, ts.arbiter, id, true))

	task, err := ts.engine.Task(id)
	require.NoError(err)
	require.Equal(StatusResolved, task.Status)
	require.Equal(uint64(100), ts.vault.Balance(ts.operator))
	require.Equal(uint64(900), ts.vault.Balance(ts.requester))
}

func TestDisputeResolvedForRequester(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t)

	id := ts.createFunded(t, 250)
	require.NoError(ts.engine.AcceptTask(ts.ctx, ts.operator, id))
	require.NoError(ts.engine.SubmitProof(ts.ctx, ts.operator, id, ts.putProof(t)))
	require.NoError(ts.engine.DisputeTask(ts.ctx, ts.requester, id))
	require.NoError(ts.engine.ResolveDispute(ts.ctx, ts.arbiter, id, false))

	require.Equal(uint64(1000), ts.vault.Balance(ts.requester))
	require.Zero(ts.vault.Balance(ts.operator))
	require.Zero(ts.vault.Held())
}

func TestCancelRefundsRequester(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t)

	id := ts.createFunded(t, 100)
	require.NoError(ts.engine.CancelTask(ts.ctx, ts.requester, id))

	task, err := ts.engine.Task(id)
	require.NoError(err)
	require.Equal(StatusCancelled, task.Status)
	require.Equal(uint64(1000), ts.vault.Balance(ts.requester))
	require.Zero(ts.vault.Held())

	// The cancelled task is closed to acceptance for good.
	err = ts.engine.AcceptTask(ts.ctx, ts.operator, id)
	require.ErrorIs(err, ErrInvalidTransition)
}

func TestCancelAfterProofDeadline(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t)

	id := ts.createFunded(t, 100)
	require.NoError(ts.engine.AcceptTask(ts.ctx, ts.operator, id))

	// Before the proof window closes nobody may force a cancel.
	err := ts.engine.CancelTask(ts.ctx, ts.requester, id)
	require.ErrorIs(err, ErrProofWindowOpen)

	ts.chain.AdvanceTime(15 * day)
	require.NoError(ts.engine.CancelTask(ts.ctx, ts.operator, id))

	task, err := ts.engine.Task(id)
	require.NoError(err)
	require.Equal(StatusCancelled, task.Status)
	require.Equal(uint64(1000), ts.vault.Balance(ts.requester))
}

func TestReplayRejectedAsAlreadyApplied(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t)

	id := ts.createFunded(t, 100)

	err := ts.engine.FundTask(ts.ctx, ts.requester, id)
	require.ErrorIs(err, ErrAlreadyApplied)

	// Funds were locked exactly once.
	require.Equal(uint64(900), ts.vault.Balance(ts.requester))
	require.Equal(uint64(100), ts.engine.HeldFor(id))
}

func TestDoubleReleaseRejected(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t)

	id := ts.createFunded(t, 100)
	require.NoError(ts.engine.AcceptTask(ts.ctx, ts.operator, id))
	require.NoError(ts.engine.SubmitProof(ts.ctx, ts.operator, id, ts.putProof(t)))
	require.NoError(ts.engine.ReleasePayment(ts.ctx, ts.requester, id))

	err := ts.engine.ReleasePayment(ts.ctx, ts.requester, id)
	require.ErrorIs(err, ErrAlreadyApplied)
	require.Equal(uint64(100), ts.vault.Balance(ts.operator))

	err = ts.engine.DisputeTask(ts.ctx, ts.requester, id)
	require.ErrorIs(err, ErrInvalidTransition)
}

func TestPreconditionFailures(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t)

	_, err := ts.engine.CreateTask(ts.ctx, ts.requester, ts.manifest, 0, genesisTime+day)
	require.ErrorIs(err, ErrZeroAmount)

	_, err = ts.engine.CreateTask(ts.ctx, ts.requester, ts.manifest, 100, genesisTime)
	require.ErrorIs(err, ErrDeadlineElapsed)

	_, err = ts.engine.CreateTask(ts.ctx, ts.requester, "missing-manifest", 100, genesisTime+day)
	require.ErrorIs(err, content.ErrContentUnavailable)

	id, err := ts.engine.CreateTask(ts.ctx, ts.requester, ts.manifest, 100, genesisTime+day)
	require.NoError(err)

	// Only the requester funds.
	err = ts.engine.FundTask(ts.ctx, ts.operator, id)
	require.ErrorIs(err, ErrWrongCaller)

	// The requester cannot take their own task.
	require.NoError(ts.engine.FundTask(ts.ctx, ts.requester, id))
	err = ts.engine.AcceptTask(ts.ctx, ts.requester, id)
	require.ErrorIs(err, ErrWrongCaller)

	// Acceptance closes at the deadline.
	ts.chain.AdvanceTime(2 * day)
	err = ts.engine.AcceptTask(ts.ctx, ts.operator, id)
	require.ErrorIs(err, ErrDeadlineElapsed)
}

func TestFundingPastDeadlineRejected(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t)

	id, err := ts.engine.CreateTask(ts.ctx, ts.requester, ts.manifest, 100, genesisTime+day)
	require.NoError(err)

	ts.chain.AdvanceTime(2 * day)
	err = ts.engine.FundTask(ts.ctx, ts.requester, id)
	require.ErrorIs(err, ErrDeadlineElapsed)
	require.Equal(uint64(1000), ts.vault.Balance(ts.requester))
}

func TestInsufficientFundsRejectedAtFunding(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t)

	id, err := ts.engine.CreateTask(ts.ctx, ts.requester, ts.manifest, 5000, genesisTime+day)
	require.NoError(err)

	err = ts.engine.FundTask(ts.ctx, ts.requester, id)
	require.ErrorIs(err, ErrLedgerRejected)

	task, err := ts.engine.Task(id)
	require.NoError(err)
	require.Equal(StatusCreated, task.Status)
	require.Zero(ts.vault.Held())
}

func TestLedgerRejectionLeavesStateUntouched(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t)

	id := ts.createFunded(t, 100)
	ts.chain.SetRejecting(true)

	err := ts.engine.AcceptTask(ts.ctx, ts.operator, id)
	require.ErrorIs(err, ErrLedgerRejected)

	task, err := ts.engine.Task(id)
	require.NoError(err)
	require.Equal(StatusFunded, task.Status)
	require.False(task.HasOperator())

	// Funding rollback returns the lock on submission failure.
	id2, err := ts.engine.CreateTask(ts.ctx, ts.requester, ts.manifest, 100, genesisTime+day)
	require.ErrorIs(err, ErrLedgerRejected)
	require.Zero(id2)

	ts.chain.SetRejecting(false)
	require.NoError(ts.engine.AcceptTask(ts.ctx, ts.operator, id))
}

func TestFundRollbackOnSubmissionFailure(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t)

	id, err := ts.engine.CreateTask(ts.ctx, ts.requester, ts.manifest, 100, genesisTime+day)
	require.NoError(err)

	ts.chain.SetRejecting(true)
	err = ts.engine.FundTask(ts.ctx, ts.requester, id)
	require.ErrorIs(err, ErrLedgerRejected)

	require.Equal(uint64(1000), ts.vault.Balance(ts.requester))
	require.Zero(ts.vault.Held())

	task, err := ts.engine.Task(id)
	require.NoError(err)
	require.Equal(StatusCreated, task.Status)
}

// flakyVault fails a fixed number of payouts before recovering, standing in
// for a token bridge that drops submissions under load.
type flakyVault struct {
	*MemVault
	failPayouts int
}

func (v *flakyVault) Payout(ctx context.Context, to codec.Address, amount uint64) error {
	if v.failPayouts > 0 {
		v.failPayouts--
		return errors.New("bridge unavailable")
	}
	return v.MemVault.Payout(ctx, to, amount)
}

func newFlakySetup(t *testing.T, failPayouts int) (*testSetup, *flakyVault) {
	require := require.New(t)
	ts := newTestSetup(t)

	vault := &flakyVault{MemVault: ts.vault, failPayouts: failPayouts}
	engine, err := NewEngine(&Config{
		Contract:     codec.CreateAddress(0, ids.GenerateTestID()),
		PaymentToken: codec.CreateAddress(4, ids.GenerateTestID()),
		Arbiter:      ts.arbiter,
		ProofWindow:  7 * day,
	}, ts.chain, vault, ts.engine.resolver, logging.NoLog{})
	require.NoError(err)
	ts.engine = engine
	return ts, vault
}

func TestReleaseSurvivesPayoutFailure(t *testing.T) {
	require := require.New(t)
	ts, _ := newFlakySetup(t, 1)

	id := ts.createFunded(t, 100)
	require.NoError(ts.engine.AcceptTask(ts.ctx, ts.operator, id))
	require.NoError(ts.engine.SubmitProof(ts.ctx, ts.operator, id, ts.putProof(t)))

	// The first release hits the payout failure. The task must stay
	// Submitted with the escrow intact so the caller can retry.
	err := ts.engine.ReleasePayment(ts.ctx, ts.requester, id)
	require.Error(err)

	task, err := ts.engine.Task(id)
	require.NoError(err)
	require.Equal(StatusSubmitted, task.Status)
	require.Equal(uint64(100), ts.engine.HeldFor(id))
	require.Zero(ts.vault.Balance(ts.operator))

	require.NoError(ts.engine.ReleasePayment(ts.ctx, ts.requester, id))

	task, err = ts.engine.Task(id)
	require.NoError(err)
	require.Equal(StatusReleased, task.Status)
	require.Equal(uint64(100), ts.vault.Balance(ts.operator))
	require.Zero(ts.engine.HeldFor(id))
}

func TestResolveSurvivesPayoutFailure(t *testing.T) {
	require := require.New(t)
	ts, _ := newFlakySetup(t, 1)

	id := ts.createFunded(t, 250)
	require.NoError(ts.engine.AcceptTask(ts.ctx, ts.operator, id))
	require.NoError(ts.engine.SubmitProof(ts.ctx, ts.operator, id, ts.putProof(t)))
	require.NoError(ts.engine.DisputeTask(ts.ctx, ts.requester, id))

	err := ts.engine.ResolveDispute(ts.ctx, ts.arbiter, id, false)
	require.Error(err)

	task, err := ts.engine.Task(id)
	require.NoError(err)
	require.Equal(StatusDisputed, task.Status)
	require.Equal(uint64(250), ts.engine.HeldFor(id))
	require.Equal(uint64(750), ts.vault.Balance(ts.requester))

	require.NoError(ts.engine.ResolveDispute(ts.ctx, ts.arbiter, id, false))
	require.Equal(uint64(1000), ts.vault.Balance(ts.requester))
	require.Zero(ts.vault.Held())
}

func TestAcceptRaceLoserGetsInvalidTransition(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t)

	id := ts.createFunded(t, 100)
	require.NoError(ts.engine.AcceptTask(ts.ctx, ts.operator, id))

	// A second operator racing for the same task is rejected on stale
	// state, not treated as a replay of the winner's acceptance.
	rival := codec.CreateAddress(5, ids.GenerateTestID())
	err := ts.engine.AcceptTask(ts.ctx, rival, id)
	require.ErrorIs(err, ErrInvalidTransition)
	require.NotErrorIs(err, ErrAlreadyApplied)

	// The winner re-sending its own acceptance is the true replay.
	err = ts.engine.AcceptTask(ts.ctx, ts.operator, id)
	require.ErrorIs(err, ErrAlreadyApplied)

	task, err := ts.engine.Task(id)
	require.NoError(err)
	require.Equal(ts.operator, task.Operator)
}

func TestMonotonicTaskIDs(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t)

	first, err := ts.engine.CreateTask(ts.ctx, ts.requester, ts.manifest, 10, genesisTime+day)
	require.NoError(err)
	second, err := ts.engine.CreateTask(ts.ctx, ts.requester, ts.manifest, 10, genesisTime+day)
	require.NoError(err)

	require.Equal(first+1, second)
	require.Equal(second, ts.engine.TaskCounter())
}

func TestProofPolicyEnforced(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t)

	id := ts.createFunded(t, 100)
	require.NoError(ts.engine.AcceptTask(ts.ctx, ts.operator, id))

	err := ts.engine.SubmitProof(ts.ctx, ts.operator, id, "missing-proof")
	require.ErrorIs(err, content.ErrContentUnavailable)

	// Submission after the proof deadline is closed.
	ts.chain.AdvanceTime(15 * day)
	err = ts.engine.SubmitProof(ts.ctx, ts.operator, id, ts.putProof(t))
	require.ErrorIs(err, ErrDeadlineElapsed)
}
