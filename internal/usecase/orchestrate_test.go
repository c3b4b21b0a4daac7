package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-plan/internal/domain"
)

// fakeChain hands out sequential addresses and fails on demand
type fakeChain struct {
	next   int
	calls  []string
	failOn func(op string, contract string) error
}

func (f *fakeChain) address() string {
	f.next++
	return fmt.Sprintf("0x%040x", f.next)
}

func (f *fakeChain) receipt() *domain.TransactionReceipt {
	block := uint64(len(f.calls))
	return &domain.TransactionReceipt{TxHash: fmt.Sprintf("0x%064x", len(f.calls)), Status: domain.ReceiptSuccess, BlockNumber: &block}
}

func (f *fakeChain) record(op, contract string) error {
	f.calls = append(f.calls, op+":"+contract)
	if f.failOn != nil {
		return f.failOn(op, contract)
	}
	return nil
}

func (f *fakeChain) DeployContract(_ context.Context, req DeployRequest) (*ChainDeployment, error) {
	if err := f.record("deploy", req.Contract); err != nil {
		return nil, err
	}
	return &ChainDeployment{Address: f.address(), Receipt: f.receipt()}, nil
}

func (f *fakeChain) DeployProxy(_ context.Context, req DeployProxyRequest) (*ChainDeployment, error) {
	if err := f.record("deploy_proxy", req.Contract); err != nil {
		return nil, err
	}
	impl := f.address()
	return &ChainDeployment{Address: f.address(), Implementation: impl, Receipt: f.receipt()}, nil
}

func (f *fakeChain) UpgradeProxy(_ context.Context, req UpgradeProxyRequest) (*ChainDeployment, error) {
	if err := f.record("upgrade_proxy", req.Contract); err != nil {
		return nil, err
	}
	return &ChainDeployment{Address: req.Proxy, Implementation: f.address(), Receipt: f.receipt()}, nil
}

func (f *fakeChain) Call(_ context.Context, req CallRequest) (*domain.TransactionReceipt, error) {
	if err := f.record("call", req.Method); err != nil {
		return nil, err
	}
	return f.receipt(), nil
}

// memLedger keeps records in memory
type memLedger struct {
	records   []*domain.LedgerRecord
	appendErr error
}

func (m *memLedger) Append(_ context.Context, record *domain.LedgerRecord) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.records = append(m.records, record)
	return nil
}

func (m *memLedger) Records(context.Context) ([]*domain.LedgerRecord, error) {
	return append([]*domain.LedgerRecord(nil), m.records...), nil
}

func (m *memLedger) Location() string { return "memory" }

type recordingProgress struct {
	NopProgress
	stages []string
}

func (r *recordingProgress) OnProgress(_ context.Context, event ProgressEvent) {
	r.stages = append(r.stages, event.Stage)
}

func newTestOrchestrator(chain ChainClient, ledger LedgerStore) *Orchestrator {
	o := NewOrchestrator(chain, ledger, NopProgress{}, NopMetrics{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	o.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return o
}

// tokenLockerPlan is the three step example: token, proxied locker, approval
func tokenLockerPlan() *domain.Plan {
	return &domain.Plan{
		Name: "token-locker",
		Steps: []domain.Step{
			domain.NewDeployStep("Token"),
			domain.NewDeployProxyStep("Locker"),
			domain.NewCallStep("Locker.address", "approve", "Token.address", 1000000),
		},
	}
}

func TestRun_TokenLockerExample(t *testing.T) {
	chain := &fakeChain{}
	ledger := &memLedger{}
	progress := &recordingProgress{}
	o := newTestOrchestrator(chain, ledger)
	o.progress = progress

	result, err := o.Run(context.Background(), tokenLockerPlan())
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, 3, result.Submitted)

	require.Len(t, result.Artifacts, 2)
	token := result.Artifacts["Token"]
	locker := result.Artifacts["Locker"]
	require.NotNil(t, token)
	require.NotNil(t, locker)
	assert.False(t, token.IsProxy)
	assert.True(t, locker.IsProxy)
	assert.Len(t, locker.ImplementationHistory, 1)

	require.Len(t, ledger.records, 3)
	for i, record := range ledger.records {
		assert.True(t, record.Succeeded(), "record %d", i)
		assert.Equal(t, result.RunID, record.RunID)
	}
	assert.Equal(t, domain.StepDeploy, ledger.records[0].Step.Kind)
	assert.Equal(t, domain.StepDeployProxy, ledger.records[1].Step.Kind)
	assert.Equal(t, domain.StepCall, ledger.records[2].Step.Kind)
	assert.Equal(t, locker.Address, ledger.records[2].Outcome.Result.Target)

	assert.Equal(t, []string{
		StagePlanValidated,
		StageStepSubmitted, StageStepConfirmed,
		StageStepSubmitted, StageStepConfirmed,
		StageStepSubmitted, StageStepConfirmed,
		StageRunCompleted,
	}, progress.stages)
}

func TestRun_SecondRunSubmitsNothing(t *testing.T) {
	chain := &fakeChain{}
	ledger := &memLedger{}

	first, err := newTestOrchestrator(chain, ledger).Run(context.Background(), tokenLockerPlan())
	require.NoError(t, err)
	submitted := len(chain.calls)

	second, err := newTestOrchestrator(chain, ledger).Run(context.Background(), tokenLockerPlan())
	require.NoError(t, err)

	assert.Len(t, chain.calls, submitted)
	assert.Equal(t, 0, second.Submitted)
	assert.Equal(t, 3, second.Skipped)
	assert.Len(t, ledger.records, 3)
	assert.Equal(t, first.Artifacts, second.Artifacts)
}

func TestRun_ResumeAfterTruncatedLedger(t *testing.T) {
	plan := tokenLockerPlan()

	reference := &memLedger{}
	full, err := newTestOrchestrator(&fakeChain{}, reference).Run(context.Background(), plan)
	require.NoError(t, err)

	for k := 0; k <= len(plan.Steps); k++ {
		t.Run(fmt.Sprintf("after %d records", k), func(t *testing.T) {
			ledger := &memLedger{records: append([]*domain.LedgerRecord(nil), reference.records[:k]...)}
			// Continue address allocation where the interrupted run stopped
			chain := &fakeChain{next: addressesUsedBy(plan.Steps[:k])}

			result, err := newTestOrchestrator(chain, ledger).Run(context.Background(), plan)
			require.NoError(t, err)

			assert.Len(t, chain.calls, len(plan.Steps)-k)
			assert.Equal(t, k, result.Skipped)
			assert.Equal(t, full.Artifacts, result.Artifacts)
			assert.Len(t, ledger.records, len(plan.Steps))
		})
	}
}

func addressesUsedBy(steps []domain.Step) int {
	n := 0
	for _, s := range steps {
		switch s.Kind {
		case domain.StepDeploy, domain.StepUpgradeProxy:
			n++
		case domain.StepDeployProxy:
			n += 2
		}
	}
	return n
}

func TestRun_UnknownProxyMakesNoChainCalls(t *testing.T) {
	chain := &fakeChain{}
	ledger := &memLedger{}
	plan := &domain.Plan{Steps: []domain.Step{
		domain.NewDeployStep("Token"),
		domain.NewUpgradeProxyStep("X", "TokenLockerV2"),
	}}

	result, err := newTestOrchestrator(chain, ledger).Run(context.Background(), plan)

	var depErr *domain.DependencyOrderError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, 1, depErr.StepIndex)
	assert.Empty(t, chain.calls)
	assert.Empty(t, ledger.records)
	assert.False(t, result.Completed)
}

func TestRun_FailureOnCallThenResume(t *testing.T) {
	chain := &fakeChain{failOn: func(op, _ string) error {
		if op == "call" {
			return errors.New("execution reverted: insufficient allowance")
		}
		return nil
	}}
	ledger := &memLedger{}

	result, err := newTestOrchestrator(chain, ledger).Run(context.Background(), tokenLockerPlan())

	var chainErr *domain.ChainSubmissionError
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, 2, chainErr.StepIndex)
	assert.Contains(t, chainErr.Reason, "insufficient allowance")

	require.NotNil(t, result.FailedStep)
	assert.Equal(t, domain.StateFailed, result.FailedStep.State)
	assert.Len(t, result.Artifacts, 2)
	assert.Contains(t, result.Artifacts, "Token")
	assert.Contains(t, result.Artifacts, "Locker")

	require.Len(t, ledger.records, 3)
	assert.True(t, ledger.records[0].Succeeded())
	assert.True(t, ledger.records[1].Succeeded())
	assert.Equal(t, domain.OutcomeFailure, ledger.records[2].Outcome.Status)
	assert.Contains(t, ledger.records[2].Outcome.Reason, "insufficient allowance")

	// Retry with a healthy chain: only the call goes out
	retry := &fakeChain{next: chain.next}
	resumed, err := newTestOrchestrator(retry, ledger).Run(context.Background(), tokenLockerPlan())
	require.NoError(t, err)
	assert.Equal(t, []string{"call:approve"}, retry.calls)
	assert.Equal(t, 2, resumed.Skipped)
	assert.Equal(t, result.Artifacts, resumed.Artifacts)
	assert.Len(t, ledger.records, 4)
}

func TestRun_RevertedReceiptIsChainFailure(t *testing.T) {
	chain := &revertingChain{fakeChain: &fakeChain{}}
	ledger := &memLedger{}

	_, err := newTestOrchestrator(chain, ledger).Run(context.Background(), tokenLockerPlan())

	var chainErr *domain.ChainSubmissionError
	require.ErrorAs(t, err, &chainErr)
	assert.ErrorIs(t, err, domain.ErrTransactionReverted)
	assert.Equal(t, 2, chainErr.StepIndex)
}

type revertingChain struct {
	*fakeChain
}

func (r *revertingChain) Call(ctx context.Context, req CallRequest) (*domain.TransactionReceipt, error) {
	receipt, err := r.fakeChain.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	receipt.Status = domain.ReceiptFailure
	return receipt, nil
}

func TestRun_LedgerWriteFailureIsFatal(t *testing.T) {
	chain := &fakeChain{}
	ledger := &memLedger{appendErr: errors.New("disk full")}

	result, err := newTestOrchestrator(chain, ledger).Run(context.Background(), tokenLockerPlan())

	var writeErr *domain.LedgerWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, 0, writeErr.StepIndex)
	assert.Len(t, chain.calls, 1)
	// The contract exists on chain even though it could not be recorded
	assert.Contains(t, result.Artifacts, "Token")
}

func TestRun_LedgerWriteFailureAfterChainFailure(t *testing.T) {
	chain := &fakeChain{failOn: func(string, string) error { return errors.New("nonce too low") }}
	ledger := &memLedger{appendErr: errors.New("read-only file system")}

	_, err := newTestOrchestrator(chain, ledger).Run(context.Background(), tokenLockerPlan())

	var chainErr *domain.ChainSubmissionError
	var writeErr *domain.LedgerWriteError
	assert.ErrorAs(t, err, &chainErr)
	assert.ErrorAs(t, err, &writeErr)
}

func TestRun_MismatchedLedgerRecord(t *testing.T) {
	plan := tokenLockerPlan()
	ledger := &memLedger{}
	_, err := newTestOrchestrator(&fakeChain{}, ledger).Run(context.Background(), plan)
	require.NoError(t, err)

	t.Run("recorded call went elsewhere", func(t *testing.T) {
		tampered := cloneLedger(ledger)
		tampered.records[2].Outcome.Result.Target = fmt.Sprintf("0x%040x", 999)

		chain := &fakeChain{}
		_, err := newTestOrchestrator(chain, tampered).Run(context.Background(), plan)

		var mismatch *domain.AlreadyResolvedMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 2, mismatch.StepIndex)
		assert.Empty(t, chain.calls)
	})

	t.Run("record step does not hash to key", func(t *testing.T) {
		tampered := cloneLedger(ledger)
		tampered.records[0].Step.Contract = "OtherToken"

		chain := &fakeChain{}
		_, err := newTestOrchestrator(chain, tampered).Run(context.Background(), plan)

		var mismatch *domain.AlreadyResolvedMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, -1, mismatch.StepIndex)
		assert.Empty(t, chain.calls)
	})

	t.Run("conflicting success records", func(t *testing.T) {
		tampered := cloneLedger(ledger)
		dup := *tampered.records[0]
		dup.Outcome.Result = &domain.StepResult{Contract: &domain.DeployedContract{Name: "Token", ContractName: "Token", Address: fmt.Sprintf("0x%040x", 77)}}
		tampered.records = append(tampered.records, &dup)

		_, err := newTestOrchestrator(&fakeChain{}, tampered).Run(context.Background(), plan)
		var mismatch *domain.AlreadyResolvedMismatchError
		assert.ErrorAs(t, err, &mismatch)
	})

	t.Run("unchanged ledger still replays", func(t *testing.T) {
		chain := &fakeChain{}
		_, err := newTestOrchestrator(chain, cloneLedger(ledger)).Run(context.Background(), plan)
		assert.NoError(t, err)
		assert.Empty(t, chain.calls)
	})
}

func cloneLedger(src *memLedger) *memLedger {
	out := &memLedger{}
	for _, r := range src.records {
		cp := *r
		if r.Outcome.Result != nil {
			res := *r.Outcome.Result
			res.Contract = r.Outcome.Result.Contract.Clone()
			cp.Outcome.Result = &res
		}
		out.records = append(out.records, &cp)
	}
	return out
}

func TestRun_RepeatedIdenticalSteps(t *testing.T) {
	plan := &domain.Plan{Steps: []domain.Step{
		domain.NewDeployStep("Token"),
		domain.NewCallStep("Token", "mint", 100),
		domain.NewCallStep("Token", "mint", 100),
	}}
	chain := &fakeChain{}
	ledger := &memLedger{}

	_, err := newTestOrchestrator(chain, ledger).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy:Token", "call:mint", "call:mint"}, chain.calls)
	assert.Equal(t, 0, ledger.records[1].Occurrence)
	assert.Equal(t, 1, ledger.records[2].Occurrence)

	// Drop the second mint: only that one is resubmitted
	ledger.records = ledger.records[:2]
	retry := &fakeChain{next: chain.next}
	_, err = newTestOrchestrator(retry, ledger).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"call:mint"}, retry.calls)
}

func TestRun_UpgradeImportedProxy(t *testing.T) {
	const proxy = "0x04F64f32C4185556397dC4f66B84572C44094812"
	plan := &domain.Plan{
		Imports: []domain.Import{{Name: "Locker", Contract: "TokenLocker", Address: proxy, Proxy: true}},
		Steps: []domain.Step{
			domain.NewUpgradeProxyStep("Locker", "TokenLockerV2"),
			domain.NewCallStep("Locker", "pin", "Locker.implementation"),
		},
	}
	chain := &fakeChain{}
	ledger := &memLedger{}

	result, err := newTestOrchestrator(chain, ledger).Run(context.Background(), plan)
	require.NoError(t, err)

	locker := result.Artifacts["Locker"]
	assert.Equal(t, proxy, locker.Address)
	assert.Equal(t, "TokenLockerV2", locker.ContractName)
	assert.Equal(t, []string{fmt.Sprintf("0x%040x", 1)}, locker.ImplementationHistory)

	// Replaying rebuilds the same history
	replayed, err := newTestOrchestrator(&fakeChain{}, ledger).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, result.Artifacts, replayed.Artifacts)
}

func TestRun_CancelledBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chain := &fakeChain{failOn: func(op, _ string) error {
		if op == "deploy" {
			cancel()
		}
		return nil
	}}
	ledger := &memLedger{}

	result, err := newTestOrchestrator(chain, ledger).Run(ctx, tokenLockerPlan())

	assert.ErrorIs(t, err, context.Canceled)
	// The in-flight deploy completed and was recorded; nothing after it ran
	assert.Equal(t, []string{"deploy:Token"}, chain.calls)
	require.Len(t, ledger.records, 1)
	assert.True(t, ledger.records[0].Succeeded())
	assert.Contains(t, result.Artifacts, "Token")
}

func TestPreview(t *testing.T) {
	chain := &fakeChain{failOn: func(op, _ string) error {
		if op == "call" {
			return errors.New("reverted")
		}
		return nil
	}}
	ledger := &memLedger{}
	o := newTestOrchestrator(chain, ledger)
	_, _ = o.Run(context.Background(), tokenLockerPlan())

	preview, err := o.Preview(context.Background(), tokenLockerPlan())
	require.NoError(t, err)
	previews := preview.Steps
	require.Len(t, previews, 3)
	assert.Equal(t, domain.StateConfirmed, previews[0].State)
	assert.Equal(t, domain.StateConfirmed, previews[1].State)
	assert.Equal(t, domain.StateFailed, previews[2].State)
	assert.Equal(t, "reverted", previews[2].LastRecord.Outcome.Reason)
	assert.Equal(t, []*StepPreview{previews[2]}, preview.Pending())
	assert.Contains(t, preview.Artifacts, "Token")
	assert.True(t, preview.Artifacts["Locker"].IsProxy)

	status, err := o.Status(context.Background())
	require.NoError(t, err)
	assert.Len(t, status, 3)
}

func TestPreview_ReplaysConfirmedSteps(t *testing.T) {
	plan := tokenLockerPlan()
	ledger := &memLedger{}
	_, err := newTestOrchestrator(&fakeChain{}, ledger).Run(context.Background(), plan)
	require.NoError(t, err)

	t.Run("contradicting record is fatal", func(t *testing.T) {
		tampered := cloneLedger(ledger)
		tampered.records[2].Outcome.Result.Target = fmt.Sprintf("0x%040x", 999)

		_, err := newTestOrchestrator(&fakeChain{}, tampered).Preview(context.Background(), plan)
		var mismatch *domain.AlreadyResolvedMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 2, mismatch.StepIndex)
	})

	t.Run("record behind a pending producer is not judged yet", func(t *testing.T) {
		partial := cloneLedger(ledger)
		partial.records = []*domain.LedgerRecord{partial.records[0], partial.records[2]}

		preview, err := newTestOrchestrator(&fakeChain{}, partial).Preview(context.Background(), plan)
		require.NoError(t, err)
		assert.Equal(t, domain.StateConfirmed, preview.Steps[0].State)
		assert.Equal(t, domain.StatePending, preview.Steps[1].State)
		assert.Equal(t, domain.StateConfirmed, preview.Steps[2].State)
		assert.NotContains(t, preview.Artifacts, "Locker")
	})

	t.Run("confirmed upgrade moves the imported proxy", func(t *testing.T) {
		const proxy = "0x04F64f32C4185556397dC4f66B84572C44094812"
		upgrade := &domain.Plan{
			Imports: []domain.Import{{Name: "Locker", Address: proxy, Proxy: true, Implementation: fmt.Sprintf("0x%040x", 50)}},
			Steps:   []domain.Step{domain.NewUpgradeProxyStep("Locker", "TokenLockerV2")},
		}
		upgradeLedger := &memLedger{}
		_, err := newTestOrchestrator(&fakeChain{}, upgradeLedger).Run(context.Background(), upgrade)
		require.NoError(t, err)

		preview, err := newTestOrchestrator(&fakeChain{}, upgradeLedger).Preview(context.Background(), upgrade)
		require.NoError(t, err)
		assert.Empty(t, preview.Pending())
		assert.Equal(t, fmt.Sprintf("0x%040x", 1), preview.Artifacts["Locker"].Implementation())
	})
}

type mockChain struct {
	mock.Mock
}

func (m *mockChain) DeployContract(ctx context.Context, req DeployRequest) (*ChainDeployment, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChainDeployment), args.Error(1)
}

func (m *mockChain) DeployProxy(ctx context.Context, req DeployProxyRequest) (*ChainDeployment, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChainDeployment), args.Error(1)
}

func (m *mockChain) UpgradeProxy(ctx context.Context, req UpgradeProxyRequest) (*ChainDeployment, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChainDeployment), args.Error(1)
}

func (m *mockChain) Call(ctx context.Context, req CallRequest) (*domain.TransactionReceipt, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TransactionReceipt), args.Error(1)
}

func TestRun_ResolvesReferencesBeforeSubmission(t *testing.T) {
	const (
		tokenAddr  = "0x1111111111111111111111111111111111111111"
		lockerAddr = "0x2222222222222222222222222222222222222222"
		lockerImpl = "0x3333333333333333333333333333333333333333"
	)
	ok := &domain.TransactionReceipt{TxHash: "0xabc", Status: domain.ReceiptSuccess}

	chain := &mockChain{}
	chain.On("DeployContract", mock.Anything, DeployRequest{Contract: "ERC20Token", Args: []any{"AOCTOKEN", "AOC"}}).
		Return(&ChainDeployment{Address: tokenAddr, Receipt: ok}, nil).Once()
	chain.On("DeployProxy", mock.Anything, DeployProxyRequest{Contract: "TokenLocker", Initializer: "initialize", Args: []any{tokenAddr}}).
		Return(&ChainDeployment{Address: lockerAddr, Implementation: lockerImpl, Receipt: ok}, nil).Once()
	chain.On("Call", mock.Anything, CallRequest{Target: tokenAddr, Contract: "ERC20Token", Method: "approve", Args: []any{lockerAddr, "1000000e18"}}).
		Return(ok, nil).Once()

	plan := &domain.Plan{Steps: []domain.Step{
		domain.NewDeployStep("ERC20Token", "AOCTOKEN", "AOC"),
		domain.NewDeployProxyStep("TokenLocker", "ERC20Token.address").Named("Locker"),
		domain.NewCallStep("ERC20Token", "approve", "Locker.address", "1000000e18"),
	}}

	result, err := newTestOrchestrator(chain, &memLedger{}).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, lockerImpl, result.Artifacts["Locker"].Implementation())
	chain.AssertExpectations(t)
}
