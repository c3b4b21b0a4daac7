package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/trebuchet-org/treb-plan/internal/domain"
)

// Orchestrator executes a deployment plan step by step against a chain
// client, recording every resolved step in the ledger so that a rerun of
// the same plan only submits what has not been confirmed yet.
type Orchestrator struct {
	chain    ChainClient
	ledger   LedgerStore
	progress ProgressSink
	metrics  StepMetrics
	log      *slog.Logger

	newRunID func() string
	now      func() time.Time
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	chain ChainClient,
	ledger LedgerStore,
	progress ProgressSink,
	metrics StepMetrics,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		chain:    chain,
		ledger:   ledger,
		progress: progress,
		metrics:  metrics,
		log:      log,
		newRunID: uuid.NewString,
		now:      time.Now,
	}
}

// StepReport tracks one plan step through a run
type StepReport struct {
	Index   int
	Step    domain.Step
	Key     domain.StepKey
	State   domain.StepState
	Skipped bool
	Result  *domain.StepResult
	Err     error
	Elapsed time.Duration
}

// RunResult is the outcome of a run. Artifacts always holds everything
// produced or replayed so far, including on failure.
type RunResult struct {
	RunID      string
	Plan       *domain.Plan
	Artifacts  map[string]*domain.DeployedContract
	Steps      []*StepReport
	FailedStep *StepReport
	Submitted  int
	Skipped    int
	Completed  bool
}

// StepPreview is the ledger-derived state of a plan step before running it
type StepPreview struct {
	Index      int
	Step       domain.Step
	Key        domain.StepKey
	State      domain.StepState
	LastRecord *domain.LedgerRecord
}

// Run validates the plan, then executes every step not already confirmed
// in the ledger, in order. The first failure halts the run.
func (o *Orchestrator) Run(ctx context.Context, plan *domain.Plan) (*RunResult, error) {
	result := &RunResult{
		RunID:     o.newRunID(),
		Plan:      plan,
		Artifacts: make(map[string]*domain.DeployedContract),
	}

	index, keys, err := o.prepare(ctx, plan)
	if err != nil {
		return result, err
	}

	for _, imp := range plan.Imports {
		result.Artifacts[imp.Name] = imp.Artifact()
	}

	o.progress.OnProgress(ctx, ProgressEvent{
		Stage:    StagePlanValidated,
		Total:    len(plan.Steps),
		Metadata: plan,
	})
	o.log.Debug("starting run", "run", result.RunID, "plan", plan.Name, "steps", len(plan.Steps), "ledger", o.ledger.Location())

	for i, step := range plan.Steps {
		// Cancellation is only honoured between steps
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("run interrupted before step %d: %w", i+1, err)
		}

		report := &StepReport{Index: i, Step: step, Key: keys[i], State: domain.StatePending}
		result.Steps = append(result.Steps, report)

		if record, ok := index.confirmed[keys[i]]; ok {
			if err := o.replay(report, record, result.Artifacts); err != nil {
				report.Err = err
				result.FailedStep = report
				return result, err
			}
			report.State = domain.StateConfirmed
			report.Skipped = true
			report.Result = record.Outcome.Result
			result.Skipped++

			o.metrics.StepSkipped(step.Kind)
			o.progress.OnProgress(ctx, ProgressEvent{
				Stage:    StageStepSkipped,
				Current:  i + 1,
				Total:    len(plan.Steps),
				Message:  step.Describe(),
				Metadata: report,
			})
			continue
		}

		if err := o.execute(ctx, report, result); err != nil {
			return result, err
		}
	}

	result.Completed = true
	o.progress.OnProgress(ctx, ProgressEvent{
		Stage:    StageRunCompleted,
		Current:  len(plan.Steps),
		Total:    len(plan.Steps),
		Metadata: result,
	})
	return result, nil
}

// PlanPreview is the ledger-derived state of a plan before running it.
// Artifacts holds the imports with every confirmed step replayed on top.
type PlanPreview struct {
	Steps     []*StepPreview
	Artifacts map[string]*domain.DeployedContract
}

// Pending returns the steps that a run would submit
func (p *PlanPreview) Pending() []*StepPreview {
	var pending []*StepPreview
	for _, s := range p.Steps {
		if s.State != domain.StateConfirmed {
			pending = append(pending, s)
		}
	}
	return pending
}

// Preview reports the ledger state of every plan step without touching
// the chain. Confirmed records are replayed the way Run replays them, so
// a record that contradicts the plan fails here too.
func (o *Orchestrator) Preview(ctx context.Context, plan *domain.Plan) (*PlanPreview, error) {
	index, keys, err := o.prepare(ctx, plan)
	if err != nil {
		return nil, err
	}

	preview := &PlanPreview{
		Steps:     make([]*StepPreview, len(plan.Steps)),
		Artifacts: make(map[string]*domain.DeployedContract),
	}
	for _, imp := range plan.Imports {
		preview.Artifacts[imp.Name] = imp.Artifact()
	}

	for i, step := range plan.Steps {
		p := &StepPreview{Index: i, Step: step, Key: keys[i], State: domain.StatePending}
		if record, ok := index.confirmed[keys[i]]; ok {
			// Steps depending on a pending artifact are checked once it exists
			if resolvable(step, preview.Artifacts) {
				report := &StepReport{Index: i, Step: step, Key: keys[i]}
				if err := o.replay(report, record, preview.Artifacts); err != nil {
					return nil, err
				}
			}
			p.State = domain.StateConfirmed
			p.LastRecord = record
		} else if record, ok := index.failed[keys[i]]; ok {
			p.State = domain.StateFailed
			p.LastRecord = record
		}
		preview.Steps[i] = p
	}
	return preview, nil
}

// Status returns a snapshot of the ledger in append order
func (o *Orchestrator) Status(ctx context.Context) ([]*domain.LedgerRecord, error) {
	records, err := o.ledger.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", o.ledger.Location(), err)
	}
	return records, nil
}

// LedgerLocation describes where progress is persisted
func (o *Orchestrator) LedgerLocation() string {
	return o.ledger.Location()
}

// prepare runs static validation, then loads and indexes the ledger
func (o *Orchestrator) prepare(ctx context.Context, plan *domain.Plan) (*ledgerIndex, []domain.StepKey, error) {
	if err := plan.Validate(); err != nil {
		return nil, nil, err
	}

	keys, err := stepKeys(plan)
	if err != nil {
		return nil, nil, err
	}

	records, err := o.ledger.Records(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read ledger %s: %w", o.ledger.Location(), err)
	}

	index, err := indexLedger(records)
	if err != nil {
		return nil, nil, err
	}
	return index, keys, nil
}

// execute submits a single step and records its outcome
func (o *Orchestrator) execute(ctx context.Context, report *StepReport, result *RunResult) error {
	step := report.Step
	total := len(result.Plan.Steps)

	if err := advance(report, domain.StateSubmitted); err != nil {
		return err
	}
	o.progress.OnProgress(ctx, ProgressEvent{
		Stage:    StageStepSubmitted,
		Current:  report.Index + 1,
		Total:    total,
		Message:  step.Describe(),
		Spinner:  true,
		Metadata: report,
	})
	o.log.Info("submitting step", "index", report.Index+1, "step", step.Describe())

	// A submitted transaction cannot be unsent: the submission and its
	// ledger write run to completion even if the caller cancels.
	detached := context.WithoutCancel(ctx)

	start := o.now()
	stepResult, err := o.submit(detached, step, result.Artifacts)
	report.Elapsed = o.now().Sub(start)
	result.Submitted++

	if err != nil {
		chainErr := &domain.ChainSubmissionError{StepIndex: report.Index, Step: step, Reason: err.Error(), Err: err}
		report.Err = chainErr
		result.FailedStep = report
		_ = advance(report, domain.StateFailed)
		o.metrics.StepFailed(step.Kind, report.Elapsed)

		record := o.newRecord(result.RunID, report, domain.Outcome{Status: domain.OutcomeFailure, Reason: chainErr.Reason})
		if werr := o.ledger.Append(detached, record); werr != nil {
			writeErr := &domain.LedgerWriteError{StepIndex: report.Index, Step: step, Err: werr}
			report.Err = errors.Join(chainErr, writeErr)
			return report.Err
		}

		o.log.Warn("step failed", "index", report.Index+1, "step", step.Describe(), "reason", chainErr.Reason)
		o.progress.OnProgress(ctx, ProgressEvent{
			Stage:    StageStepFailed,
			Current:  report.Index + 1,
			Total:    total,
			Message:  chainErr.Reason,
			Metadata: report,
		})
		return chainErr
	}

	report.Result = stepResult
	record := o.newRecord(result.RunID, report, domain.Outcome{Status: domain.OutcomeSuccess, Result: stepResult})
	werr := o.ledger.Append(detached, record)

	// The transaction is mined either way, so the artifact is real
	apply(result.Artifacts, step, stepResult)
	_ = advance(report, domain.StateConfirmed)

	if werr != nil {
		writeErr := &domain.LedgerWriteError{StepIndex: report.Index, Step: step, Err: werr}
		report.Err = writeErr
		result.FailedStep = report
		return writeErr
	}

	o.metrics.StepConfirmed(step.Kind, report.Elapsed)
	o.progress.OnProgress(ctx, ProgressEvent{
		Stage:    StageStepConfirmed,
		Current:  report.Index + 1,
		Total:    total,
		Message:  step.Describe(),
		Metadata: report,
	})
	return nil
}

// submit resolves references and hands the step to the chain client
func (o *Orchestrator) submit(ctx context.Context, step domain.Step, artifacts map[string]*domain.DeployedContract) (*domain.StepResult, error) {
	args, err := resolveArgs(step.Args, artifacts)
	if err != nil {
		return nil, err
	}

	switch step.Kind {
	case domain.StepDeploy:
		dep, err := o.chain.DeployContract(ctx, DeployRequest{Contract: step.Contract, Args: args})
		if err != nil {
			return nil, err
		}
		if err := checkReceipt(dep.Receipt); err != nil {
			return nil, err
		}
		return &domain.StepResult{
			Contract: &domain.DeployedContract{
				Name:         step.LogicalName(),
				ContractName: step.Contract,
				Address:      dep.Address,
			},
			Receipt: dep.Receipt,
		}, nil

	case domain.StepDeployProxy:
		normalized := step.Normalize()
		dep, err := o.chain.DeployProxy(ctx, DeployProxyRequest{Contract: step.Contract, Initializer: normalized.Initializer, Args: args})
		if err != nil {
			return nil, err
		}
		if err := checkReceipt(dep.Receipt); err != nil {
			return nil, err
		}
		return &domain.StepResult{
			Contract: &domain.DeployedContract{
				Name:                  step.LogicalName(),
				ContractName:          step.Contract,
				Address:               dep.Address,
				IsProxy:               true,
				ImplementationHistory: []string{dep.Implementation},
			},
			Receipt: dep.Receipt,
		}, nil

	case domain.StepUpgradeProxy:
		proxy := artifacts[domain.ArtifactName(step.Proxy)]
		dep, err := o.chain.UpgradeProxy(ctx, UpgradeProxyRequest{Proxy: proxy.Address, Contract: step.Contract})
		if err != nil {
			return nil, err
		}
		if err := checkReceipt(dep.Receipt); err != nil {
			return nil, err
		}
		if dep.Address != "" && !strings.EqualFold(dep.Address, proxy.Address) {
			return nil, fmt.Errorf("chain client reported proxy %s after upgrading %s", dep.Address, proxy.Address)
		}
		upgraded := proxy.Clone()
		if err := upgraded.RecordUpgrade(step.Contract, dep.Implementation); err != nil {
			return nil, err
		}
		return &domain.StepResult{Contract: upgraded, Receipt: dep.Receipt}, nil

	case domain.StepCall:
		target := artifacts[domain.ArtifactName(step.Target)]
		contract := step.Contract
		if contract == "" {
			contract = target.ContractName
		}
		receipt, err := o.chain.Call(ctx, CallRequest{Target: target.Address, Contract: contract, Method: step.Method, Args: args})
		if err != nil {
			return nil, err
		}
		if err := checkReceipt(receipt); err != nil {
			return nil, err
		}
		return &domain.StepResult{Target: target.Address, Receipt: receipt}, nil
	}

	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStepKind, step.Kind)
}

// replay rebuilds artifact state from a confirmed ledger record
func (o *Orchestrator) replay(report *StepReport, record *domain.LedgerRecord, artifacts map[string]*domain.DeployedContract) error {
	step := report.Step
	res := record.Outcome.Result
	mismatch := func(format string, args ...any) error {
		return &domain.AlreadyResolvedMismatchError{
			StepIndex: report.Index,
			Key:       report.Key,
			Step:      step,
			Detail:    fmt.Sprintf(format, args...),
		}
	}

	switch step.Kind {
	case domain.StepDeploy, domain.StepDeployProxy:
		if res.Contract == nil {
			return mismatch("no contract recorded")
		}
		if res.Contract.Name != step.LogicalName() {
			return mismatch("recorded artifact %q, plan expects %q", res.Contract.Name, step.LogicalName())
		}
		if res.Contract.IsProxy != (step.Kind == domain.StepDeployProxy) {
			return mismatch("recorded proxy=%t for a %s step", res.Contract.IsProxy, step.Kind)
		}
		artifacts[res.Contract.Name] = res.Contract.Clone()

	case domain.StepUpgradeProxy:
		proxy := artifacts[domain.ArtifactName(step.Proxy)]
		if res.Contract == nil || res.Contract.Implementation() == "" {
			return mismatch("no implementation recorded")
		}
		if !strings.EqualFold(res.Contract.Address, proxy.Address) {
			return mismatch("recorded upgrade of %s, plan resolves %s to %s", res.Contract.Address, proxy.Name, proxy.Address)
		}
		if err := proxy.RecordUpgrade(step.Contract, res.Contract.Implementation()); err != nil {
			return mismatch("%v", err)
		}

	case domain.StepCall:
		target := artifacts[domain.ArtifactName(step.Target)]
		if !strings.EqualFold(res.Target, target.Address) {
			return mismatch("recorded call to %s, plan resolves %s to %s", res.Target, target.Name, target.Address)
		}
	}

	o.log.Debug("step already confirmed", "index", report.Index+1, "step", step.Describe(), "run", record.RunID)
	return nil
}

func (o *Orchestrator) newRecord(runID string, report *StepReport, outcome domain.Outcome) *domain.LedgerRecord {
	return &domain.LedgerRecord{
		RunID:      runID,
		StepHash:   report.Key.Hash,
		Occurrence: report.Key.Occurrence,
		Step:       report.Step,
		Outcome:    outcome,
		Timestamp:  o.now().UTC(),
	}
}

// apply merges a confirmed step result into the artifact map
func apply(artifacts map[string]*domain.DeployedContract, step domain.Step, res *domain.StepResult) {
	switch step.Kind {
	case domain.StepDeploy, domain.StepDeployProxy:
		artifacts[res.Contract.Name] = res.Contract.Clone()
	case domain.StepUpgradeProxy:
		artifacts[domain.ArtifactName(step.Proxy)] = res.Contract.Clone()
	}
}

// resolvable reports whether every artifact the step targets is known
func resolvable(step domain.Step, artifacts map[string]*domain.DeployedContract) bool {
	switch step.Kind {
	case domain.StepUpgradeProxy:
		_, ok := artifacts[domain.ArtifactName(step.Proxy)]
		return ok
	case domain.StepCall:
		_, ok := artifacts[domain.ArtifactName(step.Target)]
		return ok
	}
	return true
}

func advance(report *StepReport, next domain.StepState) error {
	if !report.State.CanTransition(next) {
		return fmt.Errorf("step %d: illegal transition %s -> %s", report.Index+1, report.State, next)
	}
	report.State = next
	return nil
}

func checkReceipt(receipt *domain.TransactionReceipt) error {
	if receipt == nil {
		return errors.New("chain client returned no receipt")
	}
	if !receipt.Succeeded() {
		return fmt.Errorf("%w: %s", domain.ErrTransactionReverted, receipt.TxHash)
	}
	return nil
}

// resolveArgs substitutes artifact references with concrete addresses
func resolveArgs(args []any, artifacts map[string]*domain.DeployedContract) ([]any, error) {
	return domain.MapArgs(args, func(v string) (any, error) {
		ref, ok := domain.ParseRef(v)
		if !ok {
			return v, nil
		}
		artifact, ok := artifacts[ref.Name]
		if !ok {
			return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, ref.Name)
		}
		if ref.Field == domain.RefImplementation {
			impl := artifact.Implementation()
			if impl == "" {
				return nil, fmt.Errorf("%w: implementation of %s", domain.ErrNotFound, ref.Name)
			}
			return impl, nil
		}
		return artifact.Address, nil
	})
}

// stepKeys assigns each step its structural key. Identical steps are
// told apart by how many times the same step appeared before them.
func stepKeys(plan *domain.Plan) ([]domain.StepKey, error) {
	seen := make(map[string]int)
	keys := make([]domain.StepKey, len(plan.Steps))
	for i, step := range plan.Steps {
		hash, err := step.Hash()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		keys[i] = domain.StepKey{Hash: hash, Occurrence: seen[hash]}
		seen[hash]++
	}
	return keys, nil
}

type ledgerIndex struct {
	confirmed map[domain.StepKey]*domain.LedgerRecord
	failed    map[domain.StepKey]*domain.LedgerRecord
}

// indexLedger builds the lookup used for the idempotence check and
// rejects records that contradict themselves or each other.
func indexLedger(records []*domain.LedgerRecord) (*ledgerIndex, error) {
	idx := &ledgerIndex{
		confirmed: make(map[domain.StepKey]*domain.LedgerRecord),
		failed:    make(map[domain.StepKey]*domain.LedgerRecord),
	}

	for _, record := range records {
		key := record.Key()
		corrupt := func(detail string) error {
			return &domain.AlreadyResolvedMismatchError{StepIndex: -1, Key: key, Step: record.Step, Detail: detail}
		}

		hash, err := record.Step.Hash()
		if err != nil || hash != record.StepHash {
			return nil, corrupt("recorded step does not hash to its key")
		}

		switch record.Outcome.Status {
		case domain.OutcomeSuccess:
			if record.Outcome.Result == nil {
				return nil, corrupt("success recorded without a result")
			}
			if prev, ok := idx.confirmed[key]; ok {
				if !sameResult(prev.Outcome.Result, record.Outcome.Result) {
					return nil, corrupt("step confirmed twice with different results")
				}
				continue
			}
			idx.confirmed[key] = record
		case domain.OutcomeFailure:
			idx.failed[key] = record
		default:
			return nil, corrupt(fmt.Sprintf("unknown outcome status %q", record.Outcome.Status))
		}
	}

	return idx, nil
}

func sameResult(a, b *domain.StepResult) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}
