package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-plan/internal/domain"
	"github.com/trebuchet-org/treb-plan/internal/domain/config"
)

// ErrBroadcastDeclined is returned when the operator refuses to send transactions
var ErrBroadcastDeclined = errors.New("broadcast declined")

// RunPlanParams contains parameters for running a plan
type RunPlanParams struct {
	PlanPath string
	DryRun   bool
}

// RunPlanResult contains the outcome of a plan run. Exactly one of
// Preview (dry run or nothing to do) and Run is the interesting part.
type RunPlanResult struct {
	Plan     *domain.Plan
	Network  *config.Network
	Ledger   string
	Preview  []*StepPreview
	Run      *RunResult
	DryRun   bool
	UpToDate bool
}

// RunPlan loads a plan file and executes it through the orchestrator
type RunPlan struct {
	cfg          *config.RuntimeConfig
	loader       PlanLoader
	orchestrator *Orchestrator
	checker      ImportChecker
	confirmer    BroadcastConfirmer
	metrics      StepMetrics
}

// NewRunPlan creates a new RunPlan use case
func NewRunPlan(
	cfg *config.RuntimeConfig,
	loader PlanLoader,
	orchestrator *Orchestrator,
	checker ImportChecker,
	confirmer BroadcastConfirmer,
	metrics StepMetrics,
) *RunPlan {
	return &RunPlan{
		cfg:          cfg,
		loader:       loader,
		orchestrator: orchestrator,
		checker:      checker,
		confirmer:    confirmer,
		metrics:      metrics,
	}
}

// Run executes the plan. On failure the partial result is returned
// together with the error so the caller can report what was done.
func (uc *RunPlan) Run(ctx context.Context, params RunPlanParams) (result *RunPlanResult, err error) {
	plan, err := uc.loader.Load(ctx, params.PlanPath)
	if err != nil {
		return nil, err
	}

	result = &RunPlanResult{
		Plan:    plan,
		Network: uc.cfg.Network,
		Ledger:  uc.orchestrator.LedgerLocation(),
		DryRun:  params.DryRun,
	}

	preview, err := uc.orchestrator.Preview(ctx, plan)
	if err != nil {
		return result, err
	}
	result.Preview = preview.Steps

	pending := preview.Pending()
	if len(pending) == 0 {
		result.UpToDate = true
		return result, nil
	}
	if params.DryRun {
		return result, nil
	}

	for _, imp := range expectedImports(plan.Imports, preview.Artifacts) {
		if err := uc.checker.CheckImport(ctx, imp); err != nil {
			return result, err
		}
	}

	ok, err := uc.confirmer.ConfirmBroadcast(ctx, pending)
	if err != nil {
		return result, err
	}
	if !ok {
		return result, ErrBroadcastDeclined
	}

	defer func() {
		if ferr := uc.metrics.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("failed to write metrics: %w", ferr)
		}
	}()

	result.Run, err = uc.orchestrator.Run(ctx, plan)
	return result, err
}

// expectedImports adjusts imported proxies to the implementation the
// ledger says they point at now, so confirmed upgrades are not flagged.
func expectedImports(imports []domain.Import, artifacts map[string]*domain.DeployedContract) []domain.Import {
	return lo.Map(imports, func(imp domain.Import, _ int) domain.Import {
		artifact, ok := artifacts[imp.Name]
		if !ok || !imp.Proxy || imp.Implementation == "" {
			return imp
		}
		if current := artifact.Implementation(); current != "" {
			imp.Implementation = current
		}
		return imp
	})
}
