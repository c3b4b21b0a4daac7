package usecase

import (
	"context"

	"github.com/trebuchet-org/treb-plan/internal/domain"
)

// ShowStatusParams contains parameters for showing ledger status
type ShowStatusParams struct {
	// PlanPath, when set, reports per-step state of that plan instead of raw records
	PlanPath string
}

// StatusResult is either the raw ledger or a plan-relative view of it
type StatusResult struct {
	Ledger  string
	Records []*domain.LedgerRecord
	Plan    *domain.Plan
	Steps   []*StepPreview
}

// ShowStatus is the use case for inspecting the ledger
type ShowStatus struct {
	loader       PlanLoader
	orchestrator *Orchestrator
}

// NewShowStatus creates a new ShowStatus use case
func NewShowStatus(loader PlanLoader, orchestrator *Orchestrator) *ShowStatus {
	return &ShowStatus{
		loader:       loader,
		orchestrator: orchestrator,
	}
}

// Run executes the show status use case
func (uc *ShowStatus) Run(ctx context.Context, params ShowStatusParams) (*StatusResult, error) {
	result := &StatusResult{Ledger: uc.orchestrator.LedgerLocation()}

	records, err := uc.orchestrator.Status(ctx)
	if err != nil {
		return nil, err
	}
	result.Records = records

	if params.PlanPath == "" {
		return result, nil
	}

	plan, err := uc.loader.Load(ctx, params.PlanPath)
	if err != nil {
		return nil, err
	}
	result.Plan = plan

	preview, err := uc.orchestrator.Preview(ctx, plan)
	if err != nil {
		return nil, err
	}
	result.Steps = preview.Steps
	return result, nil
}
