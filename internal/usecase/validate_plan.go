package usecase

import (
	"context"

	"github.com/trebuchet-org/treb-plan/internal/domain"
)

// ValidatePlanResult describes a plan that passed static validation
type ValidatePlanResult struct {
	Plan   *domain.Plan
	Hashes []string
}

// ValidatePlan loads a plan and runs the static checks without touching
// the ledger or the chain.
type ValidatePlan struct {
	loader PlanLoader
}

// NewValidatePlan creates a new ValidatePlan use case
func NewValidatePlan(loader PlanLoader) *ValidatePlan {
	return &ValidatePlan{loader: loader}
}

// Run executes the validate plan use case
func (uc *ValidatePlan) Run(ctx context.Context, path string) (*ValidatePlanResult, error) {
	plan, err := uc.loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return &ValidatePlanResult{Plan: plan}, err
	}

	keys, err := stepKeys(plan)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(keys))
	for i, k := range keys {
		hashes[i] = k.String()
	}
	return &ValidatePlanResult{Plan: plan, Hashes: hashes}, nil
}
