package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Plan is an ordered list of steps plus the pre-existing contracts they may reference
type Plan struct {
	Name    string
	Imports []Import
	Steps   []Step
}

// Validate performs the static checks that must pass before any chain
// call is made. Structural defects wrap ErrInvalidPlan; reference defects
// are returned as *DependencyOrderError.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: plan has no steps", ErrInvalidPlan)
	}

	known := make(map[string]*DeployedContract, len(p.Imports))
	// Proxies whose current implementation will be known when the step runs
	hasImpl := make(map[string]bool)
	for i, imp := range p.Imports {
		if imp.Name == "" {
			return fmt.Errorf("%w: import %d has no name", ErrInvalidPlan, i+1)
		}
		if !common.IsHexAddress(imp.Address) {
			return fmt.Errorf("%w: import %s: %w: %q", ErrInvalidPlan, imp.Name, ErrInvalidAddress, imp.Address)
		}
		if _, dup := known[imp.Name]; dup {
			return fmt.Errorf("%w: duplicate import %s", ErrInvalidPlan, imp.Name)
		}
		known[imp.Name] = imp.Artifact()
		hasImpl[imp.Name] = imp.Proxy && imp.Implementation != ""
	}

	// Names produced anywhere in the plan, to tell forward references apart
	// from references to nothing at all.
	producedAt := make(map[string]int)
	for i, step := range p.Steps {
		if name := step.LogicalName(); name != "" {
			if _, seen := producedAt[name]; !seen {
				producedAt[name] = i
			}
		}
	}

	for i, step := range p.Steps {
		if err := validateFields(step); err != nil {
			return fmt.Errorf("%w: step %d: %w", ErrInvalidPlan, i+1, err)
		}

		for _, ref := range step.References() {
			artifact, ok := known[ref.Name]
			if !ok {
				reason := "reference to unknown artifact"
				if at, later := producedAt[ref.Name]; later && at >= i {
					reason = "forward reference to artifact"
				}
				return &DependencyOrderError{StepIndex: i, Step: step, Ref: ref.String(), Reason: reason}
			}
			if ref.Field == RefImplementation {
				if !artifact.IsProxy {
					return &DependencyOrderError{StepIndex: i, Step: step, Ref: ref.String(), Reason: "implementation of non-proxy artifact"}
				}
				if !hasImpl[ref.Name] {
					return &DependencyOrderError{StepIndex: i, Step: step, Ref: ref.String(), Reason: "implementation of imported proxy is unknown"}
				}
			}
		}

		switch step.Kind {
		case StepUpgradeProxy:
			proxy := known[ArtifactName(step.Proxy)]
			if !proxy.IsProxy {
				return &DependencyOrderError{StepIndex: i, Step: step, Ref: proxy.Name, Reason: "upgrade of non-proxy artifact"}
			}
			hasImpl[proxy.Name] = true
		case StepDeploy, StepDeployProxy:
			name := step.LogicalName()
			if _, dup := known[name]; dup {
				return &DependencyOrderError{StepIndex: i, Step: step, Ref: name, Reason: "duplicate logical name"}
			}
			known[name] = &DeployedContract{Name: name, ContractName: step.Contract, IsProxy: step.Kind == StepDeployProxy}
			hasImpl[name] = step.Kind == StepDeployProxy
		}
	}

	return nil
}

func validateFields(step Step) error {
	if !step.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStepKind, step.Kind)
	}
	switch step.Kind {
	case StepDeploy, StepDeployProxy:
		if step.Contract == "" {
			return fmt.Errorf("%s requires a contract", step.Kind)
		}
	case StepUpgradeProxy:
		if step.Proxy == "" || step.Contract == "" {
			return fmt.Errorf("%s requires a proxy and a contract", step.Kind)
		}
	case StepCall:
		if step.Target == "" || step.Method == "" {
			return fmt.Errorf("%s requires a target and a method", step.Kind)
		}
	}
	return nil
}
