package app

import (
	"github.com/trebuchet-org/treb-plan/internal/domain/config"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

// App is the main application container that holds all use cases
type App struct {
	// Configuration
	Config *config.RuntimeConfig

	// Use cases
	RunPlan      *usecase.RunPlan
	ShowStatus   *usecase.ShowStatus
	ValidatePlan *usecase.ValidatePlan
}

// NewApp creates a new application instance with all use cases
func NewApp(
	cfg *config.RuntimeConfig,
	runPlan *usecase.RunPlan,
	showStatus *usecase.ShowStatus,
	validatePlan *usecase.ValidatePlan,
) (*App, error) {
	return &App{
		Config:       cfg,
		RunPlan:      runPlan,
		ShowStatus:   showStatus,
		ValidatePlan: validatePlan,
	}, nil
}
