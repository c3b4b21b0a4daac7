package render

import "github.com/trebuchet-org/treb-plan/internal/usecase"

// Renderer writes a use case result for the user
type Renderer[T any] interface {
	Render(result T) error
}

var (
	_ Renderer[*usecase.RunPlanResult]      = (*PlanRenderer)(nil)
	_ Renderer[*usecase.StatusResult]       = (*StatusRenderer)(nil)
	_ Renderer[*usecase.ValidatePlanResult] = (*ValidateRenderer)(nil)
)
