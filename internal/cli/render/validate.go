package render

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

// ValidateRenderer renders plan validation results
type ValidateRenderer struct {
	out io.Writer
}

// NewValidateRenderer creates a new validate renderer
func NewValidateRenderer(out io.Writer) *ValidateRenderer {
	return &ValidateRenderer{out: out}
}

func (r *ValidateRenderer) Render(result *usecase.ValidatePlanResult) error {
	t := newTable(table.Row{"#", "Step", "Key"})
	for i, step := range result.Plan.Steps {
		t.AppendRow(table.Row{i + 1, step.Describe(), faintStyle.Sprint(result.Hashes[i])})
	}
	fmt.Fprintln(r.out, t.Render())
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, FormatSuccess(fmt.Sprintf("Plan %s is valid (%d imports, %d steps)",
		result.Plan.Name, len(result.Plan.Imports), len(result.Plan.Steps))))
	return nil
}
