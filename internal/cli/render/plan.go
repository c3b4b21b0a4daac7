package render

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/trebuchet-org/treb-plan/internal/domain"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

// PlanRenderer renders plan runs and previews
type PlanRenderer struct {
	out io.Writer
}

// NewPlanRenderer creates a new plan renderer
func NewPlanRenderer(out io.Writer) *PlanRenderer {
	return &PlanRenderer{out: out}
}

// Render prints what a run did, or what it would do for a dry run
func (r *PlanRenderer) Render(result *usecase.RunPlanResult) error {
	fmt.Fprintf(r.out, "Plan:    %s\n", nameStyle.Sprint(result.Plan.Name))
	if result.Network != nil {
		fmt.Fprintf(r.out, "Network: %s (chain %d)\n", result.Network.Name, result.Network.ChainID)
	}
	fmt.Fprintf(r.out, "Ledger:  %s\n\n", faintStyle.Sprint(result.Ledger))

	switch {
	case result.UpToDate:
		fmt.Fprintln(r.out, FormatSuccess(fmt.Sprintf("All %d steps already confirmed, nothing to do", len(result.Plan.Steps))))
		return nil
	case result.Run == nil:
		r.renderPreview(result.Preview)
		if result.DryRun {
			pending := 0
			for _, p := range result.Preview {
				if p.State != domain.StateConfirmed {
					pending++
				}
			}
			fmt.Fprintf(r.out, "\nDry run: %d step(s) would be submitted\n", pending)
		}
		return nil
	}

	run := result.Run
	r.renderArtifacts(run.Artifacts)
	fmt.Fprintln(r.out)
	if run.Completed {
		fmt.Fprintln(r.out, FormatSuccess(fmt.Sprintf("Plan complete: %d submitted, %d already confirmed", run.Submitted, run.Skipped)))
	}
	return nil
}

// RenderFailure prints the step that halted a run and why
func (r *PlanRenderer) RenderFailure(result *usecase.RunPlanResult, err error) {
	if result != nil && result.Run != nil && result.Run.FailedStep != nil {
		failed := result.Run.FailedStep
		fmt.Fprintf(r.out, "%s step %d/%d: %s\n", failedStyle.Sprint("✗ Failed at"),
			failed.Index+1, len(result.Plan.Steps), failed.Step.Describe())
		if len(result.Run.Artifacts) > 0 {
			fmt.Fprintln(r.out, "\nState so far:")
			r.renderArtifacts(result.Run.Artifacts)
		}
		fmt.Fprintln(r.out, faintStyle.Sprint("\nRerun the same plan to resume after the last confirmed step."))
	}
	fmt.Fprintln(r.out, FormatError(err.Error()))
}

func (r *PlanRenderer) renderPreview(preview []*usecase.StepPreview) {
	t := newTable(table.Row{"#", "Step", "State", "Key"})
	for _, p := range preview {
		t.AppendRow(table.Row{p.Index + 1, p.Step.Describe(), formatState(p.State), faintStyle.Sprint(shortHash(p.Key.Hash))})
	}
	fmt.Fprintln(r.out, t.Render())
}

func (r *PlanRenderer) renderArtifacts(artifacts map[string]*domain.DeployedContract) {
	names := make([]string, 0, len(artifacts))
	for name := range artifacts {
		names = append(names, name)
	}
	sort.Strings(names)

	t := newTable(table.Row{"Artifact", "Contract", "Address", "Implementation"})
	for _, name := range names {
		a := artifacts[name]
		impl := ""
		if a.IsProxy {
			impl = addressStyle.Sprint(a.Implementation())
		}
		t.AppendRow(table.Row{nameStyle.Sprint(name), a.ContractName, addressStyle.Sprint(a.Address), impl})
	}
	fmt.Fprintln(r.out, t.Render())
}
