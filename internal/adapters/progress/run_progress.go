package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/trebuchet-org/treb-plan/internal/domain"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

var (
	stepDone    = color.New(color.FgGreen)
	stepSkipped = color.New(color.FgWhite, color.Faint)
	stepFailed  = color.New(color.FgRed)
	counter     = color.New(color.FgYellow)
)

// RunProgress prints one line per plan step as the orchestrator resolves it
type RunProgress struct {
	spinner *SpinnerProgressReporter
}

// NewRunProgress creates a run progress printer on stderr
func NewRunProgress() *RunProgress {
	return NewRunProgressTo(os.Stderr)
}

// NewRunProgressTo creates a run progress printer writing to out
func NewRunProgressTo(out io.Writer) *RunProgress {
	return &RunProgress{spinner: NewSpinnerProgressReporterTo(out)}
}

func (p *RunProgress) OnProgress(ctx context.Context, event usecase.ProgressEvent) {
	p.spinner.OnProgress(ctx, withCounter(event))

	switch event.Stage {
	case usecase.StagePlanValidated:
		if plan, ok := event.Metadata.(*domain.Plan); ok {
			p.spinner.Info(fmt.Sprintf("Running plan %s (%d steps)", plan.Name, len(plan.Steps)))
		}
	case usecase.StageStepSkipped:
		p.spinner.Println(fmt.Sprintf("%s %s %s", counterText(event), stepSkipped.Sprint("⊘"), stepSkipped.Sprint(event.Message+" (already confirmed)")))
	case usecase.StageStepConfirmed:
		p.spinner.Println(fmt.Sprintf("%s %s %s%s", counterText(event), stepDone.Sprint("✓"), event.Message, elapsed(event)))
	case usecase.StageStepFailed:
		p.spinner.Println(fmt.Sprintf("%s %s %s", counterText(event), stepFailed.Sprint("✗"), stepFailed.Sprint(event.Message)))
	}
}

func (p *RunProgress) Info(message string) {
	p.spinner.Info(message)
}

func (p *RunProgress) Error(message string) {
	p.spinner.Error(message)
}

func withCounter(event usecase.ProgressEvent) usecase.ProgressEvent {
	if event.Spinner {
		event.Message = fmt.Sprintf("%s %s", counterText(event), event.Message)
	}
	return event
}

func counterText(event usecase.ProgressEvent) string {
	return counter.Sprintf("[%d/%d]", event.Current, event.Total)
}

func elapsed(event usecase.ProgressEvent) string {
	report, ok := event.Metadata.(*usecase.StepReport)
	if !ok || report.Elapsed <= 0 {
		return ""
	}
	return stepSkipped.Sprintf(" (%s)", report.Elapsed.Round(time.Millisecond))
}

// Ensure RunProgress implements ProgressSink
var _ usecase.ProgressSink = (*RunProgress)(nil)
