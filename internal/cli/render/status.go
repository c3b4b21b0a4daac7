package render

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

// StatusRenderer renders the ledger
type StatusRenderer struct {
	out    io.Writer
	asJSON bool
}

// NewStatusRenderer creates a new status renderer. With asJSON the
// output is machine readable instead of a table.
func NewStatusRenderer(out io.Writer, asJSON bool) *StatusRenderer {
	return &StatusRenderer{out: out, asJSON: asJSON}
}

// renderJSON writes the raw ledger records, or the plan-relative view when a plan was given
func (r *StatusRenderer) renderJSON(result *usecase.StatusResult) error {
	var output any = result.Records
	if result.Plan != nil {
		type stepJSON struct {
			Index int    `json:"index"`
			Step  string `json:"step"`
			Key   string `json:"key"`
			State string `json:"state"`
		}
		steps := make([]stepJSON, len(result.Steps))
		for i, s := range result.Steps {
			steps[i] = stepJSON{Index: s.Index, Step: s.Step.Describe(), Key: s.Key.String(), State: string(s.State)}
		}
		output = steps
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(r.out, string(data))
	return nil
}

// Render prints the ledger as a table, or as JSON
func (r *StatusRenderer) Render(result *usecase.StatusResult) error {
	if r.asJSON {
		return r.renderJSON(result)
	}
	fmt.Fprintf(r.out, "Ledger: %s\n\n", faintStyle.Sprint(result.Ledger))

	if result.Plan != nil {
		t := newTable(table.Row{"#", "Step", "State", "Last run"})
		for _, s := range result.Steps {
			last := ""
			if s.LastRecord != nil {
				last = faintStyle.Sprint(s.LastRecord.Timestamp.Local().Format(time.DateTime))
			}
			t.AppendRow(table.Row{s.Index + 1, s.Step.Describe(), formatState(s.State), last})
		}
		fmt.Fprintln(r.out, t.Render())
		return nil
	}

	if len(result.Records) == 0 {
		fmt.Fprintln(r.out, "No steps recorded yet")
		return nil
	}

	t := newTable(table.Row{"Time", "Run", "Step", "Outcome", "Detail"})
	for _, rec := range result.Records {
		detail := rec.Outcome.Reason
		if res := rec.Outcome.Result; res != nil {
			switch {
			case res.Contract != nil:
				detail = addressStyle.Sprint(res.Contract.Address)
			case res.Receipt != nil:
				detail = faintStyle.Sprint(shortHash(res.Receipt.TxHash))
			}
		}
		t.AppendRow(table.Row{
			faintStyle.Sprint(rec.Timestamp.Local().Format(time.DateTime)),
			shortID(rec.RunID),
			rec.Step.Describe(),
			formatOutcome(rec.Outcome.Status),
			detail,
		})
	}
	fmt.Fprintln(r.out, t.Render())
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
