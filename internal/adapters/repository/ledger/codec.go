package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trebuchet-org/treb-plan/internal/domain"
)

// recordRow is the column layout shared by the SQL stores
type recordRow struct {
	Seq        int64  `db:"seq"`
	RunID      string `db:"run_id"`
	StepHash   string `db:"step_hash"`
	Occurrence int    `db:"occurrence"`
	Step       string `db:"step"`
	Outcome    string `db:"outcome"`
	RecordedAt string `db:"recorded_at"`
}

func toRow(record *domain.LedgerRecord) (*recordRow, error) {
	step, err := json.Marshal(record.Step)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step: %w", err)
	}
	outcome, err := json.Marshal(record.Outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outcome: %w", err)
	}
	return &recordRow{
		RunID:      record.RunID,
		StepHash:   record.StepHash,
		Occurrence: record.Occurrence,
		Step:       string(step),
		Outcome:    string(outcome),
		RecordedAt: record.Timestamp.UTC().Format(time.RFC3339Nano),
	}, nil
}

func (r *recordRow) toRecord() (*domain.LedgerRecord, error) {
	record := &domain.LedgerRecord{
		RunID:      r.RunID,
		StepHash:   r.StepHash,
		Occurrence: r.Occurrence,
	}
	if err := decodeJSON(r.Step, &record.Step); err != nil {
		return nil, fmt.Errorf("ledger row %d: failed to decode step: %w", r.Seq, err)
	}
	if err := decodeJSON(r.Outcome, &record.Outcome); err != nil {
		return nil, fmt.Errorf("ledger row %d: failed to decode outcome: %w", r.Seq, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, r.RecordedAt)
	if err != nil {
		return nil, fmt.Errorf("ledger row %d: invalid timestamp: %w", r.Seq, err)
	}
	record.Timestamp = ts
	return record, nil
}

// decodeJSON keeps numbers as json.Number so step hashes survive a round trip
func decodeJSON(data string, out any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	return dec.Decode(out)
}
