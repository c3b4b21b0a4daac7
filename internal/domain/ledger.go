package domain

import (
	"fmt"
	"time"
)

// StepState is the lifecycle state of a single plan step
type StepState string

const (
	StatePending   StepState = "pending"
	StateSubmitted StepState = "submitted"
	StateConfirmed StepState = "confirmed"
	StateFailed    StepState = "failed"
)

// Terminal reports whether no further transition is possible
func (s StepState) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// CanTransition reports whether moving from s to next is a legal step transition
func (s StepState) CanTransition(next StepState) bool {
	switch s {
	case StatePending:
		return next == StateSubmitted
	case StateSubmitted:
		return next == StateConfirmed || next == StateFailed
	}
	return false
}

// OutcomeStatus is the resolution recorded for a step
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
)

// StepResult is what a confirmed step produced
type StepResult struct {
	// Contract is the artifact after the step: set for deploy, deploy_proxy
	// and upgrade_proxy.
	Contract *DeployedContract `json:"contract,omitempty"`
	// Target is the resolved address a call was sent to
	Target  string              `json:"target,omitempty"`
	Receipt *TransactionReceipt `json:"receipt,omitempty"`
}

// Outcome is the resolution of a step
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Result *StepResult   `json:"result,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// LedgerRecord is one resolved step persisted in the ledger. Records are
// keyed by (StepHash, Occurrence): the occurrence distinguishes repeated
// identical steps within the same plan.
type LedgerRecord struct {
	RunID      string    `json:"runId"`
	StepHash   string    `json:"stepHash"`
	Occurrence int       `json:"occurrence"`
	Step       Step      `json:"step"`
	Outcome    Outcome   `json:"outcome"`
	Timestamp  time.Time `json:"timestamp"`
}

// Key returns the idempotence key of the record
func (r *LedgerRecord) Key() StepKey {
	return StepKey{Hash: r.StepHash, Occurrence: r.Occurrence}
}

// Succeeded reports whether the record marks its step as confirmed
func (r *LedgerRecord) Succeeded() bool {
	return r.Outcome.Status == OutcomeSuccess
}

// StepKey identifies a step structurally
type StepKey struct {
	Hash       string
	Occurrence int
}

func (k StepKey) String() string {
	return fmt.Sprintf("%s#%d", k.Hash, k.Occurrence)
}
