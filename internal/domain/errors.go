package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain operations
var (
	// ErrNotFound is returned when a requested resource doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidAddress is returned when an Ethereum address is invalid
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidPlan is returned when a plan is structurally malformed
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrUnknownStepKind is returned when a step carries no recognised kind
	ErrUnknownStepKind = errors.New("unknown step kind")

	// ErrContractNotFound is returned when a compiled artifact can't be found
	ErrContractNotFound = errors.New("contract not found")

	// ErrTransactionReverted is returned when a mined transaction has a failed status
	ErrTransactionReverted = errors.New("transaction reverted")
)

// DependencyOrderError reports a plan step that references an artifact
// not produced by an earlier step or import.
type DependencyOrderError struct {
	StepIndex int
	Step      Step
	Ref       string
	Reason    string
}

func (e *DependencyOrderError) Error() string {
	return fmt.Sprintf("step %d (%s): %s: %s", e.StepIndex+1, e.Step.Describe(), e.Reason, e.Ref)
}

// ChainSubmissionError wraps a failure surfaced by the chain client
type ChainSubmissionError struct {
	StepIndex int
	Step      Step
	Reason    string
	Err       error
}

func (e *ChainSubmissionError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %s", e.StepIndex+1, e.Step.Describe(), e.Reason)
}

func (e *ChainSubmissionError) Unwrap() error {
	return e.Err
}

// LedgerWriteError reports a failure to persist progress. Always fatal.
type LedgerWriteError struct {
	StepIndex int
	Step      Step
	Err       error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("failed to record step %d (%s) in ledger: %v", e.StepIndex+1, e.Step.Describe(), e.Err)
}

func (e *LedgerWriteError) Unwrap() error {
	return e.Err
}

// AlreadyResolvedMismatchError reports a ledger record whose identity
// matches a step but whose recorded outcome contradicts it. Signals a
// corrupted ledger or a changed plan and is never overwritten.
type AlreadyResolvedMismatchError struct {
	StepIndex int
	Key       StepKey
	Step      Step
	Detail    string
}

func (e *AlreadyResolvedMismatchError) Error() string {
	if e.StepIndex < 0 {
		return fmt.Sprintf("ledger record %s does not match its recorded outcome: %s", e.Key, e.Detail)
	}
	return fmt.Sprintf("step %d (%s) already resolved differently in ledger: %s", e.StepIndex+1, e.Step.Describe(), e.Detail)
}
