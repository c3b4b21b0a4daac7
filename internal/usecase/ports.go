package usecase

import (
	"context"
	"time"

	"github.com/trebuchet-org/treb-plan/internal/domain"
)

// ChainClient submits deployment transactions and waits for confirmation.
// Implementations own RPC endpoints, gas, signing, retries and timeouts.
type ChainClient interface {
	DeployContract(ctx context.Context, req DeployRequest) (*ChainDeployment, error)
	DeployProxy(ctx context.Context, req DeployProxyRequest) (*ChainDeployment, error)
	UpgradeProxy(ctx context.Context, req UpgradeProxyRequest) (*ChainDeployment, error)
	Call(ctx context.Context, req CallRequest) (*domain.TransactionReceipt, error)
}

// DeployRequest deploys a compiled contract with constructor arguments
type DeployRequest struct {
	Contract string
	Args     []any
}

// DeployProxyRequest deploys an implementation behind a fresh proxy
type DeployProxyRequest struct {
	Contract    string
	Initializer string
	Args        []any
}

// UpgradeProxyRequest points an existing proxy at a new implementation
type UpgradeProxyRequest struct {
	Proxy    string
	Contract string
}

// CallRequest sends a state-changing call. Contract names the ABI used to
// encode Method when Method is not a full signature.
type CallRequest struct {
	Target   string
	Contract string
	Method   string
	Args     []any
}

// ChainDeployment is what the chain client reports for deploy and upgrade operations
type ChainDeployment struct {
	Address        string
	Implementation string
	Receipt        *domain.TransactionReceipt
}

// ImportChecker verifies that contracts a plan imports exist on chain
type ImportChecker interface {
	CheckImport(ctx context.Context, imp domain.Import) error
}

// LedgerStore persists resolved step records. Append must be durable
// before it returns.
type LedgerStore interface {
	Append(ctx context.Context, record *domain.LedgerRecord) error
	Records(ctx context.Context) ([]*domain.LedgerRecord, error)
	Location() string
}

// PlanLoader reads a plan definition from disk
type PlanLoader interface {
	Load(ctx context.Context, path string) (*domain.Plan, error)
}

// BroadcastConfirmer asks the operator before transactions are sent
type BroadcastConfirmer interface {
	ConfirmBroadcast(ctx context.Context, pending []*StepPreview) (bool, error)
}

// StepMetrics observes step execution
type StepMetrics interface {
	StepSkipped(kind domain.StepKind)
	StepConfirmed(kind domain.StepKind, elapsed time.Duration)
	StepFailed(kind domain.StepKind, elapsed time.Duration)
	Flush() error
}

// NopMetrics discards all observations
type NopMetrics struct{}

func (NopMetrics) StepSkipped(domain.StepKind)                  {}
func (NopMetrics) StepConfirmed(domain.StepKind, time.Duration) {}
func (NopMetrics) StepFailed(domain.StepKind, time.Duration)    {}
func (NopMetrics) Flush() error                                 { return nil }

// Progress tracking interfaces

// ProgressEvent represents a progress update
type ProgressEvent struct {
	Stage    string
	Current  int
	Total    int
	Message  string
	Spinner  bool
	Metadata interface{}
}

// Progress stages emitted by the orchestrator
const (
	StagePlanValidated = "plan_validated"
	StageStepSkipped   = "step_skipped"
	StageStepSubmitted = "step_submitted"
	StageStepConfirmed = "step_confirmed"
	StageStepFailed    = "step_failed"
	StageRunCompleted  = "run_completed"
)

// ProgressSink receives progress events
type ProgressSink interface {
	OnProgress(ctx context.Context, event ProgressEvent)
	Info(message string)
	Error(message string)
}

// NopProgress is a no-op implementation of ProgressSink
type NopProgress struct{}

func (NopProgress) OnProgress(context.Context, ProgressEvent) {}
func (NopProgress) Info(string)                               {}
func (NopProgress) Error(string)                              {}
