package adapters

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	"github.com/trebuchet-org/treb-plan/internal/adapters/blockchain"
	"github.com/trebuchet-org/treb-plan/internal/adapters/contracts"
	"github.com/trebuchet-org/treb-plan/internal/adapters/interactive"
	"github.com/trebuchet-org/treb-plan/internal/adapters/metrics"
	"github.com/trebuchet-org/treb-plan/internal/adapters/parser"
	"github.com/trebuchet-org/treb-plan/internal/adapters/repository/ledger"
	"github.com/trebuchet-org/treb-plan/internal/domain/config"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

// ProvideLedgerStore opens the ledger named by the configured DSN
func ProvideLedgerStore(cfg *config.RuntimeConfig, log *slog.Logger) (usecase.LedgerStore, func(), error) {
	return ledger.Open(context.Background(), cfg, log)
}

// LedgerSet provides the ledger backend selected by DSN
var LedgerSet = wire.NewSet(
	ProvideLedgerStore,
)

// ParserSet provides plan file parsing
var ParserSet = wire.NewSet(
	parser.NewPlanParser,
	wire.Bind(new(usecase.PlanLoader), new(*parser.PlanParser)),
)

// BlockchainSet provides the artifact registry and the go-ethereum chain client
var BlockchainSet = wire.NewSet(
	contracts.NewRegistry,
	wire.Bind(new(blockchain.ArtifactSource), new(*contracts.Registry)),
	blockchain.NewClient,
	wire.Bind(new(usecase.ChainClient), new(*blockchain.Client)),
	wire.Bind(new(usecase.ImportChecker), new(*blockchain.Client)),
)

// InteractiveSet provides interactive implementations
var InteractiveSet = wire.NewSet(
	interactive.NewConfirmer,
	wire.Bind(new(usecase.BroadcastConfirmer), new(*interactive.Confirmer)),
)

// MetricsSet provides step metrics
var MetricsSet = wire.NewSet(
	metrics.NewStepMetrics,
	wire.Bind(new(usecase.StepMetrics), new(*metrics.StepMetrics)),
)

// AllAdapters includes all adapter sets
var AllAdapters = wire.NewSet(
	LedgerSet,
	ParserSet,
	BlockchainSet,
	InteractiveSet,
	MetricsSet,
)
