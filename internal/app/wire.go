//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
	"github.com/spf13/viper"
	"github.com/trebuchet-org/treb-plan/internal/adapters"
	"github.com/trebuchet-org/treb-plan/internal/config"
	"github.com/trebuchet-org/treb-plan/internal/logging"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

// InitApp creates a fully wired App instance
func InitApp(v *viper.Viper, sink usecase.ProgressSink) (*App, func(), error) {
	wire.Build(
		// Configuration and logging
		config.Provider,
		logging.NewLogger,

		// Adapters
		adapters.AllAdapters,

		// Use cases
		usecase.NewOrchestrator,
		usecase.NewRunPlan,
		usecase.NewShowStatus,
		usecase.NewValidatePlan,

		// App
		NewApp,
	)
	return nil, nil, nil
}
