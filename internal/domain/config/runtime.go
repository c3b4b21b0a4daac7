package config

import (
	"time"
)

// RuntimeConfig represents the complete runtime configuration
// This is injected into use cases and contains all resolved settings
type RuntimeConfig struct {
	// Core settings
	ProjectRoot string
	DataDir     string

	// Network is nil when no network or RPC URL was specified
	Network *Network

	// Execution settings
	Debug          bool
	NonInteractive bool
	JSON           bool
	Timeout        time.Duration
	DryRun         bool
	AssumeYes      bool

	// PlanPath is set for commands that operate on a plan file
	PlanPath string

	// LedgerDSN is a file path, sqlite://path or postgres:// URL
	LedgerDSN string

	// Signing and chain client settings
	PrivateKey     string
	ArtifactsDir   string
	ProxyArtifact  string
	ReceiptTimeout time.Duration

	// MetricsFile receives step metrics in Prometheus text format when set
	MetricsFile string

	// Resolved configurations
	FoundryConfig *FoundryConfig
}

// Network represents network configuration
type Network struct {
	ChainID uint64 `json:"chainId"`
	Name    string `json:"name"`
	RPCURL  string `json:"rpcUrl"`
}
