package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/trebuchet-org/treb-plan/internal/domain/config"
)

// projectMarkers identify the root of a contracts project
var projectMarkers = []string{
	"foundry.toml",
	"hardhat.config.js",
	"hardhat.config.ts",
}

// Provider creates RuntimeConfig for Wire dependency injection
func Provider(v *viper.Viper) (*config.RuntimeConfig, error) {
	projectRoot := v.GetString("project_root")
	if projectRoot == "" {
		projectRoot = FindProjectRoot()
	}

	// .env must be loaded before anything reads the environment
	loadEnvFiles(projectRoot)

	dataDir := v.GetString("data_dir")
	if dataDir == "" {
		dataDir = ".treb"
	}
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(projectRoot, dataDir)
	}

	cfg := &config.RuntimeConfig{
		ProjectRoot:    projectRoot,
		DataDir:        dataDir,
		Debug:          v.GetBool("debug"),
		NonInteractive: v.GetBool("non_interactive"),
		JSON:           v.GetBool("json"),
		Timeout:        v.GetDuration("timeout"),
		DryRun:         v.GetBool("dry_run"),
		AssumeYes:      v.GetBool("yes"),
		PlanPath:       v.GetString("plan_path"),
		ProxyArtifact:  v.GetString("proxy_artifact"),
		ReceiptTimeout: v.GetDuration("receipt_timeout"),
		MetricsFile:    v.GetString("metrics_file"),
	}

	foundryConfig, err := loadFoundryConfig(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to load foundry config: %w", err)
	}
	cfg.FoundryConfig = foundryConfig

	cfg.PrivateKey = v.GetString("private_key")
	if cfg.PrivateKey == "" {
		cfg.PrivateKey = os.Getenv("PRIVATE_KEY")
	}

	cfg.ArtifactsDir = resolveArtifactsDir(projectRoot, v.GetString("artifacts"), foundryConfig)

	network, err := resolveNetwork(v, foundryConfig)
	if err != nil {
		return nil, err
	}
	cfg.Network = network

	cfg.LedgerDSN = v.GetString("ledger")
	if cfg.LedgerDSN == "" {
		cfg.LedgerDSN = DefaultLedgerPath(dataDir, cfg.PlanPath, network)
	}

	return cfg, nil
}

// FindProjectRoot walks up from the current directory looking for a
// contracts project. Falls back to the current directory.
func FindProjectRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}

	dir := cwd
	for {
		for _, marker := range projectMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return cwd
		}
		dir = parent
	}
}

// SetupViper creates and configures a viper instance
func SetupViper(projectRoot string, cmd *cobra.Command) *viper.Viper {
	v := viper.New()

	// Set up config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(projectRoot, ".treb"))

	// Set up environment variables
	v.SetEnvPrefix("TREB")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	// Set defaults
	v.SetDefault("timeout", "30m")
	v.SetDefault("receipt_timeout", "5m")
	v.SetDefault("proxy_artifact", "ERC1967Proxy")
	v.SetDefault("debug", false)
	v.SetDefault("non_interactive", false)
	v.SetDefault("project_root", projectRoot)

	// Try to read config file (ignore error if not found)
	_ = v.ReadInConfig()

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			panic(err)
		}
	})

	return v
}

// DefaultLedgerPath derives the ledger location for a plan on a network:
// <data_dir>/ledger/<plan>.<network>.jsonl
func DefaultLedgerPath(dataDir, planPath string, network *config.Network) string {
	planName := "default"
	if planPath != "" {
		base := filepath.Base(planPath)
		planName = strings.TrimSuffix(base, filepath.Ext(base))
	}

	networkName := "local"
	if network != nil && network.Name != "" {
		networkName = network.Name
	}

	return filepath.Join(dataDir, "ledger", fmt.Sprintf("%s.%s.jsonl", planName, networkName))
}

func resolveNetwork(v *viper.Viper, foundryConfig *config.FoundryConfig) (*config.Network, error) {
	name := v.GetString("network")
	rpcURL := v.GetString("rpc_url")
	chainID := v.GetUint64("chain_id")

	if name == "" && rpcURL == "" {
		return nil, nil
	}

	if rpcURL == "" {
		endpoint, err := resolveRPCEndpoint(name, foundryConfig.RpcEndpoints)
		if err != nil {
			return nil, err
		}
		rpcURL = endpoint
	}

	if name == "" {
		name = "custom"
	}

	return &config.Network{
		Name:    name,
		RPCURL:  rpcURL,
		ChainID: chainID,
	}, nil
}

func resolveArtifactsDir(projectRoot, configured string, foundryConfig *config.FoundryConfig) string {
	dir := configured
	if dir == "" {
		if profile, ok := foundryConfig.Profile["default"]; ok && profile.OutPath != "" {
			dir = profile.OutPath
		} else if _, err := os.Stat(filepath.Join(projectRoot, "foundry.toml")); err == nil {
			dir = "out"
		} else {
			dir = "artifacts"
		}
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(projectRoot, dir)
	}
	return dir
}
