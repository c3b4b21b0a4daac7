package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-plan/internal/domain/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newViper(projectRoot string) *viper.Viper {
	v := viper.New()
	v.Set("project_root", projectRoot)
	return v
}

func TestProvider_FoundryProject(t *testing.T) {
	root := t.TempDir()
	t.Setenv("TREB_TEST_SEPOLIA_RPC", "https://rpc.sepolia.example")
	writeFile(t, filepath.Join(root, "foundry.toml"), `
[profile.default]
src = "src"
out = "build"

[rpc_endpoints]
sepolia = "${TREB_TEST_SEPOLIA_RPC}"
local = "http://127.0.0.1:8545"
`)

	v := newViper(root)
	v.Set("network", "sepolia")
	v.Set("plan_path", "plans/aoc-token.yaml")

	cfg, err := Provider(v)
	require.NoError(t, err)

	assert.Equal(t, root, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(root, ".treb"), cfg.DataDir)
	assert.Equal(t, filepath.Join(root, "build"), cfg.ArtifactsDir)
	require.NotNil(t, cfg.Network)
	assert.Equal(t, "sepolia", cfg.Network.Name)
	assert.Equal(t, "https://rpc.sepolia.example", cfg.Network.RPCURL)
	assert.Equal(t, filepath.Join(root, ".treb", "ledger", "aoc-token.sepolia.jsonl"), cfg.LedgerDSN)
}

func TestProvider_UnknownNetwork(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "foundry.toml"), "[rpc_endpoints]\nlocal = \"http://127.0.0.1:8545\"\n")

	v := newViper(root)
	v.Set("network", "mainnet")

	_, err := Provider(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network 'mainnet' not found")
}

func TestProvider_HardhatProjectWithEnvFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hardhat.config.js"), "module.exports = {}\n")
	writeFile(t, filepath.Join(root, ".env"), "PRIVATE_KEY=0xabc123\n")
	t.Cleanup(func() { os.Unsetenv("PRIVATE_KEY") })

	v := newViper(root)
	v.Set("rpc_url", "http://127.0.0.1:8545")
	v.Set("chain_id", 31337)
	v.Set("ledger", "sqlite://ledger.db")

	cfg, err := Provider(v)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "artifacts"), cfg.ArtifactsDir)
	assert.Equal(t, "0xabc123", cfg.PrivateKey)
	require.NotNil(t, cfg.Network)
	assert.Equal(t, "custom", cfg.Network.Name)
	assert.Equal(t, uint64(31337), cfg.Network.ChainID)
	assert.Equal(t, "sqlite://ledger.db", cfg.LedgerDSN)
}

func TestDefaultLedgerPath(t *testing.T) {
	tests := []struct {
		name     string
		planPath string
		network  *config.Network
		want     string
	}{
		{"no plan no network", "", nil, filepath.Join("data", "ledger", "default.local.jsonl")},
		{"plan and network", "deploy/token.toml", &config.Network{Name: "sepolia"}, filepath.Join("data", "ledger", "token.sepolia.jsonl")},
		{"plan without extension", "token", nil, filepath.Join("data", "ledger", "token.local.jsonl")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultLedgerPath("data", tt.planPath, tt.network))
		})
	}
}
