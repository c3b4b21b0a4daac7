package blockchain

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-plan/internal/adapters/contracts"
	"github.com/trebuchet-org/treb-plan/internal/domain"
	"github.com/trebuchet-org/treb-plan/internal/domain/config"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

// stopCode deploys a contract whose runtime code is a single STOP
var stopCode = common.FromHex("0x60016000f3")

type stubArtifacts map[string]*contracts.Artifact

func (s stubArtifacts) Get(name string) (*contracts.Artifact, error) {
	if a, ok := s[name]; ok {
		return a, nil
	}
	return nil, domain.ErrContractNotFound
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newSimulatedClient starts an in-process chain that mines a block every few milliseconds
func newSimulatedClient(t *testing.T, cfg *config.RuntimeConfig, artifacts ArtifactSource) (*Client, *simulated.Backend) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	funds := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	backend := simulated.NewBackend(types.GenesisAlloc{
		crypto.PubkeyToAddress(key.PublicKey): {Balance: funds},
	})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				backend.Commit()
			}
		}
	}()
	t.Cleanup(func() {
		close(done)
		wg.Wait()
		backend.Close()
	})

	return NewClientWithBackend(backend.Client(), key, cfg, artifacts, discardLogger()), backend
}

func TestClient_DeployAndCall(t *testing.T) {
	ctx := context.Background()
	artifacts := stubArtifacts{"Stop": {Name: "Stop", Bytecode: stopCode}}
	client, backend := newSimulatedClient(t, &config.RuntimeConfig{ReceiptTimeout: 30 * time.Second}, artifacts)

	dep, err := client.DeployContract(ctx, usecase.DeployRequest{Contract: "Stop"})
	require.NoError(t, err)
	require.True(t, dep.Receipt.Succeeded())
	require.NotNil(t, dep.Receipt.BlockNumber)
	assert.True(t, common.IsHexAddress(dep.Address))

	code, err := backend.Client().CodeAt(ctx, common.HexToAddress(dep.Address), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, code)

	receipt, err := client.Call(ctx, usecase.CallRequest{Target: dep.Address, Method: "ping()"})
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.NotEmpty(t, receipt.TxHash)
}

func TestClient_ChainIDMismatch(t *testing.T) {
	cfg := &config.RuntimeConfig{Network: &config.Network{Name: "mainnet", ChainID: 1}}
	client, _ := newSimulatedClient(t, cfg, stubArtifacts{"Stop": {Name: "Stop", Bytecode: stopCode}})

	_, err := client.DeployContract(context.Background(), usecase.DeployRequest{Contract: "Stop"})
	assert.ErrorContains(t, err, "chain ID mismatch")
}

func TestClient_RequiresNetworkAndKey(t *testing.T) {
	artifacts := stubArtifacts{"Stop": {Name: "Stop", Bytecode: stopCode}}

	_, err := NewClient(&config.RuntimeConfig{}, artifacts, discardLogger()).
		DeployContract(context.Background(), usecase.DeployRequest{Contract: "Stop"})
	assert.ErrorContains(t, err, "no network configured")

	_, err = NewClient(&config.RuntimeConfig{}, artifacts, discardLogger()).
		Call(context.Background(), usecase.CallRequest{Target: "Locker", Method: "ping()"})
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func TestClient_DeployRejectsInterfaces(t *testing.T) {
	client := NewClientWithBackend(nil, nil, &config.RuntimeConfig{}, stubArtifacts{"IERC20": {Name: "IERC20"}}, discardLogger())
	_, err := client.DeployContract(context.Background(), usecase.DeployRequest{Contract: "IERC20"})
	assert.ErrorContains(t, err, "no bytecode")
}

func TestInitializerData(t *testing.T) {
	lockerABI, err := abi.JSON(strings.NewReader(`[
		{"type":"function","name":"initialize","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"cap","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"setup","stateMutability":"nonpayable","inputs":[],"outputs":[]}
	]`))
	require.NoError(t, err)

	data, err := initializerData(&lockerABI, "initialize", []any{"0x1111111111111111111111111111111111111111", "1e18"})
	require.NoError(t, err)
	assert.Equal(t, lockerABI.Methods["initialize"].ID, data[:4])
	assert.Len(t, data, 4+64)

	data, err = initializerData(&lockerABI, "setup", nil)
	require.NoError(t, err)
	assert.Equal(t, lockerABI.Methods["setup"].ID, data)

	_, err = initializerData(&lockerABI, "initialize", nil)
	assert.ErrorContains(t, err, "no overload")

	empty, err := abi.JSON(strings.NewReader(`[]`))
	require.NoError(t, err)
	data, err = initializerData(&empty, "", nil)
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = initializerData(&empty, "init", nil)
	assert.Error(t, err)
}

func TestToReceipt(t *testing.T) {
	raw := &types.Receipt{
		Status:      types.ReceiptStatusFailed,
		TxHash:      common.HexToHash("0xabc"),
		BlockNumber: big.NewInt(42),
		GasUsed:     21000,
	}
	r := toReceipt(raw)
	assert.Equal(t, domain.ReceiptFailure, r.Status)
	assert.Equal(t, uint64(42), *r.BlockNumber)
	assert.Equal(t, uint64(21000), r.GasUsed)
	assert.False(t, r.Succeeded())
}

var _ Backend = simulated.Client(nil)

func TestClient_CheckImport(t *testing.T) {
	ctx := context.Background()
	artifacts := stubArtifacts{"Stop": {Name: "Stop", Bytecode: stopCode}}
	client, _ := newSimulatedClient(t, &config.RuntimeConfig{ReceiptTimeout: 30 * time.Second}, artifacts)

	dep, err := client.DeployContract(ctx, usecase.DeployRequest{Contract: "Stop"})
	require.NoError(t, err)

	assert.NoError(t, client.CheckImport(ctx, domain.Import{Name: "Stop", Address: dep.Address}))

	err = client.CheckImport(ctx, domain.Import{Name: "Ghost", Address: "0x04F64f32C4185556397dC4f66B84572C44094812"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = client.CheckImport(ctx, domain.Import{Name: "Stop", Address: dep.Address, Proxy: true})
	assert.ErrorContains(t, err, "not an EIP-1967 proxy")
}

const slotHex = "360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc"

// minimalProxy is an ERC1967 proxy: the constructor stores its first
// argument in the implementation slot and every call is delegated.
// The init data argument is accepted but not executed.
var minimalProxy = common.FromHex("0x" +
	// constructor: sstore(slot, address arg) and return the runtime
	"6020607a600039600051" + "7f" + slotHex + "55" +
	"6043806037600039" + "6000f3" +
	// runtime: delegatecall(sload(slot)) with calldata, bubble the result
	"3660006000376000600036" + "6000" + "7f" + slotHex + "545af4" +
	"3d600060003e" + "603e57" + "3d6000fd" + "5b3d6000f3")

// uupsImplementation handles every call as upgradeToAndCall(address,bytes)
// by writing the first argument into the implementation slot.
var uupsImplementation = common.FromHex("0x" +
	"602680600b6000396000f3" +
	"600435" + "7f" + slotHex + "5500")

func proxyArtifacts(t *testing.T) stubArtifacts {
	t.Helper()
	proxyABI, err := abi.JSON(strings.NewReader(`[
		{"type":"constructor","stateMutability":"payable","inputs":[{"name":"implementation","type":"address"},{"name":"data","type":"bytes"}]}
	]`))
	require.NoError(t, err)

	return stubArtifacts{
		"ERC1967Proxy":  {Name: "ERC1967Proxy", ABI: proxyABI, Bytecode: minimalProxy},
		"TokenLocker":   {Name: "TokenLocker", Bytecode: uupsImplementation},
		"TokenLockerV2": {Name: "TokenLockerV2", Bytecode: uupsImplementation},
		"Stop":          {Name: "Stop", Bytecode: stopCode},
	}
}

func readSlot(t *testing.T, backend *simulated.Backend, proxy string) common.Address {
	t.Helper()
	slot, err := backend.Client().StorageAt(context.Background(), common.HexToAddress(proxy), implementationSlot, nil)
	require.NoError(t, err)
	return common.BytesToAddress(slot)
}

func TestClient_DeployAndUpgradeProxy(t *testing.T) {
	ctx := context.Background()
	cfg := &config.RuntimeConfig{ProxyArtifact: "ERC1967Proxy", ReceiptTimeout: 30 * time.Second}
	client, backend := newSimulatedClient(t, cfg, proxyArtifacts(t))

	dep, err := client.DeployProxy(ctx, usecase.DeployProxyRequest{Contract: "TokenLocker", Initializer: domain.DefaultInitializer})
	require.NoError(t, err)
	require.True(t, dep.Receipt.Succeeded())
	assert.NotEqual(t, dep.Address, dep.Implementation)
	assert.Equal(t, common.HexToAddress(dep.Implementation), readSlot(t, backend, dep.Address))

	imp := domain.Import{Name: "Locker", Address: dep.Address, Proxy: true, Implementation: dep.Implementation}
	require.NoError(t, client.CheckImport(ctx, imp))

	upgraded, err := client.UpgradeProxy(ctx, usecase.UpgradeProxyRequest{Proxy: dep.Address, Contract: "TokenLockerV2"})
	require.NoError(t, err)
	require.True(t, upgraded.Receipt.Succeeded())
	assert.Equal(t, dep.Address, upgraded.Address)
	assert.NotEqual(t, dep.Implementation, upgraded.Implementation)
	assert.Equal(t, common.HexToAddress(upgraded.Implementation), readSlot(t, backend, dep.Address))

	// The import still declares the original implementation
	err = client.CheckImport(ctx, imp)
	assert.ErrorContains(t, err, "proxy points at "+common.HexToAddress(upgraded.Implementation).Hex())

	imp.Implementation = upgraded.Implementation
	assert.NoError(t, client.CheckImport(ctx, imp))
}

func TestClient_UpgradeProxySlotUnchanged(t *testing.T) {
	ctx := context.Background()
	cfg := &config.RuntimeConfig{ProxyArtifact: "ERC1967Proxy", ReceiptTimeout: 30 * time.Second}
	client, backend := newSimulatedClient(t, cfg, proxyArtifacts(t))

	// The current implementation ignores upgradeToAndCall
	dep, err := client.DeployProxy(ctx, usecase.DeployProxyRequest{Contract: "Stop"})
	require.NoError(t, err)

	_, err = client.UpgradeProxy(ctx, usecase.UpgradeProxyRequest{Proxy: dep.Address, Contract: "TokenLockerV2"})
	assert.ErrorContains(t, err, "after upgrade, expected")
	assert.Equal(t, common.HexToAddress(dep.Implementation), readSlot(t, backend, dep.Address))
}

func TestClient_DeployProxyRequiresProxyArtifact(t *testing.T) {
	artifacts := proxyArtifacts(t)
	delete(artifacts, "ERC1967Proxy")
	client, _ := newSimulatedClient(t, &config.RuntimeConfig{ProxyArtifact: "ERC1967Proxy"}, artifacts)

	_, err := client.DeployProxy(context.Background(), usecase.DeployProxyRequest{Contract: "TokenLocker"})
	assert.ErrorContains(t, err, "proxy artifact")
	assert.ErrorIs(t, err, domain.ErrContractNotFound)
}
