package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	abiutil "github.com/trebuchet-org/treb-plan/internal/adapters/abi"
	"github.com/trebuchet-org/treb-plan/internal/adapters/contracts"
	"github.com/trebuchet-org/treb-plan/internal/domain"
	"github.com/trebuchet-org/treb-plan/internal/domain/config"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

// implementationSlot is the EIP-1967 storage slot holding a proxy's implementation
var implementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

const upgradeSignature = "upgradeToAndCall(address newImplementation, bytes data)"

// Backend is the subset of an Ethereum client the chain client uses
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// ArtifactSource returns compiled contracts by name
type ArtifactSource interface {
	Get(name string) (*contracts.Artifact, error)
}

// Client implements ChainClient with go-ethereum. The RPC connection is
// opened on first use so commands that never touch the chain do not need one.
type Client struct {
	cfg       *config.RuntimeConfig
	artifacts ArtifactSource
	log       *slog.Logger

	mu      sync.Mutex
	backend Backend
	chainID *big.Int
	key     *ecdsa.PrivateKey
}

// NewClient creates a new chain client
func NewClient(cfg *config.RuntimeConfig, artifacts ArtifactSource, log *slog.Logger) *Client {
	return &Client{cfg: cfg, artifacts: artifacts, log: log}
}

// NewClientWithBackend creates a chain client over an existing backend
func NewClientWithBackend(backend Backend, key *ecdsa.PrivateKey, cfg *config.RuntimeConfig, artifacts ArtifactSource, log *slog.Logger) *Client {
	return &Client{cfg: cfg, artifacts: artifacts, log: log, backend: backend, key: key}
}

// connect dials the configured network and verifies its chain ID
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chainID != nil {
		return nil
	}

	if c.backend == nil {
		if c.cfg.Network == nil || c.cfg.Network.RPCURL == "" {
			return fmt.Errorf("no network configured: pass --network or set rpc_url")
		}
		client, err := ethclient.DialContext(ctx, c.cfg.Network.RPCURL)
		if err != nil {
			return fmt.Errorf("failed to connect to RPC: %w", err)
		}
		c.backend = client
	}

	if c.key == nil {
		if c.cfg.PrivateKey == "" {
			return fmt.Errorf("no deployer key configured: set TREB_PRIVATE_KEY or PRIVATE_KEY")
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(c.cfg.PrivateKey, "0x"))
		if err != nil {
			return fmt.Errorf("invalid private key: %w", err)
		}
		c.key = key
	}

	networkChainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain ID: %w", err)
	}
	if c.cfg.Network != nil && c.cfg.Network.ChainID != 0 && networkChainID.Uint64() != c.cfg.Network.ChainID {
		return fmt.Errorf("chain ID mismatch: expected %d, got %d", c.cfg.Network.ChainID, networkChainID.Uint64())
	}
	c.chainID = networkChainID

	c.log.Debug("connected to chain", "chainId", networkChainID, "deployer", crypto.PubkeyToAddress(c.key.PublicKey).Hex())
	return nil
}

// Deployer returns the address transactions are sent from
func (c *Client) Deployer(ctx context.Context) (common.Address, error) {
	if err := c.connect(ctx); err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(c.key.PublicKey), nil
}

func (c *Client) transactor(ctx context.Context) (*bind.TransactOpts, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	auth, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx
	return auth, nil
}

// DeployContract deploys a compiled contract with constructor arguments
func (c *Client) DeployContract(ctx context.Context, req usecase.DeployRequest) (*usecase.ChainDeployment, error) {
	artifact, err := c.artifacts.Get(req.Contract)
	if err != nil {
		return nil, err
	}
	addr, receipt, err := c.deploy(ctx, artifact, req.Args)
	if err != nil {
		return nil, err
	}
	return &usecase.ChainDeployment{Address: addr.Hex(), Receipt: receipt}, nil
}

// DeployProxy deploys the implementation, then an ERC1967 proxy pointing at
// it whose constructor runs the initializer.
func (c *Client) DeployProxy(ctx context.Context, req usecase.DeployProxyRequest) (*usecase.ChainDeployment, error) {
	impl, err := c.artifacts.Get(req.Contract)
	if err != nil {
		return nil, err
	}
	initData, err := initializerData(&impl.ABI, req.Initializer, req.Args)
	if err != nil {
		return nil, err
	}

	proxyArtifact, err := c.artifacts.Get(c.cfg.ProxyArtifact)
	if err != nil {
		return nil, fmt.Errorf("proxy artifact: %w", err)
	}

	implAddr, implReceipt, err := c.deploy(ctx, impl, nil)
	if err != nil {
		return nil, fmt.Errorf("implementation: %w", err)
	}
	if !implReceipt.Succeeded() {
		return nil, fmt.Errorf("implementation deploy %s: %w", implReceipt.TxHash, domain.ErrTransactionReverted)
	}
	c.log.Info("implementation deployed", "contract", req.Contract, "address", implAddr.Hex())

	proxyAddr, receipt, err := c.deploy(ctx, proxyArtifact, []any{implAddr.Hex(), hexBytes(initData)})
	if err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}

	return &usecase.ChainDeployment{
		Address:        proxyAddr.Hex(),
		Implementation: implAddr.Hex(),
		Receipt:        receipt,
	}, nil
}

// UpgradeProxy deploys a new implementation and points a UUPS proxy at it
// via upgradeToAndCall. The EIP-1967 slot is read back to confirm.
func (c *Client) UpgradeProxy(ctx context.Context, req usecase.UpgradeProxyRequest) (*usecase.ChainDeployment, error) {
	if !common.IsHexAddress(req.Proxy) {
		return nil, fmt.Errorf("%w: proxy %q", domain.ErrInvalidAddress, req.Proxy)
	}
	impl, err := c.artifacts.Get(req.Contract)
	if err != nil {
		return nil, err
	}

	implAddr, implReceipt, err := c.deploy(ctx, impl, nil)
	if err != nil {
		return nil, fmt.Errorf("implementation: %w", err)
	}
	if !implReceipt.Succeeded() {
		return nil, fmt.Errorf("implementation deploy %s: %w", implReceipt.TxHash, domain.ErrTransactionReverted)
	}

	method, err := abiutil.ParseSignature(upgradeSignature)
	if err != nil {
		return nil, err
	}
	proxy := common.HexToAddress(req.Proxy)
	receipt, raw, err := c.transact(ctx, proxy, method, []any{implAddr, []byte{}})
	if err != nil {
		return nil, err
	}

	if receipt.Succeeded() {
		slot, err := c.backend.StorageAt(ctx, proxy, implementationSlot, raw.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to read implementation slot: %w", err)
		}
		if current := common.BytesToAddress(slot); current != implAddr {
			return nil, fmt.Errorf("proxy %s implementation is %s after upgrade, expected %s", proxy.Hex(), current.Hex(), implAddr.Hex())
		}
	}

	return &usecase.ChainDeployment{
		Address:        proxy.Hex(),
		Implementation: implAddr.Hex(),
		Receipt:        receipt,
	}, nil
}

// Call sends a state-changing transaction to target
func (c *Client) Call(ctx context.Context, req usecase.CallRequest) (*domain.TransactionReceipt, error) {
	if !common.IsHexAddress(req.Target) {
		return nil, fmt.Errorf("%w: target %q", domain.ErrInvalidAddress, req.Target)
	}

	var contractABI *abi.ABI
	if req.Contract != "" {
		artifact, err := c.artifacts.Get(req.Contract)
		switch {
		case err == nil:
			contractABI = &artifact.ABI
		case !strings.Contains(req.Method, "("):
			return nil, err
		}
	}

	method, err := abiutil.FindMethod(contractABI, req.Method, len(req.Args))
	if err != nil {
		return nil, err
	}
	args, err := abiutil.CoerceArgs(method.Inputs, req.Args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method.Sig, err)
	}

	receipt, _, err := c.transact(ctx, common.HexToAddress(req.Target), method, args)
	return receipt, err
}

func (c *Client) deploy(ctx context.Context, artifact *contracts.Artifact, values []any) (common.Address, *domain.TransactionReceipt, error) {
	if len(artifact.Bytecode) == 0 {
		return common.Address{}, nil, fmt.Errorf("%s has no bytecode (abstract contract or interface?)", artifact.Name)
	}
	args, err := abiutil.CoerceArgs(artifact.ABI.Constructor.Inputs, values)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%s constructor: %w", artifact.Name, err)
	}

	auth, err := c.transactor(ctx)
	if err != nil {
		return common.Address{}, nil, err
	}

	addr, tx, _, err := bind.DeployContract(auth, artifact.ABI, artifact.Bytecode, c.backend, args...)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("deploy %s: %w", artifact.Name, err)
	}
	c.log.Debug("deployment sent", "contract", artifact.Name, "tx", tx.Hash().Hex())

	raw, err := c.waitMined(ctx, tx)
	if err != nil {
		return common.Address{}, nil, err
	}
	return addr, toReceipt(raw), nil
}

func (c *Client) transact(ctx context.Context, to common.Address, method *abi.Method, args []any) (*domain.TransactionReceipt, *types.Receipt, error) {
	auth, err := c.transactor(ctx)
	if err != nil {
		return nil, nil, err
	}

	contractABI := abi.ABI{Methods: map[string]abi.Method{method.Name: *method}}
	bound := bind.NewBoundContract(to, contractABI, c.backend, c.backend, c.backend)
	tx, err := bound.Transact(auth, method.Name, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", method.Sig, err)
	}
	c.log.Debug("transaction sent", "method", method.Sig, "to", to.Hex(), "tx", tx.Hash().Hex())

	raw, err := c.waitMined(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	return toReceipt(raw), raw, nil
}

func (c *Client) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	timeout := c.cfg.ReceiptTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("transaction %s not mined within %s", tx.Hash().Hex(), timeout)
		}
		return nil, fmt.Errorf("failed waiting for %s: %w", tx.Hash().Hex(), err)
	}
	return receipt, nil
}

// initializerData encodes the initializer call. A missing default
// initializer with no arguments means the proxy is deployed uninitialised.
func initializerData(implABI *abi.ABI, initializer string, values []any) ([]byte, error) {
	if initializer == "" {
		initializer = domain.DefaultInitializer
	}

	method, err := abiutil.FindMethod(implABI, initializer, len(values))
	if err != nil {
		if len(values) == 0 && initializer == domain.DefaultInitializer && !hasMethod(implABI, initializer) {
			return nil, nil
		}
		return nil, fmt.Errorf("initializer: %w", err)
	}

	args, err := abiutil.CoerceArgs(method.Inputs, values)
	if err != nil {
		return nil, fmt.Errorf("initializer %s: %w", method.Sig, err)
	}
	packed, err := method.Inputs.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("initializer %s: %w", method.Sig, err)
	}
	return append(append([]byte{}, method.ID...), packed...), nil
}

func hasMethod(contractABI *abi.ABI, name string) bool {
	for _, m := range contractABI.Methods {
		if m.RawName == name {
			return true
		}
	}
	return false
}

func hexBytes(b []byte) string {
	return "0x" + common.Bytes2Hex(b)
}

func toReceipt(r *types.Receipt) *domain.TransactionReceipt {
	status := domain.ReceiptFailure
	if r.Status == types.ReceiptStatusSuccessful {
		status = domain.ReceiptSuccess
	}
	receipt := &domain.TransactionReceipt{
		TxHash:  r.TxHash.Hex(),
		Status:  status,
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		block := r.BlockNumber.Uint64()
		receipt.BlockNumber = &block
	}
	return receipt
}

// Ensure Client implements ChainClient
var _ usecase.ChainClient = (*Client)(nil)
