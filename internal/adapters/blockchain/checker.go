package blockchain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-plan/internal/domain"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

const checkTimeout = 10 * time.Second

// CheckImport verifies that an imported contract has code at its address
// and, for proxies, that the EIP-1967 slot agrees with any declared
// implementation.
func (c *Client) CheckImport(ctx context.Context, imp domain.Import) error {
	if err := c.connect(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	addr := common.HexToAddress(imp.Address)
	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("import %s: failed to check code: %w", imp.Name, err)
	}
	if len(code) == 0 {
		return fmt.Errorf("import %s: %w: no code at %s", imp.Name, domain.ErrNotFound, addr.Hex())
	}

	if !imp.Proxy {
		return nil
	}

	slot, err := c.backend.StorageAt(ctx, addr, implementationSlot, nil)
	if err != nil {
		return fmt.Errorf("import %s: failed to read implementation slot: %w", imp.Name, err)
	}
	current := common.BytesToAddress(slot)
	if current == (common.Address{}) {
		return fmt.Errorf("import %s: %s is not an EIP-1967 proxy", imp.Name, addr.Hex())
	}
	if imp.Implementation != "" && !strings.EqualFold(current.Hex(), imp.Implementation) {
		return fmt.Errorf("import %s: proxy points at %s, plan declares %s", imp.Name, current.Hex(), imp.Implementation)
	}
	return nil
}

// Ensure Client implements ImportChecker
var _ usecase.ImportChecker = (*Client)(nil)
