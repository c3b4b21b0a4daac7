package domain

import (
	"fmt"
	"slices"
)

// DeployedContract is an artifact produced by a deploy step or declared as
// an import. Address never changes once assigned; ImplementationHistory is
// append-only and only populated for proxies.
type DeployedContract struct {
	Name                  string   `json:"name"`
	ContractName          string   `json:"contractName"`
	Address               string   `json:"address"`
	IsProxy               bool     `json:"isProxy"`
	ImplementationHistory []string `json:"implementationHistory,omitempty"`
}

// Implementation returns the implementation the proxy currently points to
func (c *DeployedContract) Implementation() string {
	if len(c.ImplementationHistory) == 0 {
		return ""
	}
	return c.ImplementationHistory[len(c.ImplementationHistory)-1]
}

// RecordUpgrade appends a new implementation and switches the ABI contract name
func (c *DeployedContract) RecordUpgrade(contractName, implementation string) error {
	if !c.IsProxy {
		return fmt.Errorf("%s is not a proxy", c.Name)
	}
	c.ImplementationHistory = append(c.ImplementationHistory, implementation)
	c.ContractName = contractName
	return nil
}

// Clone returns a deep copy
func (c *DeployedContract) Clone() *DeployedContract {
	if c == nil {
		return nil
	}
	cp := *c
	cp.ImplementationHistory = slices.Clone(c.ImplementationHistory)
	return &cp
}

// ReceiptStatus is the execution status of a mined transaction
type ReceiptStatus string

const (
	ReceiptSuccess ReceiptStatus = "success"
	ReceiptFailure ReceiptStatus = "failure"
)

// TransactionReceipt is the confirmation of a submitted transaction
type TransactionReceipt struct {
	TxHash      string        `json:"txHash"`
	Status      ReceiptStatus `json:"status"`
	BlockNumber *uint64       `json:"blockNumber,omitempty"`
	GasUsed     uint64        `json:"gasUsed,omitempty"`
}

// Succeeded reports whether the transaction executed without reverting
func (r *TransactionReceipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptSuccess
}

// Import declares a contract that already exists on-chain so plan steps
// can reference it by name.
type Import struct {
	Name     string `json:"name" yaml:"name" toml:"name"`
	Contract string `json:"contract" yaml:"contract" toml:"contract"`
	Address  string `json:"address" yaml:"address" toml:"address"`
	Proxy    bool   `json:"proxy,omitempty" yaml:"proxy,omitempty" toml:"proxy,omitempty"`

	// Implementation optionally seeds the history of an imported proxy
	Implementation string `json:"implementation,omitempty" yaml:"implementation,omitempty" toml:"implementation,omitempty"`
}

// Artifact converts the import into a DeployedContract
func (i Import) Artifact() *DeployedContract {
	contract := i.Contract
	if contract == "" {
		contract = i.Name
	}
	artifact := &DeployedContract{
		Name:         i.Name,
		ContractName: contract,
		Address:      i.Address,
		IsProxy:      i.Proxy,
	}
	if i.Proxy && i.Implementation != "" {
		artifact.ImplementationHistory = []string{i.Implementation}
	}
	return artifact
}
