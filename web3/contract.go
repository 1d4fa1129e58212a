package web3

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vocdoni/fhevm-go/types"
)

// Contract is a deployed contract reachable through a backend.
type Contract struct {
	Address common.Address
	ABI     abi.ABI
	bound   *bind.BoundContract
}

// NewContract parses abiJSON and binds it to address on backend.
func NewContract(address, abiJSON string, backend bind.ContractBackend) (*Contract, error) {
	addr, err := types.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("contract %s: nil backend", addr.Hex())
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("invalid contract ABI: %w", err)
	}
	return &Contract{
		Address: addr,
		ABI:     parsed,
		bound:   bind.NewBoundContract(addr, parsed, backend, backend, backend),
	}, nil
}

// Pack encodes a call to method with args.
func (c *Contract) Pack(method string, args ...any) ([]byte, error) {
	return c.ABI.Pack(method, args...)
}

// Call executes a read only method and returns its decoded outputs.
func (c *Contract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	var out []any
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

// Transact sends a transaction invoking method.
func (c *Contract) Transact(opts *bind.TransactOpts, method string, args ...any) (*gethtypes.Transaction, error) {
	tx, err := c.bound.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("transact %s: %w", method, err)
	}
	return tx, nil
}
