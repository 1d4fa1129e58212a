// Package input implements the encrypted input builder: an ordered batch of
// typed plaintexts scoped to a (contract, user) pair, finalized once into
// one handle per value and a single input proof covering the whole batch.
package input

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/fhevm-go/backend"
	"github.com/vocdoni/fhevm-go/log"
	"github.com/vocdoni/fhevm-go/types"
)

// ErrBatchFull is returned when appending beyond types.MaxBatchSize values.
var ErrBatchFull = errors.New("input batch is full")

// Builder accumulates typed values for a single encryption request. Append
// methods validate their argument and fail without modifying the builder.
// Encrypt consumes the builder; any later call fails with
// types.ErrAlreadyFinalized. A Builder is owned by one goroutine and is not
// safe for concurrent use.
type Builder struct {
	enc       backend.Encrypter
	chainID   uint64
	contract  common.Address
	user      common.Address
	values    []types.TypedValue
	finalized bool
	verify    func(*types.EncryptedOutput) error
}

// Option configures a Builder.
type Option func(*Builder)

// WithProofCheck makes Encrypt verify the proof returned by the backend
// against params. Contract, user and chain are taken from the builder.
func WithProofCheck(params VerifyParams) Option {
	return func(b *Builder) {
		b.verify = func(out *types.EncryptedOutput) error {
			params.ChainID, params.Contract, params.User = b.chainID, b.contract, b.user
			return VerifyProof(out, params)
		}
	}
}

// New creates an empty builder bound to the contract and user addresses,
// which must be 0x-prefixed 20 byte hex strings. A nil encrypter is accepted
// and makes Encrypt fail with types.ErrNotInitialized.
func New(enc backend.Encrypter, chainID uint64, contract, user string, opts ...Option) (*Builder, error) {
	contractAddr, err := types.ParseAddress(contract)
	if err != nil {
		return nil, fmt.Errorf("contract: %w", err)
	}
	userAddr, err := types.ParseAddress(user)
	if err != nil {
		return nil, fmt.Errorf("user: %w", err)
	}
	b := &Builder{
		enc:      enc,
		chainID:  chainID,
		contract: contractAddr,
		user:     userAddr,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Contract returns the contract the batch is bound to.
func (b *Builder) Contract() common.Address { return b.contract }

// User returns the user the batch is bound to.
func (b *Builder) User() common.Address { return b.user }

// Len returns the number of appended values.
func (b *Builder) Len() int { return len(b.values) }

// Values returns a copy of the appended values in insertion order.
func (b *Builder) Values() []types.TypedValue {
	return append([]types.TypedValue(nil), b.values...)
}

// Finalized reports whether Encrypt has been called.
func (b *Builder) Finalized() bool { return b.finalized }

// Add appends v as a value of kind t, see types.NewValue for the accepted Go
// types.
func (b *Builder) Add(t types.FheType, v any) error {
	if err := b.checkAppend(); err != nil {
		return err
	}
	tv, err := types.NewValue(t, v)
	if err != nil {
		return err
	}
	b.values = append(b.values, tv)
	return nil
}

// AddBool appends an ebool.
func (b *Builder) AddBool(v bool) error { return b.Add(types.EBool, v) }

// Add8 appends an euint8, v must be in [0, 255].
func (b *Builder) Add8(v uint64) error { return b.Add(types.EUint8, v) }

// Add16 appends an euint16, v must be in [0, 65535].
func (b *Builder) Add16(v uint64) error { return b.Add(types.EUint16, v) }

// Add32 appends an euint32, v must be in [0, 4294967295].
func (b *Builder) Add32(v uint64) error { return b.Add(types.EUint32, v) }

// Add64 appends an euint64, v must be in [0, 2^64-1].
func (b *Builder) Add64(v *big.Int) error { return b.Add(types.EUint64, v) }

// AddUint64 appends an euint64 from a native integer.
func (b *Builder) AddUint64(v uint64) error { return b.Add(types.EUint64, v) }

// AddAddress appends an eaddress from its 0x-prefixed hex form.
func (b *Builder) AddAddress(v string) error { return b.Add(types.EAddress, v) }

func (b *Builder) checkAppend() error {
	if b.finalized {
		return types.ErrAlreadyFinalized
	}
	if len(b.values) >= types.MaxBatchSize {
		return fmt.Errorf("%w: max %d values", ErrBatchFull, types.MaxBatchSize)
	}
	return nil
}

// Encrypt sends the batch to the backend and returns one handle per value,
// in insertion order, plus the shared input proof. The builder is consumed
// even when the backend fails, so a failed batch has to be rebuilt.
func (b *Builder) Encrypt(ctx context.Context) (*types.EncryptedOutput, error) {
	if b.finalized {
		return nil, types.ErrAlreadyFinalized
	}
	if b.enc == nil {
		return nil, types.ErrNotInitialized
	}
	b.finalized = true

	req := &backend.InputRequest{
		ChainID:  b.chainID,
		Contract: b.contract,
		User:     b.user,
		Values:   b.Values(),
	}
	out, err := b.enc.EncryptInput(ctx, req)
	if err != nil {
		return nil, backend.WrapError("encrypt input", err)
	}
	if err := b.checkOutput(out); err != nil {
		return nil, backend.WrapError("encrypt input", err)
	}
	log.Debugw("encrypted input batch",
		"contract", b.contract.Hex(),
		"user", b.user.Hex(),
		"values", len(b.values),
		"proofSize", len(out.InputProof))
	return out, nil
}

// checkOutput makes sure the backend answered for this very batch.
func (b *Builder) checkOutput(out *types.EncryptedOutput) error {
	if out == nil {
		return errors.New("empty response")
	}
	if len(out.Handles) != len(b.values) {
		return fmt.Errorf("got %d handles for %d values", len(out.Handles), len(b.values))
	}
	if len(out.InputProof) == 0 {
		return errors.New("empty input proof")
	}
	for i, h := range out.Handles {
		if int(h.Index()) != i || h.Type() != b.values[i].Type || h.ChainID() != b.chainID {
			return fmt.Errorf("handle %d (%s) does not match %s", i, h, b.values[i].Type)
		}
	}
	if b.verify != nil {
		return b.verify(out)
	}
	return nil
}
