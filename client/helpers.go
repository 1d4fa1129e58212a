package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/vocdoni/fhevm-go/log"
	"github.com/vocdoni/fhevm-go/types"
)

// EncryptInput encrypts a single value of kind t for the (contract, user)
// pair. The value is converted with types.NewValue.
func (c *Client) EncryptInput(ctx context.Context, contract, user string, t types.FheType, v any) (*types.EncryptedOutput, error) {
	value, err := types.NewValue(t, v)
	if err != nil {
		return nil, err
	}
	return c.BatchEncrypt(ctx, contract, user, value)
}

// BatchEncrypt encrypts values together, sharing a single input proof.
func (c *Client) BatchEncrypt(ctx context.Context, contract, user string, values ...types.TypedValue) (*types.EncryptedOutput, error) {
	b, err := c.CreateEncryptedInput(contract, user)
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		var raw any = v.Value.MathBigInt()
		if v.Type == types.EAddress && v.Value != nil {
			raw = v.Address()
		}
		if err := b.Add(v.Type, raw); err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
	}
	return b.Encrypt(ctx)
}

// DecryptOutput user-decrypts handle and types the plaintext with the kind
// carried by the handle.
func (c *Client) DecryptOutput(ctx context.Context, handle types.Handle, contract, user string) (types.TypedValue, error) {
	v, err := c.UserDecrypt(ctx, handle, contract, user)
	if err != nil {
		return types.TypedValue{}, err
	}
	tv, err := types.NewBigUint(handle.Type(), v)
	if err != nil {
		return types.TypedValue{}, fmt.Errorf("%w: plaintext of %s does not fit its kind: %w",
			types.ErrBackendFailure, handle, err)
	}
	return tv, nil
}

// EncryptedArgs are the contract call arguments produced by EncryptArgs.
type EncryptedArgs struct {
	// Args are the positional arguments: the handles followed by the input
	// proof, or the plaintext values when Encrypted is false.
	Args []any
	// Encrypted is false only when the plaintext fallback was used.
	Encrypted bool
	// Output is the encryption result, nil on fallback.
	Output *types.EncryptedOutput
	// Cause is the encryption failure that triggered the fallback.
	Cause error
}

// EncryptArgs encrypts values and returns them as contract call arguments.
// When the client was configured with AllowPlaintextFallback and encryption
// fails because the client is not initialized or the backend is failing, the
// plaintext values are returned instead with Encrypted set to false. Invalid
// input and cancellation are never turned into a fallback.
func (c *Client) EncryptArgs(ctx context.Context, contract, user string, values ...types.TypedValue) (*EncryptedArgs, error) {
	out, err := c.BatchEncrypt(ctx, contract, user, values...)
	if err == nil {
		return &EncryptedArgs{Args: out.Args(), Encrypted: true, Output: out}, nil
	}
	if !c.cfg.AllowPlaintextFallback || !fallbackAllowed(err) {
		return nil, err
	}
	args := make([]any, 0, len(values))
	for _, v := range values {
		if !types.InRange(v.Type, v.Value.MathBigInt()) {
			return nil, fmt.Errorf("%w: %s", types.ErrValueOutOfRange, v)
		}
		args = append(args, PlainArg(v))
	}
	log.Warnw("encryption failed, sending plaintext arguments",
		"contract", contract,
		"values", len(values),
		"error", err.Error())
	return &EncryptedArgs{Args: args, Cause: err}, nil
}

func fallbackAllowed(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, types.ErrNotInitialized) || errors.Is(err, types.ErrBackendFailure)
}

// PlainArg converts v into the Go value the ABI encoder expects for the
// matching plaintext Solidity type: bool, uintN or address. An unset value
// converts to zero.
func PlainArg(v types.TypedValue) any {
	x := v.Int()
	switch v.Type {
	case types.EBool:
		return x.Sign() != 0
	case types.EUint8:
		return uint8(x.Uint64())
	case types.EUint16:
		return uint16(x.Uint64())
	case types.EUint32:
		return uint32(x.Uint64())
	case types.EUint64:
		return x.Uint64()
	case types.EAddress:
		return v.Address()
	default:
		return x
	}
}
