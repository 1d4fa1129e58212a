package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TypedValue is a plaintext waiting to be encrypted, tagged with its kind.
// Booleans hold 0 or 1 and addresses hold the integer of their 20 bytes.
type TypedValue struct {
	Type  FheType `json:"type"`
	Value *BigInt `json:"value"`
}

// MaxValue returns the largest plaintext representable by t.
func MaxValue(t FheType) *big.Int {
	one := big.NewInt(1)
	return new(big.Int).Sub(new(big.Int).Lsh(one, uint(t.Bits())), one)
}

// InRange reports whether v is a valid plaintext for t.
func InRange(t FheType, v *big.Int) bool {
	return t.Valid() && v != nil && v.Sign() >= 0 && v.BitLen() <= t.Bits()
}

// NewBool builds an ebool value.
func NewBool(v bool) TypedValue {
	x := big.NewInt(0)
	if v {
		x.SetInt64(1)
	}
	return TypedValue{Type: EBool, Value: NewBigInt(x)}
}

// NewUint builds an unsigned value of kind t, failing with ErrValueOutOfRange
// when v does not fit.
func NewUint(t FheType, v uint64) (TypedValue, error) {
	return NewBigUint(t, new(big.Int).SetUint64(v))
}

// NewBigUint builds an unsigned value of kind t from an arbitrary precision
// integer, which is copied.
func NewBigUint(t FheType, v *big.Int) (TypedValue, error) {
	if !t.Valid() {
		return TypedValue{}, fmt.Errorf("%w: %d", ErrUnsupportedType, uint8(t))
	}
	if v == nil {
		return TypedValue{}, fmt.Errorf("%w: nil %s", ErrValueOutOfRange, t)
	}
	if !InRange(t, v) {
		return TypedValue{}, fmt.Errorf("%w: %s does not fit %s", ErrValueOutOfRange, v, t)
	}
	return TypedValue{Type: t, Value: NewBigInt(new(big.Int).Set(v))}, nil
}

// NewAddress builds an eaddress value from its 0x-prefixed hex form.
func NewAddress(s string) (TypedValue, error) {
	addr, err := ParseAddress(s)
	if err != nil {
		return TypedValue{}, err
	}
	return AddressValue(addr), nil
}

// AddressValue builds an eaddress value from an already parsed address.
func AddressValue(addr common.Address) TypedValue {
	return TypedValue{Type: EAddress, Value: NewBigInt(new(big.Int).SetBytes(addr.Bytes()))}
}

// NewValue converts a loosely typed Go value into a TypedValue of kind t. It
// accepts bools, signed and unsigned integers, *big.Int, decimal or 0x hex
// strings and common.Address. Negative numbers, values wider than the kind
// and malformed addresses are rejected.
func NewValue(t FheType, v any) (TypedValue, error) {
	if t == EAddress {
		switch a := v.(type) {
		case common.Address:
			return AddressValue(a), nil
		case string:
			return NewAddress(a)
		default:
			return TypedValue{}, fmt.Errorf("%w: %T is not an address", ErrInvalidAddress, v)
		}
	}
	if b, ok := v.(bool); ok {
		if t != EBool {
			return TypedValue{}, fmt.Errorf("%w: bool given for %s", ErrValueOutOfRange, t)
		}
		return NewBool(b), nil
	}
	x, err := toBigInt(v)
	if err != nil {
		return TypedValue{}, err
	}
	return NewBigUint(t, x)
}

func toBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case int:
		return big.NewInt(int64(n)), nil
	case int8:
		return big.NewInt(int64(n)), nil
	case int16:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case *big.Int:
		if n == nil {
			return nil, fmt.Errorf("%w: nil integer", ErrValueOutOfRange)
		}
		return n, nil
	case *BigInt:
		if n == nil {
			return nil, fmt.Errorf("%w: nil integer", ErrValueOutOfRange)
		}
		return n.MathBigInt(), nil
	case string:
		x, ok := new(big.Int).SetString(strings.TrimSpace(n), 0)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrValueOutOfRange, n)
		}
		return x, nil
	}
	return nil, fmt.Errorf("%w: unsupported Go type %T", ErrValueOutOfRange, v)
}

// Bool returns the value interpreted as a boolean.
func (v TypedValue) Bool() bool { return v.Int().Sign() != 0 }

// Int returns the plaintext as a big integer, zero when Value is unset.
func (v TypedValue) Int() *big.Int {
	if v.Value == nil {
		return new(big.Int)
	}
	return v.Value.MathBigInt()
}

// Address returns the value interpreted as an address.
func (v TypedValue) Address() common.Address {
	return common.BigToAddress(v.Int())
}

// Bytes returns the fixed-size big-endian payload of the value.
func (v TypedValue) Bytes() []byte {
	out := make([]byte, v.Type.Size())
	v.Int().FillBytes(out)
	return out
}

// String renders the value in its natural form.
func (v TypedValue) String() string {
	switch v.Type {
	case EBool:
		return fmt.Sprintf("%s(%t)", v.Type, v.Bool())
	case EAddress:
		return fmt.Sprintf("%s(%s)", v.Type, v.Address().Hex())
	}
	return fmt.Sprintf("%s(%s)", v.Type, v.Value)
}

// EncodeValues serializes values as a sequence of one type byte followed by
// the fixed-size big-endian payload.
func EncodeValues(values []TypedValue) []byte {
	var out []byte
	for _, v := range values {
		out = append(out, byte(v.Type))
		out = append(out, v.Bytes()...)
	}
	return out
}

// DecodeValues is the inverse of EncodeValues.
func DecodeValues(data []byte) ([]TypedValue, error) {
	var values []TypedValue
	for len(data) > 0 {
		t := FheType(data[0])
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedType, data[0])
		}
		size := t.Size()
		if len(data) < 1+size {
			return nil, fmt.Errorf("truncated %s payload: %d bytes left", t, len(data)-1)
		}
		v, err := NewBigUint(t, new(big.Int).SetBytes(data[1:1+size]))
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		data = data[1+size:]
	}
	return values, nil
}
