package types

import (
	"fmt"
	"strings"
)

// FheType identifies the kind of an encrypted value. The numeric values are
// the ones used on chain, so they are stable across releases.
type FheType uint8

const (
	EBool    FheType = 0
	EUint8   FheType = 2
	EUint16  FheType = 3
	EUint32  FheType = 4
	EUint64  FheType = 5
	EAddress FheType = 7
)

// FheTypes lists every supported kind in wire id order.
var FheTypes = []FheType{EBool, EUint8, EUint16, EUint32, EUint64, EAddress}

var fheTypeNames = map[FheType]string{
	EBool:    "ebool",
	EUint8:   "euint8",
	EUint16:  "euint16",
	EUint32:  "euint32",
	EUint64:  "euint64",
	EAddress: "eaddress",
}

// Valid reports whether t is a supported kind.
func (t FheType) Valid() bool {
	_, ok := fheTypeNames[t]
	return ok
}

// Bits returns the plaintext bit width of the kind.
func (t FheType) Bits() int {
	switch t {
	case EBool:
		return 1
	case EUint8:
		return 8
	case EUint16:
		return 16
	case EUint32:
		return 32
	case EUint64:
		return 64
	case EAddress:
		return 160
	}
	return 0
}

// Size returns the number of bytes used to encode a plaintext of this kind.
func (t FheType) Size() int {
	return (t.Bits() + 7) / 8
}

// String returns the Solidity name of the kind (ebool, euint8, ...).
func (t FheType) String() string {
	if name, ok := fheTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FheType(%d)", uint8(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t FheType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedType, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FheType) UnmarshalText(data []byte) error {
	parsed, err := ParseFheType(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseFheType accepts both the Solidity names (euint32) and the bare ones
// (uint32, bool, address).
func ParseFheType(s string) (FheType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, t := range FheTypes {
		if n := fheTypeNames[t]; n == name || n == "e"+name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}
