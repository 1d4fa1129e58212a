package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// HandleLen is the length in bytes of a ciphertext handle.
const HandleLen = 32

const (
	// HandleVersion is the layout version stored in the last handle byte.
	HandleVersion byte = 0
	// ComputedIndex marks handles produced by homomorphic evaluation rather
	// than by an input batch.
	ComputedIndex byte = 0xff
	// MaxBatchSize is the maximum number of values a single input batch
	// can hold, since the index must stay below ComputedIndex.
	MaxBatchSize = 254
)

// Handle is an opaque reference to a ciphertext tracked by the backend. It is
// composed of:
//   - digest prefix (21 bytes)
//   - index inside the input batch (1 byte, 0xff for computed handles)
//   - chain ID (8 bytes, big-endian)
//   - FheType (1 byte)
//   - version (1 byte)
type Handle [HandleLen]byte

// NewInputHandle derives the handle of the index-th value of an input batch
// identified by batchDigest.
func NewInputHandle(batchDigest []byte, index uint8, chainID uint64, t FheType) Handle {
	digest := ethcrypto.Keccak256(batchDigest, []byte{index})
	return buildHandle(digest, index, chainID, t)
}

// NewComputedHandle derives the handle of the result of a homomorphic
// operation from its operands.
func NewComputedHandle(op string, chainID uint64, t FheType, operands ...Handle) Handle {
	parts := [][]byte{[]byte(op)}
	for _, h := range operands {
		parts = append(parts, h.Bytes())
	}
	return buildHandle(ethcrypto.Keccak256(parts...), ComputedIndex, chainID, t)
}

func buildHandle(digest []byte, index uint8, chainID uint64, t FheType) Handle {
	var h Handle
	copy(h[0:21], digest[:21])
	h[21] = index
	binary.BigEndian.PutUint64(h[22:30], chainID)
	h[30] = byte(t)
	h[31] = HandleVersion
	return h
}

// HexStringToHandle parses a handle from a hex string with optional 0x
// prefix.
func HexStringToHandle(s string) (Handle, error) {
	b, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %v", ErrInvalidHandle, err)
	}
	return BytesToHandle(b)
}

// BytesToHandle copies data into a Handle, it must be exactly 32 bytes long.
func BytesToHandle(data []byte) (Handle, error) {
	var h Handle
	if err := h.UnmarshalBinary(data); err != nil {
		return Handle{}, err
	}
	return h, nil
}

func (h Handle) Index() uint8       { return h[21] }
func (h Handle) ChainID() uint64    { return binary.BigEndian.Uint64(h[22:30]) }
func (h Handle) Type() FheType      { return FheType(h[30]) }
func (h Handle) Version() byte      { return h[31] }
func (h Handle) IsComputed() bool   { return h[21] == ComputedIndex }
func (h Handle) Bytes() []byte      { return h[:] }
func (h Handle) HexBytes() HexBytes { return h[:] }
func (h Handle) Hash() common.Hash  { return common.Hash(h) }

// BigInt returns the handle as an unsigned integer, the form used by uint256
// contract arguments.
func (h Handle) BigInt() *big.Int { return new(big.Int).SetBytes(h[:]) }

// String returns the 0x-prefixed hex representation.
func (h Handle) String() string { return "0x" + hex.EncodeToString(h[:]) }

// IsZero reports whether the handle is all zeros.
func (h Handle) IsZero() bool { return h == Handle{} }

// Validate checks the handle carries a supported type and the current layout
// version.
func (h Handle) Validate() error {
	if h.Version() != HandleVersion {
		return fmt.Errorf("%w: unknown version %d", ErrInvalidHandle, h.Version())
	}
	if !h.Type().Valid() {
		return fmt.Errorf("%w: %w %d", ErrInvalidHandle, ErrUnsupportedType, h[30])
	}
	return nil
}

// MarshalBinary implements the BinaryMarshaler interface
func (h Handle) MarshalBinary() ([]byte, error) { return h[:], nil }

// UnmarshalBinary implements the BinaryUnmarshaler interface
func (h *Handle) UnmarshalBinary(data []byte) error {
	if len(data) != HandleLen {
		return fmt.Errorf("%w: length %d", ErrInvalidHandle, len(data))
	}
	copy(h[:], data)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (h Handle) MarshalText() ([]byte, error) { return h.HexBytes().MarshalText() }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Handle) UnmarshalText(data []byte) error {
	parsed, err := HexStringToHandle(string(data))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
