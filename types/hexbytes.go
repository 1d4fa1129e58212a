package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
)

// HexBytes is a []byte which encodes as 0x-prefixed hexadecimal in JSON and
// text, as opposed to the base64 default. Proofs, signatures, public keys and
// sealed plaintexts travel as HexBytes.
type HexBytes []byte

// Bytes returns the underlying byte slice.
func (b HexBytes) Bytes() []byte {
	return b
}

// Hex returns the hexadecimal representation without prefix.
func (b HexBytes) Hex() string {
	return hex.EncodeToString(b)
}

// String returns the hexadecimal representation prefixed with "0x".
func (b HexBytes) String() string {
	return "0x" + b.Hex()
}

// BigInt interprets the bytes as a big-endian unsigned integer.
func (b HexBytes) BigInt() *big.Int {
	return new(big.Int).SetBytes(b)
}

// LeftPad returns a copy of b padded with leading zeros up to n bytes.
func (b HexBytes) LeftPad(n int) HexBytes {
	if len(b) >= n {
		return bytes.Clone(b)
	}
	out := make(HexBytes, n)
	copy(out[n-len(b):], b)
	return out
}

// Equal reports whether both byte slices hold the same bytes.
func (b HexBytes) Equal(other HexBytes) bool {
	return bytes.Equal(b, other)
}

// MarshalText implements encoding.TextMarshaler.
func (b HexBytes) MarshalText() ([]byte, error) {
	enc := make([]byte, 2+hex.EncodedLen(len(b)))
	enc[0], enc[1] = '0', 'x'
	hex.Encode(enc[2:], b)
	return enc, nil
}

// UnmarshalText implements encoding.TextUnmarshaler. The "0x" prefix is
// optional.
func (b *HexBytes) UnmarshalText(data []byte) error {
	decoded, err := HexStringToHexBytes(string(data))
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

// HexStringToHexBytes decodes a hex string, stripping a leading "0x" or "0X".
func HexStringToHexBytes(hexString string) (HexBytes, error) {
	b, err := hex.DecodeString(trimHexPrefix(hexString))
	if err != nil {
		return nil, fmt.Errorf("invalid hex string %q: %w", hexString, err)
	}
	return b, nil
}

// HexStringToHexBytesMustUnmarshal is like HexStringToHexBytes but panics on
// malformed input. Meant for constants.
func HexStringToHexBytesMustUnmarshal(hexString string) HexBytes {
	b, err := HexStringToHexBytes(hexString)
	if err != nil {
		panic(err)
	}
	return b
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
