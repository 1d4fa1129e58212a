package types

import (
	"fmt"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
)

var (
	addressRegexp = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	handleRegexp  = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
)

// IsValidAddress reports whether s is a 0x-prefixed 20 byte hex address.
// Checksums are not enforced, any hex casing is accepted.
func IsValidAddress(s string) bool {
	return addressRegexp.MatchString(s)
}

// ParseAddress validates s and converts it into a common.Address. It fails
// with ErrInvalidAddress for malformed input.
func ParseAddress(s string) (common.Address, error) {
	if !IsValidAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// ValidHandleHex reports whether s is a 0x-prefixed 32 byte hex handle.
func ValidHandleHex(s string) bool {
	return handleRegexp.MatchString(s)
}
