package util

import (
	"crypto/rand"

	"github.com/ethereum/go-ethereum/common"
)

// RandomBytes returns n bytes read from crypto/rand. It panics if the system
// randomness source fails.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// RandomAddress returns a random account address.
func RandomAddress() common.Address {
	return common.BytesToAddress(RandomBytes(common.AddressLength))
}
