// Package ethereum provides Ethereum ECDSA signing, personal message hashing
// and EIP-712 typed data signing and recovery.
package ethereum

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/vocdoni/fhevm-go/types"
)

const (
	// SignatureLength is the size of an ECDSA signature in bytes
	SignatureLength = ethcrypto.SignatureLength
	// SigningPrefix is the prefix added when hashing Ethereum messages
	SigningPrefix = "\u0019Ethereum Signed Message:\n"
	// HashLength is the size of a keccak256 hash
	HashLength = 32
)

// ECDSASignature represents an Ethereum ECDSA signature with R and S
// components and the recovery id, stored in its 0-3 form.
type ECDSASignature struct {
	R        *big.Int `json:"r"`
	S        *big.Int `json:"s"`
	recovery byte
}

// BytesToSignature creates a new ECDSASignature from a 65 byte [R || S || V]
// payload. V may be given either as 0-3 or in the 27-30 Ethereum form.
func BytesToSignature(signature []byte) (*ECDSASignature, error) {
	if len(signature) != SignatureLength {
		return nil, fmt.Errorf("invalid signature length %d, want %d", len(signature), SignatureLength)
	}
	v := signature[64]
	if v >= 27 {
		v -= 27
	}
	if v > 3 {
		return nil, fmt.Errorf("invalid recovery byte %d", signature[64])
	}
	return &ECDSASignature{
		R:        new(big.Int).SetBytes(signature[:32]),
		S:        new(big.Int).SetBytes(signature[32:64]),
		recovery: v,
	}, nil
}

// HexToSignature decodes the provided hex string and then the signature
// using BytesToSignature.
func HexToSignature(hexSignature string) (*ECDSASignature, error) {
	bSignature, err := types.HexStringToHexBytes(hexSignature)
	if err != nil {
		return nil, err
	}
	return BytesToSignature(bSignature)
}

// Valid method checks if the ECDSASignature is valid. A signature is valid if
// both R and S values are not nil.
func (sig *ECDSASignature) Valid() bool {
	return sig != nil && sig.R != nil && sig.S != nil
}

// Bytes returns the [R || S || V] form with V in 0-3, the one expected by
// ethcrypto.SigToPub.
func (sig *ECDSASignature) Bytes() []byte {
	out := make([]byte, SignatureLength)
	sig.R.FillBytes(out[:32])
	sig.S.FillBytes(out[32:64])
	out[64] = sig.recovery
	return out
}

// EthereumBytes returns the [R || S || V] form with V in 27-30, the one
// wallets produce for eth_signTypedData_v4 and personal_sign.
func (sig *ECDSASignature) EthereumBytes() types.HexBytes {
	out := sig.Bytes()
	out[64] += 27
	return out
}

// RecoverDigest returns the address that produced sig over a 32 byte digest.
func (sig *ECDSASignature) RecoverDigest(digest []byte) (common.Address, error) {
	if !sig.Valid() {
		return common.Address{}, fmt.Errorf("signature is nil")
	}
	pubKey, err := ethcrypto.SigToPub(digest, sig.Bytes())
	if err != nil {
		return common.Address{}, fmt.Errorf("sigToPub %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pubKey), nil
}

// Verify checks that sig is a valid personal message signature of
// signedInput produced by expectedAddress.
func (sig *ECDSASignature) Verify(signedInput []byte, expectedAddress common.Address) bool {
	addr, err := sig.RecoverDigest(HashMessage(signedInput))
	return err == nil && addr == expectedAddress
}

// String returns a string representation of the ECDSASignature.
func (sig *ECDSASignature) String() string {
	return fmt.Sprintf("R: %s, S: %s, Recovery: %d", sig.R.String(), sig.S.String(), sig.recovery)
}

// AddrFromSignature recovers the Ethereum address that created the signature
// of a personal message.
func AddrFromSignature(message []byte, signature *ECDSASignature) (common.Address, error) {
	return signature.RecoverDigest(HashMessage(message))
}
