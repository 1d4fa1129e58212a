// Package backend defines the port between the SDK and the cryptographic
// backend that encrypts inputs, produces input proofs and decrypts
// ciphertexts. The gateway package provides an HTTP implementation and the
// coprocessor package an in-process mock.
package backend

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/fhevm-go/types"
)

// InputRequest is a batch of plaintexts to encrypt for a (contract, user)
// pair. Values keep the order in which they were appended.
type InputRequest struct {
	ChainID  uint64             `json:"chainId"`
	Contract common.Address     `json:"contractAddress"`
	User     common.Address     `json:"userAddress"`
	Values   []types.TypedValue `json:"values"`
}

// UserDecryptRequest asks to re-encrypt the plaintext of Handle under
// PublicKey. Signature is the EIP-712 authorization signed by User over
// UserDecryptRequestVerification.
type UserDecryptRequest struct {
	Handle         types.Handle   `json:"handle"`
	Contract       common.Address `json:"contractAddress"`
	User           common.Address `json:"userAddress"`
	PublicKey      types.HexBytes `json:"publicKey"`
	Signature      types.HexBytes `json:"signature"`
	StartTimestamp int64          `json:"startTimestamp"`
	DurationDays   int64          `json:"durationDays"`
}

// PublicDecryptRequest asks for the plaintext of a publicly decryptable
// handle.
type PublicDecryptRequest struct {
	Handle   types.Handle   `json:"handle"`
	Contract common.Address `json:"contractAddress"`
}

// Info describes the network served by a backend.
type Info struct {
	ChainID              uint64           `json:"chainId"`
	PublicKey            types.HexBytes   `json:"publicKey"`
	Signers              []common.Address `json:"signers"`
	ACLAddress           common.Address   `json:"aclAddress"`
	KMSVerifierAddress   common.Address   `json:"kmsVerifierAddress"`
	InputVerifierAddress common.Address   `json:"inputVerifierAddress"`
}

// Encrypter turns a batch of plaintexts into handles and a single input
// proof covering all of them.
type Encrypter interface {
	EncryptInput(ctx context.Context, req *InputRequest) (*types.EncryptedOutput, error)
}

// Decrypter resolves handles back to plaintexts. UserDecrypt returns the
// plaintext sealed to the request public key.
type Decrypter interface {
	UserDecrypt(ctx context.Context, req *UserDecryptRequest) (types.HexBytes, error)
	PublicDecrypt(ctx context.Context, req *PublicDecryptRequest) (*big.Int, error)
}

// Backend is the full cryptographic backend.
type Backend interface {
	Encrypter
	Decrypter
	Info(ctx context.Context) (*Info, error)
}

// WrapError tags an opaque backend failure with types.ErrBackendFailure.
// Errors already in the taxonomy and context errors are returned unchanged,
// so callers can still tell a cancellation or an authorization failure from
// a broken backend.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if types.IsTaxonomyError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", types.ErrBackendFailure, op, err)
}
