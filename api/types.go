package api

import "github.com/vocdoni/fhevm-go/types"

// InputProofRequest carries a batch of values encoded with
// types.EncodeValues and sealed to the network public key.
type InputProofRequest struct {
	ChainID    uint64         `json:"chainId"`
	Contract   string         `json:"contractAddress"`
	User       string         `json:"userAddress"`
	Ciphertext types.HexBytes `json:"ciphertext"`
}

// InputProofResponse is the registered batch.
type InputProofResponse struct {
	Handles    []types.Handle `json:"handles"`
	InputProof types.HexBytes `json:"inputProof"`
}

// UserDecryptRequest asks to re-encrypt a handle under PublicKey.
type UserDecryptRequest struct {
	Handle         string         `json:"handle"`
	Contract       string         `json:"contractAddress"`
	User           string         `json:"userAddress"`
	PublicKey      types.HexBytes `json:"publicKey"`
	Signature      types.HexBytes `json:"signature"`
	StartTimestamp int64          `json:"startTimestamp"`
	DurationDays   int64          `json:"durationDays"`
}

// UserDecryptResponse holds the plaintext sealed to the request public key.
type UserDecryptResponse struct {
	Sealed types.HexBytes `json:"sealed"`
}

// PublicDecryptRequest asks for the plaintext of a public handle.
type PublicDecryptRequest struct {
	Handle   string `json:"handle"`
	Contract string `json:"contractAddress"`
}

// PublicDecryptResponse holds the plaintext as a decimal string.
type PublicDecryptResponse struct {
	Value *types.BigInt `json:"value"`
}

// ComputeRequest evaluates Op over Lhs and Rhs on behalf of Caller.
type ComputeRequest struct {
	Op     string `json:"op"`
	Lhs    string `json:"lhs"`
	Rhs    string `json:"rhs"`
	Caller string `json:"caller"`
}

// ComputeResponse is the handle of the result.
type ComputeResponse struct {
	Handle types.Handle `json:"handle"`
}

// AllowRequest grants Address access to Handle. Caller must already be
// allowed.
type AllowRequest struct {
	Handle  string `json:"handle"`
	Address string `json:"address"`
	Caller  string `json:"caller"`
}

// MakePublicRequest marks Handle publicly decryptable.
type MakePublicRequest struct {
	Handle string `json:"handle"`
	Caller string `json:"caller"`
}

// AllowedResponse reports whether an address may use a handle.
type AllowedResponse struct {
	Allowed bool `json:"allowed"`
}
