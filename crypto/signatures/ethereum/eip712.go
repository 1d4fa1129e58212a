package ethereum

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vocdoni/fhevm-go/types"
)

const (
	// InputVerificationDomain is the EIP-712 domain name used by coprocessors
	// to attest encrypted input batches.
	InputVerificationDomain = "InputVerification"
	// DecryptionDomain is the EIP-712 domain name used by users to authorize
	// re-encryption of their ciphertexts.
	DecryptionDomain = "Decryption"
	domainVersion    = "1"
)

var eip712DomainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

func domain(name string, chainID uint64, verifyingContract common.Address) apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              name,
		Version:           domainVersion,
		ChainId:           math.NewHexOrDecimal256(int64(chainID)),
		VerifyingContract: verifyingContract.Hex(),
	}
}

// InputVerificationTypedData returns the typed data a coprocessor signs to
// attest that handles were produced for the (user, contract) pair on
// contractChainID.
func InputVerificationTypedData(
	handles []types.Handle,
	user, contract common.Address,
	contractChainID uint64,
	inputVerifier common.Address,
) apitypes.TypedData {
	ctHandles := make([]any, len(handles))
	for i, h := range handles {
		ctHandles[i] = h.String()
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": eip712DomainType,
			"CiphertextVerification": {
				{Name: "ctHandles", Type: "bytes32[]"},
				{Name: "userAddress", Type: "address"},
				{Name: "contractAddress", Type: "address"},
				{Name: "contractChainId", Type: "uint256"},
			},
		},
		PrimaryType: "CiphertextVerification",
		Domain:      domain(InputVerificationDomain, contractChainID, inputVerifier),
		Message: apitypes.TypedDataMessage{
			"ctHandles":       ctHandles,
			"userAddress":     user.Hex(),
			"contractAddress": contract.Hex(),
			"contractChainId": new(big.Int).SetUint64(contractChainID).String(),
		},
	}
}

// UserDecryptRequest is the authorization a user signs to let the KMS
// re-encrypt ciphertexts of the listed contracts under publicKey during
// [StartTimestamp, StartTimestamp+DurationDays days).
type UserDecryptRequest struct {
	PublicKey         types.HexBytes   `json:"publicKey"`
	ContractAddresses []common.Address `json:"contractAddresses"`
	StartTimestamp    int64            `json:"startTimestamp"`
	DurationDays      int64            `json:"durationDays"`
}

// Expiry returns the unix timestamp from which the authorization is no
// longer valid.
func (r *UserDecryptRequest) Expiry() int64 {
	return r.StartTimestamp + r.DurationDays*24*60*60
}

// ValidAt reports whether the authorization window covers the unix time now.
func (r *UserDecryptRequest) ValidAt(now int64) bool {
	return r.DurationDays > 0 && now >= r.StartTimestamp && now < r.Expiry()
}

// Covers reports whether contract is listed in the authorization.
func (r *UserDecryptRequest) Covers(contract common.Address) bool {
	for _, addr := range r.ContractAddresses {
		if addr == contract {
			return true
		}
	}
	return false
}

// TypedData returns the EIP-712 representation of the request bound to the
// KMS verifier contract of chainID.
func (r *UserDecryptRequest) TypedData(chainID uint64, kmsVerifier common.Address) apitypes.TypedData {
	contracts := make([]any, len(r.ContractAddresses))
	for i, addr := range r.ContractAddresses {
		contracts[i] = addr.Hex()
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": eip712DomainType,
			"UserDecryptRequestVerification": {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
			},
		},
		PrimaryType: "UserDecryptRequestVerification",
		Domain:      domain(DecryptionDomain, chainID, kmsVerifier),
		Message: apitypes.TypedDataMessage{
			"publicKey":         r.PublicKey.String(),
			"contractAddresses": contracts,
			"startTimestamp":    big.NewInt(r.StartTimestamp).String(),
			"durationDays":      big.NewInt(r.DurationDays).String(),
		},
	}
}

// TypedDataHash returns the EIP-712 digest of td.
func TypedDataHash(td apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("could not hash typed data: %w", err)
	}
	return digest, nil
}

// RecoverTypedData returns the address that signed td.
func RecoverTypedData(td apitypes.TypedData, signature []byte) (common.Address, error) {
	digest, err := TypedDataHash(td)
	if err != nil {
		return common.Address{}, err
	}
	sig, err := BytesToSignature(signature)
	if err != nil {
		return common.Address{}, err
	}
	return sig.RecoverDigest(digest)
}
