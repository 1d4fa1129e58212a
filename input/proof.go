package input

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/fhevm-go/crypto/signatures/ethereum"
	"github.com/vocdoni/fhevm-go/types"
)

// ErrInvalidProof is returned when an input proof is malformed or not signed
// by the expected coprocessors.
var ErrInvalidProof = errors.New("invalid input proof")

// Proof is the decoded form of an input proof:
//
//	[numHandles:1][numSigners:1][handles:32*numHandles][signatures:65*numSigners][extra]
type Proof struct {
	Handles    []types.Handle
	Signatures []types.HexBytes
	Extra      types.HexBytes
}

// Encode serializes the proof.
func (p *Proof) Encode() (types.HexBytes, error) {
	if len(p.Handles) > types.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d handles, max %d", ErrInvalidProof, len(p.Handles), types.MaxBatchSize)
	}
	if len(p.Signatures) > 255 {
		return nil, fmt.Errorf("%w: %d signatures", ErrInvalidProof, len(p.Signatures))
	}
	out := make(types.HexBytes, 0, 2+len(p.Handles)*types.HandleLen+len(p.Signatures)*ethereum.SignatureLength+len(p.Extra))
	out = append(out, byte(len(p.Handles)), byte(len(p.Signatures)))
	for _, h := range p.Handles {
		out = append(out, h[:]...)
	}
	for _, sig := range p.Signatures {
		if len(sig) != ethereum.SignatureLength {
			return nil, fmt.Errorf("%w: signature length %d", ErrInvalidProof, len(sig))
		}
		out = append(out, sig...)
	}
	return append(out, p.Extra...), nil
}

// DecodeProof parses an input proof.
func DecodeProof(data []byte) (*Proof, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: too short", ErrInvalidProof)
	}
	numHandles, numSigners := int(data[0]), int(data[1])
	end := 2 + numHandles*types.HandleLen + numSigners*ethereum.SignatureLength
	if len(data) < end {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d", ErrInvalidProof, len(data), end)
	}
	p := &Proof{
		Handles:    make([]types.Handle, 0, numHandles),
		Signatures: make([]types.HexBytes, 0, numSigners),
	}
	offset := 2
	for range numHandles {
		h, _ := types.BytesToHandle(data[offset : offset+types.HandleLen])
		p.Handles = append(p.Handles, h)
		offset += types.HandleLen
	}
	for range numSigners {
		p.Signatures = append(p.Signatures, types.HexBytes(data[offset:offset+ethereum.SignatureLength]))
		offset += ethereum.SignatureLength
	}
	if offset < len(data) {
		p.Extra = types.HexBytes(data[offset:])
	}
	return p, nil
}

// VerifyParams binds an input proof to its context.
type VerifyParams struct {
	ChainID       uint64
	Contract      common.Address
	User          common.Address
	InputVerifier common.Address
	// Signers is the set of coprocessor addresses allowed to attest inputs.
	Signers []common.Address
	// Threshold is the minimum number of distinct allowed signers, at least
	// one.
	Threshold int
}

// VerifyProof checks that out.InputProof covers exactly out.Handles, in
// order, and carries signatures of at least Threshold distinct allowed
// signers over the (handles, user, contract, chain) context.
func VerifyProof(out *types.EncryptedOutput, params VerifyParams) error {
	proof, err := DecodeProof(out.InputProof)
	if err != nil {
		return err
	}
	if len(proof.Handles) != len(out.Handles) {
		return fmt.Errorf("%w: proof covers %d handles, got %d", ErrInvalidProof, len(proof.Handles), len(out.Handles))
	}
	for i := range proof.Handles {
		if proof.Handles[i] != out.Handles[i] {
			return fmt.Errorf("%w: handle %d mismatch", ErrInvalidProof, i)
		}
	}
	allowed := make(map[common.Address]bool, len(params.Signers))
	for _, s := range params.Signers {
		allowed[s] = true
	}
	td := ethereum.InputVerificationTypedData(out.Handles, params.User, params.Contract, params.ChainID, params.InputVerifier)
	seen := make(map[common.Address]bool)
	for i, sig := range proof.Signatures {
		addr, err := ethereum.RecoverTypedData(td, sig)
		if err != nil {
			return fmt.Errorf("%w: signature %d: %w", ErrInvalidProof, i, err)
		}
		if !allowed[addr] {
			return fmt.Errorf("%w: signature %d by unknown signer %s", ErrInvalidProof, i, addr.Hex())
		}
		seen[addr] = true
	}
	if len(seen) < max(params.Threshold, 1) {
		return fmt.Errorf("%w: %d valid signers, want %d", ErrInvalidProof, len(seen), max(params.Threshold, 1))
	}
	return nil
}
