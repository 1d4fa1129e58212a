// Package coprocessor implements an in-process mock of the FHE coprocessor
// and KMS. It keeps plaintexts instead of ciphertexts but reproduces the
// protocol around them: handle derivation, signed input proofs, ACL grants,
// EIP-712 authorized user decryption sealed with ECIES, public decryption
// and homomorphic evaluation. It is meant for tests and local development.
package coprocessor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/vocdoni/fhevm-go/backend"
	"github.com/vocdoni/fhevm-go/crypto/keypair"
	"github.com/vocdoni/fhevm-go/crypto/signatures/ethereum"
	"github.com/vocdoni/fhevm-go/input"
	"github.com/vocdoni/fhevm-go/log"
	"github.com/vocdoni/fhevm-go/storage"
	"github.com/vocdoni/fhevm-go/types"
	"github.com/vocdoni/fhevm-go/util"
)

// ErrInvalidRequest is returned for requests that are malformed rather than
// unauthorized, such as a chain mismatch or an invalid public key.
var ErrInvalidRequest = errors.New("invalid request")

// Config holds the coprocessor parameters. Zero addresses are allowed, they
// only need to match what clients use in their EIP-712 domains.
type Config struct {
	ChainID              uint64
	ACLAddress           common.Address
	KMSVerifierAddress   common.Address
	InputVerifierAddress common.Address
	// Signers attest input proofs, a random one is generated when empty.
	Signers []*ethereum.Signer
	// NetworkKey decrypts inputs sealed by remote clients, a random one is
	// generated when nil.
	NetworkKey *keypair.Keypair
	// Now returns the current time, time.Now when nil.
	Now func() time.Time
}

// Coprocessor implements backend.Backend.
type Coprocessor struct {
	cfg     Config
	storage *storage.Storage
}

var _ backend.Backend = (*Coprocessor)(nil)

// New creates a coprocessor keeping its records in st.
func New(st *storage.Storage, cfg Config) (*Coprocessor, error) {
	if st == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if len(cfg.Signers) == 0 {
		signer, err := ethereum.NewSigner()
		if err != nil {
			return nil, err
		}
		cfg.Signers = []*ethereum.Signer{signer}
	}
	if cfg.NetworkKey == nil {
		kp, err := keypair.Generate()
		if err != nil {
			return nil, err
		}
		cfg.NetworkKey = kp
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coprocessor{cfg: cfg, storage: st}, nil
}

// Info implements backend.Backend.
func (c *Coprocessor) Info(ctx context.Context) (*backend.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	signers := make([]common.Address, len(c.cfg.Signers))
	for i, s := range c.cfg.Signers {
		signers[i] = s.Address()
	}
	return &backend.Info{
		ChainID:              c.cfg.ChainID,
		PublicKey:            c.cfg.NetworkKey.PublicKey,
		Signers:              signers,
		ACLAddress:           c.cfg.ACLAddress,
		KMSVerifierAddress:   c.cfg.KMSVerifierAddress,
		InputVerifierAddress: c.cfg.InputVerifierAddress,
	}, nil
}

// EncryptInput implements backend.Encrypter. Each value gets a handle derived
// from a fresh batch digest, the user and the contract are granted access and
// every coprocessor signer attests the batch.
func (c *Coprocessor) EncryptInput(ctx context.Context, req *backend.InputRequest) (*types.EncryptedOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.ChainID != c.cfg.ChainID {
		return nil, fmt.Errorf("%w: chain %d, serving %d", ErrInvalidRequest, req.ChainID, c.cfg.ChainID)
	}
	if len(req.Values) > types.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d values, max %d", ErrInvalidRequest, len(req.Values), types.MaxBatchSize)
	}

	var chainID [8]byte
	binary.BigEndian.PutUint64(chainID[:], req.ChainID)
	digest := ethcrypto.Keccak256(util.RandomBytes(32), req.Contract.Bytes(), req.User.Bytes(), chainID[:])

	now := c.cfg.Now().Unix()
	handles := make([]types.Handle, len(req.Values))
	records := make([]*storage.CiphertextRecord, len(req.Values))
	for i, v := range req.Values {
		if !types.InRange(v.Type, v.Value.MathBigInt()) {
			return nil, fmt.Errorf("%w: value %d: %w", ErrInvalidRequest, i, types.ErrValueOutOfRange)
		}
		handles[i] = types.NewInputHandle(digest, uint8(i), req.ChainID, v.Type)
		records[i] = &storage.CiphertextRecord{
			Handle:    handles[i],
			Type:      v.Type,
			Value:     v.Bytes(),
			ACL:       []common.Address{req.User, req.Contract},
			Contract:  req.Contract,
			CreatedAt: now,
		}
	}

	td := ethereum.InputVerificationTypedData(handles, req.User, req.Contract, req.ChainID, c.cfg.InputVerifierAddress)
	proof := &input.Proof{Handles: handles}
	for _, s := range c.cfg.Signers {
		sig, err := s.SignTypedData(td)
		if err != nil {
			return nil, fmt.Errorf("could not sign input proof: %w", err)
		}
		proof.Signatures = append(proof.Signatures, sig)
	}
	encoded, err := proof.Encode()
	if err != nil {
		return nil, err
	}
	if err := c.storage.SetCiphertexts(records...); err != nil {
		return nil, fmt.Errorf("could not store ciphertexts: %w", err)
	}
	log.Debugw("input batch registered",
		"contract", req.Contract.Hex(),
		"user", req.User.Hex(),
		"handles", len(handles))
	return &types.EncryptedOutput{Handles: handles, InputProof: encoded}, nil
}

// EncryptSealed opens a batch of values encoded with types.EncodeValues and
// sealed to the network public key, then registers it like EncryptInput.
func (c *Coprocessor) EncryptSealed(ctx context.Context, chainID uint64, contract, user common.Address, sealed []byte) (*types.EncryptedOutput, error) {
	plaintext, err := c.cfg.NetworkKey.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	values, err := types.DecodeValues(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return c.EncryptInput(ctx, &backend.InputRequest{
		ChainID:  chainID,
		Contract: contract,
		User:     user,
		Values:   values,
	})
}

// UserDecrypt implements backend.Decrypter. The request must be signed by the
// user over UserDecryptRequestVerification for the contract, be inside its
// validity window, and both the user and the contract must be allowed on the
// handle. The plaintext is sealed to the request public key.
func (c *Coprocessor) UserDecrypt(ctx context.Context, req *backend.UserDecryptRequest) (types.HexBytes, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !keypair.ValidPublicKey(req.PublicKey) {
		return nil, fmt.Errorf("%w: invalid public key", ErrInvalidRequest)
	}
	rec, err := c.record(req.Handle)
	if err != nil {
		return nil, err
	}
	auth := &ethereum.UserDecryptRequest{
		PublicKey:         req.PublicKey,
		ContractAddresses: []common.Address{req.Contract},
		StartTimestamp:    req.StartTimestamp,
		DurationDays:      req.DurationDays,
	}
	signer, err := ethereum.RecoverTypedData(auth.TypedData(c.cfg.ChainID, c.cfg.KMSVerifierAddress), req.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrUnauthorized, err)
	}
	if signer != req.User {
		return nil, fmt.Errorf("%w: request signed by %s, not %s", types.ErrUnauthorized, signer.Hex(), req.User.Hex())
	}
	if !auth.ValidAt(c.cfg.Now().Unix()) {
		return nil, fmt.Errorf("%w: authorization expired or not yet valid", types.ErrUnauthorized)
	}
	if !rec.Allowed(req.User) || !rec.Allowed(req.Contract) {
		return nil, fmt.Errorf("%w: %s is not allowed for %s on %s",
			types.ErrUnauthorized, req.User.Hex(), req.Handle, req.Contract.Hex())
	}
	return keypair.Seal(req.PublicKey, rec.Value)
}

// PublicDecrypt implements backend.Decrypter. Only handles marked publicly
// decryptable can be read.
func (c *Coprocessor) PublicDecrypt(ctx context.Context, req *backend.PublicDecryptRequest) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := c.record(req.Handle)
	if err != nil {
		return nil, err
	}
	if !rec.Public {
		return nil, fmt.Errorf("%w: %s is not publicly decryptable", types.ErrUnauthorized, req.Handle)
	}
	return new(big.Int).SetBytes(rec.Value), nil
}

// Allow grants addr access to handle. The caller must already be allowed.
func (c *Coprocessor) Allow(ctx context.Context, handle types.Handle, addr, caller common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.update(handle, caller, func(rec *storage.CiphertextRecord) {
		rec.Allow(addr)
	})
}

// MakePubliclyDecryptable marks handle as readable by anyone. The caller must
// be allowed on the handle.
func (c *Coprocessor) MakePubliclyDecryptable(ctx context.Context, handle types.Handle, caller common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.update(handle, caller, func(rec *storage.CiphertextRecord) {
		rec.Public = true
	})
}

// IsAllowed reports whether addr may use handle.
func (c *Coprocessor) IsAllowed(handle types.Handle, addr common.Address) (bool, error) {
	rec, err := c.record(handle)
	if err != nil {
		return false, err
	}
	return rec.Allowed(addr), nil
}

// Evaluate computes op over the ciphertexts lhs and rhs on behalf of caller,
// who must be allowed on both, and returns the handle of the result. The
// caller is the only address allowed on the result.
func (c *Coprocessor) Evaluate(ctx context.Context, op Op, lhs, rhs types.Handle, caller common.Address) (types.Handle, error) {
	if err := ctx.Err(); err != nil {
		return types.Handle{}, err
	}
	a, err := c.record(lhs)
	if err != nil {
		return types.Handle{}, err
	}
	b, err := c.record(rhs)
	if err != nil {
		return types.Handle{}, err
	}
	if !a.Allowed(caller) || !b.Allowed(caller) {
		return types.Handle{}, fmt.Errorf("%w: %s may not use the operands", types.ErrUnauthorized, caller.Hex())
	}
	if a.Type != b.Type {
		return types.Handle{}, fmt.Errorf("%w: operand kinds differ (%s, %s)", types.ErrUnsupportedType, a.Type, b.Type)
	}
	resultType, err := op.ResultType(a.Type)
	if err != nil {
		return types.Handle{}, err
	}
	result := op.apply(a.Type, new(uint256.Int).SetBytes(a.Value), new(uint256.Int).SetBytes(b.Value))

	handle := types.NewComputedHandle(string(op), c.cfg.ChainID, resultType, lhs, rhs)
	rec := &storage.CiphertextRecord{
		Handle:    handle,
		Type:      resultType,
		Value:     toBytes(resultType, result),
		ACL:       []common.Address{caller},
		Contract:  a.Contract,
		CreatedAt: c.cfg.Now().Unix(),
	}
	err = c.storage.SetCiphertexts(rec)
	if errors.Is(err, storage.ErrKeyAlreadyExists) {
		// same operation over the same operands, only the grant is new
		err = c.storage.UpdateCiphertext(handle, func(r *storage.CiphertextRecord) error {
			r.Allow(caller)
			return nil
		})
	}
	if err != nil {
		return types.Handle{}, err
	}
	return handle, nil
}

func (c *Coprocessor) record(handle types.Handle) (*storage.CiphertextRecord, error) {
	if err := handle.Validate(); err != nil {
		return nil, err
	}
	if handle.ChainID() != c.cfg.ChainID {
		return nil, fmt.Errorf("%w: handle of chain %d", types.ErrInvalidHandle, handle.ChainID())
	}
	rec, err := c.storage.Ciphertext(handle)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownHandle, handle)
	}
	return rec, err
}

func (c *Coprocessor) update(handle types.Handle, caller common.Address, fn func(*storage.CiphertextRecord)) error {
	if _, err := c.record(handle); err != nil {
		return err
	}
	return c.storage.UpdateCiphertext(handle, func(rec *storage.CiphertextRecord) error {
		if !rec.Allowed(caller) {
			return fmt.Errorf("%w: %s is not allowed on %s", types.ErrUnauthorized, caller.Hex(), handle)
		}
		fn(rec)
		return nil
	})
}
