package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vocdoni/fhevm-go/backend"
	"github.com/vocdoni/fhevm-go/coprocessor"
	"github.com/vocdoni/fhevm-go/log"
	"github.com/vocdoni/fhevm-go/types"
)

// keys returns the network public key, the input proof signers and the
// verifying contract addresses.
// GET /v1/keys
func (a *API) keys(w http.ResponseWriter, r *http.Request) {
	info, err := a.cp.Info(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httpWriteJSON(w, info)
}

// inputProof opens a sealed batch of values, registers a ciphertext per
// value and returns the handles with the input proof covering them.
// POST /v1/input-proof
func (a *API) inputProof(w http.ResponseWriter, r *http.Request) {
	req := &InputProofRequest{}
	if !decodeBody(w, r, req) {
		return
	}
	info, err := a.cp.Info(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if req.ChainID != info.ChainID {
		ErrInvalidChainID.Withf("got %d, serving %d", req.ChainID, info.ChainID).Write(w)
		return
	}
	contract, ok := parseAddress(w, "contractAddress", req.Contract)
	if !ok {
		return
	}
	user, ok := parseAddress(w, "userAddress", req.User)
	if !ok {
		return
	}
	if len(req.Ciphertext) == 0 {
		ErrInvalidRequest.With("empty ciphertext").Write(w)
		return
	}
	out, err := a.cp.EncryptSealed(r.Context(), req.ChainID, contract, user, req.Ciphertext)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Infow("input batch registered",
		"id", RequestID(r.Context()),
		"contract", contract.Hex(),
		"user", user.Hex(),
		"handles", len(out.Handles))
	httpWriteJSON(w, &InputProofResponse{Handles: out.Handles, InputProof: out.InputProof})
}

// userDecrypt re-encrypts the plaintext of a handle under the public key of
// the request, once the user EIP-712 authorization has been checked.
// POST /v1/user-decrypt
func (a *API) userDecrypt(w http.ResponseWriter, r *http.Request) {
	req := &UserDecryptRequest{}
	if !decodeBody(w, r, req) {
		return
	}
	handle, ok := parseHandle(w, "handle", req.Handle)
	if !ok {
		return
	}
	contract, ok := parseAddress(w, "contractAddress", req.Contract)
	if !ok {
		return
	}
	user, ok := parseAddress(w, "userAddress", req.User)
	if !ok {
		return
	}
	if len(req.Signature) != 65 {
		ErrInvalidSignature.Withf("expected 65 bytes, got %d", len(req.Signature)).Write(w)
		return
	}
	if req.DurationDays <= 0 {
		ErrMalformedParam.Withf("durationDays must be positive, got %d", req.DurationDays).Write(w)
		return
	}
	sealed, err := a.cp.UserDecrypt(r.Context(), &backend.UserDecryptRequest{
		Handle:         handle,
		Contract:       contract,
		User:           user,
		PublicKey:      req.PublicKey,
		Signature:      req.Signature,
		StartTimestamp: req.StartTimestamp,
		DurationDays:   req.DurationDays,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httpWriteJSON(w, &UserDecryptResponse{Sealed: sealed})
}

// publicDecrypt returns the plaintext of a publicly decryptable handle.
// POST /v1/public-decrypt
func (a *API) publicDecrypt(w http.ResponseWriter, r *http.Request) {
	req := &PublicDecryptRequest{}
	if !decodeBody(w, r, req) {
		return
	}
	handle, ok := parseHandle(w, "handle", req.Handle)
	if !ok {
		return
	}
	pdr := &backend.PublicDecryptRequest{Handle: handle}
	if req.Contract != "" {
		if pdr.Contract, ok = parseAddress(w, "contractAddress", req.Contract); !ok {
			return
		}
	}
	value, err := a.cp.PublicDecrypt(r.Context(), pdr)
	if err != nil {
		writeError(w, err)
		return
	}
	httpWriteJSON(w, &PublicDecryptResponse{Value: (*types.BigInt)(value)})
}

// compute evaluates an operation over two handles the caller is allowed on.
// POST /v1/compute
func (a *API) compute(w http.ResponseWriter, r *http.Request) {
	req := &ComputeRequest{}
	if !decodeBody(w, r, req) {
		return
	}
	op, err := coprocessor.ParseOp(req.Op)
	if err != nil {
		ErrUnknownOperation.WithErr(err).Write(w)
		return
	}
	lhs, ok := parseHandle(w, "lhs", req.Lhs)
	if !ok {
		return
	}
	rhs, ok := parseHandle(w, "rhs", req.Rhs)
	if !ok {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	handle, err := a.cp.Evaluate(r.Context(), op, lhs, rhs, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	httpWriteJSON(w, &ComputeResponse{Handle: handle})
}

// allow grants an address access to a handle.
// POST /v1/acl/allow
func (a *API) allow(w http.ResponseWriter, r *http.Request) {
	req := &AllowRequest{}
	if !decodeBody(w, r, req) {
		return
	}
	handle, ok := parseHandle(w, "handle", req.Handle)
	if !ok {
		return
	}
	addr, ok := parseAddress(w, "address", req.Address)
	if !ok {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	if err := a.cp.Allow(r.Context(), handle, addr, caller); err != nil {
		writeError(w, err)
		return
	}
	httpWriteOK(w)
}

// makePublic marks a handle publicly decryptable.
// POST /v1/acl/public
func (a *API) makePublic(w http.ResponseWriter, r *http.Request) {
	req := &MakePublicRequest{}
	if !decodeBody(w, r, req) {
		return
	}
	handle, ok := parseHandle(w, "handle", req.Handle)
	if !ok {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	if err := a.cp.MakePubliclyDecryptable(r.Context(), handle, caller); err != nil {
		writeError(w, err)
		return
	}
	httpWriteOK(w)
}

// isAllowed reports whether an address may use a handle.
// GET /v1/acl/{handle}/{address}
func (a *API) isAllowed(w http.ResponseWriter, r *http.Request) {
	handle, ok := parseHandle(w, HandleURLParam, chi.URLParam(r, HandleURLParam))
	if !ok {
		return
	}
	addr, ok := parseAddress(w, AddressURLParam, chi.URLParam(r, AddressURLParam))
	if !ok {
		return
	}
	allowed, err := a.cp.IsAllowed(handle, addr)
	if err != nil {
		writeError(w, err)
		return
	}
	httpWriteJSON(w, &AllowedResponse{Allowed: allowed})
}
