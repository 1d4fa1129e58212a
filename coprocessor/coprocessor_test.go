package coprocessor

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"github.com/holiman/uint256"
	"github.com/vocdoni/fhevm-go/backend"
	"github.com/vocdoni/fhevm-go/crypto/keypair"
	"github.com/vocdoni/fhevm-go/crypto/signatures/ethereum"
	"github.com/vocdoni/fhevm-go/db"
	"github.com/vocdoni/fhevm-go/db/pebbledb"
	"github.com/vocdoni/fhevm-go/input"
	"github.com/vocdoni/fhevm-go/storage"
	"github.com/vocdoni/fhevm-go/types"
)

const testChainID = 31337

var (
	testContract    = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	testKMSVerifier = common.HexToAddress("0x1364cBBf2cDF5032C47d8226a6f6FBD2AFCDacAC")
	testInputVerif  = common.HexToAddress("0xbc91f3daD1A5F19F8390c400196e58073B6a0BC4")
)

func newTestCoprocessor(c *qt.C, now func() time.Time) *Coprocessor {
	database, err := pebbledb.New(db.Options{})
	c.Assert(err, qt.IsNil)
	st := storage.New(database)
	c.Cleanup(st.Close)
	cp, err := New(st, Config{
		ChainID:              testChainID,
		KMSVerifierAddress:   testKMSVerifier,
		InputVerifierAddress: testInputVerif,
		Now:                  now,
	})
	c.Assert(err, qt.IsNil)
	return cp
}

func mustValue(c *qt.C, t types.FheType, v any) types.TypedValue {
	tv, err := types.NewValue(t, v)
	c.Assert(err, qt.IsNil)
	return tv
}

func encrypt(c *qt.C, cp *Coprocessor, user common.Address, values ...types.TypedValue) *types.EncryptedOutput {
	out, err := cp.EncryptInput(context.Background(), &backend.InputRequest{
		ChainID:  testChainID,
		Contract: testContract,
		User:     user,
		Values:   values,
	})
	c.Assert(err, qt.IsNil)
	return out
}

func TestEncryptInput(t *testing.T) {
	c := qt.New(t)
	cp := newTestCoprocessor(c, nil)
	user, err := ethereum.NewSigner()
	c.Assert(err, qt.IsNil)

	out := encrypt(c, cp, user.Address(), mustValue(c, types.EUint32, 42), types.NewBool(true))
	c.Assert(out.Handles, qt.HasLen, 2)
	c.Assert(out.Handles[0].Type(), qt.Equals, types.EUint32)
	c.Assert(out.Handles[1].Type(), qt.Equals, types.EBool)
	c.Assert(out.Handles[1].Index(), qt.Equals, uint8(1))

	info, err := cp.Info(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(input.VerifyProof(out, input.VerifyParams{
		ChainID:       testChainID,
		Contract:      testContract,
		User:          user.Address(),
		InputVerifier: testInputVerif,
		Signers:       info.Signers,
	}), qt.IsNil)

	for _, h := range out.Handles {
		allowed, err := cp.IsAllowed(h, user.Address())
		c.Assert(err, qt.IsNil)
		c.Assert(allowed, qt.IsTrue)
		allowed, err = cp.IsAllowed(h, testContract)
		c.Assert(err, qt.IsNil)
		c.Assert(allowed, qt.IsTrue)
	}

	_, err = cp.EncryptInput(context.Background(), &backend.InputRequest{ChainID: 1, Contract: testContract, User: user.Address()})
	c.Assert(err, qt.ErrorIs, ErrInvalidRequest)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = cp.EncryptInput(ctx, &backend.InputRequest{ChainID: testChainID})
	c.Assert(err, qt.ErrorIs, context.Canceled)
}

func TestEncryptSealed(t *testing.T) {
	c := qt.New(t)
	cp := newTestCoprocessor(c, nil)
	info, err := cp.Info(context.Background())
	c.Assert(err, qt.IsNil)

	values := []types.TypedValue{mustValue(c, types.EUint64, "18446744073709551615")}
	sealed, err := keypair.Seal(info.PublicKey, types.EncodeValues(values))
	c.Assert(err, qt.IsNil)

	user := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	out, err := cp.EncryptSealed(context.Background(), testChainID, testContract, user, sealed)
	c.Assert(err, qt.IsNil)
	c.Assert(out.Handles, qt.HasLen, 1)

	_, err = cp.EncryptSealed(context.Background(), testChainID, testContract, user, []byte("garbage"))
	c.Assert(err, qt.ErrorIs, ErrInvalidRequest)
}

func userDecryptRequest(c *qt.C, user *ethereum.Signer, kp *keypair.Keypair, handle types.Handle, start int64) *backend.UserDecryptRequest {
	auth := &ethereum.UserDecryptRequest{
		PublicKey:         kp.PublicKey,
		ContractAddresses: []common.Address{testContract},
		StartTimestamp:    start,
		DurationDays:      1,
	}
	sig, err := user.SignTypedData(auth.TypedData(testChainID, testKMSVerifier))
	c.Assert(err, qt.IsNil)
	return &backend.UserDecryptRequest{
		Handle:         handle,
		Contract:       testContract,
		User:           user.Address(),
		PublicKey:      kp.PublicKey,
		Signature:      sig,
		StartTimestamp: start,
		DurationDays:   1,
	}
}

func TestUserDecrypt(t *testing.T) {
	c := qt.New(t)
	now := time.Unix(1_700_000_000, 0)
	cp := newTestCoprocessor(c, func() time.Time { return now })
	user, err := ethereum.NewSigner()
	c.Assert(err, qt.IsNil)
	kp, err := keypair.Generate()
	c.Assert(err, qt.IsNil)
	out := encrypt(c, cp, user.Address(), mustValue(c, types.EUint32, 42))

	c.Run("authorized", func(c *qt.C) {
		sealed, err := cp.UserDecrypt(context.Background(), userDecryptRequest(c, user, kp, out.Handles[0], now.Unix()))
		c.Assert(err, qt.IsNil)
		plain, err := kp.Open(sealed)
		c.Assert(err, qt.IsNil)
		c.Assert(new(big.Int).SetBytes(plain).Int64(), qt.Equals, int64(42))
	})

	c.Run("signed by someone else", func(c *qt.C) {
		other, err := ethereum.NewSigner()
		c.Assert(err, qt.IsNil)
		req := userDecryptRequest(c, other, kp, out.Handles[0], now.Unix())
		req.User = user.Address()
		_, err = cp.UserDecrypt(context.Background(), req)
		c.Assert(err, qt.ErrorIs, types.ErrUnauthorized)
	})

	c.Run("not on the acl", func(c *qt.C) {
		other, err := ethereum.NewSigner()
		c.Assert(err, qt.IsNil)
		_, err = cp.UserDecrypt(context.Background(), userDecryptRequest(c, other, kp, out.Handles[0], now.Unix()))
		c.Assert(err, qt.ErrorIs, types.ErrUnauthorized)
	})

	c.Run("expired", func(c *qt.C) {
		_, err := cp.UserDecrypt(context.Background(), userDecryptRequest(c, user, kp, out.Handles[0], now.Unix()-2*24*3600))
		c.Assert(err, qt.ErrorIs, types.ErrUnauthorized)
	})

	c.Run("tampered window", func(c *qt.C) {
		req := userDecryptRequest(c, user, kp, out.Handles[0], now.Unix())
		req.DurationDays = 365
		_, err := cp.UserDecrypt(context.Background(), req)
		c.Assert(err, qt.ErrorIs, types.ErrUnauthorized)
	})

	c.Run("unknown handle", func(c *qt.C) {
		h := types.NewInputHandle([]byte("nope"), 0, testChainID, types.EUint8)
		_, err := cp.UserDecrypt(context.Background(), userDecryptRequest(c, user, kp, h, now.Unix()))
		c.Assert(err, qt.ErrorIs, types.ErrUnknownHandle)
	})

	c.Run("bad public key", func(c *qt.C) {
		req := userDecryptRequest(c, user, kp, out.Handles[0], now.Unix())
		req.PublicKey = types.HexBytes{1, 2, 3}
		_, err := cp.UserDecrypt(context.Background(), req)
		c.Assert(err, qt.ErrorIs, ErrInvalidRequest)
	})
}

func TestPublicDecryptAndACL(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	cp := newTestCoprocessor(c, nil)
	user := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	stranger := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	out := encrypt(c, cp, user, mustValue(c, types.EUint16, 1000))
	h := out.Handles[0]

	_, err := cp.PublicDecrypt(ctx, &backend.PublicDecryptRequest{Handle: h, Contract: testContract})
	c.Assert(err, qt.ErrorIs, types.ErrUnauthorized)

	c.Assert(cp.MakePubliclyDecryptable(ctx, h, stranger), qt.ErrorIs, types.ErrUnauthorized)
	c.Assert(cp.Allow(ctx, h, stranger, stranger), qt.ErrorIs, types.ErrUnauthorized)

	c.Assert(cp.Allow(ctx, h, stranger, user), qt.IsNil)
	allowed, err := cp.IsAllowed(h, stranger)
	c.Assert(err, qt.IsNil)
	c.Assert(allowed, qt.IsTrue)

	c.Assert(cp.MakePubliclyDecryptable(ctx, h, stranger), qt.IsNil)
	v, err := cp.PublicDecrypt(ctx, &backend.PublicDecryptRequest{Handle: h, Contract: testContract})
	c.Assert(err, qt.IsNil)
	c.Assert(v.Int64(), qt.Equals, int64(1000))

	bad := h
	bad[30] = 1
	_, err = cp.PublicDecrypt(ctx, &backend.PublicDecryptRequest{Handle: bad})
	c.Assert(err, qt.ErrorIs, types.ErrInvalidHandle)
}

func TestEvaluate(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	cp := newTestCoprocessor(c, nil)
	user := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	out := encrypt(c, cp, user,
		mustValue(c, types.EUint8, 250),
		mustValue(c, types.EUint8, 10),
		mustValue(c, types.EUint32, 10),
		types.NewBool(true),
	)
	a, b, wide, flag := out.Handles[0], out.Handles[1], out.Handles[2], out.Handles[3]

	publicValue := func(h types.Handle) *big.Int {
		c.Assert(cp.MakePubliclyDecryptable(ctx, h, user), qt.IsNil)
		v, err := cp.PublicDecrypt(ctx, &backend.PublicDecryptRequest{Handle: h})
		c.Assert(err, qt.IsNil)
		return v
	}

	testCases := []struct {
		op       Op
		lhs, rhs types.Handle
		want     int64
		wantType types.FheType
	}{
		{op: OpAdd, lhs: a, rhs: b, want: 4, wantType: types.EUint8},
		{op: OpSub, lhs: b, rhs: a, want: 16, wantType: types.EUint8},
		{op: OpMul, lhs: a, rhs: b, want: 196, wantType: types.EUint8},
		{op: OpDiv, lhs: a, rhs: b, want: 25, wantType: types.EUint8},
		{op: OpLt, lhs: b, rhs: a, want: 1, wantType: types.EBool},
		{op: OpGe, lhs: b, rhs: a, want: 0, wantType: types.EBool},
		{op: OpMax, lhs: a, rhs: b, want: 250, wantType: types.EUint8},
		{op: OpXor, lhs: flag, rhs: flag, want: 0, wantType: types.EBool},
	}
	for _, tc := range testCases {
		h, err := cp.Evaluate(ctx, tc.op, tc.lhs, tc.rhs, user)
		c.Assert(err, qt.IsNil, qt.Commentf("%s", tc.op))
		c.Assert(h.IsComputed(), qt.IsTrue)
		c.Assert(h.Type(), qt.Equals, tc.wantType)
		c.Assert(publicValue(h).Int64(), qt.Equals, tc.want, qt.Commentf("%s", tc.op))
	}

	_, err := cp.Evaluate(ctx, OpAdd, a, wide, user)
	c.Assert(err, qt.ErrorIs, types.ErrUnsupportedType)
	_, err = cp.Evaluate(ctx, OpAdd, flag, flag, user)
	c.Assert(err, qt.ErrorIs, types.ErrUnsupportedType)
	_, err = cp.Evaluate(ctx, OpAdd, a, b, common.HexToAddress("0x01"))
	c.Assert(err, qt.ErrorIs, types.ErrUnauthorized)

	// repeating an evaluation reuses the handle and extends its ACL
	first, err := cp.Evaluate(ctx, OpAdd, a, b, user)
	c.Assert(err, qt.IsNil)
	c.Assert(cp.Allow(ctx, a, testContract, user), qt.IsNil)
	second, err := cp.Evaluate(ctx, OpAdd, a, b, testContract)
	c.Assert(err, qt.IsNil)
	c.Assert(second, qt.Equals, first)
	allowed, err := cp.IsAllowed(first, testContract)
	c.Assert(err, qt.IsNil)
	c.Assert(allowed, qt.IsTrue)
}

func TestOps(t *testing.T) {
	c := qt.New(t)

	_, err := ParseOp("pow")
	c.Assert(err, qt.IsNotNil)
	op, err := ParseOp(" ADD ")
	c.Assert(err, qt.IsNil)
	c.Assert(op, qt.Equals, OpAdd)

	c.Assert(OpDiv.apply(types.EUint16, uint256.NewInt(5), uint256.NewInt(0)).Uint64(), qt.Equals, uint64(65535))
	c.Assert(OpRem.apply(types.EUint16, uint256.NewInt(5), uint256.NewInt(0)).Uint64(), qt.Equals, uint64(5))
	c.Assert(OpRem.apply(types.EUint16, uint256.NewInt(17), uint256.NewInt(5)).Uint64(), qt.Equals, uint64(2))
	c.Assert(OpSub.apply(types.EUint64, uint256.NewInt(0), uint256.NewInt(1)).Uint64(), qt.Equals, ^uint64(0))
	c.Assert(OpLe.apply(types.EUint8, uint256.NewInt(3), uint256.NewInt(3)).Uint64(), qt.Equals, uint64(1))
	c.Assert(OpMin.apply(types.EUint8, uint256.NewInt(3), uint256.NewInt(9)).Uint64(), qt.Equals, uint64(3))

	rt, err := OpEq.ResultType(types.EAddress)
	c.Assert(err, qt.IsNil)
	c.Assert(rt, qt.Equals, types.EBool)
	_, err = OpLt.ResultType(types.EAddress)
	c.Assert(err, qt.ErrorIs, types.ErrUnsupportedType)
	_, err = OpAnd.ResultType(types.EAddress)
	c.Assert(err, qt.ErrorIs, types.ErrUnsupportedType)
	rt, err = OpAnd.ResultType(types.EUint32)
	c.Assert(err, qt.IsNil)
	c.Assert(rt, qt.Equals, types.EUint32)

	c.Assert(toBytes(types.EUint16, uint256.NewInt(0x0102)), qt.DeepEquals, []byte{1, 2})
}
