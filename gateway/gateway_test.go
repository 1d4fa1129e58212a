package gateway

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
	"github.com/vocdoni/fhevm-go/api"
	"github.com/vocdoni/fhevm-go/backend"
	"github.com/vocdoni/fhevm-go/coprocessor"
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

type testGateway struct {
	client   *Client
	requests atomic.Int64
	lastID   atomic.Value
}

func newTestGateway(c *qt.C) *testGateway {
	database, err := pebbledb.New(db.Options{})
	c.Assert(err, qt.IsNil)
	st := storage.New(database)
	c.Cleanup(st.Close)
	cp, err := coprocessor.New(st, coprocessor.Config{
		ChainID:              testChainID,
		KMSVerifierAddress:   testKMSVerifier,
		InputVerifierAddress: testInputVerif,
	})
	c.Assert(err, qt.IsNil)
	a, err := api.New(&api.APIConfig{Coprocessor: cp})
	c.Assert(err, qt.IsNil)

	tg := &testGateway{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tg.requests.Add(1)
		tg.lastID.Store(r.Header.Get(api.RequestIDHeader))
		a.Router().ServeHTTP(w, r)
	}))
	c.Cleanup(srv.Close)
	tg.client, err = New(srv.URL, WithTimeout(5*time.Second))
	c.Assert(err, qt.IsNil)
	return tg
}

func mustValue(c *qt.C, t types.FheType, v any) types.TypedValue {
	tv, err := types.NewValue(t, v)
	c.Assert(err, qt.IsNil)
	return tv
}

func TestNormalizeBaseURL(t *testing.T) {
	c := qt.New(t)
	for in, want := range map[string]string{
		"https://relayer.testnet.zama.cloud/": "https://relayer.testnet.zama.cloud",
		"localhost:8080":                      "https://localhost:8080",
		" http://127.0.0.1:9090/v1 ":          "http://127.0.0.1:9090/v1",
	} {
		got, err := normalizeBaseURL(in)
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, want)
	}
	for _, in := range []string{"", "ftp://example.com", "http://"} {
		_, err := normalizeBaseURL(in)
		c.Assert(err, qt.IsNotNil, qt.Commentf("input %q", in))
	}
}

func TestInfoIsCached(t *testing.T) {
	c := qt.New(t)
	tg := newTestGateway(c)
	ctx := context.Background()

	c.Assert(tg.client.Ping(ctx), qt.IsNil)
	_, err := uuid.Parse(tg.lastID.Load().(string))
	c.Assert(err, qt.IsNil)

	info, err := tg.client.Info(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(info.ChainID, qt.Equals, uint64(testChainID))
	c.Assert(info.KMSVerifierAddress, qt.Equals, testKMSVerifier)
	c.Assert(info.Signers, qt.HasLen, 1)

	before := tg.requests.Load()
	again, err := tg.client.Info(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(again, qt.Equals, info)
	c.Assert(tg.requests.Load(), qt.Equals, before)
}

func TestEncryptAndDecrypt(t *testing.T) {
	c := qt.New(t)
	tg := newTestGateway(c)
	ctx := context.Background()
	user, err := ethereum.NewSigner()
	c.Assert(err, qt.IsNil)

	out, err := tg.client.EncryptInput(ctx, &backend.InputRequest{
		ChainID:  testChainID,
		Contract: testContract,
		User:     user.Address(),
		Values:   []types.TypedValue{mustValue(c, types.EUint32, 42), types.NewBool(true)},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(out.Handles, qt.HasLen, 2)
	info, err := tg.client.Info(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(input.VerifyProof(out, input.VerifyParams{
		ChainID:       testChainID,
		Contract:      testContract,
		User:          user.Address(),
		InputVerifier: testInputVerif,
		Signers:       info.Signers,
	}), qt.IsNil)

	kp, err := keypair.Generate()
	c.Assert(err, qt.IsNil)
	auth := &ethereum.UserDecryptRequest{
		PublicKey:         kp.PublicKey,
		ContractAddresses: []common.Address{testContract},
		StartTimestamp:    time.Now().Unix(),
		DurationDays:      1,
	}
	sig, err := user.SignTypedData(auth.TypedData(testChainID, testKMSVerifier))
	c.Assert(err, qt.IsNil)
	req := &backend.UserDecryptRequest{
		Handle:         out.Handles[0],
		Contract:       testContract,
		User:           user.Address(),
		PublicKey:      kp.PublicKey,
		Signature:      sig,
		StartTimestamp: auth.StartTimestamp,
		DurationDays:   auth.DurationDays,
	}
	sealed, err := tg.client.UserDecrypt(ctx, req)
	c.Assert(err, qt.IsNil)
	plain, err := kp.Open(sealed)
	c.Assert(err, qt.IsNil)
	c.Assert(new(big.Int).SetBytes(plain).Int64(), qt.Equals, int64(42))

	c.Run("unauthorized", func(c *qt.C) {
		other := *req
		other.User = testContract
		_, err := tg.client.UserDecrypt(ctx, &other)
		c.Assert(err, qt.ErrorIs, types.ErrUnauthorized)
	})

	c.Run("unknown handle", func(c *qt.C) {
		other := *req
		other.Handle = types.NewInputHandle([]byte("nope"), 0, testChainID, types.EUint8)
		_, err := tg.client.UserDecrypt(ctx, &other)
		c.Assert(err, qt.ErrorIs, types.ErrUnknownHandle)
	})

	c.Run("out of range", func(c *qt.C) {
		_, err := tg.client.EncryptInput(ctx, &backend.InputRequest{
			ChainID:  testChainID,
			Contract: testContract,
			User:     user.Address(),
			Values:   []types.TypedValue{{Type: types.EUint8, Value: types.NewBigInt(big.NewInt(256))}},
		})
		c.Assert(err, qt.ErrorIs, types.ErrValueOutOfRange)
	})

	c.Run("wrong chain", func(c *qt.C) {
		_, err := tg.client.EncryptInput(ctx, &backend.InputRequest{
			ChainID:  1,
			Contract: testContract,
			User:     user.Address(),
			Values:   []types.TypedValue{types.NewBool(false)},
		})
		c.Assert(err, qt.ErrorIs, types.ErrBackendFailure)
	})
}

func TestComputeAndPublicDecrypt(t *testing.T) {
	c := qt.New(t)
	tg := newTestGateway(c)
	ctx := context.Background()
	user := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	stranger := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")

	out, err := tg.client.EncryptInput(ctx, &backend.InputRequest{
		ChainID:  testChainID,
		Contract: testContract,
		User:     user,
		Values:   []types.TypedValue{mustValue(c, types.EUint16, 7), mustValue(c, types.EUint16, 6)},
	})
	c.Assert(err, qt.IsNil)

	product, err := tg.client.Evaluate(ctx, coprocessor.OpMul, out.Handles[0], out.Handles[1], user)
	c.Assert(err, qt.IsNil)
	c.Assert(product.Type(), qt.Equals, types.EUint16)

	_, err = tg.client.Evaluate(ctx, coprocessor.OpMul, out.Handles[0], out.Handles[1], stranger)
	c.Assert(err, qt.ErrorIs, types.ErrUnauthorized)

	_, err = tg.client.PublicDecrypt(ctx, &backend.PublicDecryptRequest{Handle: product})
	c.Assert(err, qt.ErrorIs, types.ErrUnauthorized)

	c.Assert(tg.client.MakePubliclyDecryptable(ctx, product, user), qt.IsNil)
	value, err := tg.client.PublicDecrypt(ctx, &backend.PublicDecryptRequest{Handle: product, Contract: testContract})
	c.Assert(err, qt.IsNil)
	c.Assert(value.Int64(), qt.Equals, int64(42))

	allowed, err := tg.client.IsAllowed(ctx, product, stranger)
	c.Assert(err, qt.IsNil)
	c.Assert(allowed, qt.IsFalse)
	c.Assert(tg.client.Allow(ctx, product, stranger, stranger), qt.ErrorIs, types.ErrUnauthorized)
	c.Assert(tg.client.Allow(ctx, product, stranger, user), qt.IsNil)
	allowed, err = tg.client.IsAllowed(ctx, product, stranger)
	c.Assert(err, qt.IsNil)
	c.Assert(allowed, qt.IsTrue)
}

func TestServerFailureIsNotRetried(t *testing.T) {
	c := qt.New(t)
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		api.ErrGenericInternalServerError.Write(w)
	}))
	c.Cleanup(srv.Close)
	client, err := New(srv.URL)
	c.Assert(err, qt.IsNil)

	_, err = client.Info(context.Background())
	c.Assert(err, qt.ErrorIs, types.ErrBackendFailure)
	c.Assert(err, qt.ErrorMatches, `.*internal server error \(code 50002\)`)
	c.Assert(hits.Load(), qt.Equals, int64(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = client.Ping(ctx)
	c.Assert(err, qt.ErrorIs, context.Canceled)
}
