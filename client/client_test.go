package client_test

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/fhevm-go/backend"
	"github.com/vocdoni/fhevm-go/client"
	"github.com/vocdoni/fhevm-go/config"
	"github.com/vocdoni/fhevm-go/coprocessor"
	"github.com/vocdoni/fhevm-go/crypto/signatures/ethereum"
	"github.com/vocdoni/fhevm-go/db"
	"github.com/vocdoni/fhevm-go/db/pebbledb"
	"github.com/vocdoni/fhevm-go/storage"
	"github.com/vocdoni/fhevm-go/types"
	"github.com/vocdoni/fhevm-go/util"
)

const testChainID = 31337

var (
	contractAddr = "0x" + strings.Repeat("a", 40)
	userAddr     = "0x" + strings.Repeat("b", 40)
	kmsVerifier  = common.HexToAddress("0x901F8942346f7AB3a01F6D7613119Bca447Bb030")
	inputVerif   = common.HexToAddress("0x36772142b74871f255CbD7A3e89B401d3e45825f")
)

type testProvider struct {
	chainID int64
	owner   common.Address
	err     error
}

func (p *testProvider) ChainID(context.Context) (*big.Int, error) {
	if p.err != nil {
		return nil, p.err
	}
	return big.NewInt(p.chainID), nil
}

// countingBackend counts public decryptions and can be made to fail on
// encryption.
type countingBackend struct {
	*coprocessor.Coprocessor
	publicCalls atomic.Int32
	encryptErr  error
}

func (b *countingBackend) PublicDecrypt(ctx context.Context, req *backend.PublicDecryptRequest) (*big.Int, error) {
	b.publicCalls.Add(1)
	return b.Coprocessor.PublicDecrypt(ctx, req)
}

func (b *countingBackend) EncryptInput(ctx context.Context, req *backend.InputRequest) (*types.EncryptedOutput, error) {
	if b.encryptErr != nil {
		return nil, b.encryptErr
	}
	return b.Coprocessor.EncryptInput(ctx, req)
}

func newStorage(c *qt.C) *storage.Storage {
	database, err := pebbledb.New(db.Options{})
	c.Assert(err, qt.IsNil)
	st := storage.New(database)
	c.Cleanup(st.Close)
	return st
}

func newBackend(c *qt.C) *countingBackend {
	cp, err := coprocessor.New(newStorage(c), coprocessor.Config{
		ChainID:              testChainID,
		KMSVerifierAddress:   kmsVerifier,
		InputVerifierAddress: inputVerif,
	})
	c.Assert(err, qt.IsNil)
	return &countingBackend{Coprocessor: cp}
}

func testConfig() client.Config {
	return client.Config{Network: client.Network{ChainID: testChainID, Name: "local"}}
}

func newClient(c *qt.C, cfg client.Config, opts ...client.Option) (*client.Client, *countingBackend) {
	be := newBackend(c)
	cl, err := client.New(cfg, append([]client.Option{client.WithBackend(be)}, opts...)...)
	c.Assert(err, qt.IsNil)
	return cl, be
}

func newSigner(c *qt.C) *ethereum.Signer {
	s, err := ethereum.NewSigner()
	c.Assert(err, qt.IsNil)
	return s
}

func initClient(c *qt.C, cl *client.Client) *ethereum.Signer {
	s := newSigner(c)
	c.Assert(cl.Init(context.Background(), &testProvider{chainID: testChainID}, s), qt.IsNil)
	return s
}

func TestNew(t *testing.T) {
	c := qt.New(t)

	_, err := client.New(client.Config{})
	c.Assert(err, qt.ErrorMatches, "network chain id is required")

	cfg := testConfig()
	cfg.ACLAddress = "0x1234"
	_, err = client.New(cfg, client.WithBackend(newBackend(c)))
	c.Assert(err, qt.ErrorIs, types.ErrInvalidAddress)

	cfg = testConfig()
	cfg.KMSVerifierAddress = "not-an-address"
	_, err = client.New(cfg, client.WithBackend(newBackend(c)))
	c.Assert(err, qt.ErrorIs, types.ErrInvalidAddress)

	_, err = client.New(testConfig())
	c.Assert(err, qt.ErrorMatches, "no backend: .*")

	network, err := config.Network(config.SepoliaNetwork)
	c.Assert(err, qt.IsNil)
	cl, err := client.New(client.NewConfig(network))
	c.Assert(err, qt.IsNil)
	c.Assert(cl.Initialized(), qt.IsFalse)
}

func TestNotInitialized(t *testing.T) {
	c := qt.New(t)
	cl, _ := newClient(c, testConfig())
	ctx := context.Background()

	_, err := cl.CreateEncryptedInput(contractAddr, userAddr)
	c.Assert(err, qt.ErrorIs, types.ErrNotInitialized)
	_, err = cl.UserDecrypt(ctx, types.Handle{}, contractAddr, userAddr)
	c.Assert(err, qt.ErrorIs, types.ErrNotInitialized)
	_, err = cl.PublicDecrypt(ctx, types.Handle{}, contractAddr)
	c.Assert(err, qt.ErrorIs, types.ErrNotInitialized)
	_, err = cl.Provider()
	c.Assert(err, qt.ErrorIs, types.ErrNotInitialized)
	_, err = cl.ChainID()
	c.Assert(err, qt.ErrorIs, types.ErrNotInitialized)
	_, err = cl.EncryptInput(ctx, contractAddr, userAddr, types.EUint8, 1)
	c.Assert(err, qt.ErrorIs, types.ErrNotInitialized)

	initClient(c, cl)
	c.Assert(cl.Initialized(), qt.IsTrue)
	b, err := cl.CreateEncryptedInput(contractAddr, userAddr)
	c.Assert(err, qt.IsNil)
	c.Assert(b.Len(), qt.Equals, 0)
	chainID, err := cl.ChainID()
	c.Assert(err, qt.IsNil)
	c.Assert(chainID, qt.Equals, uint64(testChainID))

	_, err = cl.CreateEncryptedInput("0x1234", userAddr)
	c.Assert(err, qt.ErrorIs, types.ErrInvalidAddress)
}

func TestInitFailures(t *testing.T) {
	c := qt.New(t)
	cl, _ := newClient(c, testConfig())
	ctx := context.Background()

	err := cl.Init(ctx, &testProvider{chainID: 1}, nil)
	c.Assert(err, qt.ErrorIs, client.ErrChainMismatch)
	c.Assert(cl.Initialized(), qt.IsFalse)

	err = cl.Init(ctx, &testProvider{err: errors.New("dial tcp: refused")}, nil)
	c.Assert(err, qt.ErrorMatches, "could not read chain id: dial tcp: refused")
	c.Assert(cl.Initialized(), qt.IsFalse)

	c.Assert(cl.Init(ctx, nil, nil), qt.ErrorMatches, "provider is required")

	good := &testProvider{chainID: testChainID}
	c.Assert(cl.Init(ctx, good, nil), qt.IsNil)

	// a failed re-init keeps the previous binding
	c.Assert(cl.Init(ctx, &testProvider{chainID: 5}, nil), qt.ErrorIs, client.ErrChainMismatch)
	p, err := cl.Provider()
	c.Assert(err, qt.IsNil)
	c.Assert(p, qt.Equals, good)
}

func TestBackendChainMismatch(t *testing.T) {
	c := qt.New(t)
	cp, err := coprocessor.New(newStorage(c), coprocessor.Config{ChainID: 1})
	c.Assert(err, qt.IsNil)
	cl, err := client.New(testConfig(), client.WithBackend(cp))
	c.Assert(err, qt.IsNil)

	err = cl.Init(context.Background(), &testProvider{chainID: testChainID}, nil)
	c.Assert(err, qt.ErrorIs, types.ErrBackendFailure)
	c.Assert(cl.Initialized(), qt.IsFalse)
}

func TestConcurrentInit(t *testing.T) {
	c := qt.New(t)
	cl, _ := newClient(c, testConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 16 {
		s := newSigner(c)
		p := &testProvider{chainID: testChainID, owner: s.Address()}
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := cl.Init(ctx, p, s); err != nil {
				t.Errorf("init: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			b, err := cl.CreateEncryptedInput(contractAddr, userAddr)
			if err != nil && !errors.Is(err, types.ErrNotInitialized) {
				t.Errorf("create input: %v", err)
			}
			if err == nil && b.Len() != 0 {
				t.Errorf("new builder has %d values", b.Len())
			}
		}()
	}
	wg.Wait()

	p, err := cl.Provider()
	c.Assert(err, qt.IsNil)
	s, err := cl.Signer()
	c.Assert(err, qt.IsNil)
	c.Assert(p.(*testProvider).owner, qt.Equals, s.Address())
}

func TestEncryptScenario(t *testing.T) {
	c := qt.New(t)
	cl, _ := newClient(c, testConfig())
	initClient(c, cl)

	b, err := cl.CreateEncryptedInput("0x"+strings.Repeat("A", 40), "0x"+strings.Repeat("B", 40))
	c.Assert(err, qt.IsNil)
	c.Assert(b.Add32(42), qt.IsNil)
	c.Assert(b.AddBool(true), qt.IsNil)
	out, err := b.Encrypt(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(out.Handles, qt.HasLen, 2)
	c.Assert(out.InputProof, qt.Not(qt.HasLen), 0)
	c.Assert(out.Handles[0].Type(), qt.Equals, types.EUint32)
	c.Assert(out.Handles[0].Index(), qt.Equals, uint8(0))
	c.Assert(out.Handles[1].Type(), qt.Equals, types.EBool)
	c.Assert(out.Handles[1].Index(), qt.Equals, uint8(1))

	_, err = b.Encrypt(context.Background())
	c.Assert(err, qt.ErrorIs, types.ErrAlreadyFinalized)
}

func TestUserDecrypt(t *testing.T) {
	c := qt.New(t)
	st := newStorage(c)
	cl, _ := newClient(c, testConfig(), client.WithKeyStore(st.Keypairs()))
	signer := initClient(c, cl)
	user := signer.Address().Hex()
	ctx := context.Background()

	has, err := cl.HasKeypair(user)
	c.Assert(err, qt.IsNil)
	c.Assert(has, qt.IsFalse)

	maxUint64, _ := new(big.Int).SetString("18446744073709551615", 10)
	out, err := cl.EncryptInput(ctx, contractAddr, user, types.EUint64, maxUint64)
	c.Assert(err, qt.IsNil)

	v, err := cl.UserDecrypt(ctx, out.Handles[0], contractAddr, user)
	c.Assert(err, qt.IsNil)
	c.Assert(v.Cmp(maxUint64), qt.Equals, 0)

	has, err = cl.HasKeypair(user)
	c.Assert(err, qt.IsNil)
	c.Assert(has, qt.IsTrue)

	// the keypair is reused
	kp, err := st.Keypairs().Get(signer.Address())
	c.Assert(err, qt.IsNil)
	_, err = cl.UserDecrypt(ctx, out.Handles[0], contractAddr, user)
	c.Assert(err, qt.IsNil)
	again, err := st.Keypairs().Get(signer.Address())
	c.Assert(err, qt.IsNil)
	c.Assert(again.PublicKey, qt.DeepEquals, kp.PublicKey)

	c.Run("typed outputs", func(c *qt.C) {
		recipient := "0x" + strings.Repeat("c", 40)
		out, err := cl.BatchEncrypt(ctx, contractAddr, user, types.NewBool(true), mustAddress(c, recipient))
		c.Assert(err, qt.IsNil)

		tv, err := cl.DecryptOutput(ctx, out.Handles[0], contractAddr, user)
		c.Assert(err, qt.IsNil)
		c.Assert(tv.Type, qt.Equals, types.EBool)
		c.Assert(tv.Bool(), qt.IsTrue)

		tv, err = cl.DecryptOutput(ctx, out.Handles[1], contractAddr, user)
		c.Assert(err, qt.IsNil)
		c.Assert(tv.Type, qt.Equals, types.EAddress)
		c.Assert(tv.Address(), qt.Equals, common.HexToAddress(recipient))
	})

	c.Run("other user", func(c *qt.C) {
		_, err := cl.UserDecrypt(ctx, out.Handles[0], contractAddr, userAddr)
		c.Assert(err, qt.ErrorIs, types.ErrUnauthorized)
	})

	c.Run("contract not allowed", func(c *qt.C) {
		_, err := cl.UserDecrypt(ctx, out.Handles[0], util.RandomAddress().Hex(), user)
		c.Assert(err, qt.ErrorIs, types.ErrUnauthorized)
	})

	c.Run("unknown handle", func(c *qt.C) {
		h := types.NewInputHandle(make([]byte, 32), 0, testChainID, types.EUint8)
		_, err := cl.UserDecrypt(ctx, h, contractAddr, user)
		c.Assert(err, qt.ErrorIs, types.ErrUnknownHandle)
	})

	c.Run("malformed addresses", func(c *qt.C) {
		_, err := cl.UserDecrypt(ctx, out.Handles[0], "0xzz", user)
		c.Assert(err, qt.ErrorIs, types.ErrInvalidAddress)
		_, err = cl.UserDecrypt(ctx, out.Handles[0], contractAddr, "bob")
		c.Assert(err, qt.ErrorIs, types.ErrInvalidAddress)
	})
}

func TestUserDecryptClockSkew(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	decrypt := func(c *qt.C, offset time.Duration) error {
		cp, err := coprocessor.New(newStorage(c), coprocessor.Config{
			ChainID:              testChainID,
			KMSVerifierAddress:   kmsVerifier,
			InputVerifierAddress: inputVerif,
			Now:                  func() time.Time { return time.Now().Add(offset) },
		})
		c.Assert(err, qt.IsNil)
		cl, err := client.New(testConfig(), client.WithBackend(cp))
		c.Assert(err, qt.IsNil)
		user := initClient(c, cl).Address().Hex()
		out, err := cl.EncryptInput(ctx, contractAddr, user, types.EUint32, 5)
		c.Assert(err, qt.IsNil)
		v, err := cl.UserDecrypt(ctx, out.Handles[0], contractAddr, user)
		if err != nil {
			return err
		}
		c.Assert(v.Int64(), qt.Equals, int64(5))
		return nil
	}

	c.Run("gateway behind", func(c *qt.C) {
		c.Assert(decrypt(c, -2*time.Second), qt.IsNil)
		c.Assert(decrypt(c, -client.DecryptionClockSkew/2), qt.IsNil)
	})
	c.Run("gateway ahead", func(c *qt.C) {
		c.Assert(decrypt(c, time.Hour), qt.IsNil)
	})
	c.Run("beyond the allowance", func(c *qt.C) {
		c.Assert(decrypt(c, -2*client.DecryptionClockSkew), qt.ErrorIs, types.ErrUnauthorized)
	})
}

func TestUserDecryptWithoutSigner(t *testing.T) {
	c := qt.New(t)
	cl, _ := newClient(c, testConfig())
	c.Assert(cl.Init(context.Background(), &testProvider{chainID: testChainID}, nil), qt.IsNil)

	out, err := cl.EncryptInput(context.Background(), contractAddr, userAddr, types.EUint8, 7)
	c.Assert(err, qt.IsNil)
	_, err = cl.UserDecrypt(context.Background(), out.Handles[0], contractAddr, userAddr)
	c.Assert(err, qt.ErrorIs, types.ErrUnauthorized)
}

func TestPublicDecrypt(t *testing.T) {
	c := qt.New(t)
	cl, be := newClient(c, testConfig())
	initClient(c, cl)
	ctx := context.Background()

	out, err := cl.EncryptInput(ctx, contractAddr, userAddr, types.EUint16, 1234)
	c.Assert(err, qt.IsNil)
	h := out.Handles[0]

	_, err = cl.PublicDecrypt(ctx, h, contractAddr)
	c.Assert(err, qt.ErrorIs, types.ErrUnauthorized)

	c.Assert(be.MakePubliclyDecryptable(ctx, h, common.HexToAddress(userAddr)), qt.IsNil)
	for range 3 {
		v, err := cl.PublicDecrypt(ctx, h, contractAddr)
		c.Assert(err, qt.IsNil)
		c.Assert(v.Int64(), qt.Equals, int64(1234))
		v.SetInt64(0)
	}
	c.Assert(be.publicCalls.Load(), qt.Equals, int32(2))
}

func TestKeypairs(t *testing.T) {
	c := qt.New(t)
	cl, _ := newClient(c, testConfig())

	_, err := cl.GenerateKeypair("nope")
	c.Assert(err, qt.ErrorIs, types.ErrInvalidAddress)
	_, err = cl.HasKeypair("nope")
	c.Assert(err, qt.ErrorIs, types.ErrInvalidAddress)

	first, err := cl.GenerateKeypair(userAddr)
	c.Assert(err, qt.IsNil)
	second, err := cl.GenerateKeypair(userAddr)
	c.Assert(err, qt.IsNil)
	c.Assert(second.PublicKey, qt.Not(qt.DeepEquals), first.PublicKey)

	has, err := cl.HasKeypair(userAddr)
	c.Assert(err, qt.IsNil)
	c.Assert(has, qt.IsTrue)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cl.GenerateKeypair(contractAddr); err != nil {
				t.Errorf("generate: %v", err)
			}
		}()
	}
	wg.Wait()
	has, err = cl.HasKeypair(contractAddr)
	c.Assert(err, qt.IsNil)
	c.Assert(has, qt.IsTrue)
}

func TestContract(t *testing.T) {
	c := qt.New(t)
	cl, _ := newClient(c, testConfig())

	_, err := cl.Contract(contractAddr, "[]")
	c.Assert(err, qt.ErrorIs, types.ErrNotInitialized)

	initClient(c, cl)
	_, err = cl.Contract(contractAddr, "[]")
	c.Assert(err, qt.ErrorMatches, "provider .* cannot call contracts")
}

func mustAddress(c *qt.C, s string) types.TypedValue {
	v, err := types.NewAddress(s)
	c.Assert(err, qt.IsNil)
	return v
}
