// Package client implements the SDK entry point: a session gate that binds a
// provider, an optional signer and the backend network info, and exposes the
// encryption and decryption operations once initialized.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vocdoni/fhevm-go/backend"
	"github.com/vocdoni/fhevm-go/config"
	"github.com/vocdoni/fhevm-go/crypto/keypair"
	"github.com/vocdoni/fhevm-go/crypto/signatures/ethereum"
	"github.com/vocdoni/fhevm-go/gateway"
	"github.com/vocdoni/fhevm-go/input"
	"github.com/vocdoni/fhevm-go/log"
	"github.com/vocdoni/fhevm-go/types"
	"github.com/vocdoni/fhevm-go/web3"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultDecryptionWindowDays is the validity of a user decryption
	// authorization when the config leaves it unset.
	DefaultDecryptionWindowDays = 1
	// DefaultPublicCacheSize bounds the number of cached public plaintexts.
	DefaultPublicCacheSize = 1024
	// DecryptionClockSkew is subtracted from the start of every user
	// decryption authorization so gateways running behind the local clock
	// still accept it.
	DecryptionClockSkew = time.Minute
)

// ErrChainMismatch is returned by Init when the provider is connected to a
// chain other than the configured network.
var ErrChainMismatch = errors.New("provider chain does not match network")

// Network identifies the chain the client works on.
type Network struct {
	ChainID uint64
	Name    string
	RPCURL  string
}

// Config is consumed once by New. Contract addresses are optional, when
// empty the values announced by the backend are used.
type Config struct {
	Network              Network
	GatewayURL           string
	ACLAddress           string
	KMSVerifierAddress   string
	InputVerifierAddress string
	// AllowPlaintextFallback lets EncryptArgs hand plaintext arguments back
	// when encryption fails. Disabled by default.
	AllowPlaintextFallback bool
	// DecryptionWindowDays is the validity of the user decryption
	// authorizations signed by the client.
	DecryptionWindowDays int64
}

// NewConfig builds a client config from a network preset.
func NewConfig(n config.NetworkConfig) Config {
	return Config{
		Network: Network{
			ChainID: n.ChainID,
			Name:    n.Name,
			RPCURL:  n.RPCURL,
		},
		GatewayURL:           n.GatewayURL,
		ACLAddress:           n.ACLContractAddress,
		KMSVerifierAddress:   n.KMSVerifierContractAddress,
		InputVerifierAddress: n.InputVerifierContractAddress,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithBackend replaces the gateway backend, typically with an in-process
// coprocessor.
func WithBackend(b backend.Backend) Option {
	return func(c *Client) {
		c.backend = b
	}
}

// WithKeyStore sets where user decryption keypairs are kept. An in-memory
// store is used by default.
func WithKeyStore(s keypair.Store) Option {
	return func(c *Client) {
		c.keys = s
	}
}

// WithPublicCacheSize sets the number of public plaintexts kept in memory.
func WithPublicCacheSize(size int) Option {
	return func(c *Client) {
		c.publicCacheSize = size
	}
}

// session is the state bound by Init. It is never modified once published.
type session struct {
	provider      web3.Provider
	signer        web3.Signer
	chainID       uint64
	info          *backend.Info
	kmsVerifier   common.Address
	inputVerifier common.Address
}

// Client is safe for concurrent use. All gated operations fail with
// types.ErrNotInitialized until Init succeeds.
type Client struct {
	cfg             Config
	acl             common.Address
	kmsVerifier     common.Address
	inputVerifier   common.Address
	backend         backend.Backend
	keys            keypair.Store
	publicCacheSize int
	public          *lru.Cache[types.Handle, *big.Int]
	keygen          singleflight.Group
	now             func() time.Time

	initMu  sync.Mutex
	session atomic.Pointer[session]
}

// New validates cfg and creates an uninitialized client. Without WithBackend
// a gateway client for cfg.GatewayURL is used.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Network.ChainID == 0 {
		return nil, fmt.Errorf("network chain id is required")
	}
	c := &Client{
		cfg:             cfg,
		publicCacheSize: DefaultPublicCacheSize,
		now:             time.Now,
	}
	var err error
	if c.acl, err = optionalAddress("acl", cfg.ACLAddress); err != nil {
		return nil, err
	}
	if c.kmsVerifier, err = optionalAddress("kms verifier", cfg.KMSVerifierAddress); err != nil {
		return nil, err
	}
	if c.inputVerifier, err = optionalAddress("input verifier", cfg.InputVerifierAddress); err != nil {
		return nil, err
	}
	if c.cfg.DecryptionWindowDays <= 0 {
		c.cfg.DecryptionWindowDays = DefaultDecryptionWindowDays
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.backend == nil {
		if cfg.GatewayURL == "" {
			return nil, fmt.Errorf("no backend: gateway url is empty")
		}
		gw, err := gateway.New(cfg.GatewayURL)
		if err != nil {
			return nil, fmt.Errorf("could not create gateway client: %w", err)
		}
		c.backend = gw
	}
	if c.keys == nil {
		c.keys = keypair.NewMemoryStore(0)
	}
	if c.publicCacheSize <= 0 {
		c.publicCacheSize = DefaultPublicCacheSize
	}
	if c.public, err = lru.New[types.Handle, *big.Int](c.publicCacheSize); err != nil {
		return nil, fmt.Errorf("could not create public cache: %w", err)
	}
	return c, nil
}

func optionalAddress(name, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	addr, err := types.ParseAddress(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", name, err)
	}
	return addr, nil
}

// Init binds provider and signer to the client. The signer may be nil, in
// which case user decryption is not available. Calls are serialized and a
// failed Init leaves the previous state untouched.
func (c *Client) Init(ctx context.Context, provider web3.Provider, signer web3.Signer) error {
	if provider == nil {
		return fmt.Errorf("provider is required")
	}
	c.initMu.Lock()
	defer c.initMu.Unlock()

	chainID, err := provider.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("could not read chain id: %w", err)
	}
	if !chainID.IsUint64() || chainID.Uint64() != c.cfg.Network.ChainID {
		return fmt.Errorf("%w: provider is on %s, network %q is %d",
			ErrChainMismatch, chainID, c.cfg.Network.Name, c.cfg.Network.ChainID)
	}
	info, err := c.backend.Info(ctx)
	if err != nil {
		return backend.WrapError("info", err)
	}
	if info.ChainID != c.cfg.Network.ChainID {
		return fmt.Errorf("%w: backend serves chain %d, want %d",
			types.ErrBackendFailure, info.ChainID, c.cfg.Network.ChainID)
	}
	s := &session{
		provider:      provider,
		signer:        signer,
		chainID:       chainID.Uint64(),
		info:          info,
		kmsVerifier:   pick(c.kmsVerifier, info.KMSVerifierAddress),
		inputVerifier: pick(c.inputVerifier, info.InputVerifierAddress),
	}
	c.session.Store(s)
	log.Debugw("client initialized",
		"network", c.cfg.Network.Name,
		"chainId", s.chainID,
		"signers", len(info.Signers),
		"hasSigner", signer != nil)
	return nil
}

func pick(configured, announced common.Address) common.Address {
	if configured != (common.Address{}) {
		return configured
	}
	return announced
}

func (c *Client) current() (*session, error) {
	s := c.session.Load()
	if s == nil {
		return nil, types.ErrNotInitialized
	}
	return s, nil
}

// Initialized reports whether Init has completed successfully.
func (c *Client) Initialized() bool {
	return c.session.Load() != nil
}

// Provider returns the bound provider.
func (c *Client) Provider() (web3.Provider, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	return s.provider, nil
}

// Signer returns the bound signer, which may be nil.
func (c *Client) Signer() (web3.Signer, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	return s.signer, nil
}

// ChainID returns the chain id verified by Init.
func (c *Client) ChainID() (uint64, error) {
	s, err := c.current()
	if err != nil {
		return 0, err
	}
	return s.chainID, nil
}

// ACLAddress returns the ACL contract address, the configured one if any.
func (c *Client) ACLAddress() (common.Address, error) {
	s, err := c.current()
	if err != nil {
		return common.Address{}, err
	}
	return pick(c.acl, s.info.ACLAddress), nil
}

// CreateEncryptedInput starts an input batch for the (contract, user) pair.
// The proof returned on Encrypt is checked against the coprocessor signers
// announced by the backend.
func (c *Client) CreateEncryptedInput(contract, user string) (*input.Builder, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	var opts []input.Option
	if len(s.info.Signers) > 0 {
		opts = append(opts, input.WithProofCheck(input.VerifyParams{
			InputVerifier: s.inputVerifier,
			Signers:       s.info.Signers,
			Threshold:     1,
		}))
	}
	return input.New(c.backend, s.chainID, contract, user, opts...)
}

// UserDecrypt returns the plaintext of handle. The bound signer must be the
// user: it signs a decryption authorization for the contract and the backend
// seals the plaintext to the user keypair, generated on first use.
func (c *Client) UserDecrypt(ctx context.Context, handle types.Handle, contract, user string) (*big.Int, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	contractAddr, err := types.ParseAddress(contract)
	if err != nil {
		return nil, fmt.Errorf("contract: %w", err)
	}
	userAddr, err := types.ParseAddress(user)
	if err != nil {
		return nil, fmt.Errorf("user: %w", err)
	}
	if err := handle.Validate(); err != nil {
		return nil, err
	}
	if s.signer == nil {
		return nil, fmt.Errorf("%w: no signer bound to the client", types.ErrUnauthorized)
	}
	if s.signer.Address() != userAddr {
		return nil, fmt.Errorf("%w: signer %s cannot decrypt for %s",
			types.ErrUnauthorized, s.signer.Address().Hex(), userAddr.Hex())
	}
	kp, err := c.keypair(userAddr)
	if err != nil {
		return nil, err
	}
	auth := &ethereum.UserDecryptRequest{
		PublicKey:         kp.PublicKey,
		ContractAddresses: []common.Address{contractAddr},
		StartTimestamp:    c.now().Add(-DecryptionClockSkew).Unix(),
		DurationDays:      c.cfg.DecryptionWindowDays,
	}
	signature, err := s.signer.SignTypedData(auth.TypedData(s.chainID, s.kmsVerifier))
	if err != nil {
		return nil, fmt.Errorf("%w: could not sign decryption request: %w", types.ErrUnauthorized, err)
	}
	sealed, err := c.backend.UserDecrypt(ctx, &backend.UserDecryptRequest{
		Handle:         handle,
		Contract:       contractAddr,
		User:           userAddr,
		PublicKey:      kp.PublicKey,
		Signature:      signature,
		StartTimestamp: auth.StartTimestamp,
		DurationDays:   auth.DurationDays,
	})
	if err != nil {
		return nil, backend.WrapError("user decrypt", err)
	}
	plaintext, err := kp.Open(sealed)
	if err != nil {
		return nil, backend.WrapError("user decrypt", err)
	}
	return new(big.Int).SetBytes(plaintext), nil
}

// PublicDecrypt returns the plaintext of a publicly decryptable handle.
// Results are cached since a handle never changes value.
func (c *Client) PublicDecrypt(ctx context.Context, handle types.Handle, contract string) (*big.Int, error) {
	if _, err := c.current(); err != nil {
		return nil, err
	}
	contractAddr, err := types.ParseAddress(contract)
	if err != nil {
		return nil, fmt.Errorf("contract: %w", err)
	}
	if err := handle.Validate(); err != nil {
		return nil, err
	}
	if v, ok := c.public.Get(handle); ok {
		return new(big.Int).Set(v), nil
	}
	v, err := c.backend.PublicDecrypt(ctx, &backend.PublicDecryptRequest{
		Handle:   handle,
		Contract: contractAddr,
	})
	if err != nil {
		return nil, backend.WrapError("public decrypt", err)
	}
	c.public.Add(handle, new(big.Int).Set(v))
	return v, nil
}

// Contract binds a contract at address through the provider, which must
// implement bind.ContractBackend.
func (c *Client) Contract(address, abiJSON string) (*web3.Contract, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	cb, ok := s.provider.(bind.ContractBackend)
	if !ok {
		return nil, fmt.Errorf("provider %T cannot call contracts", s.provider)
	}
	return web3.NewContract(address, abiJSON, cb)
}

// HasKeypair reports whether a decryption keypair is stored for address.
func (c *Client) HasKeypair(address string) (bool, error) {
	addr, err := types.ParseAddress(address)
	if err != nil {
		return false, err
	}
	_, err = c.keys.Get(addr)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, keypair.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// GenerateKeypair creates and stores a new decryption keypair for address,
// replacing any previous one. Concurrent calls for the same address share a
// single generation.
func (c *Client) GenerateKeypair(address string) (*keypair.Keypair, error) {
	addr, err := types.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return c.generate(addr)
}

func (c *Client) generate(addr common.Address) (*keypair.Keypair, error) {
	v, err, _ := c.keygen.Do(addr.Hex(), func() (any, error) {
		kp, err := keypair.Generate()
		if err != nil {
			return nil, err
		}
		if err := c.keys.Put(addr, kp); err != nil {
			return nil, fmt.Errorf("could not store keypair: %w", err)
		}
		log.Debugw("decryption keypair generated", "owner", addr.Hex())
		return kp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*keypair.Keypair), nil
}

// keypair returns the stored keypair of owner, generating one if missing.
func (c *Client) keypair(owner common.Address) (*keypair.Keypair, error) {
	kp, err := c.keys.Get(owner)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, keypair.ErrNotFound) {
		return nil, fmt.Errorf("could not load keypair: %w", err)
	}
	return c.generate(owner)
}
