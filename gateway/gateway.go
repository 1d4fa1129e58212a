// Package gateway implements backend.Backend over the HTTP gateway protocol
// served by the api package.
package gateway

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/vocdoni/fhevm-go/api"
	"github.com/vocdoni/fhevm-go/backend"
	"github.com/vocdoni/fhevm-go/coprocessor"
	"github.com/vocdoni/fhevm-go/crypto/keypair"
	"github.com/vocdoni/fhevm-go/log"
	"github.com/vocdoni/fhevm-go/types"
)

// DefaultTimeout bounds every gateway request.
const DefaultTimeout = 30 * time.Second

// Client talks to a gateway. It never retries on its own, callers decide
// whether a failed request is worth repeating.
type Client struct {
	http *resty.Client

	infoMu sync.Mutex
	info   *backend.Info
}

var _ backend.Backend = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithHTTPClient sets the underlying HTTP client, e.g. to plug a custom
// transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = resty.NewWithClient(hc).
			SetBaseURL(c.http.BaseURL).
			SetTimeout(hc.Timeout)
		if hc.Timeout == 0 {
			c.http.SetTimeout(DefaultTimeout)
		}
	}
}

// New returns a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		http: resty.New().
			SetBaseURL(base).
			SetTimeout(DefaultTimeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.SetHeader("Accept", "application/json")
	c.http.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if r.Header.Get(api.RequestIDHeader) == "" {
			r.SetHeader(api.RequestIDHeader, uuid.NewString())
		}
		return nil
	})
	return c, nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("gateway URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid gateway URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid gateway URL %q: unsupported scheme %s", raw, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid gateway URL %q: missing host", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// BaseURL returns the gateway address.
func (c *Client) BaseURL() string {
	return c.http.BaseURL
}

// post sends body to path and decodes the response into out, which may be
// nil.
func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetError(&api.ErrorResponse{})
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Post(path)
	if err != nil {
		return transportError(op, err)
	}
	return mapHTTPError(op, resp)
}

func (c *Client) get(ctx context.Context, op, path string, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetError(&api.ErrorResponse{})
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Get(path)
	if err != nil {
		return transportError(op, err)
	}
	return mapHTTPError(op, resp)
}

// Ping checks the gateway is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, "ping", api.PingEndpoint, nil)
}

// Info implements backend.Backend. The first successful response is cached
// for the lifetime of the client.
func (c *Client) Info(ctx context.Context) (*backend.Info, error) {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	if c.info != nil {
		return c.info, nil
	}
	info := &backend.Info{}
	if err := c.get(ctx, "keys", api.KeysEndpoint, info); err != nil {
		return nil, err
	}
	if !keypair.ValidPublicKey(info.PublicKey) {
		return nil, fmt.Errorf("%w: keys: gateway returned an invalid network key", types.ErrBackendFailure)
	}
	log.Debugw("gateway info loaded",
		"url", c.BaseURL(),
		"chainId", info.ChainID,
		"signers", len(info.Signers))
	c.info = info
	return info, nil
}

// EncryptInput implements backend.Encrypter. Values are sealed to the
// network public key before leaving the process.
func (c *Client) EncryptInput(ctx context.Context, req *backend.InputRequest) (*types.EncryptedOutput, error) {
	for i, v := range req.Values {
		if !v.Type.Valid() {
			return nil, fmt.Errorf("value %d: %w %d", i, types.ErrUnsupportedType, v.Type)
		}
		if !types.InRange(v.Type, v.Value.MathBigInt()) {
			return nil, fmt.Errorf("value %d: %w for %s", i, types.ErrValueOutOfRange, v.Type)
		}
	}
	info, err := c.Info(ctx)
	if err != nil {
		return nil, err
	}
	sealed, err := keypair.Seal(info.PublicKey, types.EncodeValues(req.Values))
	if err != nil {
		return nil, fmt.Errorf("could not seal input: %w", err)
	}
	resp := &api.InputProofResponse{}
	if err := c.post(ctx, "input proof", api.InputProofEndpoint, &api.InputProofRequest{
		ChainID:    req.ChainID,
		Contract:   req.Contract.Hex(),
		User:       req.User.Hex(),
		Ciphertext: sealed,
	}, resp); err != nil {
		return nil, err
	}
	return &types.EncryptedOutput{Handles: resp.Handles, InputProof: resp.InputProof}, nil
}

// UserDecrypt implements backend.Decrypter.
func (c *Client) UserDecrypt(ctx context.Context, req *backend.UserDecryptRequest) (types.HexBytes, error) {
	resp := &api.UserDecryptResponse{}
	if err := c.post(ctx, "user decrypt", api.UserDecryptEndpoint, &api.UserDecryptRequest{
		Handle:         req.Handle.String(),
		Contract:       req.Contract.Hex(),
		User:           req.User.Hex(),
		PublicKey:      req.PublicKey,
		Signature:      req.Signature,
		StartTimestamp: req.StartTimestamp,
		DurationDays:   req.DurationDays,
	}, resp); err != nil {
		return nil, err
	}
	return resp.Sealed, nil
}

// PublicDecrypt implements backend.Decrypter.
func (c *Client) PublicDecrypt(ctx context.Context, req *backend.PublicDecryptRequest) (*big.Int, error) {
	body := &api.PublicDecryptRequest{Handle: req.Handle.String()}
	if req.Contract != (common.Address{}) {
		body.Contract = req.Contract.Hex()
	}
	resp := &api.PublicDecryptResponse{}
	if err := c.post(ctx, "public decrypt", api.PublicDecryptEndpoint, body, resp); err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return nil, fmt.Errorf("%w: public decrypt: empty value", types.ErrBackendFailure)
	}
	return resp.Value.MathBigInt(), nil
}

// Evaluate asks the gateway to compute op over lhs and rhs on behalf of
// caller.
func (c *Client) Evaluate(ctx context.Context, op coprocessor.Op, lhs, rhs types.Handle, caller common.Address) (types.Handle, error) {
	resp := &api.ComputeResponse{}
	if err := c.post(ctx, "compute", api.ComputeEndpoint, &api.ComputeRequest{
		Op:     string(op),
		Lhs:    lhs.String(),
		Rhs:    rhs.String(),
		Caller: caller.Hex(),
	}, resp); err != nil {
		return types.Handle{}, err
	}
	return resp.Handle, nil
}

// Allow grants addr access to handle.
func (c *Client) Allow(ctx context.Context, handle types.Handle, addr, caller common.Address) error {
	return c.post(ctx, "allow", api.ACLAllowEndpoint, &api.AllowRequest{
		Handle:  handle.String(),
		Address: addr.Hex(),
		Caller:  caller.Hex(),
	}, nil)
}

// MakePubliclyDecryptable marks handle readable by anyone.
func (c *Client) MakePubliclyDecryptable(ctx context.Context, handle types.Handle, caller common.Address) error {
	return c.post(ctx, "make public", api.ACLPublicEndpoint, &api.MakePublicRequest{
		Handle: handle.String(),
		Caller: caller.Hex(),
	}, nil)
}

// IsAllowed reports whether addr may use handle.
func (c *Client) IsAllowed(ctx context.Context, handle types.Handle, addr common.Address) (bool, error) {
	path := api.EndpointWithParam(api.ACLAllowedEndpoint, api.HandleURLParam, handle.String())
	path = api.EndpointWithParam(path, api.AddressURLParam, addr.Hex())
	resp := &api.AllowedResponse{}
	if err := c.get(ctx, "is allowed", path, resp); err != nil {
		return false, err
	}
	return resp.Allowed, nil
}
