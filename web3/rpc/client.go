package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/vocdoni/fhevm-go/log"
	"github.com/vocdoni/fhevm-go/util"
)

const (
	// defaultRetries is the number of attempts on the same endpoint before switching
	defaultRetries = 2
	// defaultRetrySleep is the first wait between attempts on the same endpoint
	defaultRetrySleep = 200 * time.Millisecond
)

var (
	defaultTimeout    = 3 * time.Second
	filterLogsTimeout = 5 * time.Second
)

// permanentErrorPatterns are failures no retry will fix.
var permanentErrorPatterns = []string{
	"execution reverted",
}

// IsPermanentError reports whether err is a contract level rejection that
// must not be retried.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range permanentErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Client implements bind.ContractBackend for one chain of a Pool, spreading
// calls over its endpoints.
type Client struct {
	pool    *Pool
	chainID uint64
}

var _ bind.ContractBackend = (*Client)(nil)

// call runs fn against the endpoints of the chain. Each endpoint gets
// defaultRetries attempts with exponential backoff, then it is disabled and
// the next one is tried until every endpoint failed once.
func call[T any](ctx context.Context, c *Client, timeout time.Duration, fn func(context.Context, *Endpoint) (T, error)) (T, error) {
	var zero T
	total := c.pool.NumberOfEndpoints(c.chainID, false)
	if total == 0 {
		return zero, fmt.Errorf("no endpoints available for chain %d", c.chainID)
	}
	tried := make(map[string]bool, total)
	var lastErr error
	for attempt := range total {
		ep, err := c.pool.Endpoint(c.chainID)
		if err != nil {
			return zero, fmt.Errorf("no endpoint for chain %d: %w", c.chainID, err)
		}
		if tried[ep.URI] {
			break
		}
		tried[ep.URI] = true

		res, err := util.RetryValue(ctx, defaultRetries, defaultRetrySleep, func(ctx context.Context) (T, error) {
			ictx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			res, err := fn(ictx, ep)
			if IsPermanentError(err) {
				return res, util.Permanent(err)
			}
			return res, err
		})
		if err == nil {
			if attempt > 0 {
				log.Infow("RPC call succeeded after endpoint switch",
					"chainId", c.chainID,
					"uri", ep.URI,
					"endpointAttempts", attempt+1)
			}
			return res, nil
		}
		if rpcErr := ParseError(err); rpcErr != nil && rpcErr.Code != 0 {
			lastErr = fmt.Errorf("%w (code: %d, data: %s)", err, rpcErr.Code, rpcErr.Data)
		} else {
			lastErr = err
		}
		if IsPermanentError(err) {
			return zero, fmt.Errorf("RPC call failed with permanent error, not retrying: %w", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		log.Warnw("endpoint failed after retries, switching to next",
			"chainId", c.chainID,
			"uri", ep.URI,
			"error", err,
			"endpointAttempt", attempt+1)
		c.pool.DisableEndpoint(c.chainID, ep.URI)
	}
	return zero, fmt.Errorf("all endpoints exhausted for chain %d after %d attempts: %w",
		c.chainID, len(tried), lastErr)
}

// ChainID returns the chain served by the client.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return call(ctx, c, defaultTimeout, func(ctx context.Context, ep *Endpoint) (*big.Int, error) {
		return ep.client.ChainID(ctx)
	})
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return call(ctx, c, defaultTimeout, func(ctx context.Context, ep *Endpoint) (uint64, error) {
		return ep.client.BlockNumber(ctx)
	})
}

// BalanceAt returns the wei balance of account.
func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return call(ctx, c, defaultTimeout, func(ctx context.Context, ep *Endpoint) (*big.Int, error) {
		return ep.client.BalanceAt(ctx, account, blockNumber)
	})
}

// CodeAt is required by bind.ContractBackend.
func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return call(ctx, c, defaultTimeout, func(ctx context.Context, ep *Endpoint) ([]byte, error) {
		return ep.client.CodeAt(ctx, account, blockNumber)
	})
}

// CallContract is required by bind.ContractBackend.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return call(ctx, c, defaultTimeout, func(ctx context.Context, ep *Endpoint) ([]byte, error) {
		return ep.client.CallContract(ctx, msg, blockNumber)
	})
}

// EstimateGas is required by bind.ContractBackend.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return call(ctx, c, defaultTimeout, func(ctx context.Context, ep *Endpoint) (uint64, error) {
		return ep.client.EstimateGas(ctx, msg)
	})
}

// FilterLogs is required by bind.ContractBackend.
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]gethtypes.Log, error) {
	return call(ctx, c, filterLogsTimeout, func(ctx context.Context, ep *Endpoint) ([]gethtypes.Log, error) {
		return ep.client.FilterLogs(ctx, query)
	})
}

// SubscribeFilterLogs is required by bind.ContractBackend. The subscription
// outlives the call, so it is not bound to the per call timeout.
func (c *Client) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- gethtypes.Log) (ethereum.Subscription, error) {
	ep, err := c.pool.Endpoint(c.chainID)
	if err != nil {
		return nil, fmt.Errorf("no endpoint for chain %d: %w", c.chainID, err)
	}
	return ep.client.SubscribeFilterLogs(ctx, query, ch)
}

// HeaderByNumber is required by bind.ContractBackend.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	return call(ctx, c, defaultTimeout, func(ctx context.Context, ep *Endpoint) (*gethtypes.Header, error) {
		return ep.client.HeaderByNumber(ctx, number)
	})
}

// PendingCodeAt is required by bind.ContractBackend.
func (c *Client) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return call(ctx, c, defaultTimeout, func(ctx context.Context, ep *Endpoint) ([]byte, error) {
		return ep.client.PendingCodeAt(ctx, account)
	})
}

// PendingNonceAt is required by bind.ContractBackend.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return call(ctx, c, defaultTimeout, func(ctx context.Context, ep *Endpoint) (uint64, error) {
		return ep.client.PendingNonceAt(ctx, account)
	})
}

// SuggestGasPrice is required by bind.ContractBackend.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return call(ctx, c, defaultTimeout, func(ctx context.Context, ep *Endpoint) (*big.Int, error) {
		return ep.client.SuggestGasPrice(ctx)
	})
}

// SuggestGasTipCap is required by bind.ContractBackend.
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return call(ctx, c, defaultTimeout, func(ctx context.Context, ep *Endpoint) (*big.Int, error) {
		return ep.client.SuggestGasTipCap(ctx)
	})
}

// SendTransaction is required by bind.ContractBackend.
func (c *Client) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	_, err := call(ctx, c, defaultTimeout, func(ctx context.Context, ep *Endpoint) (struct{}, error) {
		return struct{}{}, ep.client.SendTransaction(ctx, tx)
	})
	return err
}

// RPCError is the error returned by the RPC server
type RPCError struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Data    hexutil.Bytes `json:"data"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s (code: %d, data: %s)", e.Message, e.Code, e.Data.String())
}

func (e *RPCError) ErrorCode() int {
	return e.Code
}

func (e *RPCError) ErrorData() any {
	return e.Data
}

// ParseError extracts the JSON-RPC code and revert data carried by err.
func ParseError(err error) *RPCError {
	if err == nil {
		return nil
	}
	var out *RPCError
	if errors.As(err, &out) {
		return out
	}
	out = &RPCError{Message: err.Error()}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		out.Code = rpcErr.ErrorCode()
		out.Message = rpcErr.Error()
	}
	var dataErr gethrpc.DataError
	if errors.As(err, &dataErr) {
		switch v := dataErr.ErrorData().(type) {
		case []byte:
			out.Data = hexutil.Bytes(v)
		case string:
			if b, derr := hexutil.Decode(v); derr == nil {
				out.Data = hexutil.Bytes(b)
			}
		}
	}
	return out
}
